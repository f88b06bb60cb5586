// Package sse maintains a single server-push event connection with
// automatic reconnection. Transport failures are retried with exponential
// backoff; a heartbeat watchdog force-reopens silent connections. The caller
// hears about every failure via OnError but the connection keeps healing
// itself until the handle is closed — deciding when an error is fatal is the
// caller's policy, not this package's.
package sse

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Message is one decoded server-push event. An empty Event means a generic
// progress notification.
type Message struct {
	Event string
	Data  string
}

// Callbacks receive connection lifecycle notifications. OnMessage is invoked
// in receipt order from a single goroutine; none of the callbacks may block
// for long or call Handle.Close (closing from another goroutine is fine).
type Callbacks struct {
	OnOpen    func()
	OnMessage func(Message)
	OnError   func(reason string)
}

// Options tunes liveness detection and reconnection. The watchdog polls at
// HeartbeatTimeout/2, so the timeout is always at least twice the poll
// interval. Zero fields pick the defaults; values below the floors are
// raised to them.
type Options struct {
	HeartbeatTimeout time.Duration
	RetryBase        time.Duration
	RetryMax         time.Duration

	// unclamped skips the floors. Package tests use it to run the stream
	// loop on millisecond timings.
	unclamped bool
}

// Floors below which the tunings stop making sense: a heartbeat window
// under a few seconds flaps on ordinary network jitter, and sub-second
// retry bases hammer the backend.
const (
	minHeartbeatTimeout = 5 * time.Second
	minRetryBase        = 500 * time.Millisecond
	minRetryMax         = time.Second
)

// DefaultOptions returns the production tuning: 30s heartbeat, retries from
// 1s doubling up to 10s.
func DefaultOptions() Options {
	return Options{
		HeartbeatTimeout: 30 * time.Second,
		RetryBase:        time.Second,
		RetryMax:         10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if o.RetryBase <= 0 {
		o.RetryBase = def.RetryBase
	}
	if o.RetryMax <= 0 {
		o.RetryMax = def.RetryMax
	}
	if !o.unclamped {
		if o.HeartbeatTimeout < minHeartbeatTimeout {
			o.HeartbeatTimeout = minHeartbeatTimeout
		}
		if o.RetryBase < minRetryBase {
			o.RetryBase = minRetryBase
		}
		if o.RetryMax < minRetryMax {
			o.RetryMax = minRetryMax
		}
	}
	if o.RetryMax < o.RetryBase {
		o.RetryMax = o.RetryBase
	}
	return o
}

// Error reason prefixes surfaced through OnError.
const (
	reasonConnect   = "connect failed"
	reasonHeartbeat = "heartbeat timeout"
	reasonInterrupt = "stream interrupted"
)

// IsHeartbeatTimeout reports whether an OnError reason came from the
// liveness watchdog. The watchdog reopens the connection itself; this is
// never a terminal condition.
func IsHeartbeatTimeout(reason string) bool {
	return strings.HasPrefix(reason, reasonHeartbeat)
}

// IsConnectFailure reports whether an OnError reason came from a failed
// connection attempt (as opposed to an established stream dropping).
func IsConnectFailure(reason string) bool {
	return strings.HasPrefix(reason, reasonConnect)
}

// ErrEmptyURL is returned by Connect when no stream URL was provided.
var ErrEmptyURL = fmt.Errorf("sse: stream URL is empty")

// Client opens push-event connections. The zero value is usable; Header is
// attached to every request (auth, tenant).
type Client struct {
	HTTP   *http.Client
	Header http.Header
}

// Handle owns one logical stream. Closing it cancels any in-flight
// connection, reconnect timer, and watchdog; Close is idempotent and safe
// from any goroutine.
type Handle struct {
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// Close tears the stream down. Calling it twice has the same effect as once.
func (h *Handle) Close() {
	h.once.Do(h.cancel)
}

// Done is closed once the stream's goroutines have fully stopped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Connect opens rawURL with the default client.
func Connect(rawURL string, cb Callbacks, opts Options) (*Handle, error) {
	return (&Client{}).Connect(rawURL, cb, opts)
}

// Connect validates the URL and starts the stream manager. All failures
// after this point flow through cb.OnError; the manager keeps reconnecting
// until the returned handle is closed.
func (c *Client) Connect(rawURL string, cb Callbacks, opts Options) (*Handle, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, ErrEmptyURL
	}
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("sse: invalid stream URL %q: %w", rawURL, err)
	}
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go c.run(ctx, rawURL, cb, opts, h.done)
	return h, nil
}

// run is the connection manager: one live transport at a time, reconnect
// with doubling delay capped at RetryMax, reset to RetryBase on a
// successful open.
func (c *Client) run(ctx context.Context, rawURL string, cb Callbacks, opts Options, done chan struct{}) {
	defer close(done)

	bo := newRetrySchedule(opts)
	for {
		if ctx.Err() != nil {
			return
		}
		resp, err := c.open(ctx, rawURL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			notifyError(cb, fmt.Sprintf("%s: %v", reasonConnect, err))
			if !sleep(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		bo.Reset()
		if cb.OnOpen != nil {
			cb.OnOpen()
		}

		reason := c.consume(ctx, resp, cb, opts)
		if ctx.Err() != nil {
			return
		}
		notifyError(cb, reason)
		if !sleep(ctx, bo.NextBackOff()) {
			return
		}
	}
}

func (c *Client) open(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	httpClient := c.HTTP
	if httpClient == nil {
		// No overall timeout: the stream is long-lived. Liveness is the
		// watchdog's job.
		httpClient = &http.Client{}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// consume reads one established connection until it drops, the watchdog
// declares it dead, or ctx is canceled. It returns the OnError reason for
// the teardown (ignored when ctx is done).
func (c *Client) consume(ctx context.Context, resp *http.Response, cb Callbacks, opts Options) string {
	defer resp.Body.Close()

	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())

	connDone := make(chan struct{})
	defer close(connDone)

	msgs := make(chan Message)
	readErr := make(chan error, 1)
	go readEvents(resp.Body, &lastActivity, msgs, readErr, connDone)

	watchdog := time.NewTicker(opts.HeartbeatTimeout / 2)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return ""
		case m := <-msgs:
			if cb.OnMessage != nil {
				cb.OnMessage(m)
			}
		case err := <-readErr:
			if err == nil || err == io.EOF {
				return fmt.Sprintf("%s: connection closed by server", reasonInterrupt)
			}
			return fmt.Sprintf("%s: %v", reasonInterrupt, err)
		case <-watchdog.C:
			idle := time.Since(time.Unix(0, lastActivity.Load()))
			if idle > opts.HeartbeatTimeout {
				// Silent connection: tear down and reopen. Not a workflow
				// failure — the caller is only notified.
				return fmt.Sprintf("%s after %s, reconnecting", reasonHeartbeat, idle.Truncate(time.Millisecond))
			}
		}
	}
}

// readEvents parses the text/event-stream wire format: `event:`/`data:`
// fields accumulate until a blank line dispatches the message. Comment lines
// and unknown fields still count as liveness activity.
func readEvents(r io.Reader, lastActivity *atomic.Int64, msgs chan<- Message, readErr chan<- error, connDone <-chan struct{}) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event, data string
	for scanner.Scan() {
		lastActivity.Store(time.Now().UnixNano())
		line := scanner.Text()

		if line == "" {
			if event != "" || data != "" {
				select {
				case msgs <- Message{Event: event, Data: data}:
				case <-connDone:
					return
				}
			}
			event = ""
			data = ""
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimPrefix(line, "data:")
			chunk = strings.TrimPrefix(chunk, " ")
			if data != "" {
				data += "\n" + chunk
			} else {
				data = chunk
			}
		}
		// other fields (id:, retry:) are ignored
	}

	select {
	case readErr <- scanner.Err():
	case <-connDone:
	}
}

func notifyError(cb Callbacks, reason string) {
	if cb.OnError != nil && reason != "" {
		cb.OnError(reason)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// newRetrySchedule builds the reconnect delay sequence: RetryBase doubling
// up to RetryMax, no jitter, never giving up. BackOff values are stateful,
// so every stream gets a fresh one.
func newRetrySchedule(opts Options) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.RetryBase
	bo.MaxInterval = opts.RetryMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // retry until the handle is closed
	bo.Reset()
	return bo
}
