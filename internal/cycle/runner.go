// Package cycle orchestrates one awareness cycle end to end: submit the
// trigger, follow the progress stream, verify ambiguous disconnects against
// the authoritative snapshot, and refresh dependent views on completion.
//
// The runner is a single-goroutine state machine. Stream callbacks never
// touch runner state directly; they post signals into a channel that the
// workflow loop drains, so every decision happens in one place.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/soulseed/acectl/internal/api"
	"github.com/soulseed/acectl/internal/cycleid"
	"github.com/soulseed/acectl/internal/debug"
	"github.com/soulseed/acectl/internal/sse"
	"github.com/soulseed/acectl/internal/stage"
	"github.com/soulseed/acectl/internal/telemetry"
)

// Backend is the slice of the API client the runner depends on.
// *api.Client satisfies it.
type Backend interface {
	PostDialogueEvent(ctx context.Context, tenant string, event any) (*api.CycleTriggerResponse, *api.Meta, error)
	GetCycleSnapshot(ctx context.Context, tenant, cycleID string) (*api.CycleSnapshot, error)
	GetCycleOutbox(ctx context.Context, tenant, cycleID string) ([]api.OutboxMessage, error)
	GetTimeline(ctx context.Context, tenant string, query api.TimelineQuery) (*api.TimelinePayload, error)
	GetContextBundle(ctx context.Context, tenant string) (*api.ContextBundle, error)
	GetExplainIndices(ctx context.Context, tenant string) (*api.ExplainIndices, error)
	CycleStreamURL(numericCycleID string) string
}

// StreamHandle is the runner's view of a live stream connection.
type StreamHandle interface {
	Close()
}

// StreamConnector opens a progress stream. Injected so tests can substitute
// a scripted stream for a real SSE connection.
type StreamConnector func(url string, cb sse.Callbacks, opts sse.Options) (StreamHandle, error)

// SSEConnector adapts an sse.Client into a StreamConnector.
func SSEConnector(c *sse.Client) StreamConnector {
	return func(url string, cb sse.Callbacks, opts sse.Options) (StreamHandle, error) {
		return c.Connect(url, cb, opts)
	}
}

// Params describes one cycle trigger request.
type Params struct {
	Tenant   string
	Session  string
	Event    any // dialogue event payload for the trigger endpoint
	Timeline api.TimelineQuery
}

// Outcome is the terminal result of one workflow run.
type Outcome struct {
	CycleID        string // display form (base-36 when numeric)
	WireID         string // decimal form used on request paths
	Status         string
	ManifestDigest string
	TraceID        string
	Refresh        *RefreshResult
	Err            error
}

// Diagnostics captures debugging context from the most recent backend
// failure: trace id, error code, and any index/budget hints the error
// details carried.
type Diagnostics struct {
	Op         string
	TraceID    string
	ErrorCode  string
	BudgetHint string
	Indices    []string
}

// ErrSuperseded reports that a newer Trigger call replaced this run before
// it reached a terminal state.
var ErrSuperseded = errors.New("cycle run superseded by a newer trigger")

// ErrNoTenant reports that no tenant was configured for the trigger.
var ErrNoTenant = errors.New("no tenant configured (set one with 'acectl config set tenant <id>')")

// Config wires a Runner. Backend is required; everything else defaults.
type Config struct {
	Backend       Backend
	Connect       StreamConnector
	Stages        *stage.Tracker
	Logger        *slog.Logger
	Metrics       *telemetry.CycleMetrics
	StreamOptions sse.Options
}

// Runner drives the trigger→observe→verify→refresh workflow. All methods
// are safe for concurrent use; at most one workflow run is live at a time,
// and a new Trigger supersedes the previous run.
type Runner struct {
	backend    Backend
	connect    StreamConnector
	stages     *stage.Tracker
	log        *slog.Logger
	metrics    *telemetry.CycleMetrics
	streamOpts sse.Options

	mu      sync.Mutex
	gen     uint64
	running bool
	handle  StreamHandle
	quit    chan struct{}
	diag    Diagnostics
}

func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Backend == nil {
		return nil, errors.New("cycle: Config.Backend is required")
	}
	r := &Runner{
		backend:    cfg.Backend,
		connect:    cfg.Connect,
		stages:     cfg.Stages,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		streamOpts: cfg.StreamOptions,
	}
	if r.connect == nil {
		r.connect = SSEConnector(&sse.Client{})
	}
	if r.stages == nil {
		r.stages = stage.NewTracker()
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r, nil
}

// Stages exposes the tracker for rendering and subscription.
func (r *Runner) Stages() *stage.Tracker { return r.stages }

// Running reports whether a workflow run is currently live.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LastDiagnostics returns debugging context from the most recent backend
// failure in the current run.
func (r *Runner) LastDiagnostics() Diagnostics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.diag
}

// Trigger starts a workflow run and returns a channel that delivers exactly
// one Outcome. A run already in flight is superseded: its stream handle is
// closed and it reports ErrSuperseded.
func (r *Runner) Trigger(ctx context.Context, p Params) (<-chan Outcome, error) {
	if p.Tenant == "" {
		return nil, ErrNoTenant
	}

	r.mu.Lock()
	r.gen++
	gen := r.gen
	if r.handle != nil {
		r.handle.Close()
		r.handle = nil
	}
	if r.quit != nil {
		close(r.quit)
	}
	quit := make(chan struct{})
	r.quit = quit
	r.running = true
	r.diag = Diagnostics{}
	r.mu.Unlock()

	r.stages.Reset()

	out := make(chan Outcome, 1)
	go r.run(ctx, gen, quit, p, out)
	return out, nil
}

// Run triggers a cycle and blocks until its terminal outcome.
func (r *Runner) Run(ctx context.Context, p Params) (Outcome, error) {
	ch, err := r.Trigger(ctx, p)
	if err != nil {
		return Outcome{}, err
	}
	o := <-ch
	return o, o.Err
}

type signalKind int

const (
	sigOpen signalKind = iota
	sigEvent
	sigError
)

type signal struct {
	kind   signalKind
	event  streamEvent
	reason string
}

func (r *Runner) run(ctx context.Context, gen uint64, quit chan struct{}, p Params, out chan<- Outcome) {
	start := time.Now()
	stop := make(chan struct{})
	var outcome Outcome
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("cycle workflow panicked", "panic", rec)
			if r.current(gen) {
				r.stages.Fail(stage.KindStreamAwait, fmt.Sprintf("internal error: %v", rec))
			}
			outcome = Outcome{Err: fmt.Errorf("cycle workflow: internal error: %v", rec)}
		}
		close(stop)
		r.release(gen)
		if !errors.Is(outcome.Err, ErrSuperseded) {
			r.metrics.RecordOutcome(context.WithoutCancel(ctx), outcome.Status, start, outcome.Err != nil)
		}
		out <- outcome
	}()
	outcome = r.workflow(ctx, gen, quit, stop, p)
}

func (r *Runner) workflow(ctx context.Context, gen uint64, quit, stop chan struct{}, p Params) Outcome {
	ctx, span := telemetry.Tracer("").Start(ctx, "cycle.run",
		trace.WithAttributes(attribute.String("ace.tenant", p.Tenant)),
	)
	defer span.End()

	r.stages.Start(stage.KindTriggerSubmit, "submitting awareness trigger")
	r.metrics.RecordTriggered(ctx, p.Tenant)

	resp, meta, err := r.backend.PostDialogueEvent(ctx, p.Tenant, p.Event)
	if err != nil {
		r.recordClientError(gen, "trigger dialogue event", stage.KindTriggerSubmit, err)
		return Outcome{TraceID: metaTrace(meta), Err: fmt.Errorf("trigger awareness cycle: %w", err)}
	}
	if !r.current(gen) {
		return Outcome{Err: ErrSuperseded}
	}
	traceID := metaTrace(meta)
	r.stages.Complete(stage.KindTriggerSubmit, "status "+resp.Status)

	rawID := resp.CycleID.String()
	wireID, ok := cycleid.Coerce(rawID)
	if !ok {
		r.log.Warn("cycle id is neither base-36 nor decimal; using it verbatim", "cycle_id", rawID)
	}
	display := displayID(wireID)
	span.SetAttributes(attribute.String("ace.cycle_id", display))
	debug.LogCycleEvent("CYCLE_TRIGGERED", display, "status="+resp.Status)

	r.stages.Start(stage.KindStreamAwait, fmt.Sprintf("awaiting cycle #%s", display))

	signals := make(chan signal, 16)
	send := func(s signal) {
		select {
		case signals <- s:
		case <-stop:
		}
	}
	cb := sse.Callbacks{
		OnOpen:    func() { send(signal{kind: sigOpen}) },
		OnMessage: func(m sse.Message) { send(signal{kind: sigEvent, event: classify(m)}) },
		OnError:   func(reason string) { send(signal{kind: sigError, reason: reason}) },
	}

	handle, err := r.connect(r.backend.CycleStreamURL(wireID), cb, r.streamOpts)
	if err != nil {
		r.stages.Fail(stage.KindStreamAwait, err.Error())
		return Outcome{CycleID: display, WireID: wireID, TraceID: traceID,
			Err: fmt.Errorf("open progress stream for cycle %s: %w", display, err)}
	}
	if !r.adopt(gen, handle) {
		handle.Close()
		return Outcome{CycleID: display, WireID: wireID, Err: ErrSuperseded}
	}

	opened := false
	for {
		select {
		case <-ctx.Done():
			r.closeHandle(gen)
			r.stages.Fail(stage.KindStreamAwait, "canceled")
			return Outcome{CycleID: display, WireID: wireID, TraceID: traceID, Err: ctx.Err()}

		case <-quit:
			return Outcome{CycleID: display, WireID: wireID, Err: ErrSuperseded}

		case sig := <-signals:
			switch sig.kind {
			case sigOpen:
				if opened {
					r.metrics.RecordReconnect(ctx)
					r.log.Info("progress stream re-established", "cycle", display)
				} else {
					opened = true
					r.log.Debug("progress stream established", "cycle", display)
				}

			case sigError:
				switch {
				case sse.IsHeartbeatTimeout(sig.reason):
					// Watchdog fired; the stream client is already reopening.
					r.metrics.RecordHeartbeatTimeout(ctx)
					r.log.Warn("progress stream went silent; reopening", "cycle", display)
				case sse.IsConnectFailure(sig.reason) && !opened:
					// Never got a stream yet; the client keeps retrying and
					// the cycle may still complete once it connects.
					r.log.Warn("progress stream connect failed, retrying",
						"cycle", display, "reason", sig.reason)
				default:
					// The stream died after delivering data. Whether the
					// cycle finished is now ambiguous; ask the backend.
					r.closeHandle(gen)
					r.log.Warn("progress stream dropped, verifying cycle state",
						"cycle", display, "reason", sig.reason)
					return r.verifyAfterDrop(ctx, gen, p, wireID, display, traceID)
				}

			case sigEvent:
				ev := sig.event
				switch ev.kind {
				case evPending:
					r.log.Debug("cycle pending", "cycle", display)
				case evProgress:
					r.log.Debug("cycle progress", "cycle", display, "data", ev.data)
				case evTimeout:
					r.closeHandle(gen)
					r.stages.Fail(stage.KindStreamAwait, "stream timeout")
					debug.LogCycleEvent("CYCLE_TIMEOUT", display, "")
					return Outcome{CycleID: display, WireID: wireID, Status: "timeout", TraceID: traceID,
						Err: fmt.Errorf("cycle %s timed out before completing", display)}
				case evComplete:
					r.closeHandle(gen)
					status, digest := terminalStatus(ev.data)
					r.stages.Complete(stage.KindStreamAwait, status)
					debug.LogCycleEvent("CYCLE_COMPLETE", display, "status="+status)
					return r.completeCycle(ctx, gen, p, wireID, display, status, digest, traceID)
				default:
					r.log.Debug("ignoring unrecognized stream event", "event", ev.name)
				}
			}
		}
	}
}

// completeCycle finishes the success path: run the post-cycle refresh and
// assemble the outcome. A refresh failure does not undo completion; the
// outcome keeps its status and reports the refresh error.
func (r *Runner) completeCycle(ctx context.Context, gen uint64, p Params, wireID, display, status string, digest *string, traceID string) Outcome {
	res, err := r.refreshAfterCycle(ctx, gen, p, wireID, display)
	if errors.Is(err, ErrSuperseded) {
		return Outcome{CycleID: display, WireID: wireID, Err: ErrSuperseded}
	}
	o := Outcome{
		CycleID: display,
		WireID:  wireID,
		Status:  status,
		TraceID: traceID,
		Refresh: res,
	}
	if digest != nil {
		o.ManifestDigest = *digest
	}
	if err != nil {
		o.Err = fmt.Errorf("cycle %s completed but refresh failed: %w", display, err)
	}
	return o
}

func (r *Runner) recordClientError(gen uint64, op string, kind stage.Kind, err error) {
	d := Diagnostics{Op: op}
	if apiErr, ok := api.AsError(err); ok {
		d.TraceID = apiErr.TraceID
		d.ErrorCode = apiErr.Code()
		if details := apiErr.Details(); details != nil {
			d.Indices = api.IndicesFromDetails(details)
			d.BudgetHint = api.BudgetHint(details)
		}
	}
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		r.log.Debug("dropping backend error from superseded run", "op", op, "error", err)
		return
	}
	r.diag = d
	r.mu.Unlock()
	r.stages.Fail(kind, err.Error())
	r.log.Error("backend call failed",
		"op", op, "error", err, "trace_id", d.TraceID, "code", d.ErrorCode)
}

// current reports whether gen still owns the workflow slot. Every code path
// that resumes after a blocking call re-checks this before touching the
// stage register or diagnostics, so a superseded run cannot clobber the
// state of the run that replaced it.
func (r *Runner) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen == gen
}

// adopt stores the stream handle unless a newer trigger already took over.
func (r *Runner) adopt(gen uint64, h StreamHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return false
	}
	r.handle = h
	return true
}

func (r *Runner) closeHandle(gen uint64) {
	r.mu.Lock()
	var h StreamHandle
	if r.gen == gen && r.handle != nil {
		h = r.handle
		r.handle = nil
	}
	r.mu.Unlock()
	if h != nil {
		h.Close()
	}
}

func (r *Runner) release(gen uint64) {
	r.mu.Lock()
	var h StreamHandle
	if r.gen == gen {
		r.running = false
		if r.handle != nil {
			h = r.handle
			r.handle = nil
		}
	}
	r.mu.Unlock()
	if h != nil {
		h.Close()
	}
}

func metaTrace(m *api.Meta) string {
	if m == nil {
		return ""
	}
	return m.TraceID
}

// displayID renders a wire id for humans: base-36 when numeric, verbatim
// otherwise.
func displayID(wire string) string {
	if n, err := strconv.ParseUint(wire, 10, 64); err == nil {
		return cycleid.Format(cycleid.ID(n))
	}
	return wire
}
