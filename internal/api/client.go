// Package api is the thin-waist HTTP client for the awareness backend. Every
// call returns the backend's {success, data, error, trace_id} envelope
// unwrapped into typed data plus Meta, with failures classified by kind.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client talks to the thin-waist backend.
type Client struct {
	baseURL    string
	streamBase string
	token      string
	tenant     string // default tenant for the X-Tenant-Id header
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithTenant sets the default tenant header.
func WithTenant(tenant string) Option {
	return func(c *Client) { c.tenant = strings.TrimSpace(tenant) }
}

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithStreamBase sets the base URL for event streams when it differs from
// the API base (e.g. a dedicated push gateway).
func WithStreamBase(base string) Option {
	return func(c *Client) { c.streamBase = strings.TrimSuffix(strings.TrimSpace(base), "/") }
}

// WithHTTPClient swaps the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a backend client for the given API base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("api: base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("api: invalid base URL %q: %w", baseURL, err)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.streamBase == "" {
		c.streamBase = c.baseURL
	}
	return c, nil
}

// BaseURL returns the normalized API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Tenant returns the default tenant, or "" when unset.
func (c *Client) Tenant() string { return c.tenant }

// PostDialogueEvent submits a dialogue event, which triggers an awareness
// cycle, and returns the created cycle's id and initial status.
func (c *Client) PostDialogueEvent(ctx context.Context, tenant string, event any) (*CycleTriggerResponse, *Meta, error) {
	path := fmt.Sprintf("tenants/%s/dialogue-events", url.PathEscape(tenant))
	var out CycleTriggerResponse
	meta, err := c.send(ctx, http.MethodPost, path, tenant, event, &out)
	if err != nil {
		return nil, meta, err
	}
	return &out, meta, nil
}

// GetCycleSnapshot reads the authoritative state of one cycle.
func (c *Client) GetCycleSnapshot(ctx context.Context, tenant, cycleID string) (*CycleSnapshot, error) {
	path := fmt.Sprintf("tenants/%s/ace/cycles/%s", url.PathEscape(tenant), url.PathEscape(cycleID))
	var out CycleSnapshot
	if _, err := c.send(ctx, http.MethodGet, path, tenant, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCycleOutbox lists the messages a cycle produced.
func (c *Client) GetCycleOutbox(ctx context.Context, tenant, cycleID string) ([]OutboxMessage, error) {
	path := fmt.Sprintf("tenants/%s/ace/cycles/%s/outbox", url.PathEscape(tenant), url.PathEscape(cycleID))
	var out []OutboxMessage
	if _, err := c.send(ctx, http.MethodGet, path, tenant, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTimeline fetches a page of the dialogue timeline.
func (c *Client) GetTimeline(ctx context.Context, tenant string, query TimelineQuery) (*TimelinePayload, error) {
	path := fmt.Sprintf("tenants/%s/graph/timeline", url.PathEscape(tenant))
	q := url.Values{}
	if query.SessionID != "" {
		q.Set("session_id", query.SessionID)
	}
	if query.Scenario != "" {
		q.Set("scenario", query.Scenario)
	}
	if query.Cursor != "" {
		q.Set("cursor", query.Cursor)
	}
	if query.Since > 0 {
		q.Set("since", strconv.FormatInt(query.Since, 10))
	}
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var out TimelinePayload
	if _, err := c.send(ctx, http.MethodGet, path, tenant, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetContextBundle fetches the assembled context for the tenant's active
// session.
func (c *Client) GetContextBundle(ctx context.Context, tenant string) (*ContextBundle, error) {
	path := fmt.Sprintf("tenants/%s/context/bundle", url.PathEscape(tenant))
	var out ContextBundle
	if _, err := c.send(ctx, http.MethodGet, path, tenant, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetExplainIndices reports which indices served the current context.
func (c *Client) GetExplainIndices(ctx context.Context, tenant string) (*ExplainIndices, error) {
	path := fmt.Sprintf("tenants/%s/explain/indices", url.PathEscape(tenant))
	var out ExplainIndices
	if _, err := c.send(ctx, http.MethodGet, path, tenant, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CycleStreamURL returns the push-event stream URL for a cycle. The id must
// already be in numeric wire form.
func (c *Client) CycleStreamURL(numericCycleID string) string {
	return fmt.Sprintf("%s/ace/cycles/%s/stream", c.streamBase, url.PathEscape(numericCycleID))
}

// LiveStreamURL returns the push-event stream URL for a session's live
// dialogue feed.
func (c *Client) LiveStreamURL(tenant, sessionID string) string {
	return fmt.Sprintf("%s/tenants/%s/live/dialogues/%s", c.streamBase, url.PathEscape(tenant), url.PathEscape(sessionID))
}

// StreamHeader returns the headers streams should carry (auth and tenant).
func (c *Client) StreamHeader(tenant string) http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	if t := c.effectiveTenant(tenant); t != "" {
		h.Set("X-Tenant-Id", t)
	}
	return h
}

func (c *Client) effectiveTenant(override string) string {
	if override != "" {
		return override
	}
	return c.tenant
}

// send issues one request and unwraps the response envelope into out (which
// may be nil when no data is expected). The returned Meta is non-nil
// whenever a response was received, even on failure.
func (c *Client) send(ctx context.Context, method, path, tenant string, in, out any) (*Meta, error) {
	var body io.Reader
	if in != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return nil, &Error{Kind: KindDecode, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimPrefix(path, "/"), body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if t := c.effectiveTenant(tenant); t != "" {
		req.Header.Set("X-Tenant-Id", t)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Status: resp.StatusCode, Err: err}
	}

	meta := &Meta{Status: resp.StatusCode}
	if len(raw) == 0 {
		return meta, &Error{Kind: KindEmpty, Status: resp.StatusCode}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return meta, &Error{Kind: KindDecode, Status: resp.StatusCode, Err: err}
	}
	if env.TraceID != nil {
		meta.TraceID = *env.TraceID
	}
	if env.DurationMs != nil {
		meta.DurationMs = *env.DurationMs
	}

	success := resp.StatusCode >= 200 && resp.StatusCode <= 299 && env.Success
	if !success {
		if env.Error != nil {
			return meta, &Error{Kind: KindAPI, Status: resp.StatusCode, TraceID: meta.TraceID, Body: env.Error}
		}
		return meta, &Error{Kind: KindUnexpected, Status: resp.StatusCode, TraceID: meta.TraceID, Raw: raw}
	}

	if out == nil {
		return meta, nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return meta, &Error{Kind: KindEmpty, Status: resp.StatusCode, TraceID: meta.TraceID}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return meta, &Error{Kind: KindDecode, Status: resp.StatusCode, TraceID: meta.TraceID, Err: err}
	}
	return meta, nil
}
