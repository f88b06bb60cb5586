package cycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/soulseed/acectl/internal/api"
	"github.com/soulseed/acectl/internal/sse"
	"github.com/soulseed/acectl/internal/stage"
)

// fakeBackend scripts the API surface the runner talks to. Unset function
// fields succeed with canned payloads.
type fakeBackend struct {
	mu sync.Mutex

	triggerFn  func() (*api.CycleTriggerResponse, *api.Meta, error)
	snapshotFn func(call int) (*api.CycleSnapshot, error)
	outboxFn   func() ([]api.OutboxMessage, error)
	timelineFn func() (*api.TimelinePayload, error)

	snapshotCalls int
	timelineCalls int
	outboxCalls   int
	contextCalls  int
	explainCalls  int
	streamURLs    []string
}

func (f *fakeBackend) PostDialogueEvent(ctx context.Context, tenant string, event any) (*api.CycleTriggerResponse, *api.Meta, error) {
	f.mu.Lock()
	fn := f.triggerFn
	f.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return &api.CycleTriggerResponse{CycleID: api.FlexID("361"), Status: "pending"},
		&api.Meta{TraceID: "trace-1", Status: 200}, nil
}

func (f *fakeBackend) GetCycleSnapshot(ctx context.Context, tenant, cycleID string) (*api.CycleSnapshot, error) {
	f.mu.Lock()
	f.snapshotCalls++
	call := f.snapshotCalls
	fn := f.snapshotFn
	f.mu.Unlock()
	if fn != nil {
		return fn(call)
	}
	snap := &api.CycleSnapshot{}
	snap.Schedule.Status = "completed"
	return snap, nil
}

func (f *fakeBackend) GetCycleOutbox(ctx context.Context, tenant, cycleID string) ([]api.OutboxMessage, error) {
	f.mu.Lock()
	f.outboxCalls++
	fn := f.outboxFn
	f.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return []api.OutboxMessage{{MessageID: api.FlexID("7"), Channel: "chat", Content: "done"}}, nil
}

func (f *fakeBackend) GetTimeline(ctx context.Context, tenant string, query api.TimelineQuery) (*api.TimelinePayload, error) {
	f.mu.Lock()
	f.timelineCalls++
	fn := f.timelineFn
	f.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return &api.TimelinePayload{}, nil
}

func (f *fakeBackend) GetContextBundle(ctx context.Context, tenant string) (*api.ContextBundle, error) {
	f.mu.Lock()
	f.contextCalls++
	f.mu.Unlock()
	return &api.ContextBundle{Digest: "sha256:abc"}, nil
}

func (f *fakeBackend) GetExplainIndices(ctx context.Context, tenant string) (*api.ExplainIndices, error) {
	f.mu.Lock()
	f.explainCalls++
	f.mu.Unlock()
	return &api.ExplainIndices{Indices: []string{"episodic"}}, nil
}

func (f *fakeBackend) CycleStreamURL(numericCycleID string) string {
	f.mu.Lock()
	f.streamURLs = append(f.streamURLs, numericCycleID)
	f.mu.Unlock()
	return "http://stream.test/ace/cycles/" + numericCycleID + "/stream"
}

func (f *fakeBackend) counts() (snapshot, timeline, outbox int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotCalls, f.timelineCalls, f.outboxCalls
}

// fakeStream records whether the runner released it.
type fakeStream struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeStream) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeStream) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeConnector hands out fakeStreams and captures the runner's callbacks so
// tests can script the stream.
type fakeConnector struct {
	mu      sync.Mutex
	streams []*fakeStream
	cbs     []sse.Callbacks
}

func (f *fakeConnector) connect(url string, cb sse.Callbacks, opts sse.Options) (StreamHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeStream{}
	f.streams = append(f.streams, s)
	f.cbs = append(f.cbs, cb)
	return s, nil
}

func (f *fakeConnector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeConnector) callbacks(i int) sse.Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cbs[i]
}

func (f *fakeConnector) stream(i int) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[i]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(t *testing.T, backend *fakeBackend, conn *fakeConnector) *Runner {
	t.Helper()
	r, err := NewRunner(Config{Backend: backend, Connect: conn.connect, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func triggerAndConnect(t *testing.T, r *Runner, conn *fakeConnector, p Params) <-chan Outcome {
	t.Helper()
	ch, err := r.Trigger(context.Background(), p)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	n := conn.count()
	waitFor(t, func() bool { return conn.count() > n })
	return ch
}

func testParams() Params {
	return Params{Tenant: "acme", Session: "sess-1", Event: map[string]string{"text": "hello"}}
}

func requireStage(t *testing.T, r *Runner, kind stage.Kind, want stage.Status) {
	t.Helper()
	st, ok := r.Stages().Get(kind)
	if !ok {
		t.Fatalf("stage %s not found", kind)
	}
	if st.Status != want {
		t.Fatalf("stage %s = %s (%s), want %s", kind, st.Status, st.Detail, want)
	}
}

func TestTriggerRequiresTenant(t *testing.T) {
	r := newTestRunner(t, &fakeBackend{}, &fakeConnector{})
	if _, err := r.Trigger(context.Background(), Params{}); !errors.Is(err, ErrNoTenant) {
		t.Fatalf("Trigger without tenant = %v, want ErrNoTenant", err)
	}
}

func TestRunCompletesFromStreamEvent(t *testing.T) {
	backend := &fakeBackend{}
	conn := &fakeConnector{}
	r := newTestRunner(t, backend, conn)

	ch := triggerAndConnect(t, r, conn, testParams())
	if !r.Running() {
		t.Fatal("Running() = false while workflow is live")
	}

	cb := conn.callbacks(0)
	cb.OnOpen()
	cb.OnMessage(sse.Message{Event: "pending", Data: "{}"})
	cb.OnMessage(sse.Message{Event: "complete",
		Data: `{"outcomes":[{"status":"completed","manifest_digest":"sha256:def"}]}`})

	o := <-ch
	if o.Err != nil {
		t.Fatalf("outcome error: %v", o.Err)
	}
	if o.Status != "completed" {
		t.Fatalf("status = %q, want completed", o.Status)
	}
	if o.CycleID != "a1" || o.WireID != "361" {
		t.Fatalf("ids = (%q, %q), want (a1, 361)", o.CycleID, o.WireID)
	}
	if o.ManifestDigest != "sha256:def" {
		t.Fatalf("manifest digest = %q", o.ManifestDigest)
	}
	if o.TraceID != "trace-1" {
		t.Fatalf("trace id = %q", o.TraceID)
	}
	if o.Refresh == nil || len(o.Refresh.Outbox) != 1 {
		t.Fatalf("refresh result = %+v", o.Refresh)
	}

	for _, kind := range stage.Kinds() {
		requireStage(t, r, kind, stage.Completed)
	}
	if !conn.stream(0).Closed() {
		t.Fatal("stream handle not closed after completion")
	}
	if r.Running() {
		t.Fatal("Running() = true after terminal outcome")
	}
}

func TestConnectFailuresBeforeOpenAreTolerated(t *testing.T) {
	backend := &fakeBackend{}
	conn := &fakeConnector{}
	r := newTestRunner(t, backend, conn)

	ch := triggerAndConnect(t, r, conn, testParams())
	cb := conn.callbacks(0)

	// The stream client keeps retrying on its own; the workflow must not
	// give up while the cycle can still complete.
	cb.OnError("connect failed: dial tcp 127.0.0.1:9: connection refused")
	cb.OnError("connect failed: unexpected status 503")
	cb.OnOpen()
	cb.OnMessage(sse.Message{Event: "complete", Data: `{"schedule":{"status":"completed"}}`})

	o := <-ch
	if o.Err != nil {
		t.Fatalf("outcome error: %v", o.Err)
	}
	if o.Status != "completed" {
		t.Fatalf("status = %q", o.Status)
	}
	requireStage(t, r, stage.KindStreamAwait, stage.Completed)

	// No disconnect verification happened: the single snapshot read belongs
	// to the post-cycle refresh.
	snaps, timelines, _ := backend.counts()
	if snaps != 1 || timelines != 1 {
		t.Fatalf("snapshot/timeline calls = %d/%d, want 1/1", snaps, timelines)
	}
}

func TestHeartbeatTimeoutDoesNotFailWorkflow(t *testing.T) {
	backend := &fakeBackend{}
	conn := &fakeConnector{}
	r := newTestRunner(t, backend, conn)

	ch := triggerAndConnect(t, r, conn, testParams())
	cb := conn.callbacks(0)

	cb.OnOpen()
	cb.OnError("heartbeat timeout: no activity for 30s")
	cb.OnOpen() // watchdog reopened the connection
	cb.OnMessage(sse.Message{Event: "complete", Data: `{"outcomes":[{"status":"completed"}]}`})

	o := <-ch
	if o.Err != nil {
		t.Fatalf("outcome error: %v", o.Err)
	}
	snaps, timelines, _ := backend.counts()
	if snaps != 1 || timelines != 1 {
		t.Fatalf("snapshot/timeline calls = %d/%d, want refresh only", snaps, timelines)
	}
}

func TestStreamDropVerifiesStillRunningCycle(t *testing.T) {
	backend := &fakeBackend{
		snapshotFn: func(int) (*api.CycleSnapshot, error) {
			snap := &api.CycleSnapshot{}
			snap.Schedule.Status = "running"
			return snap, nil
		},
	}
	conn := &fakeConnector{}
	r := newTestRunner(t, backend, conn)

	ch := triggerAndConnect(t, r, conn, testParams())
	cb := conn.callbacks(0)

	cb.OnOpen()
	cb.OnError("stream interrupted: unexpected EOF")

	o := <-ch
	if o.Err == nil {
		t.Fatal("expected workflow failure")
	}
	if !strings.Contains(o.Err.Error(), "still running") ||
		!strings.Contains(o.Err.Error(), "stream was dropped") {
		t.Fatalf("error = %q, want still-running disconnect message", o.Err)
	}
	requireStage(t, r, stage.KindStreamAwait, stage.Failed)
	requireStage(t, r, stage.KindTriggerSubmit, stage.Completed)

	snaps, timelines, outbox := backend.counts()
	if snaps != 1 {
		t.Fatalf("snapshot calls = %d, want 1 verification read", snaps)
	}
	if timelines != 0 || outbox != 0 {
		t.Fatalf("refresh ran after a failed verification (timeline=%d outbox=%d)", timelines, outbox)
	}
	if !conn.stream(0).Closed() {
		t.Fatal("stream handle not closed before verification")
	}
}

func TestStreamDropVerifierCompletedTakesCompletionPath(t *testing.T) {
	backend := &fakeBackend{
		snapshotFn: func(int) (*api.CycleSnapshot, error) {
			snap := &api.CycleSnapshot{
				Outcomes: []api.CycleOutcome{{Status: "success"}},
			}
			snap.Schedule.Status = "running" // stale; outcomes win
			return snap, nil
		},
	}
	conn := &fakeConnector{}
	r := newTestRunner(t, backend, conn)

	ch := triggerAndConnect(t, r, conn, testParams())
	cb := conn.callbacks(0)

	cb.OnOpen()
	cb.OnError("stream interrupted: read tcp: connection reset by peer")

	o := <-ch
	if o.Err != nil {
		t.Fatalf("outcome error: %v", o.Err)
	}
	if o.Status != "success" {
		t.Fatalf("status = %q, want success", o.Status)
	}
	requireStage(t, r, stage.KindStreamAwait, stage.Completed)
	requireStage(t, r, stage.KindOutboxReady, stage.Completed)

	// One verification read plus one refresh read.
	snaps, timelines, _ := backend.counts()
	if snaps != 2 || timelines != 1 {
		t.Fatalf("snapshot/timeline calls = %d/%d, want 2/1", snaps, timelines)
	}
}

func TestTimeoutEventSkipsVerification(t *testing.T) {
	backend := &fakeBackend{}
	conn := &fakeConnector{}
	r := newTestRunner(t, backend, conn)

	ch := triggerAndConnect(t, r, conn, testParams())
	cb := conn.callbacks(0)

	cb.OnOpen()
	cb.OnMessage(sse.Message{Event: "timeout", Data: ""})

	o := <-ch
	if o.Err == nil || !strings.Contains(o.Err.Error(), "timed out") {
		t.Fatalf("error = %v, want timeout failure", o.Err)
	}
	requireStage(t, r, stage.KindStreamAwait, stage.Failed)

	// Timeout is an explicit terminal answer; no snapshot poll follows.
	snaps, _, _ := backend.counts()
	if snaps != 0 {
		t.Fatalf("snapshot calls = %d, want 0", snaps)
	}
}

func TestRetriggerSupersedesPreviousRun(t *testing.T) {
	backend := &fakeBackend{}
	conn := &fakeConnector{}
	r := newTestRunner(t, backend, conn)

	first := triggerAndConnect(t, r, conn, testParams())
	second := triggerAndConnect(t, r, conn, testParams())

	o := <-first
	if !errors.Is(o.Err, ErrSuperseded) {
		t.Fatalf("first outcome = %v, want ErrSuperseded", o.Err)
	}
	if !conn.stream(0).Closed() {
		t.Fatal("superseded stream handle left open")
	}
	if conn.stream(1).Closed() {
		t.Fatal("active stream handle was closed")
	}

	cb := conn.callbacks(1)
	cb.OnOpen()
	cb.OnMessage(sse.Message{Event: "complete", Data: `{"outcomes":[{"status":"completed"}]}`})
	if o := <-second; o.Err != nil {
		t.Fatalf("second outcome error: %v", o.Err)
	}
}

func TestRetriggerDuringVerificationLeavesNewRunUntouched(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{
		snapshotFn: func(call int) (*api.CycleSnapshot, error) {
			snap := &api.CycleSnapshot{}
			if call == 1 {
				// First run's disconnect verification: hold it until the
				// test has started a second run.
				close(entered)
				<-release
				snap.Schedule.Status = "running"
				return snap, nil
			}
			snap.Schedule.Status = "completed"
			return snap, nil
		},
	}
	conn := &fakeConnector{}
	r := newTestRunner(t, backend, conn)

	first := triggerAndConnect(t, r, conn, testParams())
	cb0 := conn.callbacks(0)
	cb0.OnOpen()
	cb0.OnError("stream interrupted: unexpected EOF")
	<-entered

	// The first run is parked inside its verification read. Start a second
	// run and bring its stream up.
	second := triggerAndConnect(t, r, conn, testParams())
	cb1 := conn.callbacks(1)
	cb1.OnOpen()
	requireStage(t, r, stage.KindStreamAwait, stage.Running)

	// Let the stale verification resolve. Its "still running" answer must
	// not fail the stage register now owned by the second run.
	close(release)
	o := <-first
	if !errors.Is(o.Err, ErrSuperseded) {
		t.Fatalf("first outcome = %v, want ErrSuperseded", o.Err)
	}
	requireStage(t, r, stage.KindStreamAwait, stage.Running)

	cb1.OnMessage(sse.Message{Event: "complete", Data: `{"outcomes":[{"status":"completed"}]}`})
	o = <-second
	if o.Err != nil {
		t.Fatalf("second outcome error: %v", o.Err)
	}
	requireStage(t, r, stage.KindStreamAwait, stage.Completed)
	requireStage(t, r, stage.KindOutboxReady, stage.Completed)
}

func TestTriggerFailureRecordsDiagnostics(t *testing.T) {
	backend := &fakeBackend{
		triggerFn: func() (*api.CycleTriggerResponse, *api.Meta, error) {
			return nil, &api.Meta{TraceID: "tr-9", Status: 422}, &api.Error{
				Kind:    api.KindAPI,
				Status:  422,
				TraceID: "tr-9",
				Body: &api.ErrorBody{
					Code:    "BUDGET_EXCEEDED",
					Message: "over budget",
					Details: map[string]any{
						"indices_used":   []any{"episodic", "semantic"},
						"tokens_spent":   float64(120),
						"tokens_allowed": float64(100),
					},
				},
			}
		},
	}
	conn := &fakeConnector{}
	r := newTestRunner(t, backend, conn)

	o, err := r.Run(context.Background(), testParams())
	if err == nil {
		t.Fatal("expected trigger failure")
	}
	if o.TraceID != "tr-9" {
		t.Fatalf("trace id = %q", o.TraceID)
	}
	requireStage(t, r, stage.KindTriggerSubmit, stage.Failed)
	if conn.count() != 0 {
		t.Fatal("stream opened despite trigger failure")
	}

	d := r.LastDiagnostics()
	if d.ErrorCode != "BUDGET_EXCEEDED" || d.TraceID != "tr-9" {
		t.Fatalf("diagnostics = %+v", d)
	}
	if len(d.Indices) != 2 || d.Indices[0] != "episodic" {
		t.Fatalf("indices = %v", d.Indices)
	}
	if d.BudgetHint != "tokens 120/100" {
		t.Fatalf("budget hint = %q", d.BudgetHint)
	}
}

func TestUnparsableCycleIDPassesThrough(t *testing.T) {
	backend := &fakeBackend{
		triggerFn: func() (*api.CycleTriggerResponse, *api.Meta, error) {
			return &api.CycleTriggerResponse{CycleID: api.FlexID("!!bogus"), Status: "pending"},
				&api.Meta{TraceID: "t"}, nil
		},
	}
	conn := &fakeConnector{}
	r := newTestRunner(t, backend, conn)

	ch := triggerAndConnect(t, r, conn, testParams())
	cb := conn.callbacks(0)
	cb.OnOpen()
	cb.OnMessage(sse.Message{Event: "complete", Data: "{}"})

	o := <-ch
	if o.Err != nil {
		t.Fatalf("outcome error: %v", o.Err)
	}
	if o.CycleID != "!!bogus" || o.WireID != "!!bogus" {
		t.Fatalf("ids = (%q, %q), want verbatim passthrough", o.CycleID, o.WireID)
	}
	backend.mu.Lock()
	url := backend.streamURLs[0]
	backend.mu.Unlock()
	if url != "!!bogus" {
		t.Fatalf("stream opened with id %q", url)
	}
}

func TestCancelFailsStreamAwait(t *testing.T) {
	backend := &fakeBackend{}
	conn := &fakeConnector{}
	r := newTestRunner(t, backend, conn)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := r.Trigger(ctx, testParams())
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waitFor(t, func() bool { return conn.count() == 1 })
	conn.callbacks(0).OnOpen()
	cancel()

	o := <-ch
	if !errors.Is(o.Err, context.Canceled) {
		t.Fatalf("outcome error = %v, want context.Canceled", o.Err)
	}
	requireStage(t, r, stage.KindStreamAwait, stage.Failed)
	if !conn.stream(0).Closed() {
		t.Fatal("stream handle not closed on cancel")
	}
}
