// Package stage tracks the phases of an awareness-cycle workflow as an
// observable register. The orchestrator is the only writer; consumers read
// snapshots or subscribe to transitions.
package stage

import (
	"sync"
	"time"
)

// Kind names one phase of the trigger→observe→refresh workflow.
type Kind string

const (
	KindTriggerSubmit   Kind = "trigger_submit"
	KindStreamAwait     Kind = "stream_await"
	KindSnapshotRefresh Kind = "snapshot_refresh"
	KindOutboxReady     Kind = "outbox_ready"
)

// Kinds lists all workflow stages in execution order.
func Kinds() []Kind {
	return []Kind{KindTriggerSubmit, KindStreamAwait, KindSnapshotRefresh, KindOutboxReady}
}

// Status is the lifecycle state of a single stage.
type Status int

const (
	Pending Status = iota
	Running
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stage is the current record for one workflow phase.
type Stage struct {
	Kind       Kind
	Status     Status
	Label      string // set when the stage starts
	Detail     string // set on completion or failure
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// Observer is notified after every stage transition with a copy of the
// updated stage. Observers must not call back into the tracker.
type Observer func(Stage)

// Tracker holds the stage register for the active workflow. All methods are
// safe for concurrent use; reads never block writers for long.
type Tracker struct {
	mu        sync.RWMutex
	stages    map[Kind]*Stage
	observers []Observer
	now       func() time.Time
}

// NewTracker returns a tracker with every stage Pending.
func NewTracker() *Tracker {
	t := &Tracker{
		stages: make(map[Kind]*Stage, 4),
		now:    time.Now,
	}
	for _, k := range Kinds() {
		t.stages[k] = &Stage{Kind: k, Status: Pending}
	}
	return t
}

// Subscribe registers an observer for stage transitions.
func (t *Tracker) Subscribe(fn Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

// Reset returns every stage to Pending. Called at the start of a new
// trigger; stages are never reused across independent invocations.
func (t *Tracker) Reset() {
	t.mu.Lock()
	for _, k := range Kinds() {
		t.stages[k] = &Stage{Kind: k, Status: Pending}
	}
	t.mu.Unlock()
}

// Start marks a stage Running with a human-readable label.
func (t *Tracker) Start(kind Kind, label string) {
	t.transition(kind, func(s *Stage) {
		s.Status = Running
		s.Label = label
		s.Detail = ""
		s.StartedAt = t.now()
		s.FinishedAt = time.Time{}
		s.Duration = 0
	})
}

// Complete marks a stage Completed with an optional detail string.
func (t *Tracker) Complete(kind Kind, detail string) {
	t.finish(kind, Completed, detail)
}

// Fail marks a stage Failed with a human-readable reason. Failing one stage
// never alters the others; an already-completed TriggerSubmit stays
// completed when StreamAwait fails.
func (t *Tracker) Fail(kind Kind, detail string) {
	t.finish(kind, Failed, detail)
}

func (t *Tracker) finish(kind Kind, status Status, detail string) {
	t.transition(kind, func(s *Stage) {
		s.Status = status
		s.Detail = detail
		s.FinishedAt = t.now()
		if !s.StartedAt.IsZero() {
			s.Duration = s.FinishedAt.Sub(s.StartedAt)
		}
	})
}

func (t *Tracker) transition(kind Kind, apply func(*Stage)) {
	t.mu.Lock()
	s, ok := t.stages[kind]
	if !ok {
		s = &Stage{Kind: kind}
		t.stages[kind] = s
	}
	apply(s)
	updated := *s
	observers := make([]Observer, len(t.observers))
	copy(observers, t.observers)
	t.mu.Unlock()

	for _, fn := range observers {
		fn(updated)
	}
}

// Get returns a copy of one stage's current record.
func (t *Tracker) Get(kind Kind) (Stage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.stages[kind]
	if !ok {
		return Stage{}, false
	}
	return *s, true
}

// Snapshot returns copies of all stages in execution order, consistent at a
// single point in time.
func (t *Tracker) Snapshot() []Stage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Stage, 0, len(t.stages))
	for _, k := range Kinds() {
		if s, ok := t.stages[k]; ok {
			out = append(out, *s)
		}
	}
	return out
}
