package stage

import (
	"sync"
	"testing"
)

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker()

	for _, s := range tr.Snapshot() {
		if s.Status != Pending {
			t.Fatalf("stage %s initial status = %s, want pending", s.Kind, s.Status)
		}
	}

	tr.Start(KindTriggerSubmit, "submitting trigger")
	s, ok := tr.Get(KindTriggerSubmit)
	if !ok || s.Status != Running || s.Label != "submitting trigger" {
		t.Fatalf("after Start: %+v", s)
	}
	if s.StartedAt.IsZero() {
		t.Error("Start did not record StartedAt")
	}

	tr.Complete(KindTriggerSubmit, "status scheduled")
	s, _ = tr.Get(KindTriggerSubmit)
	if s.Status != Completed || s.Detail != "status scheduled" {
		t.Fatalf("after Complete: %+v", s)
	}
	if s.FinishedAt.IsZero() {
		t.Error("Complete did not record FinishedAt")
	}
}

func TestFailureIsIndependent(t *testing.T) {
	tr := NewTracker()
	tr.Start(KindTriggerSubmit, "submit")
	tr.Complete(KindTriggerSubmit, "ok")
	tr.Start(KindStreamAwait, "await cycle")
	tr.Fail(KindStreamAwait, "stream timeout")

	submit, _ := tr.Get(KindTriggerSubmit)
	if submit.Status != Completed {
		t.Errorf("TriggerSubmit status = %s, want completed (must not be implicitly failed)", submit.Status)
	}
	await, _ := tr.Get(KindStreamAwait)
	if await.Status != Failed || await.Detail != "stream timeout" {
		t.Errorf("StreamAwait = %+v", await)
	}
	refresh, _ := tr.Get(KindSnapshotRefresh)
	if refresh.Status != Pending {
		t.Errorf("SnapshotRefresh status = %s, want pending", refresh.Status)
	}
}

func TestResetClearsAllStages(t *testing.T) {
	tr := NewTracker()
	tr.Start(KindTriggerSubmit, "submit")
	tr.Fail(KindStreamAwait, "boom")
	tr.Reset()

	snap := tr.Snapshot()
	if len(snap) != len(Kinds()) {
		t.Fatalf("snapshot has %d stages, want %d", len(snap), len(Kinds()))
	}
	for _, s := range snap {
		if s.Status != Pending || s.Detail != "" || !s.StartedAt.IsZero() {
			t.Errorf("stage %s not reset: %+v", s.Kind, s)
		}
	}
}

func TestObserversSeeTransitions(t *testing.T) {
	tr := NewTracker()
	var mu sync.Mutex
	var seen []Stage
	tr.Subscribe(func(s Stage) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	tr.Start(KindStreamAwait, "await")
	tr.Complete(KindStreamAwait, "completed")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("observer saw %d transitions, want 2", len(seen))
	}
	if seen[0].Status != Running || seen[1].Status != Completed {
		t.Errorf("transitions = %s, %s; want running, completed", seen[0].Status, seen[1].Status)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := NewTracker()
	snap := tr.Snapshot()
	snap[0].Status = Failed
	s, _ := tr.Get(snap[0].Kind)
	if s.Status != Pending {
		t.Error("mutating a snapshot leaked into the tracker")
	}
}
