package config

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestContextRoundTrip(t *testing.T) {
	t.Setenv("ACE_CONFIG_DIR", t.TempDir())
	t.Setenv("ACE_TENANT", "")
	t.Setenv("ACE_SESSION", "")

	if got := LoadContext(); got.Tenant != "" || got.Session != "" {
		t.Fatalf("LoadContext() on empty dir = %+v, want empty context", got)
	}

	want := &Context{Tenant: "acme", Session: "sess-42"}
	if err := SaveContext(want); err != nil {
		t.Fatalf("SaveContext: %v", err)
	}

	got := LoadContext()
	if got.Tenant != want.Tenant || got.Session != want.Session {
		t.Fatalf("LoadContext() = %+v, want %+v", got, want)
	}
}

func TestContextEnvOverrides(t *testing.T) {
	t.Setenv("ACE_CONFIG_DIR", t.TempDir())
	if err := SaveContext(&Context{Tenant: "acme", Session: "sess-1"}); err != nil {
		t.Fatalf("SaveContext: %v", err)
	}

	t.Setenv("ACE_TENANT", "globex")
	t.Setenv("ACE_SESSION", "sess-9")

	got := LoadContext()
	if got.Tenant != "globex" || got.Session != "sess-9" {
		t.Fatalf("LoadContext() = %+v, want env overrides to win", got)
	}
}

func TestWatchContextSeesRewrites(t *testing.T) {
	t.Setenv("ACE_CONFIG_DIR", t.TempDir())
	t.Setenv("ACE_TENANT", "")
	t.Setenv("ACE_SESSION", "")
	if err := SaveContext(&Context{Tenant: "acme", Session: "sess-1"}); err != nil {
		t.Fatalf("SaveContext: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var mu sync.Mutex
	var seen []Context
	done := make(chan error, 1)
	go func() {
		done <- WatchContext(ctx, func(c Context) {
			mu.Lock()
			seen = append(seen, c)
			mu.Unlock()
		})
	}()

	// Give the watcher a moment to register before rewriting.
	time.Sleep(200 * time.Millisecond)
	if err := SaveContext(&Context{Tenant: "globex", Session: "sess-2"}); err != nil {
		t.Fatalf("SaveContext: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("watcher never observed the rewrite")
	}
	last := seen[len(seen)-1]
	if last.Tenant != "globex" || last.Session != "sess-2" {
		t.Fatalf("observed context = %+v, want globex/sess-2", last)
	}

	cancel()
	if err := <-done; err != context.Canceled && err != context.DeadlineExceeded {
		t.Fatalf("WatchContext returned %v", err)
	}
}
