package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSource struct {
	refreshable bool
	err         error
	calls       atomic.Int32
}

func (s *fakeSource) Token(context.Context) (string, error) {
	s.calls.Add(1)
	return "t", s.err
}

func (s *fakeSource) Expiry() (time.Time, bool) {
	// Always already stale, so every poll refreshes.
	return time.Now(), true
}

func (s *fakeSource) Refreshable() bool { return s.refreshable }

func TestRefresherSkipsStaticSources(t *testing.T) {
	t.Parallel()

	src := &fakeSource{refreshable: false}
	r := NewRefresher(src)

	if err := r.Run(t.Context()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := src.calls.Load(); n != 0 {
		t.Errorf("Token called %d times for a static source, want 0", n)
	}
}

func TestRefresherRefreshesRepeatedly(t *testing.T) {
	t.Parallel()

	src := &fakeSource{refreshable: true}
	r := NewRefresher(src)
	r.poll = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for src.calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d refreshes observed", src.calls.Load())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRefresherKeepsGoingAfterFailures(t *testing.T) {
	t.Parallel()

	src := &fakeSource{refreshable: true, err: errors.New("backend down")}
	r := NewRefresher(src)
	r.poll = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for src.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("refresher stopped after the first failure")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRefresherName(t *testing.T) {
	t.Parallel()

	if got := NewRefresher(&fakeSource{}).Name(); got != "token_refresher" {
		t.Errorf("Name = %q, want token_refresher", got)
	}
}
