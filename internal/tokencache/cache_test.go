package tokencache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mithril "github.com/eugener/mithril/internal"
	"github.com/eugener/mithril/internal/testutil"
)

func freshToken(secret string) mithril.Token {
	return mithril.NewToken(secret, time.Hour)
}

func staleToken(secret string) mithril.Token {
	return mithril.Token{Secret: secret, AcquiredAt: time.Now().Add(-2 * time.Hour), TTL: time.Hour}
}

func TestTokenCachedWhileValid(t *testing.T) {
	t.Parallel()

	cred := &testutil.FakeCredential{AcquireFn: func(context.Context, string) (mithril.Token, error) {
		return freshToken("s1"), nil
	}}
	c := New(cred, "scope", Options{})

	for range 3 {
		got, err := c.Token(t.Context())
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
		if got != "s1" {
			t.Fatalf("Token = %q, want s1", got)
		}
	}
	if n := cred.Calls(); n != 1 {
		t.Errorf("backend called %d times, want 1", n)
	}
}

func TestTokenRefreshedWhenStale(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	cred := &testutil.FakeCredential{AcquireFn: func(context.Context, string) (mithril.Token, error) {
		// Every acquired token is already inside the safety buffer, so
		// each Token call must go back to the backend.
		return staleToken(fmt.Sprintf("s%d", n.Add(1))), nil
	}}
	c := New(cred, "scope", Options{})

	got1, err := c.Token(t.Context())
	if err != nil {
		t.Fatalf("first Token: %v", err)
	}
	got2, err := c.Token(t.Context())
	if err != nil {
		t.Fatalf("second Token: %v", err)
	}
	if got1 != "s1" || got2 != "s2" {
		t.Errorf("tokens = %q, %q, want s1, s2", got1, got2)
	}
}

func TestConcurrentCallersShareOneAcquisition(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	cred := &testutil.FakeCredential{AcquireFn: func(context.Context, string) (mithril.Token, error) {
		once.Do(func() { close(entered) })
		<-release
		return freshToken("shared"), nil
	}}
	c := New(cred, "scope", Options{})

	const callers = 20
	results := make(chan string, callers)
	errs := make(chan error, callers)

	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Token(context.Background())
			results <- got
			errs <- err
		}()
	}

	<-entered
	// Give the remaining callers time to join the flight.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
	}
	for got := range results {
		if got != "shared" {
			t.Errorf("Token = %q, want shared", got)
		}
	}
	if n := cred.Calls(); n != 1 {
		t.Errorf("backend called %d times, want 1", n)
	}
}

func TestForceRefreshBypassesValidToken(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	cred := &testutil.FakeCredential{AcquireFn: func(context.Context, string) (mithril.Token, error) {
		return freshToken(fmt.Sprintf("s%d", n.Add(1))), nil
	}}
	c := New(cred, "scope", Options{})

	got, err := c.Token(t.Context())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got != "s1" {
		t.Fatalf("Token = %q, want s1", got)
	}

	got, err = c.ForceRefresh(t.Context())
	if err != nil {
		t.Fatalf("ForceRefresh: %v", err)
	}
	if got != "s2" {
		t.Errorf("ForceRefresh = %q, want s2", got)
	}
	if n := cred.Calls(); n != 2 {
		t.Errorf("backend called %d times, want 2", n)
	}
}

func TestTransientFailuresRetriedInsideFlight(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	cred := &testutil.FakeCredential{AcquireFn: func(context.Context, string) (mithril.Token, error) {
		if n.Add(1) < 3 {
			return mithril.Token{}, &mithril.NetworkError{Backend: "fake", Err: errors.New("connection reset")}
		}
		return freshToken("eventually"), nil
	}}
	c := New(cred, "scope", Options{RetryBackoff: time.Millisecond})

	got, err := c.Token(t.Context())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got != "eventually" {
		t.Errorf("Token = %q, want eventually", got)
	}
	if n := cred.Calls(); n != 3 {
		t.Errorf("backend called %d times, want 3", n)
	}
}

func TestDeniedFailureNotRetried(t *testing.T) {
	t.Parallel()

	cred := &testutil.FakeCredential{AcquireFn: func(context.Context, string) (mithril.Token, error) {
		return mithril.Token{}, fmt.Errorf("invalid_client: %w", mithril.ErrDenied)
	}}
	c := New(cred, "scope", Options{RetryBackoff: time.Millisecond})

	_, err := c.Token(t.Context())
	if !errors.Is(err, mithril.ErrDenied) {
		t.Fatalf("Token error = %v, want ErrDenied", err)
	}
	if n := cred.Calls(); n != 1 {
		t.Errorf("backend called %d times, want 1", n)
	}
}

func TestCancelledWaiterDetachesFromFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	cred := &testutil.FakeCredential{AcquireFn: func(context.Context, string) (mithril.Token, error) {
		<-release
		return freshToken("late"), nil
	}}
	c := New(cred, "scope", Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Token(ctx)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Token error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter did not return")
	}

	// The flight keeps running and stores its result.
	close(release)
	deadline := time.Now().Add(time.Second)
	for {
		if tok, ok := c.Cached(); ok && tok.Secret == "late" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("detached flight never stored its token")
		}
		time.Sleep(5 * time.Millisecond)
	}

	got, err := c.Token(t.Context())
	if err != nil {
		t.Fatalf("Token after detach: %v", err)
	}
	if got != "late" {
		t.Errorf("Token = %q, want late", got)
	}
	if n := cred.Calls(); n != 1 {
		t.Errorf("backend called %d times, want 1", n)
	}
}

func TestBreakerShortCircuitsBackend(t *testing.T) {
	t.Parallel()

	cred := &testutil.FakeCredential{AcquireFn: func(context.Context, string) (mithril.Token, error) {
		return mithril.Token{}, &mithril.NetworkError{Backend: "fake", Err: errors.New("timeout")}
	}}
	c := New(cred, "scope", Options{
		MaxAttempts:  1,
		RetryBackoff: time.Millisecond,
		Breaker:      NewBreaker(BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour}),
	})

	if _, err := c.Token(t.Context()); !mithril.IsTransient(err) {
		t.Fatalf("first Token error = %v, want transient", err)
	}
	if n := cred.Calls(); n != 1 {
		t.Fatalf("backend called %d times, want 1", n)
	}

	// Breaker is now open; the backend must not be touched again.
	_, err := c.Token(t.Context())
	if !errors.Is(err, errBreakerOpen) {
		t.Fatalf("second Token error = %v, want circuit open", err)
	}
	if !mithril.IsTransient(err) {
		t.Error("circuit-open error should be transient")
	}
	if n := cred.Calls(); n != 1 {
		t.Errorf("backend called %d times, want 1", n)
	}
}

func TestInvalidateDropsCachedToken(t *testing.T) {
	t.Parallel()

	cred := &testutil.FakeCredential{AcquireFn: func(context.Context, string) (mithril.Token, error) {
		return freshToken("s"), nil
	}}
	c := New(cred, "scope", Options{})

	if _, err := c.Token(t.Context()); err != nil {
		t.Fatalf("Token: %v", err)
	}
	c.Invalidate()
	if _, ok := c.Cached(); ok {
		t.Error("Cached reports a token after Invalidate")
	}
	if _, err := c.Token(t.Context()); err != nil {
		t.Fatalf("Token after Invalidate: %v", err)
	}
	if n := cred.Calls(); n != 2 {
		t.Errorf("backend called %d times, want 2", n)
	}
}
