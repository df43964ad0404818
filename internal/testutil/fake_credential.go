// Package testutil provides configurable test fakes for auth interfaces.
package testutil

import (
	"context"
	"sync/atomic"
	"time"

	mithril "github.com/eugener/mithril/internal"
)

// FakeCredential is a configurable mithril.Credential for testing.
type FakeCredential struct {
	Source    string
	Static    bool
	AcquireFn func(ctx context.Context, scope string) (mithril.Token, error)

	calls atomic.Int32
}

// Name returns the configured source name, defaulting to "fake".
func (f *FakeCredential) Name() string {
	if f.Source == "" {
		return "fake"
	}
	return f.Source
}

// Refreshable reports the inverse of Static.
func (f *FakeCredential) Refreshable() bool { return !f.Static }

// Acquire delegates to AcquireFn or returns a default hour-long token.
func (f *FakeCredential) Acquire(ctx context.Context, scope string) (mithril.Token, error) {
	f.calls.Add(1)
	if f.AcquireFn != nil {
		return f.AcquireFn(ctx, scope)
	}
	return mithril.NewToken("fake-token", time.Hour), nil
}

// Calls returns how many times Acquire has been invoked.
func (f *FakeCredential) Calls() int32 { return f.calls.Load() }
