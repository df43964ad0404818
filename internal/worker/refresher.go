package worker

import (
	"context"
	"log/slog"
	"time"

	mithril "github.com/eugener/mithril/internal"
)

const (
	// refresherPoll is how long the refresher sleeps when it has no expiry
	// to schedule against, or after a failed refresh.
	refresherPoll = 30 * time.Second
)

// TokenSource is the slice of a session the refresher needs.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Expiry() (time.Time, bool)
	Refreshable() bool
}

// Refresher keeps a session's token warm by waking just as the cached
// token crosses the safety buffer, so in-flight requests rarely pay the
// acquisition latency. Failures are logged and retried; the cache's own
// breaker keeps a broken backend from being hammered.
type Refresher struct {
	source TokenSource
	poll   time.Duration
}

// NewRefresher creates a refresher for the given token source.
func NewRefresher(source TokenSource) *Refresher {
	return &Refresher{source: source, poll: refresherPoll}
}

// Name implements Worker.
func (r *Refresher) Name() string { return "token_refresher" }

// Run refreshes the token ahead of demand until ctx is cancelled. For a
// non-refreshable source it returns immediately; static keys have nothing
// to keep warm.
func (r *Refresher) Run(ctx context.Context) error {
	if !r.source.Refreshable() {
		return nil
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		wait := r.poll
		if _, err := r.source.Token(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("background token refresh failed", "error", err)
		} else if exp, ok := r.source.Expiry(); ok {
			// Wake when the token goes stale; the Token call above then
			// triggers the actual refresh.
			if until := time.Until(exp.Add(-mithril.SafetyBuffer)); until > wait {
				wait = until
			}
		}
		timer.Reset(wait)
	}
}
