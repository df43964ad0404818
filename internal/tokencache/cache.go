// Package tokencache caches a single bearer token and coalesces concurrent
// refreshes so the identity backend sees at most one acquisition at a time.
package tokencache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	mithril "github.com/eugener/mithril/internal"
	"github.com/eugener/mithril/internal/telemetry"
)

const (
	defaultAcquireTimeout = 30 * time.Second
	defaultMaxAttempts    = 3
	defaultRetryBackoff   = 500 * time.Millisecond

	flightKey = "token"
)

var errBreakerOpen = errors.New("identity backend circuit open")

// Options configures a Cache. The zero value uses defaults and no metrics.
type Options struct {
	// AcquireTimeout bounds a single acquisition flight, including retries.
	// Defaults to 30s. Interactive credentials need much more.
	AcquireTimeout time.Duration
	// MaxAttempts is the number of acquisition attempts per flight when
	// failures are transient. Defaults to 3.
	MaxAttempts int
	// RetryBackoff is the base sleep between transient retries. Defaults
	// to 500ms and grows linearly with the attempt number.
	RetryBackoff time.Duration
	// Breaker guards the identity backend. Defaults to a fresh breaker
	// with DefaultBreakerConfig.
	Breaker *Breaker
	// Metrics is optional.
	Metrics *telemetry.Metrics
}

// Cache holds at most one token for a credential and scope. Callers read
// the cached token while it is valid; when it is missing or stale, exactly
// one acquisition runs against the backend and every waiter receives its
// result.
type Cache struct {
	cred    mithril.Credential
	scope   string
	timeout time.Duration
	retries int
	backoff time.Duration
	breaker *Breaker
	metrics *telemetry.Metrics
	tracer  trace.Tracer

	group singleflight.Group

	mu  sync.RWMutex
	tok mithril.Token
	ok  bool
}

// New creates a cache for the given credential and scope.
func New(cred mithril.Credential, scope string, opts Options) *Cache {
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = defaultAcquireTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	if opts.Breaker == nil {
		opts.Breaker = NewBreaker(DefaultBreakerConfig())
	}
	return &Cache{
		cred:    cred,
		scope:   scope,
		timeout: opts.AcquireTimeout,
		retries: opts.MaxAttempts,
		backoff: opts.RetryBackoff,
		breaker: opts.Breaker,
		metrics: opts.Metrics,
		tracer:  telemetry.Tracer("mithril/tokencache"),
	}
}

// Token returns the cached secret, refreshing it first if missing or stale.
func (c *Cache) Token(ctx context.Context) (string, error) {
	now := time.Now()
	c.mu.RLock()
	tok, ok := c.tok, c.ok
	c.mu.RUnlock()
	if ok && tok.Valid(now) {
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
		return tok.Secret, nil
	}
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
	return c.refresh(ctx, true)
}

// ForceRefresh discards any cached token and acquires a fresh one. Callers
// use it after the resource rejected the current token.
func (c *Cache) ForceRefresh(ctx context.Context) (string, error) {
	if c.metrics != nil {
		c.metrics.ForcedRefreshes.Inc()
	}
	c.Invalidate()
	return c.refresh(ctx, false)
}

// Invalidate drops the cached token without acquiring a new one.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.tok = mithril.Token{}
	c.ok = false
	c.mu.Unlock()
}

// Cached reports the cached token and whether one is present, without
// triggering a refresh. Useful for expiry introspection.
func (c *Cache) Cached() (mithril.Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tok, c.ok
}

// refresh joins (or starts) the single acquisition flight. The flight runs
// on a detached context so a cancelled waiter returns promptly while the
// acquisition completes for everyone else.
func (c *Cache) refresh(ctx context.Context, useCached bool) (string, error) {
	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.acquire(useCached)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared && c.metrics != nil {
			c.metrics.RefreshCoalesced.Inc()
		}
		return res.Val.(string), nil
	}
}

// acquire runs inside the single-flight group. It is bounded by the cache's
// own timeout rather than any waiter's context.
func (c *Cache) acquire(useCached bool) (string, error) {
	// Another waiter may have completed a refresh between this caller's
	// staleness check and the flight starting.
	if useCached {
		now := time.Now()
		c.mu.RLock()
		tok, ok := c.tok, c.ok
		c.mu.RUnlock()
		if ok && tok.Valid(now) {
			return tok.Secret, nil
		}
	}

	if !c.breaker.Allow() {
		if c.metrics != nil {
			c.metrics.BreakerOpen.Set(1)
		}
		return "", &mithril.NetworkError{Backend: c.cred.Name(), Err: errBreakerOpen}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "tokencache.acquire",
		trace.WithAttributes(attribute.String("credential.source", c.cred.Name())))
	defer span.End()

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		tok, err := c.cred.Acquire(ctx, c.scope)
		if err == nil {
			c.mu.Lock()
			c.tok = tok
			c.ok = true
			c.mu.Unlock()
			c.breaker.RecordSuccess()
			c.observe(start, "success")
			slog.Debug("token acquired",
				"source", c.cred.Name(),
				"expires_at", tok.ExpiresAt(),
				"attempt", attempt)
			return tok.Secret, nil
		}
		lastErr = err
		if !mithril.IsTransient(err) {
			break
		}
		if attempt < c.retries {
			slog.Debug("token acquisition failed, retrying",
				"source", c.cred.Name(), "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				attempt = c.retries // no budget left
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}
	}

	// A deadline hit inside the backend surfaces as a bare context error.
	// Treat it as a backend problem; a later call may succeed.
	if errors.Is(lastErr, context.DeadlineExceeded) && !mithril.IsTransient(lastErr) {
		lastErr = &mithril.NetworkError{
			Backend: c.cred.Name(),
			Err:     fmt.Errorf("acquisition timed out after %s: %w", c.timeout, lastErr),
		}
	}

	switch {
	case mithril.IsTransient(lastErr):
		c.breaker.RecordError()
		c.observe(start, "network")
	case errors.Is(lastErr, mithril.ErrUnavailable):
		c.observe(start, "unavailable")
	default:
		c.observe(start, "denied")
	}
	// The previous token, if any, stays untouched so a still-valid one
	// keeps serving while the backend misbehaves.
	return "", lastErr
}

func (c *Cache) observe(start time.Time, outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.Acquisitions.WithLabelValues(c.cred.Name(), outcome).Inc()
	c.metrics.AcquireDuration.WithLabelValues(c.cred.Name()).Observe(time.Since(start).Seconds())
	if c.breaker.State() == StateOpen {
		c.metrics.BreakerOpen.Set(1)
	} else {
		c.metrics.BreakerOpen.Set(0)
	}
}
