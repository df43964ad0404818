// Package telemetry provides observability primitives for mithril.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the auth layer.
type Metrics struct {
	Acquisitions        *prometheus.CounterVec
	AcquireDuration     *prometheus.HistogramVec
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
	RefreshCoalesced    prometheus.Counter
	ForcedRefreshes     prometheus.Counter
	UnauthorizedRetries prometheus.Counter
	BreakerOpen         prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mithril",
			Name:      "acquisitions_total",
			Help:      "Total token acquisitions against the identity backend.",
		}, []string{"source", "outcome"}),

		AcquireDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "mithril",
			Name:                            "acquire_duration_seconds",
			Help:                            "Token acquisition duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"source"}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mithril",
			Name:      "token_cache_hits_total",
			Help:      "Total token cache hits.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mithril",
			Name:      "token_cache_misses_total",
			Help:      "Total token cache misses.",
		}),

		RefreshCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mithril",
			Name:      "refresh_coalesced_total",
			Help:      "Total callers that joined an acquisition already in flight.",
		}),

		ForcedRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mithril",
			Name:      "forced_refreshes_total",
			Help:      "Total refreshes forced by callers, bypassing a valid cached token.",
		}),

		UnauthorizedRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mithril",
			Name:      "unauthorized_retries_total",
			Help:      "Total requests replayed after a 401 triggered a token refresh.",
		}),

		BreakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mithril",
			Name:      "backend_breaker_open",
			Help:      "1 when the identity backend circuit breaker is open.",
		}),
	}

	reg.MustRegister(
		m.Acquisitions,
		m.AcquireDuration,
		m.CacheHits,
		m.CacheMisses,
		m.RefreshCoalesced,
		m.ForcedRefreshes,
		m.UnauthorizedRetries,
		m.BreakerOpen,
	)

	return m
}
