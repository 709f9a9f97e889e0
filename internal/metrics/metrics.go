package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	// AuthDecisionsTotal counts terminal guard outcomes by rejection code
	// ("authorized" for accepted requests).
	AuthDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_decisions_total",
			Help: "Total authentication decisions by outcome",
		},
		[]string{"outcome"},
	)

	// DecisionCacheLookupsTotal counts cache lookups by result.
	DecisionCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_decision_cache_lookups_total",
			Help: "Total decision cache lookups by result",
		},
		[]string{"result"}, // hit, miss, context_mismatch, expired, error
	)

	// ReplayAttemptsTotal counts presentations of rotated-out token ids.
	// Spikes indicate an active attack.
	ReplayAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_replay_attempts_total",
			Help: "Total rotated-token replay attempts detected",
		},
	)

	// RateLimitRejectionsTotal counts rate-limited requests by endpoint class.
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_rate_limit_rejections_total",
			Help: "Total requests rejected by the rate limiter",
		},
		[]string{"class"},
	)

	// SecurityEventsTotal counts audit events by type and severity.
	SecurityEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_security_events_total",
			Help: "Total security events emitted to the audit pipeline",
		},
		[]string{"type", "severity"},
	)

	// AuditEventsDroppedTotal counts events dropped because the audit
	// pipeline was saturated. Emission never blocks the request path.
	AuditEventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_audit_events_dropped_total",
			Help: "Total audit events dropped due to backpressure",
		},
	)

	// AuditSpoolDepth tracks events waiting in the on-disk spool.
	AuditSpoolDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auth_audit_spool_depth",
			Help: "Security events currently spooled on disk",
		},
	)

	// BreakerState exposes circuit breaker state per dependency
	// (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "auth_breaker_state",
			Help: "Circuit breaker state per store dependency",
		},
		[]string{"dependency"},
	)

	// DegradedMode is 1 while the shared store is unreachable and every
	// request pays for full validation.
	DegradedMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auth_degraded_mode",
			Help: "Whether the auth core is operating without its shared store",
		},
	)
)

// ObserveBreaker adapts breaker transitions onto the state gauge.
func ObserveBreaker(name string, _, to gobreaker.State) {
	BreakerState.WithLabelValues(name).Set(breakerStateValue(to))
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
