package metrics

import (
	"mercator-hq/tally/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// RateLimitMetrics tracks throttle decisions.
//
// Metrics:
//   - tally_rate_limit_decisions_total: decisions by tier and result
//   - tally_rate_limit_errors_total: limiter backend errors
type RateLimitMetrics struct {
	decisions *prometheus.CounterVec
	errors    *prometheus.CounterVec
}

// NewRateLimitMetrics creates and registers rate limit metrics.
func NewRateLimitMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RateLimitMetrics {
	m := &RateLimitMetrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rate_limit_decisions_total",
				Help:      "Total number of rate limit decisions by tier and result",
			},
			[]string{"tier", "result"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rate_limit_errors_total",
				Help:      "Total number of rate limiter backend errors",
			},
			[]string{"backend"},
		),
	}

	registry.MustRegister(m.decisions, m.errors)
	return m
}

// RecordDecision records an allow or deny.
func (m *RateLimitMetrics) RecordDecision(tier string, allowed bool) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.decisions.WithLabelValues(tier, result).Inc()
}

// RecordError records a backend error.
func (m *RateLimitMetrics) RecordError(backend string) {
	m.errors.WithLabelValues(backend).Inc()
}
