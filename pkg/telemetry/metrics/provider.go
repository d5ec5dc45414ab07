package metrics

import (
	"time"

	"mercator-hq/tally/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// ProviderMetrics tracks calls to the completion provider.
//
// Metrics:
//   - tally_provider_requests_total: calls by provider and model
//   - tally_provider_latency_seconds: call latency
//   - tally_provider_errors_total: errors by type
//
// Common error types: "rate_limit", "timeout", "auth", "server_error",
// "client_error", "network", "parse".
type ProviderMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

// NewProviderMetrics creates and registers provider metrics.
func NewProviderMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ProviderMetrics {
	m := &ProviderMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "provider_requests_total",
				Help:      "Total number of requests to the completion provider",
			},
			[]string{"provider", "model"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "provider_latency_seconds",
				Help:      "Completion provider call latency in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"provider", "model"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "provider_errors_total",
				Help:      "Total number of provider errors by type",
			},
			[]string{"provider", "error_type"},
		),
	}

	registry.MustRegister(m.requests, m.latency, m.errors)
	return m
}

// RecordCall records a call and its latency.
func (m *ProviderMetrics) RecordCall(provider, model string, duration time.Duration) {
	m.requests.WithLabelValues(provider, model).Inc()
	m.latency.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// RecordError records a provider error.
func (m *ProviderMetrics) RecordError(provider, errorType string) {
	m.errors.WithLabelValues(provider, errorType).Inc()
}
