package metrics

import (
	"time"

	"mercator-hq/tally/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// ConsumeMetrics tracks the consume pipeline.
//
// Metrics:
//   - tally_consume_total: consume calls by feature and outcome
//   - tally_consume_duration_seconds: end-to-end consume latency
type ConsumeMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewConsumeMetrics creates and registers consume metrics.
func NewConsumeMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ConsumeMetrics {
	m := &ConsumeMetrics{
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "consume_total",
				Help:      "Total number of consume calls by feature and outcome",
			},
			[]string{"feature", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "consume_duration_seconds",
				Help:      "Consume pipeline duration in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"feature", "outcome"},
		),
	}

	registry.MustRegister(m.total, m.duration)
	return m
}

// Record records one consume call.
func (m *ConsumeMetrics) Record(feature, outcome string, duration time.Duration) {
	m.total.WithLabelValues(feature, outcome).Inc()
	m.duration.WithLabelValues(feature, outcome).Observe(duration.Seconds())
}
