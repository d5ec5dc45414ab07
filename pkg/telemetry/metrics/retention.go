package metrics

import (
	"time"

	"mercator-hq/tally/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// RetentionMetrics tracks retention sweeps.
//
// Metrics:
//   - tally_retention_sweeps_total: sweeps by status (success, error)
//   - tally_retention_counters_total: counters processed by action (archived, deleted)
//   - tally_retention_sweep_duration_seconds: sweep duration
//   - tally_retention_last_sweep_timestamp_seconds: completion time of the last sweep
type RetentionMetrics struct {
	sweeps    *prometheus.CounterVec
	counters  *prometheus.CounterVec
	duration  prometheus.Histogram
	lastSweep prometheus.Gauge
}

// NewRetentionMetrics creates and registers retention metrics.
func NewRetentionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RetentionMetrics {
	m := &RetentionMetrics{
		sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "retention_sweeps_total",
				Help:      "Total number of retention sweeps by status",
			},
			[]string{"status"},
		),
		counters: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "retention_counters_total",
				Help:      "Total number of usage counters processed by retention",
			},
			[]string{"action"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "retention_sweep_duration_seconds",
				Help:      "Retention sweep duration in seconds",
				Buckets:   cfg.DurationBuckets,
			},
		),
		lastSweep: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "retention_last_sweep_timestamp_seconds",
				Help:      "Unix time of the last completed retention sweep",
			},
		),
	}

	registry.MustRegister(m.sweeps, m.counters, m.duration, m.lastSweep)
	return m
}

// Record records a completed sweep.
func (m *RetentionMetrics) Record(archived, deleted int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.sweeps.WithLabelValues(status).Inc()
	m.counters.WithLabelValues("archived").Add(float64(archived))
	m.counters.WithLabelValues("deleted").Add(float64(deleted))
	m.duration.Observe(duration.Seconds())
	m.lastSweep.SetToCurrentTime()
}
