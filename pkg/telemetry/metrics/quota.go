package metrics

import (
	"mercator-hq/tally/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// QuotaMetrics tracks the quota store.
//
// Metrics:
//   - tally_quota_reads_total: usage reads by source (cache, durable, degraded)
//   - tally_quota_store_fallbacks_total: durable failures that fell back, by op
//   - tally_quota_store_available: 1 when the durable store is reachable
type QuotaMetrics struct {
	reads     *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	available prometheus.Gauge
}

// NewQuotaMetrics creates and registers quota metrics.
func NewQuotaMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *QuotaMetrics {
	m := &QuotaMetrics{
		reads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "quota_reads_total",
				Help:      "Total number of usage reads by source",
			},
			[]string{"source"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "quota_store_fallbacks_total",
				Help:      "Total number of durable store failures served by the degraded path",
			},
			[]string{"op"},
		),
		available: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "quota_store_available",
				Help:      "Durable store availability (1=reachable, 0=degraded)",
			},
		),
	}

	m.available.Set(1)
	registry.MustRegister(m.reads, m.fallbacks, m.available)
	return m
}

// RecordRead records a usage read.
func (m *QuotaMetrics) RecordRead(source string) {
	m.reads.WithLabelValues(source).Inc()
}

// RecordFallback records a degraded fallback.
func (m *QuotaMetrics) RecordFallback(op string) {
	m.fallbacks.WithLabelValues(op).Inc()
}

// SetAvailable sets the availability gauge.
func (m *QuotaMetrics) SetAvailable(available bool) {
	if available {
		m.available.Set(1)
		return
	}
	m.available.Set(0)
}
