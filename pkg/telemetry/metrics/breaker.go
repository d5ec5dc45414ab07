package metrics

import (
	"mercator-hq/tally/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// BreakerMetrics tracks circuit breakers.
//
// Metrics:
//   - tally_breaker_state: current state (0=closed, 1=half_open, 2=open)
//   - tally_breaker_calls_total: calls by result (success, failure, rejected)
//   - tally_breaker_transitions_total: state changes
type BreakerMetrics struct {
	state       *prometheus.GaugeVec
	calls       *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// NewBreakerMetrics creates and registers breaker metrics.
func NewBreakerMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *BreakerMetrics {
	m := &BreakerMetrics{
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"name"},
		),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "breaker_calls_total",
				Help:      "Total number of breaker calls by result",
			},
			[]string{"name", "result"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "breaker_transitions_total",
				Help:      "Total number of breaker state transitions",
			},
			[]string{"name", "from", "to"},
		),
	}

	registry.MustRegister(m.state, m.calls, m.transitions)
	return m
}

// SetState sets the state gauge.
func (m *BreakerMetrics) SetState(name string, state int) {
	m.state.WithLabelValues(name).Set(float64(state))
}

// RecordCall records a call result.
func (m *BreakerMetrics) RecordCall(name, result string) {
	m.calls.WithLabelValues(name, result).Inc()
}

// RecordTransition records a state change.
func (m *BreakerMetrics) RecordTransition(name, from, to string) {
	m.transitions.WithLabelValues(name, from, to).Inc()
}
