package metrics

import (
	"time"

	"mercator-hq/tally/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every Prometheus series exported by Tally.
//
// All methods are safe on a nil *Collector and on a collector built from a
// disabled configuration, so components can take an optional collector
// without nil checks.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	consume   *ConsumeMetrics
	quota     *QuotaMetrics
	rateLimit *RateLimitMetrics
	breaker   *BreakerMetrics
	provider  *ProviderMetrics
	retention *RetentionMetrics
}

// NewCollector creates a collector with the given configuration and
// registry. A nil registry gets a fresh private registry.
//
// Example:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	mux.Handle("/metrics", collector.Handler())
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg == nil {
		cfg = &config.MetricsConfig{Enabled: true}
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = append([]float64(nil), config.DefaultDurationBuckets...)
	}

	c := &Collector{
		config:   cfg,
		registry: registry,
	}

	c.consume = NewConsumeMetrics(cfg, registry)
	c.quota = NewQuotaMetrics(cfg, registry)
	c.rateLimit = NewRateLimitMetrics(cfg, registry)
	c.breaker = NewBreakerMetrics(cfg, registry)
	c.provider = NewProviderMetrics(cfg, registry)
	c.retention = NewRetentionMetrics(cfg, registry)

	return c
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// RecordConsume records the outcome of one consume pipeline run.
//
// Outcomes: "success", "rate_limited", "quota_exceeded", "unavailable",
// "provider_error", "invalid", "store_error".
func (c *Collector) RecordConsume(feature, outcome string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.consume.Record(feature, outcome, duration)
}

// RecordQuotaRead records which path served a usage read: "cache",
// "durable" or "degraded".
func (c *Collector) RecordQuotaRead(source string) {
	if !c.enabled() {
		return
	}
	c.quota.RecordRead(source)
}

// RecordStoreFallback records a durable store failure that fell back to
// the in-process counter.
func (c *Collector) RecordStoreFallback(op string) {
	if !c.enabled() {
		return
	}
	c.quota.RecordFallback(op)
}

// SetStoreAvailable updates the durable store availability gauge.
func (c *Collector) SetStoreAvailable(available bool) {
	if !c.enabled() {
		return
	}
	c.quota.SetAvailable(available)
}

// RecordRateLimit records a throttle decision for a tier.
func (c *Collector) RecordRateLimit(tier string, allowed bool) {
	if !c.enabled() {
		return
	}
	c.rateLimit.RecordDecision(tier, allowed)
}

// RecordRateLimitError records a limiter backend failure.
func (c *Collector) RecordRateLimitError(backend string) {
	if !c.enabled() {
		return
	}
	c.rateLimit.RecordError(backend)
}

// SetBreakerState updates the breaker state gauge
// (0=closed, 1=half_open, 2=open).
func (c *Collector) SetBreakerState(name string, state int) {
	if !c.enabled() {
		return
	}
	c.breaker.SetState(name, state)
}

// RecordBreakerCall records a breaker call result: "success", "failure"
// or "rejected".
func (c *Collector) RecordBreakerCall(name, result string) {
	if !c.enabled() {
		return
	}
	c.breaker.RecordCall(name, result)
}

// RecordBreakerTransition records a state change.
func (c *Collector) RecordBreakerTransition(name, from, to string) {
	if !c.enabled() {
		return
	}
	c.breaker.RecordTransition(name, from, to)
}

// RecordProviderCall records a completion provider call and its latency.
func (c *Collector) RecordProviderCall(provider, model string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.provider.RecordCall(provider, model, duration)
}

// RecordProviderError records a provider error by type.
func (c *Collector) RecordProviderError(provider, errorType string) {
	if !c.enabled() {
		return
	}
	c.provider.RecordError(provider, errorType)
}

// RecordSweep records a completed retention sweep.
func (c *Collector) RecordSweep(archived, deleted int, duration time.Duration, err error) {
	if !c.enabled() {
		return
	}
	c.retention.Record(archived, deleted, duration, err)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}
