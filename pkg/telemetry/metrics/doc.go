// Package metrics provides Prometheus metrics collection for Tally.
//
// # Metrics Categories
//
//   - Consume: pipeline outcomes and latency per feature
//   - Quota: read source (cache, durable, degraded), store fallbacks, availability
//   - Rate limit: allow/deny decisions per tier, backend errors
//   - Breaker: state gauge, call results, transitions
//   - Provider: request count, latency and errors
//   - Retention: sweep results and processed counters
//
// Identities are never used as label values, so cardinality stays bounded by
// the small sets of features, outcomes and tiers.
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordConsume("summary", "success", 850*time.Millisecond)
//	collector.SetStoreAvailable(false)
//
// A nil *Collector is valid and records nothing.
//
// # Prometheus Endpoint
//
//	# HELP tally_consume_total Total number of consume calls by feature and outcome
//	# TYPE tally_consume_total counter
//	tally_consume_total{feature="summary",outcome="success"} 1234
package metrics
