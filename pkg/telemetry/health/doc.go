// Package health provides liveness and readiness checks.
//
// # Endpoints
//
//   - /health: liveness, 200 while the process runs
//   - /ready: readiness, runs every registered check
//   - /version: build information
//
// # Check severity
//
// A check registered with RegisterCheck is critical; its failure makes the
// system "unhealthy" and readiness answers 503. A check registered with
// RegisterDegradedCheck reports a component that has a fallback; its failure
// makes the system "degraded" and readiness still answers 200, since
// requests keep being served.
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterDegradedCheck("storage", health.StoreCheck(quotaStore))
//	checker.RegisterDegradedCheck("breaker", health.BreakerCheck(b.State))
//
//	mux.HandleFunc("/health", checker.LivenessHandler())
//	mux.HandleFunc("/ready", checker.ReadinessHandler())
//
// Checks run concurrently, each bounded by the checker timeout.
package health
