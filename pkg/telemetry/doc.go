// Package telemetry groups the observability packages used by Tally.
//
//   - logging: slog construction, request context attributes and redaction
//   - metrics: Prometheus collectors for consume, quota, rate limit, breaker,
//     provider and retention activity
//   - tracing: OpenTelemetry spans exported over OTLP/gRPC
//   - health: liveness and readiness checks with degraded states
package telemetry
