// Package server is the HTTP request-handling layer in front of the
// usage accountant.
//
// # Routes
//
//	POST /v1/consume            meter one provider call
//	GET  /v1/usage              today's usage for the caller
//	GET  /v1/usage/stats?days=N usage over the last N days
//	GET  /v1/status/breaker     provider circuit breaker state
//	GET  /health, /ready        liveness and readiness
//	GET  /metrics               Prometheus metrics
//	GET  /version               build information
//
// # Identity
//
// Identity verification happens upstream. An IdentityResolver reads the
// verified caller from the request; HeaderResolver trusts the
// X-Tally-Identity and X-Tally-Premium headers set by the token verifier.
//
// # Errors
//
// Accountant errors are translated into JSON error responses:
//
//	quota exceeded       429  X-Quota-Limit, X-Quota-Used, X-Quota-Reset, Retry-After
//	rate limited         429  X-RateLimit-Limit, Retry-After
//	provider unavailable 503  Retry-After
//	validation           400
//	provider failure     502
//
// # Middleware
//
// Requests pass through recovery, request id, tracing and access logging,
// outermost first.
package server
