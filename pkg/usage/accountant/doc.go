// Package accountant orchestrates one metered consumption.
//
// Consume runs a fixed pipeline:
//
//  1. validate the identity, feature and provider request
//  2. rate limit the identity (refusal: *usage.RateLimitedError)
//  3. reserve one unit of daily quota (refusal: *usage.QuotaExceededError)
//  4. call the provider through the circuit breaker (refusal:
//     *usage.ServiceUnavailableError; provider failures are returned as-is)
//  5. record the usage and return the fresh snapshot
//
// Usage is recorded if and only if the provider call succeeded. A call the
// breaker refused, or that the provider failed, is never charged.
//
// A limiter backend error does not refuse the request unless FailClosed is
// set; it is logged and the request goes on to the quota check.
package accountant
