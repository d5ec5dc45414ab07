// Package usage defines the data model shared by the usage accounting layer:
// per-identity daily counters, optional usage detail records, quota snapshots,
// and the error taxonomy surfaced to request handlers.
//
// # Day Boundaries
//
// Counters are keyed by (identity, day). The day is the calendar date in the
// owner's configured time zone, formatted as YYYY-MM-DD:
//
//	loc, _ := time.LoadLocation("Europe/Berlin")
//	key := usage.Day(time.Now(), loc)          // "2025-11-20"
//	reset := usage.NextMidnight(time.Now(), loc)
//
// # Errors
//
// Refusals carry the data a client response needs:
//
//   - QuotaExceededError: used, limit, reset time (non-retryable until reset)
//   - RateLimitedError: retry-after
//   - ServiceUnavailableError: retry-after from the circuit breaker
//   - ValidationError: malformed identity or feature type
//
// Each type matches its sentinel with errors.Is, for example
// errors.Is(err, usage.ErrQuotaExceeded).
package usage
