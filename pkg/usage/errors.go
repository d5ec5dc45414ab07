package usage

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors matched by the typed errors below.
var (
	// ErrQuotaExceeded is matched by QuotaExceededError.
	ErrQuotaExceeded = errors.New("daily quota exceeded")

	// ErrRateLimited is matched by RateLimitedError.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable is matched by ServiceUnavailableError.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrValidation is matched by ValidationError.
	ErrValidation = errors.New("validation failed")
)

// QuotaExceededError is returned when an identity has used its daily quota.
// It is not retryable until ResetAt.
type QuotaExceededError struct {
	Identity string
	Used     int64
	Limit    int64
	ResetAt  time.Time
}

// Error implements the error interface.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily quota exceeded for %s: used=%d, limit=%d, resets at %s",
		e.Identity, e.Used, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// Is matches ErrQuotaExceeded.
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// RateLimitedError is returned when an identity exceeds its request throughput.
type RateLimitedError struct {
	Identity   string
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit of %d requests per %s exceeded for %s (retry after %s)",
		e.Limit, e.Window, e.Identity, e.RetryAfter)
}

// Is matches ErrRateLimited.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// ServiceUnavailableError is returned when the circuit breaker refuses to
// call the external provider.
type ServiceUnavailableError struct {
	Dependency string
	RetryAfter time.Duration
	Cause      error
}

// Error implements the error interface.
func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable (retry after %s)", e.Dependency, e.RetryAfter)
}

// Is matches ErrServiceUnavailable.
func (e *ServiceUnavailableError) Is(target error) bool {
	return target == ErrServiceUnavailable
}

// Unwrap returns the breaker refusal.
func (e *ServiceUnavailableError) Unwrap() error {
	return e.Cause
}

// ValidationError reports a malformed identity or feature type.
// It indicates a caller bug and is not retryable.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %q: %s", e.Field, e.Message)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
