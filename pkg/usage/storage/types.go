package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mercator-hq/tally/pkg/usage"
)

// Backend persists usage counters and their detail records.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the counter for (identity, day), or nil if none exists.
	Get(ctx context.Context, identity, day string) (*usage.Counter, error)

	// Increment creates the counter if absent, then increments the feature
	// count and the total in one atomic step. When req.Ceiling > 0 and the
	// total is already at or above it, nothing is written and ErrLimitReached
	// is returned together with the current counter.
	Increment(ctx context.Context, req IncrementRequest) (*usage.Counter, error)

	// AppendDetail appends a detail record to the counter for (identity, day).
	AppendDetail(ctx context.Context, identity, day string, detail usage.Detail) error

	// Range returns non-archived counters for identity with fromDay <= day <= toDay,
	// ordered by day.
	Range(ctx context.Context, identity, fromDay, toDay string) ([]*usage.Counter, error)

	// ListBefore returns the keys of non-archived counters dated strictly
	// before day. The result is a point-in-time snapshot.
	ListBefore(ctx context.Context, day string) ([]usage.Key, error)

	// Archive marks counters as archived. Returns the number changed.
	Archive(ctx context.Context, keys []usage.Key) (int, error)

	// Delete removes counters and their details. Returns the number removed.
	Delete(ctx context.Context, keys []usage.Key) (int, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources. The backend must not be used afterwards.
	Close() error
}

// DetailReader is implemented by backends that can list detail records.
type DetailReader interface {
	Details(ctx context.Context, identity, day string) ([]usage.Detail, error)
}

// IncrementRequest describes one atomic increment.
type IncrementRequest struct {
	Identity  string
	Day       string
	Feature   usage.FeatureType
	IsPremium bool

	// Ceiling, when positive, refuses the increment once TotalCount >= Ceiling.
	Ceiling int64

	// Now is the write timestamp. Zero means time.Now().
	Now time.Time
}

func (r IncrementRequest) validate() error {
	if err := usage.ValidateIdentity(r.Identity); err != nil {
		return err
	}
	if r.Day == "" {
		return &usage.ValidationError{Field: "day", Message: "day is required"}
	}
	return r.Feature.Validate()
}

func (r IncrementRequest) now() time.Time {
	if r.Now.IsZero() {
		return time.Now()
	}
	return r.Now
}

var (
	// ErrLimitReached is returned by Increment when the ceiling is reached.
	ErrLimitReached = errors.New("counter ceiling reached")

	// ErrTransient is matched by TransientStoreError.
	ErrTransient = errors.New("transient store error")

	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("storage backend closed")
)

// TransientStoreError reports that the store could not complete an operation.
// It triggers degraded-mode fallback and is never surfaced to end users.
type TransientStoreError struct {
	Backend string
	Op      string
	Err     error
}

// Error implements the error interface.
func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

// Is matches ErrTransient.
func (e *TransientStoreError) Is(target error) bool {
	return target == ErrTransient
}

func transient(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientStoreError{Backend: backend, Op: op, Err: err}
}

// IsTransient reports whether err should cause a fallback to degraded mode.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrClosed) ||
		errors.Is(err, context.DeadlineExceeded)
}

func applyIncrement(c *usage.Counter, req IncrementRequest, now time.Time) {
	switch req.Feature {
	case usage.FeatureSummary:
		c.SummaryCount++
	case usage.FeatureQuestion:
		c.QuestionCount++
	}
	c.TotalCount++
	c.IsPremium = req.IsPremium
	c.UpdatedAt = now
}
