package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/tally/pkg/clock"
	"mercator-hq/tally/pkg/telemetry/metrics"
)

// State is a circuit state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Defaults.
const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultResetTimeout     = 30 * time.Second
	DefaultHalfOpenMaxCalls = 1
)

// busyRetryAfter is reported to callers refused because the half-open trial
// slots are taken.
const busyRetryAfter = time.Second

// ErrOpen is matched by OpenError.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned when the breaker refuses a call without invoking it.
type OpenError struct {
	Name       string
	State      State
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is %s, retry after %s", e.Name, e.State, e.RetryAfter)
}

// Is matches ErrOpen.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// errPanicked is recorded when the protected operation panics.
var errPanicked = errors.New("operation panicked")

// Config configures a Breaker. Zero values take the defaults.
type Config struct {
	// Name identifies the protected dependency.
	Name string

	// FailureThreshold is the number of consecutive failures in CLOSED that
	// open the circuit.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive HALF_OPEN successes that
	// close the circuit.
	SuccessThreshold int

	// ResetTimeout is how long the circuit stays OPEN before a trial.
	ResetTimeout time.Duration

	// HalfOpenMaxCalls bounds concurrent trial calls in HALF_OPEN.
	HalfOpenMaxCalls int

	// IsFailure classifies operation errors. Errors for which it returns
	// false neither count as failures nor as successes. Default: every
	// non-nil error except context.Canceled.
	IsFailure func(error) bool

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// DefaultIsFailure treats every error as a failure except a caller
// cancellation.
func DefaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Snapshot is a read-only view of the breaker.
type Snapshot struct {
	Name                 string    `json:"name"`
	State                State     `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastFailureAt        time.Time `json:"last_failure_at,omitzero"`
	NextRetryAt          time.Time `json:"next_retry_at,omitzero"`
}

// Breaker is a circuit breaker. It is safe for concurrent use.
type Breaker struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	lastFailureAt    time.Time
	nextRetryAt      time.Time
	generation       uint64
	halfOpenInFlight int
}

type transition struct {
	from, to State
}

// New creates a breaker in the CLOSED state.
func New(cfg Config) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultSuccessThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = DefaultIsFailure
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Breaker{
		cfg:    cfg,
		clock:  clock.Or(cfg.Clock),
		logger: logger.With("component", "breaker", "breaker", cfg.Name),
		state:  StateClosed,
	}
	cfg.Metrics.SetBreakerState(cfg.Name, int(StateClosed))
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.cfg.Name
}

// Execute runs op through the breaker. It returns *OpenError without calling
// op when the circuit refuses, and op's own error otherwise.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	gen, err := b.admit()
	if err != nil {
		return err
	}

	completed := false
	defer func() {
		if !completed {
			b.record(gen, errPanicked)
		}
	}()

	opErr := op(ctx)
	completed = true
	b.record(gen, opErr)
	return opErr
}

// Call runs op through b and returns its value.
func Call[T any](ctx context.Context, b *Breaker, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// admit decides whether a call may proceed and returns the generation it was
// admitted under.
func (b *Breaker) admit() (uint64, error) {
	var changes []transition

	b.mu.Lock()
	now := b.clock.Now()

	if b.state == StateOpen {
		if now.Before(b.nextRetryAt) {
			retry := b.nextRetryAt.Sub(now)
			b.mu.Unlock()
			b.cfg.Metrics.RecordBreakerCall(b.cfg.Name, "rejected")
			return 0, &OpenError{Name: b.cfg.Name, State: StateOpen, RetryAfter: retry}
		}
		changes = append(changes, b.setStateLocked(StateHalfOpen, now))
	}

	if b.state == StateHalfOpen {
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxCalls {
			b.mu.Unlock()
			b.notify(changes)
			b.cfg.Metrics.RecordBreakerCall(b.cfg.Name, "rejected")
			return 0, &OpenError{Name: b.cfg.Name, State: StateHalfOpen, RetryAfter: min(busyRetryAfter, b.cfg.ResetTimeout)}
		}
		b.halfOpenInFlight++
	}

	gen := b.generation
	b.mu.Unlock()

	b.notify(changes)
	return gen, nil
}

// record applies the result of a call admitted under gen.
func (b *Breaker) record(gen uint64, err error) {
	failed := err != nil && b.cfg.IsFailure(err)
	var changes []transition

	b.mu.Lock()
	if gen != b.generation {
		// Admitted under a state that no longer exists.
		b.mu.Unlock()
		b.recordResult(err, failed)
		return
	}

	now := b.clock.Now()
	switch b.state {
	case StateClosed:
		switch {
		case failed:
			b.failures++
			b.lastFailureAt = now
			if b.failures >= b.cfg.FailureThreshold {
				changes = append(changes, b.setStateLocked(StateOpen, now))
			}
		case err == nil:
			b.failures = 0
		}

	case StateHalfOpen:
		b.halfOpenInFlight--
		switch {
		case failed:
			b.failures++
			b.lastFailureAt = now
			changes = append(changes, b.setStateLocked(StateOpen, now))
		case err == nil:
			b.failures = 0
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				changes = append(changes, b.setStateLocked(StateClosed, now))
			}
		}
	}
	b.mu.Unlock()

	b.recordResult(err, failed)
	b.notify(changes)
}

func (b *Breaker) recordResult(err error, failed bool) {
	switch {
	case err == nil:
		b.cfg.Metrics.RecordBreakerCall(b.cfg.Name, "success")
	case failed:
		b.cfg.Metrics.RecordBreakerCall(b.cfg.Name, "failure")
	}
}

// setStateLocked moves to state to. Caller must hold b.mu.
func (b *Breaker) setStateLocked(to State, now time.Time) transition {
	from := b.state
	b.state = to
	b.generation++
	b.halfOpenInFlight = 0
	b.successes = 0

	switch to {
	case StateOpen:
		b.nextRetryAt = now.Add(b.cfg.ResetTimeout)
	case StateClosed:
		b.failures = 0
		b.nextRetryAt = time.Time{}
	case StateHalfOpen:
		b.nextRetryAt = time.Time{}
	}
	return transition{from: from, to: to}
}

// notify reports transitions. Must be called without b.mu held.
func (b *Breaker) notify(changes []transition) {
	for _, c := range changes {
		attrs := []any{"from", c.from.String(), "to", c.to.String()}
		if c.to == StateOpen {
			b.logger.Warn("Circuit opened", append(attrs, "retry_in", b.cfg.ResetTimeout.String())...)
		} else {
			b.logger.Info("Circuit state changed", attrs...)
		}

		b.cfg.Metrics.SetBreakerState(b.cfg.Name, int(c.to))
		b.cfg.Metrics.RecordBreakerTransition(b.cfg.Name, c.from.String(), c.to.String())

		if b.cfg.OnStateChange != nil {
			b.cfg.OnStateChange(b.cfg.Name, c.from, c.to)
		}
	}
}

// State returns a snapshot of the breaker. An OPEN breaker whose cooldown
// has elapsed is still reported OPEN until the next call moves it.
func (b *Breaker) State() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Name:                 b.cfg.Name,
		State:                b.state,
		ConsecutiveFailures:  b.failures,
		ConsecutiveSuccesses: b.successes,
		LastFailureAt:        b.lastFailureAt,
		NextRetryAt:          b.nextRetryAt,
	}
}

// Reset forces the breaker CLOSED.
func (b *Breaker) Reset() {
	b.mu.Lock()
	var changes []transition
	if b.state != StateClosed {
		changes = append(changes, b.setStateLocked(StateClosed, b.clock.Now()))
	} else {
		b.failures = 0
	}
	b.mu.Unlock()

	b.notify(changes)
}
