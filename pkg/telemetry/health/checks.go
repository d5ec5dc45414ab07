package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mercator-hq/tally/pkg/breaker"
)

// Availability is implemented by components with a degraded mode.
type Availability interface {
	IsAvailable() bool
}

// Pinger is implemented by storage backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreCheck fails while the durable store is unreachable.
func StoreCheck(a Availability) CheckFunc {
	return func(ctx context.Context) error {
		if !a.IsAvailable() {
			return errors.New("durable store unavailable, serving from degraded counters")
		}
		return nil
	}
}

// PingCheck fails when p.Ping fails.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// BreakerCheck fails while the breaker is open.
func BreakerCheck(state func() breaker.Snapshot) CheckFunc {
	return func(ctx context.Context) error {
		s := state()
		if s.State != breaker.StateOpen {
			return nil
		}
		if s.NextRetryAt.IsZero() {
			return fmt.Errorf("circuit %q is open", s.Name)
		}
		return fmt.Errorf("circuit %q is open until %s", s.Name, s.NextRetryAt.UTC().Format(time.RFC3339))
	}
}
