package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Tier names.
const (
	TierFree    = "free"
	TierPremium = "premium"
)

// Limiter decides whether an identity may make another request.
type Limiter interface {
	// Allow records an attempt for identity and reports whether it is
	// admitted. Refused attempts are not recorded.
	Allow(ctx context.Context, identity string, premium bool) (Decision, error)
}

// Tier is a max-requests-per-window policy.
type Tier struct {
	Limit  int
	Window time.Duration
}

// Validate checks that the tier is usable.
func (t Tier) Validate() error {
	if t.Limit <= 0 {
		return fmt.Errorf("tier limit must be positive, got %d", t.Limit)
	}
	if t.Window <= 0 {
		return fmt.Errorf("tier window must be positive, got %s", t.Window)
	}
	return nil
}

// Defaults.
var (
	DefaultFreeTier    = Tier{Limit: 10, Window: time.Minute}
	DefaultPremiumTier = Tier{Limit: 60, Window: time.Minute}
)

// Tiers pairs the free and premium policies.
type Tiers struct {
	Free    Tier
	Premium Tier
}

func (t Tiers) withDefaults() Tiers {
	if t.Free.Limit <= 0 || t.Free.Window <= 0 {
		t.Free = DefaultFreeTier
	}
	if t.Premium.Limit <= 0 || t.Premium.Window <= 0 {
		t.Premium = DefaultPremiumTier
	}
	return t
}

func (t Tiers) validate() error {
	if err := t.Free.Validate(); err != nil {
		return fmt.Errorf("free: %w", err)
	}
	if err := t.Premium.Validate(); err != nil {
		return fmt.Errorf("premium: %w", err)
	}
	return nil
}

func (t Tiers) pick(premium bool) (string, Tier) {
	if premium {
		return TierPremium, t.Premium
	}
	return TierFree, t.Free
}

// Decision is the result of one Allow call.
type Decision struct {
	// Allowed reports whether the request was admitted.
	Allowed bool

	// Tier is the tier name applied.
	Tier string

	// Limit and Window describe the tier applied.
	Limit  int
	Window time.Duration

	// Remaining is the number of requests still admissible in the window.
	Remaining int

	// RetryAfter is set on refusal: the time until a slot frees up.
	RetryAfter time.Duration
}
