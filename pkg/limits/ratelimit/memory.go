package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/tally/pkg/clock"
	"mercator-hq/tally/pkg/telemetry/metrics"
)

// DefaultJanitorInterval is how often idle windows are evicted.
const DefaultJanitorInterval = time.Minute

// ErrEmptyIdentity is returned by Allow for an empty identity.
var ErrEmptyIdentity = errors.New("ratelimit: identity is required")

// Config configures a limiter.
type Config struct {
	Free    Tier
	Premium Tier

	// JanitorInterval is how often the memory limiter evicts idle
	// identities. Negative disables the janitor.
	// Default: 1m
	JanitorInterval time.Duration

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// MemoryLimiter is an in-process sliding-log limiter.
type MemoryLimiter struct {
	tiers   atomic.Pointer[Tiers]
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Collector

	mu      sync.Mutex
	windows map[string]*window

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// window is the request log of one identity.
type window struct {
	mu      sync.Mutex
	stamps  []time.Time
	evicted bool
}

// NewMemoryLimiter creates a memory limiter and starts its janitor.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &MemoryLimiter{
		clock:   clock.Or(cfg.Clock),
		logger:  logger.With("component", "ratelimit", "backend", "memory"),
		metrics: cfg.Metrics,
		windows: make(map[string]*window),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	tiers := Tiers{Free: cfg.Free, Premium: cfg.Premium}.withDefaults()
	m.tiers.Store(&tiers)

	interval := cfg.JanitorInterval
	if interval == 0 {
		interval = DefaultJanitorInterval
	}
	if interval > 0 {
		go m.janitor(interval)
	} else {
		close(m.doneCh)
	}
	return m
}

// SetTiers replaces the tier policies. Existing logs are kept.
func (m *MemoryLimiter) SetTiers(t Tiers) error {
	if err := t.validate(); err != nil {
		return err
	}
	m.tiers.Store(&t)
	m.logger.Info("Rate limit tiers updated",
		"free_limit", t.Free.Limit, "free_window", t.Free.Window.String(),
		"premium_limit", t.Premium.Limit, "premium_window", t.Premium.Window.String(),
	)
	return nil
}

// Tiers returns the active tier policies.
func (m *MemoryLimiter) Tiers() Tiers {
	return *m.tiers.Load()
}

// Allow implements Limiter.
func (m *MemoryLimiter) Allow(ctx context.Context, identity string, premium bool) (Decision, error) {
	if identity == "" {
		return Decision{}, ErrEmptyIdentity
	}
	name, tier := m.tiers.Load().pick(premium)

	for {
		w := m.window(identity)

		w.mu.Lock()
		if w.evicted {
			// Lost a race with the janitor; take the replacement.
			w.mu.Unlock()
			continue
		}
		d := admit(w, tier, m.clock.Now())
		w.mu.Unlock()

		d.Tier = name
		m.metrics.RecordRateLimit(name, d.Allowed)
		return d, nil
	}
}

func (m *MemoryLimiter) window(identity string) *window {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[identity]
	if !ok {
		w = &window{}
		m.windows[identity] = w
	}
	return w
}

// admit prunes the log and appends now if a slot is free. Caller holds w.mu.
func admit(w *window, tier Tier, now time.Time) Decision {
	cutoff := now.Add(-tier.Window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}

	d := Decision{Limit: tier.Limit, Window: tier.Window}
	if len(w.stamps) >= tier.Limit {
		// The slot frees when the entry that brings the log under the
		// limit ages out.
		oldest := w.stamps[len(w.stamps)-tier.Limit]
		d.RetryAfter = max(oldest.Add(tier.Window).Sub(now), time.Millisecond)
		return d
	}

	w.stamps = append(w.stamps, now)
	d.Allowed = true
	d.Remaining = tier.Limit - len(w.stamps)
	return d
}

// Purge evicts identities whose logs have fully aged out and returns the
// number evicted.
func (m *MemoryLimiter) Purge() int {
	t := m.tiers.Load()
	cutoff := m.clock.Now().Add(-max(t.Free.Window, t.Premium.Window))

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, w := range m.windows {
		w.mu.Lock()
		if len(w.stamps) == 0 || !w.stamps[len(w.stamps)-1].After(cutoff) {
			w.evicted = true
			delete(m.windows, id)
			n++
		}
		w.mu.Unlock()
	}
	return n
}

// Len returns the number of tracked identities.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

func (m *MemoryLimiter) janitor(interval time.Duration) {
	defer close(m.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.Purge(); n > 0 {
				m.logger.Debug("Evicted idle rate limit windows", "count", n)
			}
		case <-m.stopCh:
			return
		}
	}
}

// Close stops the janitor and waits for it to exit.
func (m *MemoryLimiter) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopCh)
	})
	<-m.doneCh
	return nil
}
