package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"mercator-hq/tally/pkg/usage"
)

// MemoryBackend implements Backend using in-process maps.
// It backs degraded mode and tests. All data is lost when the process exits.
//
// MemoryBackend is thread-safe. Increment holds the write lock for the whole
// read-modify-write, so concurrent increments never lose updates.
type MemoryBackend struct {
	mu       sync.RWMutex
	counters map[usage.Key]*usage.Counter
	details  map[usage.Key][]usage.Detail

	maxDetails int
	closed     bool
}

// MemoryBackendConfig configures the memory backend.
type MemoryBackendConfig struct {
	// MaxDetailsPerCounter bounds the detail log kept per counter. Older
	// details are dropped first.
	// Default: 100
	MaxDetailsPerCounter int
}

// NewMemoryBackend creates a memory backend with default settings.
func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithConfig(MemoryBackendConfig{})
}

// NewMemoryBackendWithConfig creates a memory backend with custom configuration.
func NewMemoryBackendWithConfig(cfg MemoryBackendConfig) *MemoryBackend {
	if cfg.MaxDetailsPerCounter <= 0 {
		cfg.MaxDetailsPerCounter = 100
	}
	return &MemoryBackend{
		counters:   make(map[usage.Key]*usage.Counter),
		details:    make(map[usage.Key][]usage.Detail),
		maxDetails: cfg.MaxDetailsPerCounter,
	}
}

// Get returns a copy of the counter for (identity, day), or nil.
func (m *MemoryBackend) Get(ctx context.Context, identity, day string) (*usage.Counter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	return m.counters[usage.Key{Identity: identity, Day: day}].Clone(), nil
}

// Increment atomically creates and increments the counter.
func (m *MemoryBackend) Increment(ctx context.Context, req IncrementRequest) (*usage.Counter, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	now := req.now()
	key := usage.Key{Identity: req.Identity, Day: req.Day}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	c, ok := m.counters[key]
	if !ok {
		c = &usage.Counter{
			Identity:  req.Identity,
			Day:       req.Day,
			IsPremium: req.IsPremium,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	if req.Ceiling > 0 && c.TotalCount >= req.Ceiling {
		return c.Clone(), ErrLimitReached
	}

	applyIncrement(c, req, now)
	m.counters[key] = c
	return c.Clone(), nil
}

// AppendDetail appends a detail record. Details for a missing counter are
// still kept so a later increment on the same key finds them.
func (m *MemoryBackend) AppendDetail(ctx context.Context, identity, day string, detail usage.Detail) error {
	if err := usage.ValidateIdentity(identity); err != nil {
		return err
	}
	detail.Normalize(time.Now())
	key := usage.Key{Identity: identity, Day: day}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	list := append(m.details[key], detail)
	if len(list) > m.maxDetails {
		list = list[len(list)-m.maxDetails:]
	}
	m.details[key] = list
	return nil
}

// Details returns a copy of the detail log for (identity, day).
func (m *MemoryBackend) Details(ctx context.Context, identity, day string) ([]usage.Detail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	list := m.details[usage.Key{Identity: identity, Day: day}]
	out := make([]usage.Detail, len(list))
	copy(out, list)
	return out, nil
}

// Range returns non-archived counters for identity within [fromDay, toDay].
func (m *MemoryBackend) Range(ctx context.Context, identity, fromDay, toDay string) ([]*usage.Counter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	var out []*usage.Counter
	for key, c := range m.counters {
		if key.Identity != identity || c.Archived {
			continue
		}
		if key.Day < fromDay || key.Day > toDay {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

// ListBefore returns keys of non-archived counters dated before day.
func (m *MemoryBackend) ListBefore(ctx context.Context, day string) ([]usage.Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	var keys []usage.Key
	for key, c := range m.counters {
		if !c.Archived && key.Day < day {
			keys = append(keys, key)
		}
	}
	sortKeys(keys)
	return keys, nil
}

// Archive marks the given counters archived.
func (m *MemoryBackend) Archive(ctx context.Context, keys []usage.Key) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	n := 0
	now := time.Now()
	for _, key := range keys {
		if c, ok := m.counters[key]; ok && !c.Archived {
			c.Archived = true
			c.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// Delete removes the given counters and their details.
func (m *MemoryBackend) Delete(ctx context.Context, keys []usage.Key) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	n := 0
	for _, key := range keys {
		if _, ok := m.counters[key]; ok {
			delete(m.counters, key)
			n++
		}
		delete(m.details, key)
	}
	return n, nil
}

// Ping always succeeds on an open backend.
func (m *MemoryBackend) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close marks the backend closed. It is idempotent.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Size returns the number of stored counters.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.counters)
}

func sortKeys(keys []usage.Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Day != keys[j].Day {
			return keys[i].Day < keys[j].Day
		}
		return keys[i].Identity < keys[j].Identity
	})
}
