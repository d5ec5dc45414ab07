package quota

import (
	"sync"
	"time"

	"mercator-hq/tally/pkg/clock"
	"mercator-hq/tally/pkg/usage"
)

// purgeEvery is the number of writes between sweeps of expired entries.
const purgeEvery = 1024

// counterCache is a TTL cache of counters keyed by (identity, day).
//
// Every invalidation bumps a generation. A reader takes a ticket before
// going to the durable store and may only populate the cache if no write
// for the same key was invalidated after the ticket was issued, so a read
// that raced a write never caches the pre-write value.
type counterCache struct {
	ttl   time.Duration
	clock clock.Clock

	mu         sync.Mutex
	generation uint64
	entries    map[usage.Key]cacheEntry
	writes     int
}

type cacheEntry struct {
	// counter is nil for a cached "no usage yet" result.
	counter *usage.Counter

	// generation is the generation at which the entry was stored or, for a
	// tombstone, invalidated.
	generation uint64
	tombstone  bool
	expiresAt  time.Time
}

func newCounterCache(ttl time.Duration, c clock.Clock) *counterCache {
	return &counterCache{
		ttl:     ttl,
		clock:   clock.Or(c),
		entries: make(map[usage.Key]cacheEntry),
	}
}

// get returns a copy of the cached counter.
func (c *counterCache) get(key usage.Key) (*usage.Counter, bool) {
	if c.ttl <= 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.tombstone {
		return nil, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.counter.Clone(), true
}

// ticket returns the current generation for a read that is about to start.
func (c *counterCache) ticket() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// put stores counter unless key was invalidated after ticket was issued.
// It reports whether the value was stored.
func (c *counterCache) put(key usage.Key, counter *usage.Counter, ticket uint64) bool {
	if c.ttl <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && e.generation > ticket {
		return false
	}
	c.generation++
	c.entries[key] = cacheEntry{
		counter:    counter.Clone(),
		generation: c.generation,
		expiresAt:  c.clock.Now().Add(c.ttl),
	}
	return true
}

// invalidate deletes the entry for key and leaves a tombstone that blocks
// in-flight reads from re-populating it.
func (c *counterCache) invalidate(key usage.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.generation++
	c.entries[key] = cacheEntry{
		generation: c.generation,
		tombstone:  true,
		expiresAt:  now.Add(max(c.ttl, time.Minute)),
	}

	c.writes++
	if c.writes >= purgeEvery {
		c.writes = 0
		c.purgeLocked(now)
	}
}

func (c *counterCache) purgeLocked(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// len returns the number of live, non-tombstone entries.
func (c *counterCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	n := 0
	for _, e := range c.entries {
		if !e.tombstone && now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}
