package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/tally/pkg/clock"
	"mercator-hq/tally/pkg/telemetry/metrics"
	"mercator-hq/tally/pkg/usage"
	"mercator-hq/tally/pkg/usage/storage"
)

// Defaults.
const (
	DefaultDailyLimit    int64 = 5
	DefaultCacheTTL            = 60 * time.Second
	DefaultStoreTimeout        = 2 * time.Second
	DefaultRetentionDays       = 30
)

// Config configures a Store.
type Config struct {
	// DailyLimit is the free-tier daily limit.
	// Default: 5
	DailyLimit int64

	// CacheTTL bounds the staleness of cached reads. Negative disables the
	// cache.
	// Default: 60s
	CacheTTL time.Duration

	// Location is the time zone of day boundaries.
	// Default: UTC
	Location *time.Location

	// StoreTimeout bounds each durable store call.
	// Default: 2s
	StoreTimeout time.Duration

	// RetentionDays caps the window accepted by Statistics.
	// Default: 30
	RetentionDays int

	// Fallback is the degraded-mode counter store. Default: a new
	// MemoryBackend.
	Fallback *storage.MemoryBackend

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Store is the quota store. It is safe for concurrent use.
type Store struct {
	durable  storage.Backend
	fallback *storage.MemoryBackend
	cache    *counterCache

	loc           *time.Location
	timeout       time.Duration
	retentionDays int
	clock         clock.Clock
	logger        *slog.Logger
	metrics       *metrics.Collector

	limit     atomic.Int64
	available atomic.Bool

	mu      sync.Mutex
	pending map[usage.Key]int64

	// commits counts recorded units per key. Reserve compares it across its
	// read so a commit that landed during the read forces a fresh one.
	commits map[usage.Key]uint64

	// known is the last durable counter seen per key. Degraded mode charges
	// on top of it so an outage does not reopen a spent allowance.
	known   map[usage.Key]*usage.Counter
	seenDay string
}

// New creates a Store over the durable backend.
func New(durable storage.Backend, cfg Config) (*Store, error) {
	if durable == nil {
		return nil, errors.New("quota: durable backend is required")
	}
	if cfg.DailyLimit < 0 {
		return nil, fmt.Errorf("quota: daily limit must be non-negative, got %d", cfg.DailyLimit)
	}
	if cfg.DailyLimit == 0 {
		cfg.DailyLimit = DefaultDailyLimit
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Fallback == nil {
		cfg.Fallback = storage.NewMemoryBackend()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clk := clock.Or(cfg.Clock)
	s := &Store{
		durable:       durable,
		fallback:      cfg.Fallback,
		cache:         newCounterCache(cfg.CacheTTL, clk),
		loc:           cfg.Location,
		timeout:       cfg.StoreTimeout,
		retentionDays: cfg.RetentionDays,
		clock:         clk,
		logger:        logger.With("component", "quota"),
		metrics:       cfg.Metrics,
		pending:       make(map[usage.Key]int64),
		commits:       make(map[usage.Key]uint64),
		known:         make(map[usage.Key]*usage.Counter),
	}
	s.limit.Store(cfg.DailyLimit)
	s.available.Store(true)
	s.metrics.SetStoreAvailable(true)
	return s, nil
}

// DailyLimit returns the current free-tier daily limit.
func (s *Store) DailyLimit() int64 {
	return s.limit.Load()
}

// SetDailyLimit changes the free-tier daily limit. It applies to the next
// read; counters are not touched.
func (s *Store) SetDailyLimit(limit int64) {
	if limit <= 0 {
		return
	}
	if old := s.limit.Swap(limit); old != limit {
		s.logger.Info("Daily limit changed", "from", old, "to", limit)
	}
}

// Location returns the time zone of day boundaries.
func (s *Store) Location() *time.Location {
	return s.loc
}

// RetentionDays returns the statistics window cap.
func (s *Store) RetentionDays() int {
	return s.retentionDays
}

// Fallback returns the degraded-mode store.
func (s *Store) Fallback() *storage.MemoryBackend {
	return s.fallback
}

// IsAvailable reports whether the last durable store call succeeded.
func (s *Store) IsAvailable() bool {
	return s.available.Load()
}

// Probe pings the durable store and updates availability.
func (s *Store) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.durable.Ping(ctx); err != nil {
		s.setAvailable(false)
		return err
	}
	s.setAvailable(true)
	return nil
}

// GetUsage returns today's usage for identity.
func (s *Store) GetUsage(ctx context.Context, identity string, isPremium bool) (usage.Snapshot, error) {
	if err := usage.ValidateIdentity(identity); err != nil {
		return usage.Snapshot{}, err
	}
	now := s.clock.Now()
	key := usage.Key{Identity: identity, Day: usage.Day(now, s.loc)}

	counter, source := s.read(ctx, key)
	return s.snapshot(key, counter, source, isPremium, now), nil
}

// CheckLimit reports whether identity may consume one more unit. It is
// always true for premium identities.
func (s *Store) CheckLimit(ctx context.Context, identity string, isPremium bool) (bool, error) {
	snap, err := s.GetUsage(ctx, identity, isPremium)
	if err != nil {
		return false, err
	}
	return isPremium || snap.Used < snap.Limit, nil
}

// read returns the counter for key and the path that produced it.
func (s *Store) read(ctx context.Context, key usage.Key) (*usage.Counter, usage.Source) {
	if c, ok := s.cache.get(key); ok {
		s.metrics.RecordQuotaRead(string(usage.SourceCache))
		return c, usage.SourceCache
	}

	ticket := s.cache.ticket()
	c, err := s.durableGet(ctx, key)
	if err != nil {
		s.degrade("get", key, err)
		fc, _ := s.fallback.Get(ctx, key.Identity, key.Day)
		s.metrics.RecordQuotaRead(string(usage.SourceDegraded))
		return addCounts(s.lastKnown(key), fc), usage.SourceDegraded
	}

	s.setAvailable(true)
	s.remember(key, c)
	merged := s.overlay(ctx, key, c)
	s.cache.put(key, merged, ticket)
	s.metrics.RecordQuotaRead(string(usage.SourceDurable))
	return merged, usage.SourceDurable
}

func (s *Store) durableGet(ctx context.Context, key usage.Key) (*usage.Counter, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.durable.Get(ctx, key.Identity, key.Day)
}

// overlay adds counts recorded in degraded mode to a durable counter.
func (s *Store) overlay(ctx context.Context, key usage.Key, durable *usage.Counter) *usage.Counter {
	fc, err := s.fallback.Get(ctx, key.Identity, key.Day)
	if err != nil {
		return durable
	}
	return addCounts(durable, fc)
}

// addCounts returns base with the counts of extra added. Either may be nil.
func addCounts(base, extra *usage.Counter) *usage.Counter {
	if extra == nil {
		return base
	}
	if base == nil {
		return extra
	}
	merged := base.Clone()
	merged.SummaryCount += extra.SummaryCount
	merged.QuestionCount += extra.QuestionCount
	merged.TotalCount += extra.TotalCount
	return merged
}

// RecordUsage increments the counter for feature after a successful metered
// call and returns the fresh snapshot. A detail write failure is logged and
// does not fail the call. For free identities it returns
// *usage.QuotaExceededError without incrementing when the limit is reached.
func (s *Store) RecordUsage(ctx context.Context, identity string, feature usage.FeatureType, isPremium bool, detail *usage.Detail) (usage.Snapshot, error) {
	return s.record(ctx, identity, feature, isPremium, detail, nil)
}

func (s *Store) record(ctx context.Context, identity string, feature usage.FeatureType, isPremium bool, detail *usage.Detail, res *Reservation) (usage.Snapshot, error) {
	if err := usage.ValidateIdentity(identity); err != nil {
		return usage.Snapshot{}, err
	}
	if err := feature.Validate(); err != nil {
		return usage.Snapshot{}, err
	}

	now := s.clock.Now()
	key := usage.Key{Identity: identity, Day: usage.Day(now, s.loc)}
	if res != nil {
		// A reservation made before midnight is charged to the day it was
		// admitted on.
		key = res.key
	}
	limit := s.limit.Load()

	req := storage.IncrementRequest{
		Identity:  identity,
		Day:       key.Day,
		Feature:   feature,
		IsPremium: isPremium,
		Now:       now,
	}

	var degradedUsed int64
	if !isPremium {
		if fc, err := s.fallback.Get(ctx, key.Identity, key.Day); err == nil && fc != nil {
			degradedUsed = fc.TotalCount
		}
		req.Ceiling = limit - degradedUsed
		if req.Ceiling <= 0 {
			return usage.Snapshot{}, s.exceeded(key, degradedUsed, limit, now)
		}
	}

	source := usage.SourceDurable
	backend := storage.Backend(s.durable)
	c, err := s.durableIncrement(ctx, req)
	switch {
	case err == nil:
		s.setAvailable(true)
		s.remember(key, c)
	case errors.Is(err, storage.ErrLimitReached):
		s.setAvailable(true)
		s.remember(key, c)
		s.cache.invalidate(key)
		used := degradedUsed
		if c != nil {
			used += c.TotalCount
		}
		return usage.Snapshot{}, s.exceeded(key, used, limit, now)
	case errors.Is(err, usage.ErrValidation):
		return usage.Snapshot{}, err
	default:
		s.degrade("increment", key, err)
		source = usage.SourceDegraded
		backend = s.fallback
		known := s.lastKnown(key)
		var knownUsed int64
		if known != nil {
			knownUsed = known.TotalCount
		}
		if !isPremium {
			req.Ceiling = limit - knownUsed
			if req.Ceiling <= 0 {
				return usage.Snapshot{}, s.exceeded(key, knownUsed+degradedUsed, limit, now)
			}
		}
		c, err = s.fallback.Increment(ctx, req)
		if errors.Is(err, storage.ErrLimitReached) {
			s.cache.invalidate(key)
			return usage.Snapshot{}, s.exceeded(key, knownUsed+c.TotalCount, limit, now)
		}
		if err != nil {
			return usage.Snapshot{}, fmt.Errorf("degraded increment: %w", err)
		}
		c = addCounts(known, c)
	}

	// The cache is invalidated before the commit is published and the
	// reservation is released, so no reader can pair a pre-commit count with
	// the freed slot.
	s.cache.invalidate(key)
	if !isPremium {
		s.markCommitted(key)
	}
	if res != nil {
		res.release()
	}

	if detail != nil {
		s.appendDetail(ctx, backend, key, *detail, now)
	}

	if source == usage.SourceDurable {
		c = s.overlay(ctx, key, c)
	}
	return s.snapshot(key, c, source, isPremium, now), nil
}

// markCommitted publishes a recorded unit for key.
func (s *Store) markCommitted(key usage.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollLocked(key.Day)
	s.commits[key]++
}

// remember keeps c as the last durable counter seen for key.
func (s *Store) remember(key usage.Key, c *usage.Counter) {
	if c == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollLocked(key.Day)
	if prev := s.known[key]; prev == nil || c.TotalCount >= prev.TotalCount {
		s.known[key] = c.Clone()
	}
}

// lastKnown returns a copy of the last durable counter seen for key, or nil.
func (s *Store) lastKnown(key usage.Key) *usage.Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known[key].Clone()
}

// rollLocked drops per-key state for days before yesterday the first time
// a newer day is seen.
func (s *Store) rollLocked(day string) {
	if day <= s.seenDay {
		return
	}
	s.seenDay = day
	cutoff := usage.DaysAgo(s.clock.Now(), s.loc, 1)
	for k := range s.commits {
		if k.Day < cutoff {
			delete(s.commits, k)
		}
	}
	for k := range s.known {
		if k.Day < cutoff {
			delete(s.known, k)
		}
	}
}

func (s *Store) durableIncrement(ctx context.Context, req storage.IncrementRequest) (*usage.Counter, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.durable.Increment(ctx, req)
}

// appendDetail writes a detail record. Failures are logged only.
func (s *Store) appendDetail(ctx context.Context, backend storage.Backend, key usage.Key, detail usage.Detail, now time.Time) {
	detail.Normalize(now)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := backend.AppendDetail(ctx, key.Identity, key.Day, detail); err != nil {
		s.logger.Warn("Failed to record usage detail",
			"identity", key.Identity,
			"day", key.Day,
			"correlation_id", detail.CorrelationID,
			"error", err,
		)
	}
}

// Statistics aggregates non-archived counters over the last days days,
// today included. days is clamped to [1, RetentionDays].
func (s *Store) Statistics(ctx context.Context, identity string, days int) (usage.Statistics, error) {
	if err := usage.ValidateIdentity(identity); err != nil {
		return usage.Statistics{}, err
	}
	days = min(max(days, 1), s.retentionDays)

	now := s.clock.Now()
	from := usage.DaysAgo(now, s.loc, days-1)
	to := usage.Day(now, s.loc)

	source := usage.SourceDurable
	counters, err := s.durableRange(ctx, identity, from, to)
	if err != nil {
		s.degrade("range", usage.Key{Identity: identity, Day: to}, err)
		source = usage.SourceDegraded
		counters = nil
	} else {
		s.setAvailable(true)
	}

	fallback, _ := s.fallback.Range(ctx, identity, from, to)
	counters = mergeDaily(counters, fallback)

	stats := usage.Statistics{
		Identity: identity,
		Days:     days,
		From:     from,
		To:       to,
		Daily:    counters,
		Source:   source,
	}
	for _, c := range counters {
		stats.Total += c.TotalCount
		stats.SummaryCount += c.SummaryCount
		stats.QuestionCount += c.QuestionCount
		if c.TotalCount > 0 {
			stats.ActiveDays++
		}
	}
	if stats.Daily == nil {
		stats.Daily = []*usage.Counter{}
	}
	return stats, nil
}

func (s *Store) durableRange(ctx context.Context, identity, from, to string) ([]*usage.Counter, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.durable.Range(ctx, identity, from, to)
}

// mergeDaily sums two day-ordered counter lists by day.
func mergeDaily(a, b []*usage.Counter) []*usage.Counter {
	if len(b) == 0 {
		return a
	}
	out := make([]*usage.Counter, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i].Day < b[j].Day):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j].Day < a[i].Day:
			out = append(out, b[j])
			j++
		default:
			m := a[i].Clone()
			m.SummaryCount += b[j].SummaryCount
			m.QuestionCount += b[j].QuestionCount
			m.TotalCount += b[j].TotalCount
			out = append(out, m)
			i++
			j++
		}
	}
	return out
}

func (s *Store) snapshot(key usage.Key, c *usage.Counter, source usage.Source, isPremium bool, now time.Time) usage.Snapshot {
	snap := usage.Snapshot{
		Identity:  key.Identity,
		Day:       key.Day,
		ResetAt:   usage.NextMidnight(now, s.loc),
		IsPremium: isPremium,
		Source:    source,
	}
	if c != nil {
		snap.Used = c.TotalCount
		snap.SummaryCount = c.SummaryCount
		snap.QuestionCount = c.QuestionCount
	}

	if isPremium {
		snap.Limit = usage.Unlimited
		snap.Remaining = usage.Unlimited
		return snap
	}
	snap.Limit = s.limit.Load()
	snap.Remaining = max(snap.Limit-snap.Used, 0)
	return snap
}

func (s *Store) exceeded(key usage.Key, used, limit int64, now time.Time) error {
	return &usage.QuotaExceededError{
		Identity: key.Identity,
		Used:     used,
		Limit:    limit,
		ResetAt:  usage.NextMidnight(now, s.loc),
	}
}

// degrade records a durable store failure that is being served from the
// fallback.
func (s *Store) degrade(op string, key usage.Key, err error) {
	s.setAvailable(false)
	s.metrics.RecordStoreFallback(op)
	s.logger.Warn("Durable store unavailable, using degraded counter",
		"op", op,
		"identity", key.Identity,
		"day", key.Day,
		"error", err,
	)
}

func (s *Store) setAvailable(ok bool) {
	if s.available.Swap(ok) != ok {
		s.metrics.SetStoreAvailable(ok)
		if ok {
			s.logger.Info("Durable store recovered")
		}
	}
}
