package ratelimit

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mercator-hq/tally/pkg/clock"
	"mercator-hq/tally/pkg/config"
	"mercator-hq/tally/pkg/telemetry/metrics"
)

//go:embed sliding_log.lua
var slidingLogSource string

var slidingLog = redis.NewScript(slidingLogSource)

// DefaultKeyPrefix prefixes every Redis key written by the limiter.
const DefaultKeyPrefix = config.DefaultRedisKeyPrefix

// RedisLimiter is a sliding-log limiter shared across processes through Redis.
type RedisLimiter struct {
	client  redis.UniversalClient
	prefix  string
	tiers   atomic.Pointer[Tiers]
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Collector
}

// RedisOptions configures a RedisLimiter.
type RedisOptions struct {
	Config

	// KeyPrefix prefixes the per-identity keys.
	// Default: "tally:rl:"
	KeyPrefix string
}

// NewRedisLimiter creates a limiter over client after checking that Redis is
// reachable and loading the script.
func NewRedisLimiter(ctx context.Context, client redis.UniversalClient, opts RedisOptions) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ratelimit: redis ping: %w", err)
	}
	if err := slidingLog.Load(ctx, client).Err(); err != nil {
		return nil, fmt.Errorf("ratelimit: load script: %w", err)
	}

	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &RedisLimiter{
		client:  client,
		prefix:  opts.KeyPrefix,
		clock:   clock.Or(opts.Clock),
		logger:  logger.With("component", "ratelimit", "backend", "redis"),
		metrics: opts.Metrics,
	}
	tiers := Tiers{Free: opts.Free, Premium: opts.Premium}.withDefaults()
	r.tiers.Store(&tiers)
	return r, nil
}

// SetTiers replaces the tier policies.
func (r *RedisLimiter) SetTiers(t Tiers) error {
	if err := t.validate(); err != nil {
		return err
	}
	r.tiers.Store(&t)
	r.logger.Info("Rate limit tiers updated",
		"free_limit", t.Free.Limit, "premium_limit", t.Premium.Limit)
	return nil
}

// Tiers returns the active tier policies.
func (r *RedisLimiter) Tiers() Tiers {
	return *r.tiers.Load()
}

// Allow implements Limiter. Redis failures are returned to the caller,
// which decides whether to fail open.
func (r *RedisLimiter) Allow(ctx context.Context, identity string, premium bool) (Decision, error) {
	if identity == "" {
		return Decision{}, ErrEmptyIdentity
	}
	name, tier := r.tiers.Load().pick(premium)
	now := r.clock.Now()

	res, err := slidingLog.Run(ctx, r.client, []string{r.key(name, identity)},
		now.UnixMilli(),
		tier.Window.Milliseconds(),
		tier.Limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		r.metrics.RecordRateLimitError("redis")
		return Decision{}, fmt.Errorf("ratelimit: redis eval: %w", err)
	}
	if len(res) != 3 {
		r.metrics.RecordRateLimitError("redis")
		return Decision{}, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}

	d := Decision{
		Allowed:   res[0] == 1,
		Tier:      name,
		Limit:     tier.Limit,
		Window:    tier.Window,
		Remaining: int(res[1]),
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(res[2]) * time.Millisecond
	}
	r.metrics.RecordRateLimit(name, d.Allowed)
	return d, nil
}

// key is per tier so a tier change never mixes logs of different windows.
func (r *RedisLimiter) key(tier, identity string) string {
	return r.prefix + tier + ":" + identity
}

// Close is a no-op; the caller owns the client.
func (r *RedisLimiter) Close() error {
	return nil
}
