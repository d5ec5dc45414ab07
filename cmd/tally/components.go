package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"mercator-hq/tally/pkg/breaker"
	"mercator-hq/tally/pkg/config"
	"mercator-hq/tally/pkg/limits/ratelimit"
	"mercator-hq/tally/pkg/providers"
	"mercator-hq/tally/pkg/telemetry/health"
	"mercator-hq/tally/pkg/telemetry/metrics"
	"mercator-hq/tally/pkg/telemetry/tracing"
	"mercator-hq/tally/pkg/usage/accountant"
	"mercator-hq/tally/pkg/usage/quota"
	"mercator-hq/tally/pkg/usage/retention"
	"mercator-hq/tally/pkg/usage/storage"
)

// Storage backends.
const (
	backendSQLite = "sqlite"
	backendMongo  = "mongo"
	backendMemory = "memory"
	backendRedis  = "redis"
)

// components is the assembled accounting layer. Fields beyond the store are
// nil unless built with withRuntime.
type components struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer

	durable storage.Backend
	quota   *quota.Store

	limiter    ratelimit.Limiter
	breaker    *breaker.Breaker
	provider   providers.Provider
	accountant *accountant.Accountant
	sweeper    *retention.Sweeper
	checker    *health.Checker

	closers []func() error
}

// openStore opens the durable backend and the quota store over it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCollector(&cfg.Telemetry.Metrics, nil),
	}

	durable, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	c.durable = durable
	c.closers = append(c.closers, durable.Close)

	loc, err := cfg.Quota.Location()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("invalid quota timezone: %w", err)
	}

	c.quota, err = quota.New(durable, quota.Config{
		DailyLimit:    cfg.Quota.FreeDailyLimit,
		CacheTTL:      cfg.Quota.CacheTTL,
		Location:      loc,
		StoreTimeout:  cfg.Quota.StoreTimeout,
		RetentionDays: cfg.Retention.Days,
		Logger:        logger,
		Metrics:       c.metrics,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create quota store: %w", err)
	}

	c.sweeper, err = retention.New(retention.Config{
		Durable:  durable,
		Fallback: c.quota.Fallback(),
		Days:     cfg.Retention.Days,
		Schedule: cfg.Retention.Schedule,
		Location: loc,
		Logger:   logger,
		Metrics:  c.metrics,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create retention sweeper: %w", err)
	}

	return c, nil
}

// withRuntime adds the limiter, breaker, provider, accountant and health
// checks needed to serve traffic.
func (c *components) withRuntime(ctx context.Context) error {
	cfg := c.cfg

	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	c.tracer = tracer
	c.closers = append(c.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.Tracing.Timeout)
		defer cancel()
		return tracer.Shutdown(ctx)
	})

	if cfg.RateLimit.Enabled {
		limiter, closeFn, err := openLimiter(ctx, cfg.RateLimit, c.logger, c.metrics)
		if err != nil {
			return err
		}
		c.limiter = limiter
		c.closers = append(c.closers, closeFn)
	}

	c.breaker = breaker.New(breaker.Config{
		Name:             cfg.Breaker.Name,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
		IsFailure:        providers.IsDependencyFailure,
		Logger:           c.logger,
		Metrics:          c.metrics,
	})

	c.provider, err = providers.New(cfg.Provider, providers.Deps{
		Logger:  c.logger,
		Metrics: c.metrics,
		Tracer:  tracer,
	})
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	c.accountant, err = accountant.New(accountant.Config{
		Quota:      c.quota,
		Breaker:    c.breaker,
		Provider:   c.provider,
		Limiter:    c.limiter,
		FailClosed: !cfg.RateLimit.FailOpen,
		Logger:     c.logger,
		Metrics:    c.metrics,
		Tracer:     tracer,
	})
	if err != nil {
		return fmt.Errorf("failed to create accountant: %w", err)
	}

	c.checker = health.New(cfg.Quota.StoreTimeout)
	c.checker.RegisterDegradedCheck("storage", c.quota.Probe)
	c.checker.RegisterDegradedCheck("breaker", health.BreakerCheck(c.breaker.State))
	return nil
}

// applyReload pushes the reloadable settings of next into the running
// components.
func (c *components) applyReload(next *config.Config) {
	c.quota.SetDailyLimit(next.Quota.FreeDailyLimit)

	type tierSetter interface {
		SetTiers(ratelimit.Tiers) error
	}
	if ts, ok := c.limiter.(tierSetter); ok {
		if err := ts.SetTiers(tiersFromConfig(next.RateLimit)); err != nil {
			c.logger.Warn("Ignoring invalid rate limit tiers", "error", err)
		}
	}
}

// Close releases every opened resource in reverse order.
func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func openBackend(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case backendSQLite, "":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		b, err := storage.NewSQLiteBackendWithConfig(storage.SQLiteBackendConfig{
			DBPath:             cfg.SQLite.Path,
			CheckpointInterval: cfg.SQLite.CheckpointInterval,
			BusyTimeout:        cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite store: %w", err)
		}
		return b, nil
	case backendMongo:
		b, err := storage.NewMongoBackend(ctx, storage.MongoBackendConfig{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.Database,
			ConnectTimeout: cfg.Mongo.ConnectTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open MongoDB store: %w", err)
		}
		return b, nil
	case backendMemory:
		return storage.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

func openLimiter(ctx context.Context, cfg config.RateLimitConfig, logger *slog.Logger, m *metrics.Collector) (ratelimit.Limiter, func() error, error) {
	base := ratelimit.Config{
		Free:            ratelimit.Tier{Limit: cfg.Free.Limit, Window: cfg.Free.Window},
		Premium:         ratelimit.Tier{Limit: cfg.Premium.Limit, Window: cfg.Premium.Window},
		JanitorInterval: cfg.JanitorInterval,
		Logger:          logger,
		Metrics:         m,
	}

	switch cfg.Backend {
	case backendMemory, "":
		l := ratelimit.NewMemoryLimiter(base)
		return l, l.Close, nil
	case backendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		l, err := ratelimit.NewRedisLimiter(ctx, client, ratelimit.RedisOptions{
			Config:    base,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect rate limiter to Redis: %w", err)
		}
		return l, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported rate limit backend: %s", cfg.Backend)
	}
}

func tiersFromConfig(cfg config.RateLimitConfig) ratelimit.Tiers {
	return ratelimit.Tiers{
		Free:    ratelimit.Tier{Limit: cfg.Free.Limit, Window: cfg.Free.Window},
		Premium: ratelimit.Tier{Limit: cfg.Premium.Limit, Window: cfg.Premium.Window},
	}
}
