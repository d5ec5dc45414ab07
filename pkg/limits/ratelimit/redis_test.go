package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mercator-hq/tally/pkg/config"
)

func newRedisLimiter(t *testing.T) *RedisLimiter {
	t.Helper()

	addr := os.Getenv("TALLY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TALLY_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis not available (%v)", err)
	}

	lim, err := NewRedisLimiter(ctx, client, RedisOptions{
		Config: Config{
			Free:    Tier{Limit: 2, Window: time.Second},
			Premium: Tier{Limit: 4, Window: time.Second},
		},
		KeyPrefix: "tally_test:" + uuid.NewString()[:8] + ":",
	})
	if err != nil {
		t.Fatalf("NewRedisLimiter() error = %v", err)
	}
	return lim
}

func TestRedisLimiter_KeyPrefix(t *testing.T) {
	var cfg config.Config
	config.ApplyDefaults(&cfg)
	if got := cfg.RateLimit.Redis.KeyPrefix; got != DefaultKeyPrefix {
		t.Errorf("config default prefix %q differs from limiter default %q", got, DefaultKeyPrefix)
	}

	r := &RedisLimiter{prefix: DefaultKeyPrefix}
	if got, want := r.key("free", "user-1"), "tally:rl:free:user-1"; got != want {
		t.Errorf("key() = %q, want %q", got, want)
	}
}

func TestRedisLimiter_Integration(t *testing.T) {
	lim := newRedisLimiter(t)
	ctx := context.Background()

	t.Run("BasicFlow", func(t *testing.T) {
		id := "user-" + uuid.NewString()

		d, err := lim.Allow(ctx, id, false)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !d.Allowed || d.Remaining != 1 {
			t.Errorf("expected first request allowed with 1 remaining, got %+v", d)
		}
		if d, _ = lim.Allow(ctx, id, false); !d.Allowed {
			t.Error("expected second request allowed")
		}

		d, err = lim.Allow(ctx, id, false)
		if err != nil {
			t.Fatal(err)
		}
		if d.Allowed {
			t.Error("expected third request denied")
		}
		if d.RetryAfter <= 0 || d.RetryAfter > time.Second {
			t.Errorf("expected retry after within the window, got %v", d.RetryAfter)
		}
	})

	t.Run("DistributedState", func(t *testing.T) {
		id := "user-" + uuid.NewString()
		other, err := NewRedisLimiter(ctx, lim.client, RedisOptions{
			Config:    Config{Free: lim.Tiers().Free, Premium: lim.Tiers().Premium},
			KeyPrefix: lim.prefix,
		})
		if err != nil {
			t.Fatal(err)
		}

		_, _ = lim.Allow(ctx, id, false)
		_, _ = other.Allow(ctx, id, false)
		d, err := other.Allow(ctx, id, false)
		if err != nil {
			t.Fatal(err)
		}
		if d.Allowed {
			t.Error("second instance should see requests admitted by the first")
		}
	})

	t.Run("WindowSlides", func(t *testing.T) {
		id := "user-" + uuid.NewString()
		_, _ = lim.Allow(ctx, id, false)
		_, _ = lim.Allow(ctx, id, false)

		time.Sleep(1100 * time.Millisecond)
		if d, _ := lim.Allow(ctx, id, false); !d.Allowed {
			t.Error("expected slot after the window elapsed")
		}
	})
}
