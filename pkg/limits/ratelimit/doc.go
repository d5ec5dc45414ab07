// Package ratelimit throttles request throughput per identity.
//
// The limiter bounds bursts. It is independent of the daily quota and is
// evaluated before it. Each identity is governed by a tier: free identities
// get the free tier, premium identities the premium tier.
//
// # Sliding Log
//
// Both implementations keep a rolling log of admitted request timestamps per
// identity, pruned to the tier window. A request is admitted when fewer than
// Limit timestamps fall inside the window ending now. When refused, the
// decision reports how long until the oldest timestamp leaves the window:
//
//	lim := ratelimit.NewMemoryLimiter(ratelimit.Config{
//	    Free:    ratelimit.Tier{Limit: 10, Window: time.Minute},
//	    Premium: ratelimit.Tier{Limit: 60, Window: time.Minute},
//	})
//	defer lim.Close()
//
//	d, err := lim.Allow(ctx, "user-42", false)
//	if err == nil && !d.Allowed {
//	    // retry after d.RetryAfter
//	}
//
// MemoryLimiter is per process. RedisLimiter shares one log per identity
// across processes through a sorted set updated by a single Lua script.
//
// # Thread Safety
//
// Both limiters are safe for concurrent use. Pruning and appending for one
// identity happen in a single critical section (in process) or a single
// script evaluation (Redis), so concurrent calls never lose updates.
package ratelimit
