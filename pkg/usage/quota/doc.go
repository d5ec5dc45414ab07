// Package quota implements the per-identity daily quota store.
//
// A Store answers usage reads from a short-TTL cache, falls through to the
// durable storage.Backend on a miss, and falls back to an in-process
// storage.MemoryBackend when the durable store is unreachable. Every result
// carries an explicit usage.Source so callers can tell which path served it:
//
//	snap, err := store.GetUsage(ctx, "user-42", false)
//	if snap.Degraded() {
//		// counts on this path do not survive a restart
//	}
//
// # Admission
//
// CheckLimit is a point-in-time read. Callers that go on to perform
// metered work should use Reserve instead: it also counts admissions still
// in flight in this process, so two concurrent callers cannot both claim
// the last unit of quota.
//
//	res, snap, err := store.Reserve(ctx, identity, premium)
//	if err != nil {
//		return err // *usage.QuotaExceededError
//	}
//	defer res.Release()
//	// ... do the work ...
//	snap, err = res.Commit(ctx, usage.FeatureSummary, detail)
//
// Increments pass the daily limit to the durable store as a ceiling, so
// writers in other processes cannot push the stored count past the limit.
package quota
