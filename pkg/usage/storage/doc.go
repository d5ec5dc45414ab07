// Package storage provides durable persistence for usage counters.
//
// # Backends
//
//   - MemoryBackend: in-process map. Used as the degraded-mode fallback and
//     in tests. Nothing survives a restart.
//   - SQLiteBackend: single-file durable store (modernc.org/sqlite, no cgo).
//   - MongoBackend: document store with one counter document per
//     (identity, day) and a details collection.
//
// # Atomic Increment
//
// Increment is the only operation that must be atomic across processes. Every
// backend implements it with the store's native read-modify-write: a
// transaction with an upsert in SQLite, FindOneAndUpdate with upsert in
// MongoDB, and a mutex-guarded map update in memory. An optional ceiling turns
// the increment into a conditional one:
//
//	c, err := backend.Increment(ctx, storage.IncrementRequest{
//	    Identity: "user-1",
//	    Day:      "2025-11-20",
//	    Feature:  usage.FeatureSummary,
//	    Ceiling:  5, // refuse once total reaches 5
//	})
//	if errors.Is(err, storage.ErrLimitReached) {
//	    // c holds the current counter, nothing was written
//	}
//
// # Errors
//
// Failures to reach or use the store are reported as *TransientStoreError
// (matching ErrTransient). Callers treat them as a signal to fall back, not as
// a user-facing error.
package storage
