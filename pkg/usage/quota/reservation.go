package quota

import (
	"context"
	"sync"

	"mercator-hq/tally/pkg/usage"
)

// Reservation is an admitted, not yet recorded unit of quota. Commit records
// it; Release gives it back. Both are idempotent and a nil Reservation is a
// no-op.
type Reservation struct {
	store     *Store
	key       usage.Key
	isPremium bool
	counted   bool
	once      sync.Once
}

// Reserve admits one unit of consumption for identity. Free identities are
// refused with *usage.QuotaExceededError when today's usage plus the
// admissions in flight in this process reach the limit. The snapshot is the
// usage read the decision was based on. A read that overlapped a commit for
// the same key is repeated, so a unit freed by that commit is never granted
// against the stale count.
func (s *Store) Reserve(ctx context.Context, identity string, isPremium bool) (*Reservation, usage.Snapshot, error) {
	if isPremium {
		snap, err := s.GetUsage(ctx, identity, true)
		if err != nil {
			return nil, snap, err
		}
		key := usage.Key{Identity: snap.Identity, Day: snap.Day}
		return &Reservation{store: s, key: key, isPremium: true}, snap, nil
	}

	for {
		key := usage.Key{Identity: identity, Day: usage.Day(s.clock.Now(), s.loc)}
		seen := s.commitSeq(key)

		snap, err := s.GetUsage(ctx, identity, false)
		if err != nil {
			return nil, snap, err
		}

		res, retry, err := s.admit(key, seen, snap)
		if !retry {
			return res, snap, err
		}
		if err := ctx.Err(); err != nil {
			return nil, snap, err
		}
	}
}

func (s *Store) commitSeq(key usage.Key) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits[key]
}

// admit takes a pending slot for key. It asks for a retry when snap is for
// another day or a commit for key happened since seen was read.
func (s *Store) admit(key usage.Key, seen uint64, snap usage.Snapshot) (*Reservation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Day != key.Day || s.commits[key] != seen {
		return nil, true, nil
	}
	inFlight := s.pending[key]
	if snap.Used+inFlight >= snap.Limit {
		return nil, false, &usage.QuotaExceededError{
			Identity: key.Identity,
			Used:     snap.Used,
			Limit:    snap.Limit,
			ResetAt:  snap.ResetAt,
		}
	}
	s.pending[key] = inFlight + 1
	return &Reservation{store: s, key: key, counted: true}, false, nil
}

// InFlight returns the number of unreleased reservations for identity today.
func (s *Store) InFlight(identity string) int64 {
	key := usage.Key{Identity: identity, Day: usage.Day(s.clock.Now(), s.loc)}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[key]
}

// Commit records the reserved unit as feature and releases the reservation.
func (r *Reservation) Commit(ctx context.Context, feature usage.FeatureType, detail *usage.Detail) (usage.Snapshot, error) {
	defer r.Release()
	return r.store.record(ctx, r.key.Identity, feature, r.isPremium, detail, r)
}

// Release gives the reserved unit back.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.release()
}

func (r *Reservation) release() {
	r.once.Do(func() {
		if !r.counted {
			return
		}
		s := r.store
		s.mu.Lock()
		if n := s.pending[r.key] - 1; n > 0 {
			s.pending[r.key] = n
		} else {
			delete(s.pending, r.key)
		}
		s.mu.Unlock()
	})
}
