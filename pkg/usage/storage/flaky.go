package storage

import (
	"context"
	"errors"
	"sync/atomic"

	"mercator-hq/tally/pkg/usage"
)

// errUnreachable is the cause reported by a failing FlakyBackend.
var errUnreachable = errors.New("store unreachable")

// FlakyBackend wraps a Backend and fails every call while failing is set.
// It simulates store outages in tests.
type FlakyBackend struct {
	Backend
	failing atomic.Bool
	calls   atomic.Int64
}

// NewFlaky wraps b. The wrapper starts healthy.
func NewFlaky(b Backend) *FlakyBackend {
	return &FlakyBackend{Backend: b}
}

// SetFailing toggles the simulated outage.
func (f *FlakyBackend) SetFailing(failing bool) {
	f.failing.Store(failing)
}

// Calls returns the number of calls that reached the wrapper.
func (f *FlakyBackend) Calls() int64 {
	return f.calls.Load()
}

func (f *FlakyBackend) check(op string) error {
	f.calls.Add(1)
	if f.failing.Load() {
		return transient("flaky", op, errUnreachable)
	}
	return nil
}

func (f *FlakyBackend) Get(ctx context.Context, identity, day string) (*usage.Counter, error) {
	if err := f.check("get"); err != nil {
		return nil, err
	}
	return f.Backend.Get(ctx, identity, day)
}

func (f *FlakyBackend) Increment(ctx context.Context, req IncrementRequest) (*usage.Counter, error) {
	if err := f.check("increment"); err != nil {
		return nil, err
	}
	return f.Backend.Increment(ctx, req)
}

func (f *FlakyBackend) AppendDetail(ctx context.Context, identity, day string, detail usage.Detail) error {
	if err := f.check("append_detail"); err != nil {
		return err
	}
	return f.Backend.AppendDetail(ctx, identity, day, detail)
}

func (f *FlakyBackend) Range(ctx context.Context, identity, fromDay, toDay string) ([]*usage.Counter, error) {
	if err := f.check("range"); err != nil {
		return nil, err
	}
	return f.Backend.Range(ctx, identity, fromDay, toDay)
}

func (f *FlakyBackend) ListBefore(ctx context.Context, day string) ([]usage.Key, error) {
	if err := f.check("list_before"); err != nil {
		return nil, err
	}
	return f.Backend.ListBefore(ctx, day)
}

func (f *FlakyBackend) Archive(ctx context.Context, keys []usage.Key) (int, error) {
	if err := f.check("archive"); err != nil {
		return 0, err
	}
	return f.Backend.Archive(ctx, keys)
}

func (f *FlakyBackend) Delete(ctx context.Context, keys []usage.Key) (int, error) {
	if err := f.check("delete"); err != nil {
		return 0, err
	}
	return f.Backend.Delete(ctx, keys)
}

func (f *FlakyBackend) Ping(ctx context.Context) error {
	if err := f.check("ping"); err != nil {
		return err
	}
	return f.Backend.Ping(ctx)
}
