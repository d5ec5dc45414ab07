package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mercator-hq/tally/pkg/clock"
	"mercator-hq/tally/pkg/usage"
	"mercator-hq/tally/pkg/usage/storage"
)

var testNow = time.Date(2025, 11, 20, 15, 30, 0, 0, time.UTC)

type fixture struct {
	store   *Store
	durable *storage.MemoryBackend
	flaky   *storage.FlakyBackend
	clock   *clock.Fake
}

func newFixture(t *testing.T, limit int64) *fixture {
	t.Helper()

	durable := storage.NewMemoryBackend()
	flaky := storage.NewFlaky(durable)
	fc := clock.NewFake(testNow)

	s, err := New(flaky, Config{DailyLimit: limit, Clock: fc})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{store: s, durable: durable, flaky: flaky, clock: fc}
}

func TestNew(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Error("expected error for nil backend")
	}
	if _, err := New(storage.NewMemoryBackend(), Config{DailyLimit: -1}); err == nil {
		t.Error("expected error for negative limit")
	}

	s, err := New(storage.NewMemoryBackend(), Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.DailyLimit() != DefaultDailyLimit {
		t.Errorf("expected default limit %d, got %d", DefaultDailyLimit, s.DailyLimit())
	}
	if !s.IsAvailable() {
		t.Error("expected new store to be available")
	}
}

func TestGetUsage_Empty(t *testing.T) {
	f := newFixture(t, 3)

	snap, err := f.store.GetUsage(context.Background(), "user-1", false)
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if snap.Used != 0 || snap.Limit != 3 || snap.Remaining != 3 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.Source != usage.SourceDurable {
		t.Errorf("expected durable source, got %s", snap.Source)
	}
	if want := time.Date(2025, 11, 21, 0, 0, 0, 0, time.UTC); !snap.ResetAt.Equal(want) {
		t.Errorf("expected reset at %v, got %v", want, snap.ResetAt)
	}
	if snap.Day != "2025-11-20" {
		t.Errorf("expected day 2025-11-20, got %s", snap.Day)
	}
}

func TestGetUsage_Validation(t *testing.T) {
	f := newFixture(t, 3)

	for _, id := range []string{"", "   ", "bad\nid"} {
		_, err := f.store.GetUsage(context.Background(), id, false)
		if !errors.Is(err, usage.ErrValidation) {
			t.Errorf("GetUsage(%q): expected validation error, got %v", id, err)
		}
	}
}

func TestRecordUsage_Sequential(t *testing.T) {
	for _, n := range []int64{1, 3, 5} {
		f := newFixture(t, 5)
		ctx := context.Background()

		for i := int64(1); i <= n; i++ {
			snap, err := f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil)
			if err != nil {
				t.Fatalf("record %d: %v", i, err)
			}
			if snap.Used != i {
				t.Fatalf("record %d: expected used %d, got %d", i, i, snap.Used)
			}
		}

		snap, err := f.store.GetUsage(ctx, "user-1", false)
		if err != nil {
			t.Fatalf("GetUsage() error = %v", err)
		}
		if snap.Used != n || snap.Remaining != 5-n {
			t.Errorf("n=%d: unexpected snapshot %+v", n, snap)
		}
	}
}

func TestRecordUsage_FeatureCounts(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, _ = f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil)
	_, _ = f.store.RecordUsage(ctx, "user-1", usage.FeatureQuestion, false, nil)
	snap, err := f.store.RecordUsage(ctx, "user-1", usage.FeatureQuestion, false, nil)
	if err != nil {
		t.Fatalf("RecordUsage() error = %v", err)
	}
	if snap.SummaryCount != 1 || snap.QuestionCount != 2 || snap.Used != 3 {
		t.Errorf("unexpected counts: %+v", snap)
	}

	if _, err := f.store.RecordUsage(ctx, "user-1", "image", false, nil); !errors.Is(err, usage.ErrValidation) {
		t.Errorf("expected validation error for unknown feature, got %v", err)
	}
}

func TestReadAfterWrite(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	// Populate the cache, then write.
	if snap, _ := f.store.GetUsage(ctx, "user-1", false); snap.Used != 0 {
		t.Fatalf("expected 0, got %d", snap.Used)
	}
	if snap, _ := f.store.GetUsage(ctx, "user-1", false); snap.Source != usage.SourceCache {
		t.Fatalf("expected second read from cache, got %s", snap.Source)
	}

	if _, err := f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil); err != nil {
		t.Fatalf("RecordUsage() error = %v", err)
	}

	snap, err := f.store.GetUsage(ctx, "user-1", false)
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if snap.Used != 1 {
		t.Errorf("expected read after write to see 1, got %d", snap.Used)
	}
	if snap.Source != usage.SourceDurable {
		t.Errorf("expected authoritative read after write, got %s", snap.Source)
	}
}

func TestCacheTTL(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	_, _ = f.store.GetUsage(ctx, "user-1", false)

	// A write made behind the store's back is hidden until the TTL expires.
	_, _ = f.durable.Increment(ctx, storage.IncrementRequest{
		Identity: "user-1", Day: "2025-11-20", Feature: usage.FeatureSummary,
	})
	if snap, _ := f.store.GetUsage(ctx, "user-1", false); snap.Used != 0 || snap.Source != usage.SourceCache {
		t.Errorf("expected cached 0, got %+v", snap)
	}

	f.clock.Advance(DefaultCacheTTL)
	if snap, _ := f.store.GetUsage(ctx, "user-1", false); snap.Used != 1 || snap.Source != usage.SourceDurable {
		t.Errorf("expected fresh durable 1 after TTL, got %+v", snap)
	}
}

func TestCache_StaleReadNotStored(t *testing.T) {
	c := newCounterCache(time.Minute, clock.NewFake(testNow))
	key := usage.Key{Identity: "user-1", Day: "2025-11-20"}

	ticket := c.ticket()
	c.invalidate(key)
	if c.put(key, &usage.Counter{TotalCount: 1}, ticket) {
		t.Error("expected put with a pre-invalidation ticket to be refused")
	}
	if _, ok := c.get(key); ok {
		t.Error("expected no cached value")
	}

	if !c.put(key, &usage.Counter{TotalCount: 2}, c.ticket()) {
		t.Error("expected put with a fresh ticket to succeed")
	}
	if got, ok := c.get(key); !ok || got.TotalCount != 2 {
		t.Errorf("expected cached 2, got %+v, %v", got, ok)
	}
}

func TestCheckLimit(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := f.store.CheckLimit(ctx, "user-1", false)
		if err != nil || !ok {
			t.Fatalf("check %d: expected allowed, got %v, %v", i, ok, err)
		}
		_, _ = f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil)
	}

	ok, err := f.store.CheckLimit(ctx, "user-1", false)
	if err != nil || ok {
		t.Errorf("expected limit reached, got %v, %v", ok, err)
	}
}

func TestPremium(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := f.store.RecordUsage(ctx, "vip", usage.FeatureSummary, true, nil); err != nil {
			t.Fatalf("premium record %d: %v", i, err)
		}
	}

	ok, err := f.store.CheckLimit(ctx, "vip", true)
	if err != nil || !ok {
		t.Errorf("expected premium to be allowed, got %v, %v", ok, err)
	}
	snap, _ := f.store.GetUsage(ctx, "vip", true)
	if snap.Limit != usage.Unlimited || snap.Remaining != usage.Unlimited || !snap.Unlimited() {
		t.Errorf("expected unlimited sentinel, got %+v", snap)
	}
	if snap.Used != 5 {
		t.Errorf("expected used 5, got %d", snap.Used)
	}
}

func TestRecordUsage_LimitScenario(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		snap, err := f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil)
		if err != nil {
			t.Fatalf("record %d: %v", want, err)
		}
		if snap.Used != want {
			t.Errorf("expected used %d, got %d", want, snap.Used)
		}
	}

	_, err := f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil)
	var qe *usage.QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if qe.Used != 3 || qe.Limit != 3 {
		t.Errorf("expected used=3 limit=3, got used=%d limit=%d", qe.Used, qe.Limit)
	}
	if want := usage.NextMidnight(testNow, time.UTC); !qe.ResetAt.Equal(want) {
		t.Errorf("expected reset at %v, got %v", want, qe.ResetAt)
	}

	if c, _ := f.durable.Get(ctx, "user-1", "2025-11-20"); c.TotalCount != 3 {
		t.Errorf("expected durable total 3, got %d", c.TotalCount)
	}
}

func TestReserve_RemainingOne(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil)
	}

	const callers = 2
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		granted  int
		exceeded int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, _, err := f.store.Reserve(ctx, "user-1", false)
			if err == nil {
				_, err = res.Commit(ctx, usage.FeatureSummary, nil)
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case errors.Is(err, usage.ErrQuotaExceeded):
				exceeded++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if granted != 1 || exceeded != 1 {
		t.Errorf("expected 1 granted and 1 exceeded, got %d and %d", granted, exceeded)
	}
	if snap, _ := f.store.GetUsage(ctx, "user-1", false); snap.Used != 3 {
		t.Errorf("expected used 3, got %d", snap.Used)
	}
}

func TestReserve_ConcurrentNoOverGrant(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _, err := f.store.Reserve(ctx, "user-1", false)
			if err != nil {
				return
			}
			if _, err := res.Commit(ctx, usage.FeatureQuestion, nil); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted > 5 {
		t.Errorf("over-granted: %d commits for limit 5", granted)
	}
	if c, _ := f.durable.Get(ctx, "user-1", "2025-11-20"); c == nil || c.TotalCount > 5 {
		t.Errorf("durable count exceeds limit: %+v", c)
	}
	if n := f.store.InFlight("user-1"); n != 0 {
		t.Errorf("expected no reservations in flight, got %d", n)
	}
}

func TestReserve_Release(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	res, _, err := f.store.Reserve(ctx, "user-1", false)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if _, _, err := f.store.Reserve(ctx, "user-1", false); !errors.Is(err, usage.ErrQuotaExceeded) {
		t.Fatalf("expected in-flight reservation to block, got %v", err)
	}

	res.Release()
	res.Release()
	if n := f.store.InFlight("user-1"); n != 0 {
		t.Errorf("expected 0 in flight after release, got %d", n)
	}
	if _, _, err := f.store.Reserve(ctx, "user-1", false); err != nil {
		t.Errorf("expected reserve after release to succeed, got %v", err)
	}

	var nilRes *Reservation
	nilRes.Release()
}

// gatedBackend parks the first Get after it has read the counter, until
// release is closed.
type gatedBackend struct {
	storage.Backend
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (g *gatedBackend) Get(ctx context.Context, identity, day string) (*usage.Counter, error) {
	c, err := g.Backend.Get(ctx, identity, day)
	park := false
	g.once.Do(func() { park = true })
	if park {
		close(g.read)
		<-g.release
	}
	return c, err
}

func TestReserve_ReadOverlappingCommit(t *testing.T) {
	gated := &gatedBackend{
		Backend: storage.NewMemoryBackend(),
		read:    make(chan struct{}),
		release: make(chan struct{}),
	}
	s, err := New(gated, Config{DailyLimit: 1, Clock: clock.NewFake(testNow)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	type result struct {
		res *Reservation
		err error
	}
	slow := make(chan result, 1)
	go func() {
		res, _, err := s.Reserve(ctx, "user-1", false)
		slow <- result{res: res, err: err}
	}()

	// The slow reader has seen used=0 and is parked.
	<-gated.read

	res, _, err := s.Reserve(ctx, "user-1", false)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if _, err := res.Commit(ctx, usage.FeatureSummary, nil); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	close(gated.release)

	r := <-slow
	if !errors.Is(r.err, usage.ErrQuotaExceeded) {
		r.res.Release()
		t.Fatalf("expected reservation overlapping a commit to be refused, got %v", r.err)
	}
	var qe *usage.QuotaExceededError
	if !errors.As(r.err, &qe) || qe.Used != 1 || qe.Limit != 1 {
		t.Errorf("expected used=1 limit=1, got %v", r.err)
	}
	if n := s.InFlight("user-1"); n != 0 {
		t.Errorf("expected no reservations in flight, got %d", n)
	}
}

func TestMarkCommitted_PrunesOldDays(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	if _, err := f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil); err != nil {
		t.Fatalf("RecordUsage() error = %v", err)
	}
	f.clock.Advance(72 * time.Hour)
	if _, err := f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil); err != nil {
		t.Fatalf("RecordUsage() error = %v", err)
	}

	if n := len(f.store.commits); n != 1 {
		t.Errorf("expected only today's commit sequence to remain, got %d", n)
	}
}

func TestDegradedMode(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	f.flaky.SetFailing(true)

	for i := int64(1); i <= 2; i++ {
		snap, err := f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil)
		if err != nil {
			t.Fatalf("degraded record %d: %v", i, err)
		}
		if snap.Source != usage.SourceDegraded || !snap.Degraded() {
			t.Errorf("expected degraded source, got %s", snap.Source)
		}
		if snap.Used != i {
			t.Errorf("expected used %d, got %d", i, snap.Used)
		}
	}

	if f.store.IsAvailable() {
		t.Error("expected IsAvailable() == false while the store is down")
	}

	ok, err := f.store.CheckLimit(ctx, "user-1", false)
	if err != nil || ok {
		t.Errorf("expected degraded limit to hold, got %v, %v", ok, err)
	}
	if _, err := f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil); !errors.Is(err, usage.ErrQuotaExceeded) {
		t.Errorf("expected quota exceeded in degraded mode, got %v", err)
	}
	if c, _ := f.durable.Get(ctx, "user-1", "2025-11-20"); c != nil {
		t.Errorf("expected nothing written durably, got %+v", c)
	}
}

func TestDegradedMode_Recovery(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	f.flaky.SetFailing(true)
	_, _ = f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil)
	_, _ = f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil)

	f.flaky.SetFailing(false)
	snap, err := f.store.GetUsage(ctx, "user-1", false)
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if !f.store.IsAvailable() {
		t.Error("expected store to be available after recovery")
	}
	if snap.Used != 2 || snap.Source != usage.SourceDurable {
		t.Errorf("expected degraded counts overlaid on durable read, got %+v", snap)
	}

	if _, err := f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil); err != nil {
		t.Fatalf("RecordUsage() error = %v", err)
	}
	if _, err := f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil); !errors.Is(err, usage.ErrQuotaExceeded) {
		t.Errorf("expected limit to hold across recovery, got %v", err)
	}
	if c, _ := f.durable.Get(ctx, "user-1", "2025-11-20"); c == nil || c.TotalCount != 1 {
		t.Errorf("expected durable total 1, got %+v", c)
	}
}

func TestDegradedMode_ChargesOnLastDurableCount(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil); err != nil {
			t.Fatalf("RecordUsage() error = %v", err)
		}
	}

	// The outage starts after the cached read has expired.
	f.clock.Advance(2 * DefaultCacheTTL)
	f.flaky.SetFailing(true)

	snap, err := f.store.GetUsage(ctx, "user-1", false)
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if snap.Used != 2 || snap.Source != usage.SourceDegraded {
		t.Errorf("expected degraded read to keep the durable count, got %+v", snap)
	}

	snap, err = f.store.RecordUsage(ctx, "user-1", usage.FeatureQuestion, false, nil)
	if err != nil {
		t.Fatalf("degraded RecordUsage() error = %v", err)
	}
	if snap.Used != 3 || snap.SummaryCount != 2 || snap.QuestionCount != 1 {
		t.Errorf("expected used 3 on top of the durable count, got %+v", snap)
	}

	_, err = f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil)
	var qe *usage.QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("expected quota exceeded during the outage, got %v", err)
	}
	if qe.Used != 3 || qe.Limit != 3 {
		t.Errorf("expected used=3 limit=3, got %+v", qe)
	}
}

func TestProbe(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	f.flaky.SetFailing(true)
	if err := f.store.Probe(ctx); err == nil {
		t.Error("expected probe to fail")
	}
	if f.store.IsAvailable() {
		t.Error("expected unavailable after failed probe")
	}

	f.flaky.SetFailing(false)
	if err := f.store.Probe(ctx); err != nil {
		t.Errorf("Probe() error = %v", err)
	}
	if !f.store.IsAvailable() {
		t.Error("expected available after successful probe")
	}
}

func TestRecordUsage_Detail(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	detail := &usage.Detail{Title: "Example", SourceRef: "https://example.com", Model: "gpt-4o-mini", Size: 120}
	if _, err := f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, detail); err != nil {
		t.Fatalf("RecordUsage() error = %v", err)
	}

	details, err := f.durable.Details(ctx, "user-1", "2025-11-20")
	if err != nil {
		t.Fatalf("Details() error = %v", err)
	}
	if len(details) != 1 {
		t.Fatalf("expected 1 detail, got %d", len(details))
	}
	if details[0].CorrelationID == "" || !details[0].CreatedAt.Equal(testNow) {
		t.Errorf("expected normalized detail, got %+v", details[0])
	}
	if detail.CorrelationID != "" {
		t.Error("caller's detail must not be modified")
	}
}

func TestDayRollover(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, _ = f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil)
	if ok, _ := f.store.CheckLimit(ctx, "user-1", false); ok {
		t.Fatal("expected limit reached")
	}

	f.clock.Set(time.Date(2025, 11, 21, 0, 0, 0, 0, time.UTC))
	snap, _ := f.store.GetUsage(ctx, "user-1", false)
	if snap.Used != 0 || snap.Day != "2025-11-21" {
		t.Errorf("expected fresh day, got %+v", snap)
	}
}

func TestTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	s, err := New(storage.NewMemoryBackend(), Config{
		DailyLimit: 3,
		Location:   loc,
		Clock:      clock.NewFake(testNow),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	snap, _ := s.GetUsage(context.Background(), "user-1", false)
	if snap.Day != "2025-11-21" {
		t.Errorf("expected local day 2025-11-21, got %s", snap.Day)
	}
	if want := time.Date(2025, 11, 22, 0, 0, 0, 0, loc); !snap.ResetAt.Equal(want) {
		t.Errorf("expected reset at local midnight %v, got %v", want, snap.ResetAt)
	}
}

func TestSetDailyLimit(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, _ = f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil)
	f.store.SetDailyLimit(3)
	f.store.SetDailyLimit(0)

	snap, _ := f.store.GetUsage(ctx, "user-1", false)
	if snap.Limit != 3 || snap.Remaining != 2 {
		t.Errorf("expected raised limit, got %+v", snap)
	}
}

func TestStatistics(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	for offset, n := range map[int]int{0: 2, 1: 1, 6: 3, 40: 5} {
		day := usage.DaysAgo(testNow, time.UTC, offset)
		for i := 0; i < n; i++ {
			_, _ = f.durable.Increment(ctx, storage.IncrementRequest{
				Identity: "user-1", Day: day, Feature: usage.FeatureSummary,
			})
		}
	}

	tests := []struct {
		name       string
		days       int
		wantTotal  int64
		wantDays   int
		wantActive int
	}{
		{"today", 1, 2, 1, 1},
		{"week", 7, 6, 7, 3},
		{"clamped to retention", 90, 6, 30, 3},
		{"minimum one day", 0, 2, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats, err := f.store.Statistics(ctx, "user-1", tt.days)
			if err != nil {
				t.Fatalf("Statistics() error = %v", err)
			}
			if stats.Total != tt.wantTotal || stats.Days != tt.wantDays || stats.ActiveDays != tt.wantActive {
				t.Errorf("got total=%d days=%d active=%d", stats.Total, stats.Days, stats.ActiveDays)
			}
			if stats.To != "2025-11-20" {
				t.Errorf("expected to=2025-11-20, got %s", stats.To)
			}
		})
	}
}

func TestStatistics_Degraded(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, _ = f.store.RecordUsage(ctx, "user-1", usage.FeatureSummary, false, nil)
	f.flaky.SetFailing(true)
	_, _ = f.store.RecordUsage(ctx, "user-1", usage.FeatureQuestion, false, nil)

	stats, err := f.store.Statistics(ctx, "user-1", 7)
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if stats.Source != usage.SourceDegraded || stats.Total != 1 || stats.QuestionCount != 1 {
		t.Errorf("expected degraded stats from fallback only, got %+v", stats)
	}

	f.flaky.SetFailing(false)
	stats, _ = f.store.Statistics(ctx, "user-1", 7)
	if stats.Source != usage.SourceDurable || stats.Total != 2 || len(stats.Daily) != 1 {
		t.Errorf("expected merged stats, got %+v", stats)
	}
}

func TestMergeDaily(t *testing.T) {
	a := []*usage.Counter{{Day: "2025-11-18", TotalCount: 1}, {Day: "2025-11-20", TotalCount: 2}}
	b := []*usage.Counter{{Day: "2025-11-19", TotalCount: 4}, {Day: "2025-11-20", TotalCount: 1}}

	got := mergeDaily(a, b)
	want := []struct {
		day   string
		total int64
	}{{"2025-11-18", 1}, {"2025-11-19", 4}, {"2025-11-20", 3}}
	if len(got) != len(want) {
		t.Fatalf("expected %d days, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Day != w.day || got[i].TotalCount != w.total {
			t.Errorf("day %d: expected %s=%d, got %s=%d", i, w.day, w.total, got[i].Day, got[i].TotalCount)
		}
	}
	if a[1].TotalCount != 2 {
		t.Error("mergeDaily must not modify its inputs")
	}
}
