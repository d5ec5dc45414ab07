package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/tally/pkg/clock"
	"mercator-hq/tally/pkg/telemetry/metrics"
	"mercator-hq/tally/pkg/usage"
	"mercator-hq/tally/pkg/usage/storage"
)

// Defaults.
const (
	DefaultDays     = 30
	DefaultSchedule = "0 0 * * *"
)

// Config configures a Sweeper.
type Config struct {
	// Durable is archived. Required.
	Durable storage.Backend

	// Fallback is purged. Optional.
	Fallback *storage.MemoryBackend

	// Days is the retention window.
	// Default: 30
	Days int

	// Schedule is a standard five-field cron expression.
	// Default: "0 0 * * *"
	Schedule string

	// Location is the time zone of day boundaries and of the schedule.
	// Default: UTC
	Location *time.Location

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Result summarizes one sweep.
type Result struct {
	// Cutoff is the first retained day; older counters were swept.
	Cutoff   string        `json:"cutoff"`
	Archived int           `json:"archived"`
	Deleted  int           `json:"deleted"`
	Duration time.Duration `json:"duration"`
}

// Sweeper archives and deletes expired counters.
type Sweeper struct {
	config   Config
	schedule cron.Schedule
	clock    clock.Clock
	logger   *slog.Logger

	// sweepMu serializes sweeps.
	sweepMu sync.Mutex

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	done    chan struct{}
	running bool
	last    *Result
}

// New creates a Sweeper.
func New(cfg Config) (*Sweeper, error) {
	if cfg.Durable == nil {
		return nil, errors.New("retention: durable backend is required")
	}
	if cfg.Days < 0 {
		return nil, fmt.Errorf("retention: days must be positive, got %d", cfg.Days)
	}
	if cfg.Days == 0 {
		cfg.Days = DefaultDays
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("retention: invalid cron schedule %q: %w", cfg.Schedule, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		config:   cfg,
		schedule: schedule,
		clock:    clock.Or(cfg.Clock),
		logger:   logger.With("component", "retention"),
	}, nil
}

// Cutoff returns the first retained day for now.
func (s *Sweeper) Cutoff(now time.Time) string {
	return usage.DaysAgo(now, s.config.Location, s.config.Days)
}

// Sweep runs one retention pass. A durable store failure is logged and
// returned, and the fallback store is still swept.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	start := s.clock.Now()
	res := Result{Cutoff: s.Cutoff(start)}

	var errs []error
	archived, err := s.archive(ctx, res.Cutoff)
	res.Archived = archived
	if err != nil {
		s.logger.Warn("Failed to archive expired counters",
			"cutoff", res.Cutoff,
			"archived", archived,
			"error", err,
		)
		errs = append(errs, fmt.Errorf("archive: %w", err))
	}

	if s.config.Fallback != nil {
		deleted, err := purge(ctx, s.config.Fallback, res.Cutoff)
		res.Deleted = deleted
		if err != nil {
			s.logger.Warn("Failed to purge expired fallback counters",
				"cutoff", res.Cutoff,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("purge fallback: %w", err))
		}
	}

	res.Duration = s.clock.Now().Sub(start)
	err = errors.Join(errs...)
	s.config.Metrics.RecordSweep(res.Archived, res.Deleted, res.Duration, err)

	s.mu.Lock()
	last := res
	s.last = &last
	s.mu.Unlock()

	if res.Archived > 0 || res.Deleted > 0 {
		s.logger.Info("Retention sweep completed",
			"cutoff", res.Cutoff,
			"archived", res.Archived,
			"deleted", res.Deleted,
			"duration", res.Duration.String(),
		)
	} else {
		s.logger.Debug("Retention sweep completed, nothing expired", "cutoff", res.Cutoff)
	}
	return res, err
}

func (s *Sweeper) archive(ctx context.Context, cutoff string) (int, error) {
	keys, err := s.config.Durable.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return s.config.Durable.Archive(ctx, keys)
}

func purge(ctx context.Context, b storage.Backend, cutoff string) (int, error) {
	keys, err := b.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return b.Delete(ctx, keys)
}

// LastResult returns the result of the most recent sweep, or nil.
func (s *Sweeper) LastResult() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}
