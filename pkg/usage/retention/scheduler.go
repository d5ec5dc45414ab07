package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Start schedules Sweep. ctx bounds every scheduled run; cancelling it also
// stops the schedule.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("retention: sweeper already started")
	}

	c := cron.New(
		cron.WithLocation(s.config.Location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	id := c.Schedule(s.schedule, cron.FuncJob(func() {
		s.runScheduled(ctx)
	}))
	c.Start()

	done := make(chan struct{})
	s.cron = c
	s.entry = id
	s.done = done
	s.running = true

	s.logger.Info("Retention sweeper started",
		"schedule", s.config.Schedule,
		"retention_days", s.config.Days,
		"timezone", s.config.Location.String(),
	)

	go func() {
		select {
		case <-ctx.Done():
			s.stop(done)
		case <-done:
		}
	}()
	return nil
}

// runScheduled is the body of a scheduled run. It reports whether a sweep
// ran.
func (s *Sweeper) runScheduled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	_, _ = s.Sweep(ctx)
	return true
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.stop(nil)
}

// stop stops the active schedule. A non-nil done limits it to the run
// started with done.
func (s *Sweeper) stop(done chan struct{}) {
	s.mu.Lock()
	if !s.running || (done != nil && done != s.done) {
		s.mu.Unlock()
		return
	}
	c := s.cron
	close(s.done)
	s.done = nil
	s.running = false
	s.mu.Unlock()

	<-c.Stop().Done()
	s.logger.Info("Retention sweeper stopped")
}

// IsRunning reports whether the schedule is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled sweep after now.
func (s *Sweeper) NextRun() time.Time {
	return s.schedule.Next(s.clock.Now().In(s.config.Location))
}
