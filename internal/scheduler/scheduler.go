// Package scheduler runs the snooze-wake loop: on a cron cadence it moves
// snoozed tasks whose wake gate has passed back to open.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/minder/internal/tasks"
)

// Config carries the scheduler dependencies.
type Config struct {
	Tasks  *tasks.Service
	Logger *slog.Logger
	// Schedule is a standard five-field cron spec.
	Schedule string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Scheduler wakes due tasks on its cron cadence until stopped.
type Scheduler struct {
	tasks    *tasks.Service
	logger   *slog.Logger
	schedule cron.Schedule
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New parses the cron spec and builds the scheduler.
func New(cfg Config) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse snooze wake schedule %q: %w", cfg.Schedule, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Scheduler{
		tasks:    cfg.Tasks,
		logger:   logger,
		schedule: schedule,
		now:      now,
	}, nil
}

// Start launches the wake loop. Stop or context cancellation ends it.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop ends the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		next := s.schedule.Next(s.now())
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	woken, err := s.tasks.WakeDue(ctx, s.now())
	if err != nil {
		s.logger.Error("wake snoozed tasks", "error", err)
		return
	}
	if woken > 0 {
		s.logger.Info("woke snoozed tasks", "count", woken)
	}
}
