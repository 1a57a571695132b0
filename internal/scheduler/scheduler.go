// Package scheduler drives the daily EPG refresh. The schedule lives in the
// settings store as an hour/minute pair plus an enabled flag; the scheduler
// recomputes its next fire time from settings after every run and whenever
// Reload is called.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/streamforge/streamforge/internal/models"
	"github.com/streamforge/streamforge/internal/repository"
)

// RefreshFunc performs one full EPG refresh sweep.
type RefreshFunc func(ctx context.Context) error

// Scheduler fires the EPG refresh once per day at the configured time.
type Scheduler struct {
	mu sync.Mutex

	settings repository.SettingRepository
	refresh  RefreshFunc
	logger   *slog.Logger

	parser cron.Parser

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	reload chan struct{}
}

// New creates a scheduler. The refresh function is invoked on every fire.
func New(settings repository.SettingRepository, refresh RefreshFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		settings: settings,
		refresh:  refresh,
		logger:   logger,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		reload:   make(chan struct{}, 1),
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.loop()

	s.logger.Info("scheduler started")
	return nil
}

// Stop stops the scheduler and waits for an in-flight refresh to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// Reload makes the loop re-read the schedule from settings. Called after the
// user changes the refresh time or toggles the enabled flag.
func (s *Scheduler) Reload() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// NextRun returns the next scheduled fire time. ok is false when scheduled
// refreshes are disabled.
func (s *Scheduler) NextRun(ctx context.Context) (time.Time, bool) {
	hour, minute, enabled := s.settings.EpgRefreshSchedule(ctx)
	if !enabled {
		return time.Time{}, false
	}

	schedule, err := s.parser.Parse(fmt.Sprintf("%d %d * * *", minute, hour))
	if err != nil {
		s.logger.Error("invalid refresh schedule",
			slog.Int("hour", hour),
			slog.Int("minute", minute),
			slog.Any("error", err),
		)
		return time.Time{}, false
	}
	return schedule.Next(time.Now()), true
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	for {
		next, enabled := s.NextRun(s.ctx)
		if !enabled {
			// No job while disabled; wait for a reload or shutdown.
			select {
			case <-s.ctx.Done():
				return
			case <-s.reload:
				continue
			}
		}

		s.logger.Info("next scheduled EPG refresh", slog.Time("at", next))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-s.reload:
			timer.Stop()
			continue
		case <-timer.C:
			s.runOnce(s.ctx)
		}
	}
}

// runOnce executes one scheduled sweep. The last-scheduled-refresh stamp is
// recorded even when individual sources fail, so the UI can tell "ran with
// errors" apart from "never ran".
func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()
	err := s.refresh(ctx)

	if serr := s.settings.SetEpgLastScheduledRefresh(ctx, models.Now()); serr != nil {
		s.logger.Error("recording scheduled refresh time failed", slog.Any("error", serr))
	}

	if err != nil {
		s.logger.Error("scheduled EPG refresh finished with errors",
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err),
		)
		return
	}
	s.logger.Info("scheduled EPG refresh finished",
		slog.Duration("duration", time.Since(start)),
	)
}
