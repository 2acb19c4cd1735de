// Package scheduler runs the daily notification pass at a fixed local time.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/inboxpilot/usagecap/internal/logging"
	"github.com/inboxpilot/usagecap/internal/models"
)

// PassFunc runs one daily pass.
type PassFunc func(ctx context.Context, now time.Time) (*models.PassResult, error)

// Scheduler fires a PassFunc once per day at RunAt in its time zone.
type Scheduler struct {
	timezone *time.Location
	hour     int
	minute   int
	runFn    PassFunc
	logger   *logging.Logger
	nowFn    func() time.Time

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	lastRun time.Time
}

// New creates a scheduler. runAt is "HH:MM"; an unknown timezone falls back to UTC.
func New(timezone, runAt string, runFn PassFunc, logger *logging.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}

	if runAt == "" {
		runAt = "06:00"
	}
	var hour, minute int
	if _, err := fmt.Sscanf(runAt, "%d:%d", &hour, &minute); err != nil {
		return nil, fmt.Errorf("invalid run_at %q: %w", runAt, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("invalid run_at %q: out of range", runAt)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Scheduler{
		timezone: loc,
		hour:     hour,
		minute:   minute,
		runFn:    runFn,
		logger:   logger,
		nowFn:    time.Now,
	}, nil
}

// Start starts the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.wg.Add(1)
	go s.run()

	s.logger.Info("scheduler started",
		"run_at", fmt.Sprintf("%02d:%02d", s.hour, s.minute),
		"timezone", s.timezone.String(),
		"next_run", s.NextRun(s.nowFn()).Format(time.RFC3339),
	)
}

// Stop stops the scheduler and waits for an in-flight pass to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// LastRun returns when the scheduler last fired.
func (s *Scheduler) LastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	for {
		// Recomputed each day so DST transitions keep the wall-clock time.
		timer := time.NewTimer(s.NextRun(s.nowFn()).Sub(s.nowFn()))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fire()
		}
	}
}

func (s *Scheduler) fire() {
	now := s.nowFn()

	s.mu.Lock()
	s.lastRun = now
	s.mu.Unlock()

	result, err := s.runFn(s.ctx, now)
	if err != nil {
		s.logger.Error("scheduled pass failed", "error", err)
		return
	}
	s.logger.Info("scheduled pass completed",
		"tenants_checked", result.TenantsChecked,
		"errors", result.Errors,
		"next_run", s.NextRun(s.nowFn()).Format(time.RFC3339),
	)
}

// NextRun returns the first scheduled instant strictly after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	local := now.In(s.timezone)
	target := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.timezone)
	if !target.After(local) {
		target = time.Date(local.Year(), local.Month(), local.Day()+1, s.hour, s.minute, 0, 0, s.timezone)
	}
	return target
}
