package runner

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/decksync/internal/apperr"
	"github.com/starford/decksync/internal/models"
)

// RunFunc performs one sync run.
type RunFunc func(ctx context.Context) (*models.Summary, error)

// Scheduler runs syncs periodically and on demand, one at a time.
type Scheduler struct {
	run      RunFunc
	interval time.Duration
	logger   *slog.Logger

	trigger chan struct{}
	running atomic.Bool

	mu      sync.RWMutex
	latest  *models.Summary
	lastErr error
}

// NewScheduler creates a Scheduler. A non-positive interval disables the
// periodic runs; triggers still work.
func NewScheduler(run RunFunc, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		run:      run,
		interval: interval,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Start runs one sync immediately and then on every tick or trigger until
// ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	var tick <-chan time.Time
	if s.interval > 0 {
		t := time.NewTicker(s.interval)
		defer t.Stop()
		tick = t.C
	}

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			s.runOnce(ctx)
		case <-s.trigger:
			s.runOnce(ctx)
		}
	}
}

// Trigger queues a run. It returns apperr.ErrRunInProgress if a run is
// already executing or queued.
func (s *Scheduler) Trigger() error {
	if s.running.Load() {
		return apperr.ErrRunInProgress
	}
	select {
	case s.trigger <- struct{}{}:
		return nil
	default:
		return apperr.ErrRunInProgress
	}
}

// Running reports whether a run is executing.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Latest returns the summary of the last run that produced one, and the
// error of the last run.
func (s *Scheduler) Latest() (*models.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.lastErr
}

func (s *Scheduler) runOnce(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	sum, err := s.run(ctx)
	if err != nil {
		s.logger.Error("scheduled run failed", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sum != nil {
		s.latest = sum
	}
	s.lastErr = err
}
