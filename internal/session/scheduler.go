package session

import (
	"context"
	"sync"
	"time"

	"inventory-admin/internal/observability"
)

const defaultTickInterval = 10 * time.Second

// DurationRefresher is the slice of Store the scheduler needs.
type DurationRefresher interface {
	RefreshActiveDurations(ctx context.Context, now time.Time) (int64, error)
}

// Scheduler periodically persists live durations for active sessions so the
// cached duration_ms column stays close to reality between reads. It is an
// explicit service instance with an injected clock and interval rather than
// a process-global timer, so tests run it deterministically and multiple
// instances can coexist.
type Scheduler struct {
	store    DurationRefresher
	logger   *observability.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(store DurationRefresher, logger *observability.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = defaultTickInterval
	}
	return &Scheduler{
		store:    store,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Start launches the periodic loop with an immediate first tick. Start is
// idempotent: a running loop is stopped before the new one is scheduled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go s.run(runCtx, done)
}

// Stop cancels the loop and waits for the in-flight tick, if any, to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick refreshes every active record's cached duration. Zero active records
// is a no-op; a persistence failure is logged and the loop keeps running.
func (s *Scheduler) tick(ctx context.Context) {
	updated, err := s.store.RefreshActiveDurations(ctx, s.now().UTC())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("session_duration_refresh_failed", map[string]any{"error": err.Error()})
		return
	}
	if updated > 0 {
		s.logger.Info("session_durations_refreshed", map[string]any{"updated": updated})
	}
}
