package service

import (
	"context"
	"sync"
	"time"

	"pharmaudit/internal/retention/models"
	dErrors "pharmaudit/pkg/domain-errors"
)

// Scheduler runs a confirmed cleanup on a fixed interval. A tick that finds
// another instance holding the lock is skipped.
type Scheduler struct {
	manager  *Manager
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(m *Manager, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{manager: m, interval: interval}
}

// Start runs a cleanup immediately and then on every interval until Stop or
// ctx cancellation. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
	s.manager.logger.InfoContext(ctx, "retention scheduler started", "interval", s.interval, "policy", s.manager.policy)
}

// Stop cancels the loop and waits for the current run to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.manager.RunUnattended(ctx, &models.RunRequest{Confirm: true})
	switch {
	case err == nil:
	case dErrors.HasCode(err, dErrors.CodeConflict):
		// another instance is running
	case ctx.Err() != nil:
	default:
		s.manager.logger.ErrorContext(ctx, "scheduled retention cleanup failed", "error", err)
	}
}
