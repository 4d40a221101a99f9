// Package worker runs background maintenance for interview sessions.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/techscreen/internal/domain"
)

// StalledLister finds sessions that reached the question budget but were never completed.
type StalledLister interface {
	ListStalledSessions(ctx context.Context, budget int, idleFor time.Duration) ([]*domain.Session, error)
}

// Finalizer completes a session with its evaluation report.
type Finalizer interface {
	Finalize(ctx context.Context, sessionID string) (*domain.Session, error)
}

// Sweeper periodically retries finalization of stalled sessions.
type Sweeper struct {
	sessions  StalledLister
	finalizer Finalizer
	budget    int
	interval  time.Duration
	grace     time.Duration
	logger    *slog.Logger
}

// NewSweeper creates a Sweeper. Sessions idle for less than grace are left
// alone so an in-flight completion is not raced.
func NewSweeper(sessions StalledLister, finalizer Finalizer, budget int, interval, grace time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		sessions:  sessions,
		finalizer: finalizer,
		budget:    budget,
		interval:  interval,
		grace:     grace,
		logger:    logger,
	}
}

// Start runs the sweep loop in a goroutine until ctx is canceled. A
// non-positive interval disables it.
func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Finalization sweeper disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		s.logger.Info("Finalization sweeper started", "interval", s.interval, "grace", s.grace)

		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-ctx.Done():
				s.logger.Info("Finalization sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep makes one pass and returns how many sessions were finalized.
func (s *Sweeper) Sweep(ctx context.Context) int {
	stalled, err := s.sessions.ListStalledSessions(ctx, s.budget, s.grace)
	if err != nil {
		s.logger.Error("Sweeper failed to list stalled sessions", "error", err)
		return 0
	}
	if len(stalled) == 0 {
		return 0
	}

	s.logger.Info("Sweeper found stalled sessions", "count", len(stalled))

	finalized := 0
	for _, session := range stalled {
		if ctx.Err() != nil {
			break
		}
		_, err := s.finalizer.Finalize(ctx, session.ID)
		switch {
		case err == nil:
			finalized++
		case errors.Is(err, domain.ErrAlreadyCompleted), errors.Is(err, domain.ErrFinalizationInProgress):
			// Completed or being completed by another caller.
		default:
			s.logger.Warn("Sweeper failed to finalize session",
				"session_id", session.ID,
				"error", err)
		}
	}

	s.logger.Info("Sweeper pass completed", "finalized", finalized, "stalled", len(stalled))
	return finalized
}
