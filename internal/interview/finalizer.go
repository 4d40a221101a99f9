package interview

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/techscreen/internal/aigateway"
	"github.com/ashureev/techscreen/internal/domain"
	"github.com/ashureev/techscreen/internal/shared"
	"github.com/ashureev/techscreen/internal/store"
)

// finalizationLease bounds how long a crashed finalizer blocks others. It
// outlasts the AI request timeout.
const finalizationLease = 5 * time.Minute

// Finalizer produces the evaluation report and completes a session.
type Finalizer struct {
	store  store.Repository
	ai     aigateway.Gateway
	lease  time.Duration
	logger *slog.Logger
}

// NewFinalizer creates a Finalizer.
func NewFinalizer(repo store.Repository, ai aigateway.Gateway, logger *slog.Logger) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{store: repo, ai: ai, lease: finalizationLease, logger: logger}
}

// Finalize requests the report for sessionID and stores it together with the
// completed status. Only the caller holding the finalization lease contacts
// the AI service; concurrent callers get ErrFinalizationInProgress. On AI
// failure the lease is released, nothing else is written and the call can be
// repeated. A session that is already completed yields ErrAlreadyCompleted.
//
// Once the lease is held the work runs detached from ctx, so a caller that
// goes away does not discard a generated report.
func (f *Finalizer) Finalize(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := f.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	if session.IsCompleted() {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrAlreadyCompleted)
	}

	err = shared.RetryOnConflict(ctx, "claim finalization", func() error {
		return f.store.ClaimFinalization(ctx, sessionID, f.lease)
	})
	if err != nil {
		return nil, err
	}
	detached := context.WithoutCancel(ctx)

	req := aigateway.ReportRequest{
		CandidateName: session.CandidateName,
		Transcript:    aigateway.HistoryFromTranscript(session.Transcript),
		ContextToken:  session.ContextToken,
	}
	if session.Quiz != nil {
		req.QuizResults = session.Quiz.Answers
	}
	if session.Coding != nil {
		if session.Coding.Solution != nil {
			req.CodingSolution = *session.Coding.Solution
		}
		req.CodingResults = session.Coding.Results
	}

	start := time.Now()
	report, err := f.ai.GenerateReport(detached, req)
	if err != nil {
		f.logger.Error("Report generation failed", "session_id", sessionID, "error", err)
		f.release(detached, sessionID)
		return nil, err
	}

	err = shared.RetryOnConflict(detached, "complete session", func() error {
		return f.store.CompleteSession(detached, sessionID, &report.Evaluation, report.ReportRef)
	})
	if err != nil {
		f.release(detached, sessionID)
		return nil, err
	}

	now := time.Now()
	session.Status = domain.StatusCompleted
	session.Evaluation = &report.Evaluation
	session.ReportRef = report.ReportRef
	session.CompletedAt = &now

	f.logger.Info("Session finalized",
		"session_id", sessionID,
		"report", report.ReportRef,
		"duration", time.Since(start))
	return session, nil
}

func (f *Finalizer) release(ctx context.Context, sessionID string) {
	if err := f.store.ReleaseFinalization(ctx, sessionID); err != nil {
		f.logger.Warn("Failed to release finalization lease", "session_id", sessionID, "error", err)
	}
}
