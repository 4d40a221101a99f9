// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ashureev/techscreen/internal/domain"
)

// Repository persists interview sessions and their transcripts.
//
// Every mutating method is a single conditional update (or one transaction
// wrapping one): it refuses to touch a completed session and reports the
// reason with a domain error (ErrNotFound, ErrAlreadyCompleted, ...).
// SQLite busy/locked failures surface as domain.ErrPersistenceConflict.
type Repository interface {
	// CreateSession inserts a new session.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession loads a session with its transcript. Returns nil, nil when absent.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// GetSessionByToken loads a session by access token. Returns nil, nil when absent.
	GetSessionByToken(ctx context.Context, token string) (*domain.Session, error)

	// ListSessionsByTenant returns a tenant's sessions, newest first, without transcripts.
	ListSessionsByTenant(ctx context.Context, tenantID string) ([]*domain.Session, error)

	// SetAccessToken replaces the invite token and its expiry.
	SetAccessToken(ctx context.Context, id, token string, expiresAt time.Time) error

	// UpdateStage moves the session from expected to target if its stage is
	// still expected. activate also flips pending to active.
	UpdateStage(ctx context.Context, id string, expected, target domain.Stage, activate bool) error

	// SetQuizIfAbsent stores generated questions unless a quiz already exists.
	// Returns false when another writer got there first.
	SetQuizIfAbsent(ctx context.Context, id string, questions []domain.QuizQuestion) (bool, error)

	// SubmitQuizAnswers records the candidate's answers once.
	SubmitQuizAnswers(ctx context.Context, id string, answers map[string]string) error

	// SetCodingIfAbsent stores a generated challenge unless one already exists.
	SetCodingIfAbsent(ctx context.Context, id string, challenge domain.CodingChallenge) (bool, error)

	// SubmitCoding records (or overwrites) the solution and execution summary.
	SubmitCoding(ctx context.Context, id, solution string, results json.RawMessage) error

	// AppendCandidateTurn increments the question counter and appends a user
	// turn atomically, refusing once the counter reached budget. Returns the new count.
	AppendCandidateTurn(ctx context.Context, id, content string, budget int) (int, error)

	// AppendAssistantTurn appends an interviewer turn.
	AppendAssistantTurn(ctx context.Context, id, content string) error

	// AppendOpeningTurn appends an interviewer turn only if the transcript is empty.
	AppendOpeningTurn(ctx context.Context, id, content string) (bool, error)

	// ClaimFinalization takes the finalization lease until now+lease. It fails
	// with ErrFinalizationInProgress while another unexpired lease is held.
	ClaimFinalization(ctx context.Context, id string, lease time.Duration) error

	// ReleaseFinalization drops the lease so a later attempt can claim it.
	ReleaseFinalization(ctx context.Context, id string) error

	// CompleteSession stores the evaluation and report reference and marks the
	// session completed in one statement. The finalization lease is cleared.
	CompleteSession(ctx context.Context, id string, evaluation *domain.Evaluation, reportRef string) error

	// ListStalledSessions returns open sessions whose counter reached budget and
	// that saw no update for idleFor.
	ListStalledSessions(ctx context.Context, budget int, idleFor time.Duration) ([]*domain.Session, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
