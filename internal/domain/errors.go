package domain

import "errors"

var (
	// ErrNotFound means the session or access token is unknown.
	ErrNotFound = errors.New("session not found")
	// ErrExpired means the access token is past its expiry.
	ErrExpired = errors.New("session access expired")
	// ErrAlreadyCompleted means the operation targets a completed session.
	ErrAlreadyCompleted = errors.New("session already completed")
	// ErrInvalidTransition means a stage skip or regression, or an operation
	// issued in a stage that does not allow it.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrAIServiceUnavailable means the AI service failed or timed out.
	ErrAIServiceUnavailable = errors.New("ai service unavailable")
	// ErrPersistenceConflict means a concurrent update won the race.
	ErrPersistenceConflict = errors.New("persistence conflict")
	// ErrAlreadySubmitted means a write-once submission was already recorded.
	ErrAlreadySubmitted = errors.New("already submitted")
	// ErrBudgetReached means the chat question budget is used up and the
	// session is waiting for finalization.
	ErrBudgetReached = errors.New("question budget reached")
	// ErrFinalizationInProgress means another caller holds the finalization
	// lease and is waiting on the report.
	ErrFinalizationInProgress = errors.New("finalization in progress")
)
