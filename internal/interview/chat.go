package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/techscreen/internal/aigateway"
	"github.com/ashureev/techscreen/internal/domain"
	"github.com/ashureev/techscreen/internal/shared"
	"github.com/ashureev/techscreen/internal/store"
)

// TurnResult describes what a chat turn did.
type TurnResult struct {
	SessionID     string
	QuestionCount int
	Reply         string
	// Fallback is set when the AI call failed and FallbackReply was used.
	Fallback bool
	// Completion is set when the turn reached the budget and finalization ran.
	Completion *CompletionOutcome
}

// CompletionOutcome is the result of the completion task that follows the
// last chat turn. Finalizer and relay failures are reported separately.
type CompletionOutcome struct {
	SessionID   string
	Finalized   bool
	FinalizeErr error
	RelayErr    error
}

// ChatOrchestrator drives chat turns end-to-end.
type ChatOrchestrator struct {
	store     store.Repository
	ai        aigateway.Gateway
	finalizer *Finalizer
	emitter   Emitter
	budget    int
	logger    *slog.Logger
}

// NewChatOrchestrator creates a ChatOrchestrator.
func NewChatOrchestrator(repo store.Repository, ai aigateway.Gateway, finalizer *Finalizer, emitter Emitter, opts Options, logger *slog.Logger) *ChatOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatOrchestrator{
		store:     repo,
		ai:        ai,
		finalizer: finalizer,
		emitter:   emitter,
		budget:    opts.withDefaults().QuestionBudget,
		logger:    logger,
	}
}

// Budget returns the number of candidate turns per session.
func (o *ChatOrchestrator) Budget() int {
	return o.budget
}

// HandleTurn records one candidate message, obtains the interviewer reply and,
// when the budget is reached, finalizes the session.
func (o *ChatOrchestrator) HandleTurn(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	session, err := o.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// History sent to the AI is the transcript before this turn.
	history := aigateway.HistoryFromTranscript(session.Transcript)

	var count int
	err = shared.RetryOnConflict(ctx, "append candidate turn", func() error {
		var err error
		count, err = o.store.AppendCandidateTurn(ctx, sessionID, text, o.budget)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Emission and the AI call outlive a client that disconnects mid-turn.
	detached := context.WithoutCancel(ctx)

	o.emit(detached, domain.TypingEvent(sessionID, true))
	defer o.emit(detached, domain.TypingEvent(sessionID, false))

	isLast := count >= o.budget
	message := text
	if isLast {
		message += lastQuestionNote
	}

	result := &TurnResult{SessionID: sessionID, QuestionCount: count}

	reply, err := o.ai.GenerateChatTurn(detached, aigateway.ChatTurnRequest{
		ContextToken: session.ContextToken,
		Message:      message,
		History:      history,
		IsFinal:      isLast,
	})
	if err != nil {
		o.logger.Warn("Chat generation failed, sending fallback",
			"session_id", sessionID,
			"question_count", count,
			"error", err)
		reply = FallbackReply
		result.Fallback = true
	}
	result.Reply = reply

	var persistErr error
	err = shared.RetryOnConflict(detached, "append assistant turn", func() error {
		return o.store.AppendAssistantTurn(detached, sessionID, reply)
	})
	if err != nil {
		o.logger.Error("Failed to persist interviewer turn", "session_id", sessionID, "error", err)
		persistErr = fmt.Errorf("persist interviewer turn: %w", err)
	}

	o.emit(detached, domain.InterviewerTurnEvent(sessionID, reply))

	if isLast && !result.Fallback && persistErr == nil {
		outcome := o.complete(detached, sessionID)
		result.Completion = &outcome
	}

	return result, persistErr
}

// StartSession seeds the first interviewer message when the transcript is empty.
// A session that already has turns is left untouched and yields a nil result.
func (o *ChatOrchestrator) StartSession(ctx context.Context, sessionID string) (*TurnResult, error) {
	session, err := o.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(session.Transcript) > 0 {
		return nil, nil
	}

	detached := context.WithoutCancel(ctx)

	o.emit(detached, domain.TypingEvent(sessionID, true))
	defer o.emit(detached, domain.TypingEvent(sessionID, false))

	result := &TurnResult{SessionID: sessionID, QuestionCount: session.QuestionCount}

	reply, err := o.ai.GenerateChatTurn(detached, aigateway.ChatTurnRequest{
		ContextToken: session.ContextToken,
		Message:      initiationMessage,
		History:      []aigateway.HistoryEntry{},
		IsInit:       true,
	})
	if err != nil {
		// Not persisted, so the client can start again.
		o.logger.Warn("Opening generation failed, sending fallback", "session_id", sessionID, "error", err)
		result.Reply = FallbackReply
		result.Fallback = true
		o.emit(detached, domain.InterviewerTurnEvent(sessionID, FallbackReply))
		return result, nil
	}

	var stored bool
	err = shared.RetryOnConflict(detached, "append opening turn", func() error {
		var err error
		stored, err = o.store.AppendOpeningTurn(detached, sessionID, reply)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !stored {
		o.logger.Info("Session already started elsewhere", "session_id", sessionID)
		return nil, nil
	}

	result.Reply = reply
	o.emit(detached, domain.InterviewerTurnEvent(sessionID, reply))
	o.logger.Info("Interview started", "session_id", sessionID)
	return result, nil
}

// complete runs the completion task: announce, finalize, announce.
func (o *ChatOrchestrator) complete(ctx context.Context, sessionID string) CompletionOutcome {
	outcome := CompletionOutcome{SessionID: sessionID}

	if err := o.emitter.Emit(ctx, domain.SessionCompletingEvent(sessionID, completingMessage)); err != nil {
		outcome.RelayErr = err
	}

	if _, err := o.finalizer.Finalize(ctx, sessionID); err != nil {
		outcome.FinalizeErr = err
		if errors.Is(err, domain.ErrFinalizationInProgress) {
			o.logger.Info("Finalization already running elsewhere", "session_id", sessionID)
			return outcome
		}
		o.logger.Error("Finalization after last turn failed",
			"session_id", sessionID,
			"error", err)
		return outcome
	}
	outcome.Finalized = true

	if err := o.emitter.Emit(ctx, domain.ReportReadyEvent(sessionID, reportReadyMessage)); err != nil && outcome.RelayErr == nil {
		outcome.RelayErr = err
	}
	if outcome.RelayErr != nil {
		o.logger.Warn("Relay failed during completion", "session_id", sessionID, "error", outcome.RelayErr)
	}
	return outcome
}

func (o *ChatOrchestrator) load(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	if session.IsCompleted() {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrAlreadyCompleted)
	}
	return session, nil
}

func (o *ChatOrchestrator) emit(ctx context.Context, event domain.Event) {
	if err := o.emitter.Emit(ctx, event); err != nil {
		o.logger.Warn("Failed to emit event",
			"session_id", event.SessionID,
			"event", string(event.Name),
			"error", err)
	}
}
