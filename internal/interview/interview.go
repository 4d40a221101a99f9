// Package interview implements the interview session engine: token access,
// the stage state machine, the chat orchestrator and the finalizer.
package interview

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/techscreen/internal/domain"
)

// Defaults for Options fields left at zero.
const (
	DefaultQuestionBudget    = 3
	DefaultQuizQuestionCount = 5
	DefaultCodingLanguage    = "python"
	DefaultInviteTTL         = 72 * time.Hour
)

// Messages sent to the candidate.
const (
	FallbackReply = "I'm sorry, I'm having trouble processing your message right now."

	lastQuestionNote  = " (Note: This is the last response. Conclude the interview and say goodbye.)"
	initiationMessage = "INIT_INTERVIEW"

	completingMessage  = "Interview completed. Generating your technical report..."
	reportReadyMessage = "Your evaluation is complete. Thank you!"
)

// ErrEmptyMessage is returned for a blank candidate turn.
var ErrEmptyMessage = errors.New("message is empty")

// Emitter publishes realtime events for a session. Delivery is best-effort.
type Emitter interface {
	Emit(ctx context.Context, event domain.Event) error
}

// Options tunes the engine.
type Options struct {
	// QuestionBudget is the number of candidate chat turns before finalization.
	QuestionBudget    int
	QuizQuestionCount int
	CodingLanguage    string
	InviteTTL         time.Duration
}

func (o Options) withDefaults() Options {
	if o.QuestionBudget <= 0 {
		o.QuestionBudget = DefaultQuestionBudget
	}
	if o.QuizQuestionCount <= 0 {
		o.QuizQuestionCount = DefaultQuizQuestionCount
	}
	if o.CodingLanguage == "" {
		o.CodingLanguage = DefaultCodingLanguage
	}
	if o.InviteTTL <= 0 {
		o.InviteTTL = DefaultInviteTTL
	}
	return o
}
