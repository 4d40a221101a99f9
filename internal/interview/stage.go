package interview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ashureev/techscreen/internal/aigateway"
	"github.com/ashureev/techscreen/internal/domain"
	"github.com/ashureev/techscreen/internal/shared"
	"github.com/ashureev/techscreen/internal/store"
)

// StageController moves sessions through init, quiz, coding and chat and owns
// the quiz and coding artifacts.
type StageController struct {
	store    store.Repository
	resolver *Resolver
	ai       aigateway.Gateway
	opts     Options
	logger   *slog.Logger
}

// NewStageController creates a StageController.
func NewStageController(repo store.Repository, resolver *Resolver, ai aigateway.Gateway, opts Options, logger *slog.Logger) *StageController {
	if logger == nil {
		logger = slog.Default()
	}
	return &StageController{
		store:    repo,
		resolver: resolver,
		ai:       ai,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// AdvanceStage moves the session behind token to target. Requesting the
// current stage is a no-op; anything but the immediate successor is rejected.
func (c *StageController) AdvanceStage(ctx context.Context, token, target string) (*domain.Session, error) {
	want, err := domain.ParseStage(target)
	if err != nil {
		return nil, err
	}

	var result *domain.Session
	err = shared.RetryOnConflict(ctx, "advance stage", func() error {
		session, err := c.resolver.Resolve(ctx, token)
		if err != nil {
			return err
		}

		verdict, err := domain.ValidateTransition(session.Stage, want)
		if err != nil {
			c.logger.Warn("Rejected stage transition",
				"session_id", session.ID,
				"current", session.Stage.String(),
				"requested", want.String())
			return err
		}
		if verdict == domain.TransitionStay {
			result = session
			return nil
		}

		if err := c.store.UpdateStage(ctx, session.ID, session.Stage, want, true); err != nil {
			return err
		}
		c.logger.Info("Session stage advanced",
			"session_id", session.ID,
			"from", session.Stage.String(),
			"to", want.String())

		session.Stage = want
		if session.Status == domain.StatusPending {
			session.Status = domain.StatusActive
		}
		result = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetOrCreateQuiz returns the session's quiz, generating it on first access.
func (c *StageController) GetOrCreateQuiz(ctx context.Context, token string) (*domain.Quiz, error) {
	session, err := c.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.Stage < domain.StageQuiz {
		return nil, fmt.Errorf("%w: quiz requested in stage %s", domain.ErrInvalidTransition, session.Stage)
	}
	if session.Quiz != nil {
		return session.Quiz, nil
	}

	questions, err := c.ai.GenerateQuiz(ctx, session.ContextToken, session.CVSummary, c.opts.QuizQuestionCount)
	if err != nil {
		c.logger.Error("Quiz generation failed", "session_id", session.ID, "error", err)
		return nil, err
	}

	var stored bool
	err = shared.RetryOnConflict(ctx, "store quiz", func() error {
		var err error
		stored, err = c.store.SetQuizIfAbsent(ctx, session.ID, questions)
		return err
	})
	if err != nil {
		return nil, err
	}
	if stored {
		c.logger.Info("Quiz generated", "session_id", session.ID, "questions", len(questions))
		return &domain.Quiz{Questions: questions}, nil
	}

	// A concurrent request stored its quiz first; serve that one.
	winner, err := c.store.GetSession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("reload session: %w", err)
	}
	if winner == nil || winner.Quiz == nil {
		return nil, fmt.Errorf("quiz for session %s: %w", session.ID, domain.ErrPersistenceConflict)
	}
	return winner.Quiz, nil
}

// SubmitQuiz records the candidate's answers. Answers are write-once.
func (c *StageController) SubmitQuiz(ctx context.Context, token string, answers map[string]string) error {
	session, err := c.resolver.Resolve(ctx, token)
	if err != nil {
		return err
	}
	if session.Stage < domain.StageQuiz {
		return fmt.Errorf("%w: quiz submitted in stage %s", domain.ErrInvalidTransition, session.Stage)
	}

	err = shared.RetryOnConflict(ctx, "submit quiz", func() error {
		return c.store.SubmitQuizAnswers(ctx, session.ID, answers)
	})
	if err != nil {
		return err
	}
	c.logger.Info("Quiz submitted", "session_id", session.ID, "answers", len(answers))
	return nil
}

// GetOrCreateCoding returns the session's coding challenge, generating it on first access.
func (c *StageController) GetOrCreateCoding(ctx context.Context, token string) (*domain.Coding, error) {
	session, err := c.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.Stage < domain.StageCoding {
		return nil, fmt.Errorf("%w: coding requested in stage %s", domain.ErrInvalidTransition, session.Stage)
	}
	if session.Coding != nil {
		return session.Coding, nil
	}

	challenge, err := c.ai.GenerateCodingChallenge(ctx, session.ContextToken, session.CVSummary, c.opts.CodingLanguage)
	if err != nil {
		c.logger.Error("Coding challenge generation failed", "session_id", session.ID, "error", err)
		return nil, err
	}

	var stored bool
	err = shared.RetryOnConflict(ctx, "store coding challenge", func() error {
		var err error
		stored, err = c.store.SetCodingIfAbsent(ctx, session.ID, *challenge)
		return err
	})
	if err != nil {
		return nil, err
	}
	if stored {
		c.logger.Info("Coding challenge generated", "session_id", session.ID, "title", challenge.Title)
		return &domain.Coding{Challenge: *challenge}, nil
	}

	winner, err := c.store.GetSession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("reload session: %w", err)
	}
	if winner == nil || winner.Coding == nil {
		return nil, fmt.Errorf("coding for session %s: %w", session.ID, domain.ErrPersistenceConflict)
	}
	return winner.Coding, nil
}

// SubmitCoding records the candidate's solution and execution summary. A later
// submission replaces an earlier one while the session is open.
func (c *StageController) SubmitCoding(ctx context.Context, token, solution string, results json.RawMessage) error {
	session, err := c.resolver.Resolve(ctx, token)
	if err != nil {
		return err
	}
	if session.Stage < domain.StageCoding {
		return fmt.Errorf("%w: coding submitted in stage %s", domain.ErrInvalidTransition, session.Stage)
	}

	err = shared.RetryOnConflict(ctx, "submit coding", func() error {
		return c.store.SubmitCoding(ctx, session.ID, solution, results)
	})
	if err != nil {
		return err
	}
	c.logger.Info("Coding solution submitted", "session_id", session.ID, "bytes", len(solution))
	return nil
}
