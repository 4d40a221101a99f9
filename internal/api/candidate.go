package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/techscreen/internal/domain"
	"github.com/go-chi/chi/v5"
)

// SessionViewer resolves a token for read-only access, completed sessions included.
type SessionViewer interface {
	ResolveView(ctx context.Context, token string) (*domain.Session, error)
}

// StageService runs the token-scoped candidate operations.
type StageService interface {
	AdvanceStage(ctx context.Context, token, target string) (*domain.Session, error)
	GetOrCreateQuiz(ctx context.Context, token string) (*domain.Quiz, error)
	SubmitQuiz(ctx context.Context, token string, answers map[string]string) error
	GetOrCreateCoding(ctx context.Context, token string) (*domain.Coding, error)
	SubmitCoding(ctx context.Context, token, solution string, results json.RawMessage) error
}

// CandidateHandler serves the candidate's token-scoped session API.
type CandidateHandler struct {
	*Handler
	viewer SessionViewer
	stages StageService
}

// NewCandidateHandler creates a CandidateHandler.
func NewCandidateHandler(base *Handler, viewer SessionViewer, stages StageService) *CandidateHandler {
	return &CandidateHandler{Handler: base, viewer: viewer, stages: stages}
}

// RegisterRoutes registers candidate routes on a router mounted at /api/v1/interviews.
func (h *CandidateHandler) RegisterRoutes(r chi.Router) {
	r.Route("/session/{token}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/stage", h.AdvanceStage)
		r.Get("/quiz", h.GetQuiz)
		r.Post("/quiz/submit", h.SubmitQuiz)
		r.Get("/coding", h.GetCoding)
		r.Post("/coding/submit", h.SubmitCoding)
	})
}

// GetSession returns the candidate's view of the session.
func (h *CandidateHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.viewer.ResolveView(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, candidateView(session))
}

// AdvanceStage moves the session forward by one stage.
func (h *CandidateHandler) AdvanceStage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Stage string `json:"stage"`
	}
	if !decode(w, r, &body) {
		return
	}

	session, err := h.stages.AdvanceStage(r.Context(), chi.URLParam(r, "token"), body.Stage)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"session_id": session.ID,
		"stage":      session.EffectiveStage().String(),
	})
}

// GetQuiz returns the quiz, generating it on first access. Answer keys are redacted.
func (h *CandidateHandler) GetQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.stages.GetOrCreateQuiz(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, redactQuiz(quiz))
}

// SubmitQuiz records the candidate's quiz answers.
func (h *CandidateHandler) SubmitQuiz(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Results map[string]string `json:"results"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Results == nil {
		Error(w, http.StatusBadRequest, "results are required")
		return
	}

	if err := h.stages.SubmitQuiz(r.Context(), chi.URLParam(r, "token"), body.Results); err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "submitted"})
}

// GetCoding returns the coding challenge, generating it on first access.
func (h *CandidateHandler) GetCoding(w http.ResponseWriter, r *http.Request) {
	coding, err := h.stages.GetOrCreateCoding(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, coding)
}

// SubmitCoding records the candidate's solution and execution summary.
func (h *CandidateHandler) SubmitCoding(w http.ResponseWriter, r *http.Request) {
	var body codingSubmission
	if !decode(w, r, &body) {
		return
	}

	err := h.stages.SubmitCoding(r.Context(), chi.URLParam(r, "token"), body.Solution, body.Results)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "submitted"})
}
