package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ashureev/techscreen/internal/aigateway"
	"github.com/ashureev/techscreen/internal/domain"
	"github.com/ashureev/techscreen/internal/identity"
	"github.com/ashureev/techscreen/internal/interview"
	"github.com/go-chi/chi/v5"
)

// RecruiterService runs the tenant-scoped session management operations.
type RecruiterService interface {
	Create(ctx context.Context, tenantID string, in interview.NewSession) (*domain.Session, error)
	CreateFromCV(ctx context.Context, tenantID, candidateName, filename string, file io.Reader) (*domain.Session, *aigateway.CVParseResult, error)
	List(ctx context.Context, tenantID string) ([]*domain.Session, error)
	Get(ctx context.Context, tenantID, id string) (*domain.Session, error)
	Invite(ctx context.Context, tenantID, id string) (*interview.Invite, error)
	Evaluate(ctx context.Context, tenantID, id string) (*domain.Session, error)
}

// RecruiterHandler serves the recruiter session management API.
type RecruiterHandler struct {
	*Handler
	sessions       RecruiterService
	maxUploadBytes int64
}

// NewRecruiterHandler creates a RecruiterHandler.
func NewRecruiterHandler(base *Handler, sessions RecruiterService, maxUploadBytes int64) *RecruiterHandler {
	return &RecruiterHandler{Handler: base, sessions: sessions, maxUploadBytes: maxUploadBytes}
}

// RegisterRoutes registers recruiter routes. The caller installs the identity middleware.
func (h *RecruiterHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Post("/upload", h.Upload)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/invite", h.Invite)
	r.Post("/{id}/evaluate", h.Evaluate)
}

// Create creates a session from an already parsed CV.
func (h *RecruiterHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body interview.NewSession
	if !decode(w, r, &body) {
		return
	}

	session, err := h.sessions.Create(r.Context(), identity.TenantIDFromContext(r.Context()), body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, detailView(session))
}

// Upload parses an uploaded PDF CV and creates a session from it.
func (h *RecruiterHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			h.logger.Debug("Failed to close upload", "error", closeErr)
		}
	}()

	ctx := r.Context()
	tenantID := identity.TenantIDFromContext(ctx)
	filename := filepath.Base(header.Filename)
	name := strings.TrimSpace(r.FormValue("candidate_name"))

	h.logger.Info("CV upload received",
		"tenant_id", tenantID,
		"filename", filename,
		"size", header.Size,
		"ip", identity.IPFromRequest(r))

	session, parsed, err := h.sessions.CreateFromCV(ctx, tenantID, name, filename, file)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]interface{}{
		"session": detailView(session),
		"cv":      parsed,
	})
}

// List returns the tenant's sessions, newest first.
func (h *RecruiterHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.Context(), identity.TenantIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, summaryView(s))
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

// Get returns the full session, including transcript and evaluation.
func (h *RecruiterHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Get(r.Context(), identity.TenantIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, detailView(session))
}

// Invite issues (or replaces) the candidate access token.
func (h *RecruiterHandler) Invite(w http.ResponseWriter, r *http.Request) {
	invite, err := h.sessions.Invite(r.Context(), identity.TenantIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, invite)
}

// Evaluate generates the report and completes the session.
func (h *RecruiterHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Evaluate(r.Context(), identity.TenantIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, detailView(session))
}
