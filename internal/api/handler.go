// Package api provides HTTP handlers for the techscreen API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/techscreen/internal/domain"
	"github.com/ashureev/techscreen/internal/interview"
)

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	logger *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFromError maps service errors to HTTP status codes and client messages.
func StatusFromError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrExpired):
		return http.StatusGone, "session access expired"
	case errors.Is(err, domain.ErrAlreadyCompleted):
		return http.StatusConflict, "session already completed"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid stage transition"
	case errors.Is(err, domain.ErrAlreadySubmitted):
		return http.StatusConflict, "already submitted"
	case errors.Is(err, domain.ErrBudgetReached):
		return http.StatusConflict, "interview is being finalized"
	case errors.Is(err, domain.ErrFinalizationInProgress):
		return http.StatusConflict, "report is already being generated"
	case errors.Is(err, domain.ErrAIServiceUnavailable):
		return http.StatusServiceUnavailable, "AI service unavailable"
	case errors.Is(err, domain.ErrPersistenceConflict):
		return http.StatusServiceUnavailable, "temporarily busy, please retry"
	case errors.Is(err, interview.ErrInvalidInput), errors.Is(err, interview.ErrEmptyMessage):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// fail writes the mapped error response. Server-side failures are logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := StatusFromError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err)
	}
	Error(w, status, message)
}

// decode reads a JSON body into v, rejecting oversized or malformed input.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
