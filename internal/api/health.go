package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger checks a dependency's availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports service health.
type HealthHandler struct {
	*Handler
	db Pinger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(base *Handler, db Pinger) *HealthHandler {
	return &HealthHandler{Handler: base, db: db}
}

// RegisterHealth registers the health route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}

// Health pings the database.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("Health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "unreachable"})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
}
