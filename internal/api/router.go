package api

import (
	"net/http"

	"github.com/ashureev/techscreen/internal/identity"
	"github.com/ashureev/techscreen/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig collects the handlers and settings the router mounts.
type RouterConfig struct {
	Base           *Handler
	DB             Pinger
	Viewer         SessionViewer
	Stages         StageService
	Recruiter      RecruiterService
	Verifier       *identity.Verifier
	Realtime       http.Handler
	AllowedOrigins []string
	MaxUploadBytes int64
}

// NewRouter builds the HTTP routing tree.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	NewHealthHandler(cfg.Base, cfg.DB).RegisterHealth(r)

	candidate := NewCandidateHandler(cfg.Base, cfg.Viewer, cfg.Stages)
	recruiter := NewRecruiterHandler(cfg.Base, cfg.Recruiter, cfg.MaxUploadBytes)

	r.Route("/api/v1/interviews", func(r chi.Router) {
		// Candidate routes authenticate by the token in the path.
		candidate.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(identity.Middleware(cfg.Verifier))
			recruiter.RegisterRoutes(r)
		})
	})

	if cfg.Realtime != nil {
		r.Get("/ws", cfg.Realtime.ServeHTTP)
	}

	return r
}
