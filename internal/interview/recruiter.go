package interview

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/techscreen/internal/aigateway"
	"github.com/ashureev/techscreen/internal/domain"
	"github.com/ashureev/techscreen/internal/shared"
	"github.com/ashureev/techscreen/internal/store"
	"github.com/google/uuid"
)

// inviteTokenBytes is the size of the random part of an access token.
const inviteTokenBytes = 32

// ErrInvalidInput is returned for malformed recruiter requests.
var ErrInvalidInput = errors.New("invalid input")

// NewSession is the recruiter input for creating a session from a parsed CV.
type NewSession struct {
	CandidateName string `json:"candidate_name"`
	CVSummary     string `json:"cv_summary"`
	ContextToken  string `json:"cv_session_id"`
	ChunkCount    int    `json:"chunk_count"`
}

// Invite is a freshly issued candidate access token.
type Invite struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Sessions implements the tenant-scoped recruiter operations.
type Sessions struct {
	store     store.Repository
	ai        aigateway.Gateway
	finalizer *Finalizer
	opts      Options
	now       func() time.Time
	logger    *slog.Logger
}

// NewSessions creates the recruiter service.
func NewSessions(repo store.Repository, ai aigateway.Gateway, finalizer *Finalizer, opts Options, logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		store:     repo,
		ai:        ai,
		finalizer: finalizer,
		opts:      opts.withDefaults(),
		now:       time.Now,
		logger:    logger,
	}
}

// Create stores a new pending session for a CV the AI service already parsed.
func (s *Sessions) Create(ctx context.Context, tenantID string, in NewSession) (*domain.Session, error) {
	in.CandidateName = strings.TrimSpace(in.CandidateName)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant is required", ErrInvalidInput)
	}
	if in.ContextToken == "" {
		return nil, fmt.Errorf("%w: cv_session_id is required", ErrInvalidInput)
	}
	if in.CandidateName == "" {
		in.CandidateName = "Candidate"
	}

	now := s.now()
	session := &domain.Session{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		CandidateName: in.CandidateName,
		CVSummary:     in.CVSummary,
		ContextToken:  in.ContextToken,
		ChunkCount:    in.ChunkCount,
		Status:        domain.StatusPending,
		Stage:         domain.StageInit,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("Session created", "session_id", session.ID, "tenant_id", tenantID)
	return session, nil
}

// CreateFromCV sends an uploaded CV to the AI service and creates a session for it.
func (s *Sessions) CreateFromCV(ctx context.Context, tenantID, candidateName, filename string, file io.Reader) (*domain.Session, *aigateway.CVParseResult, error) {
	if !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return nil, nil, fmt.Errorf("%w: only PDF files are supported", ErrInvalidInput)
	}

	parsed, err := s.ai.ParseCV(ctx, filename, file)
	if err != nil {
		s.logger.Error("CV parsing failed", "tenant_id", tenantID, "error", err)
		return nil, nil, err
	}

	summary := parsed.Summary
	if summary == "" {
		summary = strings.Join(parsed.Preview, "\n\n")
	}

	session, err := s.Create(ctx, tenantID, NewSession{
		CandidateName: candidateName,
		CVSummary:     summary,
		ContextToken:  parsed.ContextToken,
		ChunkCount:    parsed.ChunkCount,
	})
	if err != nil {
		return nil, nil, err
	}
	return session, parsed, nil
}

// List returns the tenant's sessions, newest first.
func (s *Sessions) List(ctx context.Context, tenantID string) ([]*domain.Session, error) {
	sessions, err := s.store.ListSessionsByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Get returns one of the tenant's sessions. Sessions of other tenants are not found.
func (s *Sessions) Get(ctx context.Context, tenantID, id string) (*domain.Session, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil || session.TenantID != tenantID {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return session, nil
}

// Invite issues a new access token for the session, replacing any previous one.
func (s *Sessions) Invite(ctx context.Context, tenantID, id string) (*Invite, error) {
	session, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if session.IsCompleted() {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrAlreadyCompleted)
	}

	token, err := newAccessToken()
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().Add(s.opts.InviteTTL)

	err = shared.RetryOnConflict(ctx, "set access token", func() error {
		return s.store.SetAccessToken(ctx, id, token, expiresAt)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Invite issued", "session_id", id, "expires_at", expiresAt)
	return &Invite{SessionID: id, Token: token, ExpiresAt: expiresAt}, nil
}

// Evaluate runs the finalizer on the tenant's session.
func (s *Sessions) Evaluate(ctx context.Context, tenantID, id string) (*domain.Session, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.finalizer.Finalize(ctx, id)
}

func newAccessToken() (string, error) {
	buf := make([]byte, inviteTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate access token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
