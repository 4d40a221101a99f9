package interview

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/techscreen/internal/domain"
	"github.com/ashureev/techscreen/internal/store"
)

// Resolver maps candidate access tokens to sessions.
type Resolver struct {
	store store.Repository
	now   func() time.Time
}

// NewResolver creates a Resolver backed by repo.
func NewResolver(repo store.Repository) *Resolver {
	return &Resolver{store: repo, now: time.Now}
}

// Resolve returns the open session behind token. Expiry is checked before
// completion, so an expired token never reveals the session's status.
func (r *Resolver) Resolve(ctx context.Context, token string) (*domain.Session, error) {
	session, err := r.ResolveView(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.IsCompleted() {
		return nil, fmt.Errorf("session %s: %w", session.ID, domain.ErrAlreadyCompleted)
	}
	return session, nil
}

// ResolveView is Resolve without the completion check, for read-only views.
func (r *Resolver) ResolveView(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, fmt.Errorf("empty token: %w", domain.ErrNotFound)
	}
	session, err := r.store.GetSessionByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("unknown token: %w", domain.ErrNotFound)
	}
	if session.IsExpired(r.now()) {
		return nil, fmt.Errorf("session %s: %w", session.ID, domain.ErrExpired)
	}
	return session, nil
}
