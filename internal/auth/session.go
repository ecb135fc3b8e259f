package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionTTL is the fixed lifetime of a login session.
const SessionTTL = 7 * 24 * time.Hour

const userDirectoryLimit = 40

// Sessions issues and resolves login sessions.
type Sessions struct {
	store SessionStore
	now   func() time.Time
}

// SessionsOption customizes a Sessions service.
type SessionsOption func(*Sessions)

// WithSessionsClock overrides the time source.
func WithSessionsClock(now func() time.Time) SessionsOption {
	return func(s *Sessions) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSessions builds a session service over the given store.
func NewSessions(store SessionStore, opts ...SessionsOption) *Sessions {
	s := &Sessions{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create refreshes the identity profile and opens a new session for it.
func (s *Sessions) Create(ctx context.Context, ident Identity) (Session, error) {
	ident.ID = strings.TrimSpace(ident.ID)
	ident.Username = strings.TrimSpace(ident.Username)
	if ident.ID == "" {
		return Session{}, fmt.Errorf("%w: identity id is required", ErrInvalidInput)
	}
	if ident.Username == "" {
		return Session{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}

	now := s.now().UTC()
	ident.UpdatedAt = now
	if err := s.store.UpsertIdentity(ctx, ident); err != nil {
		return Session{}, fmt.Errorf("upsert identity: %w", err)
	}

	sess := Session{
		ID:        uuid.NewString(),
		UserID:    ident.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionTTL),
	}
	if err := s.store.InsertSession(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// Resolve maps a session token to its identity. Expired sessions across the
// whole table are swept first, so a stale token simply stops resolving.
func (s *Sessions) Resolve(ctx context.Context, sessionID string) (Identity, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Identity{}, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	if err := s.store.DeleteExpiredSessions(ctx, s.now().UTC()); err != nil {
		return Identity{}, fmt.Errorf("sweep sessions: %w", err)
	}
	ident, err := s.store.FindSessionIdentity(ctx, sessionID)
	if err != nil {
		return Identity{}, err
	}
	return ident, nil
}

// Revoke deletes the session. Unknown tokens are not an error.
func (s *Sessions) Revoke(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	return s.store.DeleteSession(ctx, sessionID)
}

// ListUsers returns the identity directory, optionally filtered by a
// case-insensitive username or id substring.
func (s *Sessions) ListUsers(ctx context.Context, search string) ([]Identity, error) {
	return s.store.ListIdentities(ctx, strings.TrimSpace(search), userDirectoryLimit)
}
