package auth

import (
	"context"
	"time"
)

// SessionStore persists identities and their sessions.
type SessionStore interface {
	UpsertIdentity(ctx context.Context, ident Identity) error
	InsertSession(ctx context.Context, s Session) error
	// DeleteExpiredSessions removes every session with expires_at <= now.
	DeleteExpiredSessions(ctx context.Context, now time.Time) error
	// FindSessionIdentity returns the identity joined through the session row.
	FindSessionIdentity(ctx context.Context, sessionID string) (Identity, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ListIdentities(ctx context.Context, search string, limit int) ([]Identity, error)
}

// PermissionStore persists permission grants.
type PermissionStore interface {
	// EnsureIdentity inserts a shadow identity row when the grantee is
	// previously unknown; existing rows are left untouched.
	EnsureIdentity(ctx context.Context, id, username string) error
	UpsertGrant(ctx context.Context, g PermissionGrant) error
	DeleteGrant(ctx context.Context, userID, resource string, action Action) error
	// GrantsMatching returns the rows for (userID, resource) whose action is
	// in actions, including expired rows; expiry is filtered by the caller.
	GrantsMatching(ctx context.Context, userID, resource string, actions []Action) ([]PermissionGrant, error)
	// ResourceGrants returns rows for the resource across all identities.
	ResourceGrants(ctx context.Context, resource string, actions []Action) ([]PermissionGrant, error)
	ListGrants(ctx context.Context, userID string) ([]PermissionGrant, error)
}

// APIKeyStore persists hashed API credentials.
type APIKeyStore interface {
	InsertAPIKey(ctx context.Context, key APIKey) error
	ListAPIKeys(ctx context.Context, userID string) ([]APIKey, error)
	// DeactivateAPIKey clears the active flag on the key, but only when the
	// requester created or owns it. Returns the number of rows affected.
	DeactivateAPIKey(ctx context.Context, keyID, requesterID string) (int64, error)
	FindAPIKeyByHash(ctx context.Context, hash string) (APIKey, error)
	TouchAPIKey(ctx context.Context, keyID string, now time.Time) error
}
