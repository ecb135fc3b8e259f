package auth

import "time"

// Identity is an authenticated external user keyed by the provider-issued id.
// The username and avatar are refreshed on every session creation.
type Identity struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session binds an opaque token to an identity for a fixed TTL.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PermissionGrant is a (identity, resource, action) authorization row.
// A nil ExpiresAt means the grant is permanent.
type PermissionGrant struct {
	UserID    string     `json:"user_id"`
	Resource  string     `json:"resource"`
	Action    Action     `json:"action"`
	GrantedBy string     `json:"granted_by,omitempty"`
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the grant is past its expiry at the given instant.
// Expired grants stay stored and are filtered at read time.
func (g PermissionGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// APIKeyType distinguishes deploy-time super keys from admin-issued keys.
type APIKeyType string

const (
	APIKeyTypeSuper APIKeyType = "super"
	APIKeyTypeAdmin APIKeyType = "admin"
)

// APIKey is a hashed, scoped credential independent of session state.
// Hash holds the sha256 hex digest of the raw secret and never serializes.
type APIKey struct {
	ID         string     `json:"id"`
	Type       APIKeyType `json:"key_type"`
	UserID     string     `json:"user_id,omitempty"`
	Name       string     `json:"name"`
	Hash       string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Active     bool       `json:"is_active"`
	CreatedBy  string     `json:"created_by,omitempty"`
}
