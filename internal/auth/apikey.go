package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"pmrp.org/internal/ids"
)

const (
	apiKeyPrefix      = "PMA_Admin"
	apiKeySecretBytes = 24
)

// APIKeys issues and authenticates hashed API credentials.
type APIKeys struct {
	store APIKeyStore
	now   func() time.Time
}

// APIKeysOption customizes an APIKeys service.
type APIKeysOption func(*APIKeys)

// WithAPIKeysClock overrides the time source.
func WithAPIKeysClock(now func() time.Time) APIKeysOption {
	return func(s *APIKeys) {
		if now != nil {
			s.now = now
		}
	}
}

// NewAPIKeys builds an API key service over the given store.
func NewAPIKeys(store APIKeyStore, opts ...APIKeysOption) *APIKeys {
	s := &APIKeys{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssuedAPIKey carries the one-time plaintext credential back to the caller.
// The raw key is never stored and cannot be recovered later.
type IssuedAPIKey struct {
	RawKey    string     `json:"api_key"`
	KeyID     string     `json:"key_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Issue mints a key for the owner. The raw form is
// PMA_Admin.<ownerID>.<secret>; only its sha256 digest is persisted.
// A non-positive expiresInDays makes the key permanent.
func (s *APIKeys) Issue(ctx context.Context, ownerID, name, createdBy string, expiresInDays int) (IssuedAPIKey, error) {
	ownerID = strings.TrimSpace(ownerID)
	name = strings.TrimSpace(name)
	if ownerID == "" {
		return IssuedAPIKey{}, fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	if name == "" {
		return IssuedAPIKey{}, fmt.Errorf("%w: key name is required", ErrInvalidInput)
	}
	if expiresInDays > maxGrantDays {
		return IssuedAPIKey{}, fmt.Errorf("%w: expiry must be at most %d days", ErrInvalidInput, maxGrantDays)
	}

	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return IssuedAPIKey{}, fmt.Errorf("generate secret: %w", err)
	}
	raw := fmt.Sprintf("%s.%s.%s", apiKeyPrefix, ownerID, base64.RawURLEncoding.EncodeToString(secret))

	now := s.now().UTC()
	key := APIKey{
		ID:        ids.New(),
		Type:      APIKeyTypeAdmin,
		UserID:    ownerID,
		Name:      name,
		Hash:      HashKey(raw),
		CreatedAt: now,
		Active:    true,
		CreatedBy: strings.TrimSpace(createdBy),
	}
	if expiresInDays > 0 {
		exp := now.AddDate(0, 0, expiresInDays)
		key.ExpiresAt = &exp
	}
	if err := s.store.InsertAPIKey(ctx, key); err != nil {
		return IssuedAPIKey{}, fmt.Errorf("insert api key: %w", err)
	}
	return IssuedAPIKey{RawKey: raw, KeyID: key.ID, ExpiresAt: key.ExpiresAt}, nil
}

// List returns the owner's keys with hashes blanked.
func (s *APIKeys) List(ctx context.Context, ownerID string) ([]APIKey, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	keys, err := s.store.ListAPIKeys(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		keys[i].Hash = ""
	}
	return keys, nil
}

// Revoke deactivates a key the requester created or owns. Revoking a key
// outside the requester's scope succeeds without touching anything, so the
// response does not reveal whether the key exists.
func (s *APIKeys) Revoke(ctx context.Context, keyID, requesterID string) error {
	keyID = strings.TrimSpace(keyID)
	requesterID = strings.TrimSpace(requesterID)
	if keyID == "" || requesterID == "" {
		return fmt.Errorf("%w: key id and requester id are required", ErrInvalidInput)
	}
	if _, err := s.store.DeactivateAPIKey(ctx, keyID, requesterID); err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	return nil
}

// Authenticate resolves a raw credential to its key record. The key must be
// active and unexpired; a successful lookup refreshes last_used_at.
func (s *APIKeys) Authenticate(ctx context.Context, rawKey string) (APIKey, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return APIKey{}, fmt.Errorf("%w: api key is required", ErrUnauthenticated)
	}
	key, err := s.store.FindAPIKeyByHash(ctx, HashKey(rawKey))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return APIKey{}, fmt.Errorf("%w: unknown api key", ErrUnauthenticated)
		}
		return APIKey{}, err
	}
	now := s.now().UTC()
	if !key.Active {
		return APIKey{}, fmt.Errorf("%w: api key is revoked", ErrUnauthenticated)
	}
	if key.ExpiresAt != nil && !key.ExpiresAt.After(now) {
		return APIKey{}, fmt.Errorf("%w: api key is expired", ErrUnauthenticated)
	}
	if err := s.store.TouchAPIKey(ctx, key.ID, now); err != nil {
		return APIKey{}, fmt.Errorf("touch api key: %w", err)
	}
	used := now
	key.LastUsedAt = &used
	key.Hash = ""
	return key, nil
}

// HashKey returns the hex sha256 digest under which a raw key is stored.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}
