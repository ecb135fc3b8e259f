package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// maxGrantDays caps the expiry window on a time-bound grant.
const maxGrantDays = 3650

// Ledger manages permission grants and answers access questions.
type Ledger struct {
	store     PermissionStore
	allowlist map[string]struct{}
	now       func() time.Time
}

// LedgerOption customizes a Ledger.
type LedgerOption func(*Ledger)

// WithAdminAllowlist marks the given identity ids as unconditional admin
// console users.
func WithAdminAllowlist(ids ...string) LedgerOption {
	return func(l *Ledger) {
		for _, id := range ids {
			id = strings.TrimSpace(id)
			if id != "" {
				l.allowlist[id] = struct{}{}
			}
		}
	}
}

// WithLedgerClock overrides the time source.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger builds a permission ledger over the given store.
func NewLedger(store PermissionStore, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:     store,
		allowlist: make(map[string]struct{}),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GrantInput describes one grant request.
type GrantInput struct {
	UserID        string
	Resource      string
	Action        Action
	GrantedBy     string
	ExpiresInDays int
}

// Grant records a permission. Re-granting the same triple refreshes the
// grant timestamp, grantor and expiry. A non-positive ExpiresInDays makes
// the grant permanent. Unknown grantees get a shadow identity row so the
// grant has something to reference.
func (l *Ledger) Grant(ctx context.Context, in GrantInput) (PermissionGrant, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		return PermissionGrant{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	resource, err := ParseResource(in.Resource)
	if err != nil {
		return PermissionGrant{}, err
	}
	if !in.Action.Valid() {
		return PermissionGrant{}, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, in.Action)
	}
	if in.ExpiresInDays > maxGrantDays {
		return PermissionGrant{}, fmt.Errorf("%w: expiry must be at most %d days", ErrInvalidInput, maxGrantDays)
	}

	if err := l.store.EnsureIdentity(ctx, in.UserID, ShadowUsername(in.UserID)); err != nil {
		return PermissionGrant{}, fmt.Errorf("ensure identity: %w", err)
	}

	now := l.now().UTC()
	grant := PermissionGrant{
		UserID:    in.UserID,
		Resource:  resource,
		Action:    in.Action,
		GrantedBy: strings.TrimSpace(in.GrantedBy),
		GrantedAt: now,
	}
	if in.ExpiresInDays > 0 {
		exp := now.AddDate(0, 0, in.ExpiresInDays)
		grant.ExpiresAt = &exp
	}
	if err := l.store.UpsertGrant(ctx, grant); err != nil {
		return PermissionGrant{}, fmt.Errorf("upsert grant: %w", err)
	}
	return grant, nil
}

// Revoke deletes a grant. Revoking a grant that does not exist is a no-op.
func (l *Ledger) Revoke(ctx context.Context, userID, resource string, action Action) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	resource, err := ParseResource(resource)
	if err != nil {
		return err
	}
	if !action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidInput, action)
	}
	return l.store.DeleteGrant(ctx, userID, resource, action)
}

// HasAccess reports whether the identity holds a live grant for the action,
// either directly or through the per-resource admin wildcard.
func (l *Ledger) HasAccess(ctx context.Context, userID, resource string, action Action) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || resource == "" || !action.Valid() {
		return false, fmt.Errorf("%w: user id, resource and action are required", ErrInvalidInput)
	}
	actions := []Action{action}
	if action != ActionAdmin {
		actions = append(actions, ActionAdmin)
	}
	grants, err := l.store.GrantsMatching(ctx, userID, resource, actions)
	if err != nil {
		return false, fmt.Errorf("load grants: %w", err)
	}
	now := l.now().UTC()
	for _, g := range grants {
		if !g.Expired(now) {
			return true, nil
		}
	}
	return false, nil
}

// CanViewPage answers the page gate. Only live view or read grants gate a
// page: with none on record the page is open to everyone, the first such
// grant flips it to restricted, and when the last one expires it reopens.
func (l *Ledger) CanViewPage(ctx context.Context, userID, path string) (bool, error) {
	resource := PageResource(path)
	actions := []Action{ActionView, ActionRead}

	all, err := l.store.ResourceGrants(ctx, resource, actions)
	if err != nil {
		return false, fmt.Errorf("load page grants: %w", err)
	}
	now := l.now().UTC()
	var live []PermissionGrant
	for _, g := range all {
		if !g.Expired(now) {
			live = append(live, g)
		}
	}
	if len(live) == 0 {
		return true, nil
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, nil
	}
	for _, g := range live {
		if g.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// IsAdminConsoleUser reports whether the identity may use the admin console,
// via the static allowlist or a live grant on one of the console resources.
func (l *Ledger) IsAdminConsoleUser(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, nil
	}
	if _, ok := l.allowlist[userID]; ok {
		return true, nil
	}
	now := l.now().UTC()
	for resource, actions := range adminConsoleResources {
		grants, err := l.store.GrantsMatching(ctx, userID, resource, actions)
		if err != nil {
			return false, fmt.Errorf("load grants: %w", err)
		}
		for _, g := range grants {
			if !g.Expired(now) {
				return true, nil
			}
		}
	}
	return false, nil
}

// ListGrants returns every grant on record for the identity, expired ones
// included.
func (l *Ledger) ListGrants(ctx context.Context, userID string) ([]PermissionGrant, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return l.store.ListGrants(ctx, userID)
}

// ShadowUsername is the placeholder name recorded for identities that have
// never logged in, e.g. "Unregistered-483920".
func ShadowUsername(userID string) string {
	suffix := userID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return "Unregistered-" + suffix
}
