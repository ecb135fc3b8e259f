package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// memStore is an in-memory implementation of the three auth stores.
type memStore struct {
	mu         sync.Mutex
	identities map[string]Identity
	sessions   map[string]Session
	grants     map[string]PermissionGrant
	keys       map[string]APIKey
}

func newMemStore() *memStore {
	return &memStore{
		identities: make(map[string]Identity),
		sessions:   make(map[string]Session),
		grants:     make(map[string]PermissionGrant),
		keys:       make(map[string]APIKey),
	}
}

func grantKey(userID, resource string, action Action) string {
	return userID + "|" + resource + "|" + string(action)
}

func (m *memStore) UpsertIdentity(ctx context.Context, ident Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[ident.ID] = ident
	return nil
}

func (m *memStore) InsertSession(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) DeleteExpiredSessions(ctx context.Context, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memStore) FindSessionIdentity(ctx context.Context, sessionID string) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Identity{}, ErrNotFound
	}
	ident, ok := m.identities[s.UserID]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return ident, nil
}

func (m *memStore) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *memStore) ListIdentities(ctx context.Context, search string, limit int) ([]Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Identity
	needle := strings.ToLower(search)
	for _, ident := range m.identities {
		if needle != "" &&
			!strings.Contains(strings.ToLower(ident.Username), needle) &&
			!strings.Contains(strings.ToLower(ident.ID), needle) {
			continue
		}
		out = append(out, ident)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) EnsureIdentity(ctx context.Context, id, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[id]; !ok {
		m.identities[id] = Identity{ID: id, Username: username}
	}
	return nil
}

func (m *memStore) UpsertGrant(ctx context.Context, g PermissionGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[grantKey(g.UserID, g.Resource, g.Action)] = g
	return nil
}

func (m *memStore) DeleteGrant(ctx context.Context, userID, resource string, action Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.grants, grantKey(userID, resource, action))
	return nil
}

func (m *memStore) GrantsMatching(ctx context.Context, userID, resource string, actions []Action) ([]PermissionGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PermissionGrant
	for _, a := range actions {
		if g, ok := m.grants[grantKey(userID, resource, a)]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memStore) ResourceGrants(ctx context.Context, resource string, actions []Action) ([]PermissionGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PermissionGrant
	for _, g := range m.grants {
		if g.Resource != resource {
			continue
		}
		for _, a := range actions {
			if g.Action == a {
				out = append(out, g)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) ListGrants(ctx context.Context, userID string) ([]PermissionGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PermissionGrant
	for _, g := range m.grants {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Action < out[j].Action
	})
	return out, nil
}

func (m *memStore) InsertAPIKey(ctx context.Context, key APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key.ID] = key
	return nil
}

func (m *memStore) ListAPIKeys(ctx context.Context, userID string) ([]APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []APIKey
	for _, k := range m.keys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) DeactivateAPIKey(ctx context.Context, keyID, requesterID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[keyID]
	if !ok || !k.Active || (k.CreatedBy != requesterID && k.UserID != requesterID) {
		return 0, nil
	}
	k.Active = false
	m.keys[keyID] = k
	return 1, nil
}

func (m *memStore) FindAPIKeyByHash(ctx context.Context, hash string) (APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.Hash == hash {
			return k, nil
		}
	}
	return APIKey{}, ErrNotFound
}

func (m *memStore) TouchAPIKey(ctx context.Context, keyID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[keyID]
	if !ok {
		return ErrNotFound
	}
	used := now
	k.LastUsedAt = &used
	m.keys[keyID] = k
	return nil
}

var (
	_ SessionStore    = (*memStore)(nil)
	_ PermissionStore = (*memStore)(nil)
	_ APIKeyStore     = (*memStore)(nil)
)

// fakeClock is an adjustable time source for service tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
