package httpapi

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"pmrp.org/internal/audit"
	"pmrp.org/internal/auth"
	"pmrp.org/internal/openings"
	"pmrp.org/internal/stream"
)

// stubStore is an in-memory backend for handler tests.
type stubStore struct {
	mu         sync.Mutex
	identities map[string]auth.Identity
	sessions   map[string]auth.Session
	grants     map[string]auth.PermissionGrant
	keys       map[string]auth.APIKey
	posts      map[string]openings.Opening
}

func newStubStore() *stubStore {
	return &stubStore{
		identities: make(map[string]auth.Identity),
		sessions:   make(map[string]auth.Session),
		grants:     make(map[string]auth.PermissionGrant),
		keys:       make(map[string]auth.APIKey),
		posts:      make(map[string]openings.Opening),
	}
}

func stubGrantKey(userID, resource string, action auth.Action) string {
	return userID + "|" + resource + "|" + string(action)
}

func (s *stubStore) UpsertIdentity(ctx context.Context, ident auth.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[ident.ID] = ident
	return nil
}

func (s *stubStore) InsertSession(ctx context.Context, sess auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *stubStore) DeleteExpiredSessions(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.sessions, id)
		}
	}
	return nil
}

func (s *stubStore) FindSessionIdentity(ctx context.Context, sessionID string) (auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return auth.Identity{}, auth.ErrNotFound
	}
	ident, ok := s.identities[sess.UserID]
	if !ok {
		return auth.Identity{}, auth.ErrNotFound
	}
	return ident, nil
}

func (s *stubStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *stubStore) ListIdentities(ctx context.Context, search string, limit int) ([]auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.Identity
	needle := strings.ToLower(search)
	for _, ident := range s.identities {
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

func (s *stubStore) EnsureIdentity(ctx context.Context, id, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[id]; !ok {
		s.identities[id] = auth.Identity{ID: id, Username: username}
	}
	return nil
}

func (s *stubStore) UpsertGrant(ctx context.Context, g auth.PermissionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[stubGrantKey(g.UserID, g.Resource, g.Action)] = g
	return nil
}

func (s *stubStore) DeleteGrant(ctx context.Context, userID, resource string, action auth.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, stubGrantKey(userID, resource, action))
	return nil
}

func (s *stubStore) GrantsMatching(ctx context.Context, userID, resource string, actions []auth.Action) ([]auth.PermissionGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.PermissionGrant
	for _, a := range actions {
		if g, ok := s.grants[stubGrantKey(userID, resource, a)]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *stubStore) ResourceGrants(ctx context.Context, resource string, actions []auth.Action) ([]auth.PermissionGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.PermissionGrant
	for _, g := range s.grants {
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

func (s *stubStore) ListGrants(ctx context.Context, userID string) ([]auth.PermissionGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.PermissionGrant
	for _, g := range s.grants {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *stubStore) InsertAPIKey(ctx context.Context, key auth.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.ID] = key
	return nil
}

func (s *stubStore) ListAPIKeys(ctx context.Context, userID string) ([]auth.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.APIKey
	for _, k := range s.keys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *stubStore) DeactivateAPIKey(ctx context.Context, keyID, requesterID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok || !k.Active || (k.CreatedBy != requesterID && k.UserID != requesterID) {
		return 0, nil
	}
	k.Active = false
	s.keys[keyID] = k
	return 1, nil
}

func (s *stubStore) FindAPIKeyByHash(ctx context.Context, hash string) (auth.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.Hash == hash {
			return k, nil
		}
	}
	return auth.APIKey{}, auth.ErrNotFound
}

func (s *stubStore) TouchAPIKey(ctx context.Context, keyID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok {
		return auth.ErrNotFound
	}
	used := now
	k.LastUsedAt = &used
	s.keys[keyID] = k
	return nil
}

func (s *stubStore) Insert(ctx context.Context, o openings.Opening) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[o.ID] = o
	return nil
}

func (s *stubStore) Get(ctx context.Context, id string) (openings.Opening, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.posts[id]
	if !ok {
		return openings.Opening{}, openings.ErrNotFound
	}
	return o, nil
}

func (s *stubStore) List(ctx context.Context) ([]openings.Opening, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]openings.Opening, 0, len(s.posts))
	for _, o := range s.posts {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *stubStore) Update(ctx context.Context, id string, p openings.Patch, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.posts[id]
	if !ok {
		return 0, nil
	}
	if p.Title != nil {
		o.Title = *p.Title
	}
	if p.Description != nil {
		o.Description = *p.Description
	}
	if p.Category != nil {
		o.Category = openings.Category(*p.Category)
	}
	if p.Tags != nil {
		o.Tags = *p.Tags
	}
	if p.Contact != nil {
		o.Contact = *p.Contact
	}
	o.UpdatedAt = now
	s.posts[id] = o
	return 1, nil
}

func (s *stubStore) MarkClosed(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.posts[id]
	if !ok || o.ClosedAt != nil {
		return false, nil
	}
	o.ClosedAt = &now
	o.UpdatedAt = now
	s.posts[id] = o
	return true, nil
}

func (s *stubStore) Delete(ctx context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[id]; !ok {
		return 0, nil
	}
	delete(s.posts, id)
	return 1, nil
}

func (s *stubStore) Transfer(ctx context.Context, id string, owner openings.Author, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.posts[id]
	if !ok {
		return 0, nil
	}
	o.AuthorID = owner.ID
	o.AuthorName = owner.Name
	o.UpdatedAt = now
	s.posts[id] = o
	return 1, nil
}

func (s *stubStore) EnsureAuthor(ctx context.Context, owner openings.Author) error {
	return s.EnsureIdentity(ctx, owner.ID, owner.Name)
}

var (
	_ auth.SessionStore    = (*stubStore)(nil)
	_ auth.PermissionStore = (*stubStore)(nil)
	_ auth.APIKeyStore     = (*stubStore)(nil)
	_ openings.Store       = (*stubStore)(nil)
)

// stubStats records audit entries in memory and serves canned stats.
type stubStats struct {
	mu      sync.Mutex
	entries []audit.Entry
	stats   audit.Stats
}

func (s *stubStats) Record(ctx context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *stubStats) Stats(ctx context.Context, since time.Time) (audit.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats, nil
}

var (
	_ audit.Recorder      = (*stubStats)(nil)
	_ audit.StatsProvider = (*stubStats)(nil)
)

// testEnv bundles a fully wired API over in-memory stores.
type testEnv struct {
	api      *API
	store    *stubStore
	sessions *auth.Sessions
	ledger   *auth.Ledger
	apiKeys  *auth.APIKeys
	posts    *openings.Service
	audit    *stubStats
}

func newTestEnv(adminIDs ...string) *testEnv {
	store := newStubStore()
	sessions := auth.NewSessions(store)
	ledger := auth.NewLedger(store, auth.WithAdminAllowlist(adminIDs...))
	apiKeys := auth.NewAPIKeys(store)
	hub := stream.New()
	posts := openings.NewService(store, openings.WithEventSink(hub))
	stats := &stubStats{}

	api := New(Config{Version: "test", FrontendURL: "http://localhost:3000"}, Deps{
		Sessions: sessions,
		Ledger:   ledger,
		APIKeys:  apiKeys,
		Openings: posts,
		Stream:   hub,
		Recorder: stats,
		Stats:    stats,
	})
	return &testEnv{
		api:      api,
		store:    store,
		sessions: sessions,
		ledger:   ledger,
		apiKeys:  apiKeys,
		posts:    posts,
		audit:    stats,
	}
}
