package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndAuthenticate(t *testing.T) {
	store := newMemStore()
	svc := NewAPIKeys(store)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "u1", "ci key", "admin1", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.HasPrefix(issued.RawKey, "PMA_Admin.u1.") {
		t.Fatalf("raw key = %q, want PMA_Admin.u1. prefix", issued.RawKey)
	}
	if issued.ExpiresAt != nil {
		t.Fatal("key without expiry must have nil ExpiresAt")
	}

	key, err := svc.Authenticate(ctx, issued.RawKey)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if key.ID != issued.KeyID || key.UserID != "u1" {
		t.Fatalf("authenticated key = %+v", key)
	}
	if key.Hash != "" {
		t.Fatal("hash must not leave the service")
	}
	if key.LastUsedAt == nil {
		t.Fatal("authenticate must record last_used_at")
	}
}

func TestAuthenticateStoresOnlyHash(t *testing.T) {
	store := newMemStore()
	svc := NewAPIKeys(store)

	issued, err := svc.Issue(context.Background(), "u1", "k", "u1", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	stored := store.keys[issued.KeyID]
	if stored.Hash == issued.RawKey {
		t.Fatal("raw key persisted verbatim")
	}
	if stored.Hash != HashKey(issued.RawKey) {
		t.Fatal("stored hash does not match sha256 of raw key")
	}
	if len(stored.Hash) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(stored.Hash))
	}
}

func TestAuthenticateUnknownKey(t *testing.T) {
	svc := NewAPIKeys(newMemStore())
	if _, err := svc.Authenticate(context.Background(), "PMA_Admin.u1.bogus"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err=%v, want ErrUnauthenticated", err)
	}
}

func TestAuthenticateExpiredKey(t *testing.T) {
	store := newMemStore()
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewAPIKeys(store, WithAPIKeysClock(clock.Now))
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "u1", "short", "u1", 1)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.ExpiresAt == nil {
		t.Fatal("expected expiry on the issued key")
	}

	if _, err := svc.Authenticate(ctx, issued.RawKey); err != nil {
		t.Fatalf("Authenticate before expiry: %v", err)
	}
	clock.Advance(48 * time.Hour)
	if _, err := svc.Authenticate(ctx, issued.RawKey); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Authenticate after expiry: err=%v, want ErrUnauthenticated", err)
	}
}

func TestRevokeOwnKey(t *testing.T) {
	store := newMemStore()
	svc := NewAPIKeys(store)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "u1", "k", "u1", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := svc.Revoke(ctx, issued.KeyID, "u1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.Authenticate(ctx, issued.RawKey); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Authenticate revoked key: err=%v, want ErrUnauthenticated", err)
	}
}

func TestRevokeForeignKeyIsSilentNoop(t *testing.T) {
	store := newMemStore()
	svc := NewAPIKeys(store)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "u1", "k", "u1", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// A requester outside the key's creator/owner scope gets a success
	// response and the key stays active.
	if err := svc.Revoke(ctx, issued.KeyID, "intruder"); err != nil {
		t.Fatalf("Revoke foreign: %v", err)
	}
	if _, err := svc.Authenticate(ctx, issued.RawKey); err != nil {
		t.Fatalf("key must survive a foreign revoke: %v", err)
	}

	// Same for a key id that does not exist at all.
	if err := svc.Revoke(ctx, "no-such-key", "u1"); err != nil {
		t.Fatalf("Revoke unknown id: %v", err)
	}
}

func TestRevokeByCreator(t *testing.T) {
	store := newMemStore()
	svc := NewAPIKeys(store)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "owner1", "k", "admin1", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := svc.Revoke(ctx, issued.KeyID, "admin1"); err != nil {
		t.Fatalf("Revoke by creator: %v", err)
	}
	if _, err := svc.Authenticate(ctx, issued.RawKey); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("creator revoke must deactivate the key, err=%v", err)
	}
}

func TestListHidesHashes(t *testing.T) {
	store := newMemStore()
	svc := NewAPIKeys(store)
	ctx := context.Background()

	if _, err := svc.Issue(ctx, "u1", "a", "u1", 0); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Issue(ctx, "u1", "b", "u1", 0); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Issue(ctx, "u2", "c", "u2", 0); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	keys, err := svc.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
	for _, k := range keys {
		if k.Hash != "" {
			t.Fatalf("key %s leaks its hash", k.ID)
		}
	}
}

func TestIssueValidation(t *testing.T) {
	svc := NewAPIKeys(newMemStore())
	ctx := context.Background()

	if _, err := svc.Issue(ctx, "", "k", "u1", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing owner: err=%v", err)
	}
	if _, err := svc.Issue(ctx, "u1", "  ", "u1", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank name: err=%v", err)
	}
	if _, err := svc.Issue(ctx, "u1", "k", "u1", maxGrantDays+1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expiry too long: err=%v", err)
	}
}

func TestIssueNonPositiveExpiryIsPermanent(t *testing.T) {
	svc := NewAPIKeys(newMemStore())
	ctx := context.Background()

	for _, days := range []int{0, -1} {
		issued, err := svc.Issue(ctx, "u1", "k", "u1", days)
		if err != nil {
			t.Fatalf("Issue(days=%d): %v", days, err)
		}
		if issued.ExpiresAt != nil {
			t.Fatalf("Issue(days=%d): expires_at = %v, want permanent", days, issued.ExpiresAt)
		}
		if _, err := svc.Authenticate(ctx, issued.RawKey); err != nil {
			t.Fatalf("Authenticate(days=%d): %v", days, err)
		}
	}
}
