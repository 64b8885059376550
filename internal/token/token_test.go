package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"slices"
	"testing"
	"time"

	"gatekit.org/internal/authz"
	"gatekit.org/internal/keys"
)

var testIdentity = Identity{Issuer: "gatekit-test", Subject: "tokens", Audience: "gatekit-clients"}

func testKeypair(t *testing.T) *keys.Keypair {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate test key: %v", err)
	}
	return &keys.Keypair{Kid: "testkid", Private: priv, Public: &priv.PublicKey}
}

func testService(t *testing.T, store Store, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(testKeypair(t), store, testIdentity, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := testService(t, store)

	snap := authz.Snapshot{
		Users:   []string{"alice"},
		Groups:  []string{"administrators"},
		Roles:   []string{"admin"},
		Actions: []string{"CREATE_USER"},
	}
	issued, err := svc.Issue(ctx, snap, 30*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.TokenID == "" || issued.Signed == "" {
		t.Fatalf("incomplete issue result: %+v", issued)
	}

	claims, err := svc.Verify(issued.Signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.TokenID != issued.TokenID {
		t.Fatalf("token id mismatch: envelope %s, issued %s", claims.TokenID, issued.TokenID)
	}
	if !slices.Equal(claims.Permissions.Groups, snap.Groups) || !slices.Equal(claims.Permissions.Actions, snap.Actions) {
		t.Fatalf("permission snapshot not preserved: %+v", claims.Permissions)
	}

	active, err := svc.IsActive(ctx, issued.TokenID)
	if err != nil {
		t.Fatalf("IsActive: %v", err)
	}
	if !active {
		t.Fatalf("freshly issued token should be active")
	}

	rec, err := store.Get(ctx, issued.TokenID)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	if rec.Username != "alice" {
		t.Fatalf("unexpected record owner: %s", rec.Username)
	}
	if !rec.ExpiresAt.Equal(issued.ExpiresAt) {
		t.Fatalf("record and envelope expirations differ: %v vs %v", rec.ExpiresAt, issued.ExpiresAt)
	}
}

func TestIssueRequiresUsername(t *testing.T) {
	svc := testService(t, NewMemoryStore())
	if _, err := svc.Issue(context.Background(), authz.Snapshot{Groups: []string{"g"}}, time.Minute); err == nil {
		t.Fatalf("expected error for snapshot without username")
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := testService(t, NewMemoryStore())

	issued, err := svc.Issue(ctx, authz.Snapshot{Users: []string{"alice"}}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := svc.Revoke(ctx, issued.TokenID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	active, err := svc.IsActive(ctx, issued.TokenID)
	if err != nil {
		t.Fatalf("IsActive: %v", err)
	}
	if active {
		t.Fatalf("revoked token reported active")
	}
	if err := svc.Revoke(ctx, issued.TokenID); err != nil {
		t.Fatalf("second Revoke should be a no-op: %v", err)
	}
	if err := svc.Revoke(ctx, "never-issued"); err != nil {
		t.Fatalf("revoking unknown id should be a no-op: %v", err)
	}
}

func TestVerifyFailureKinds(t *testing.T) {
	ctx := context.Background()
	svc := testService(t, NewMemoryStore())

	if _, err := svc.Verify("not.a.token"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed, got %v", err)
	}

	// Signed by a different key.
	other := testService(t, NewMemoryStore())
	issued, err := other.Issue(ctx, authz.Snapshot{Users: []string{"mallory"}}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Verify(issued.Signed); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected ErrTokenSignature, got %v", err)
	}

	// Expired by claim: issue in the past, verify at the present.
	clock := time.Now().UTC()
	past := testService(t, NewMemoryStore(), WithClock(func() time.Time { return clock.Add(-2 * time.Hour) }))
	past.keypair = svc.keypair
	expired, err := past.Issue(ctx, authz.Snapshot{Users: []string{"alice"}}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Verify(expired.Signed); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestSweepExpiredBoundary(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := testService(t, store, WithClock(func() time.Time { return now }))

	mustCreate := func(id string, expires time.Time) {
		t.Helper()
		if err := store.Create(ctx, Record{TokenID: id, Username: "u", IssuedAt: now.Add(-time.Hour), ExpiresAt: expires}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	mustCreate("expired", now.Add(-time.Second))
	mustCreate("at-boundary", now)
	mustCreate("future", now.Add(time.Minute))

	removed, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, err := store.Get(ctx, "expired"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired record should be gone")
	}
	for _, id := range []string{"at-boundary", "future"} {
		if _, err := store.Get(ctx, id); err != nil {
			t.Fatalf("record %s should survive sweep: %v", id, err)
		}
	}
}

// failingStore simulates an unavailable backing store.
type failingStore struct{ err error }

func (f failingStore) Create(context.Context, Record) error       { return f.err }
func (f failingStore) Get(context.Context, string) (Record, error) { return Record{}, f.err }
func (f failingStore) Delete(context.Context, string) error       { return f.err }
func (f failingStore) List(context.Context) ([]Record, error)     { return nil, f.err }
func (f failingStore) Count(context.Context) (int, error)         { return 0, f.err }

func TestStoreFailuresAreNotInvalidTokens(t *testing.T) {
	ctx := context.Background()
	svc := testService(t, failingStore{err: errors.New("connection refused")})

	if _, err := svc.Issue(ctx, authz.Snapshot{Users: []string{"alice"}}, time.Minute); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from Issue, got %v", err)
	}
	if _, err := svc.IsActive(ctx, "any"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from IsActive, got %v", err)
	}
	if err := svc.Revoke(ctx, "any"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from Revoke, got %v", err)
	}
	if _, err := svc.SweepExpired(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from SweepExpired, got %v", err)
	}
}
