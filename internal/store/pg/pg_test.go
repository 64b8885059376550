package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"gatekit.org/internal/authz"
	"gatekit.org/internal/federation"
	"gatekit.org/internal/token"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestTokenRecordRoundTrip(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	rec := token.Record{
		TokenID:   "tok-1",
		Username:  "alice",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}

	mock.ExpectExec("insert into tokens").
		WithArgs(rec.TokenID, rec.Username, rec.IssuedAt, rec.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select token_id, username, issued_at, expires_at").
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows([]string{"token_id", "username", "issued_at", "expires_at"}).
			AddRow(rec.TokenID, rec.Username, rec.IssuedAt, rec.ExpiresAt))

	if err := s.Tokens().Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Tokens().Get(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Username != "alice" || !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Fatalf("record = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetTokenNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select token_id, username, issued_at, expires_at").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"token_id", "username", "issued_at", "expires_at"}))

	_, err := s.Tokens().Get(context.Background(), "missing")
	if !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("err = %v, want token.ErrNotFound", err)
	}
}

func TestDeleteTokenReportsAbsence(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("delete from tokens").
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Tokens().Delete(context.Background(), "gone"); !errors.Is(err, token.ErrNotFound) {
		t.Fatalf("err = %v, want token.ErrNotFound", err)
	}
}

func TestCountTokens(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`select count\(\*\) from tokens`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.Tokens().Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
}

func TestGetUserDecodesGroups(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("select (.+) from users where username").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "username", "email", "full_name", "password_hash",
			"account_type", "groups", "created_at", "updated_at",
		}).AddRow("u1", "alice", "alice@example.test", "Alice", "hash",
			authz.AccountTypeUser, []byte(`["staff","admins"]`), now, now))

	u, err := s.Users().GetByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetByUsername: %v", err)
	}
	if len(u.Groups) != 2 || u.Groups[0] != "staff" {
		t.Fatalf("groups = %v", u.Groups)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select (.+) from users where email").
		WithArgs("nobody@example.test").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "username", "email", "full_name", "password_hash",
			"account_type", "groups", "created_at", "updated_at",
		}))

	_, err := s.Users().GetByEmail(context.Background(), "nobody@example.test")
	if !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("err = %v, want authz.ErrNotFound", err)
	}
}

func TestCreateUserFillsDefaults(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("insert into users").
		WithArgs(sqlmock.AnyArg(), "bob", "bob@example.test", "", "hash",
			authz.AccountTypeUser, []byte(`["users"]`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	u := &authz.User{
		Username:     "bob",
		Email:        "bob@example.test",
		PasswordHash: "hash",
		Groups:       []string{"users"},
	}
	if err := s.Users().Create(context.Background(), u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID == "" {
		t.Fatal("expected a generated id")
	}
	if u.AccountType != authz.AccountTypeUser {
		t.Fatalf("account type = %q", u.AccountType)
	}
	if !u.CreatedAt.Equal(now) {
		t.Fatalf("created_at = %v", u.CreatedAt)
	}
}

func TestCreateUserRequiresUsername(t *testing.T) {
	s, _ := newMockStore(t)

	err := s.Users().Create(context.Background(), &authz.User{})
	if !errors.Is(err, authz.ErrInvalidInput) {
		t.Fatalf("err = %v, want authz.ErrInvalidInput", err)
	}
}

func TestGraphLookups(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select name, roles from groups").
		WithArgs("staff").
		WillReturnRows(sqlmock.NewRows([]string{"name", "roles"}).
			AddRow("staff", []byte(`["editor"]`)))
	mock.ExpectQuery("select name, actions from roles").
		WithArgs("editor").
		WillReturnRows(sqlmock.NewRows([]string{"name", "actions"}).
			AddRow("editor", []byte(`["write","publish"]`)))
	mock.ExpectQuery("select name, roles from groups").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"name", "roles"}))

	g, err := s.Graph().Group(context.Background(), "staff")
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if len(g.Roles) != 1 || g.Roles[0] != "editor" {
		t.Fatalf("roles = %v", g.Roles)
	}
	r, err := s.Graph().Role(context.Background(), "editor")
	if err != nil {
		t.Fatalf("Role: %v", err)
	}
	if len(r.Actions) != 2 {
		t.Fatalf("actions = %v", r.Actions)
	}
	if _, err := s.Graph().Group(context.Background(), "ghost"); !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("err = %v, want authz.ErrNotFound", err)
	}
}

func TestProviderConfigs(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select id, provider, client_id, enabled, default_groups").
		WithArgs("google").
		WillReturnRows(sqlmock.NewRows([]string{"id", "provider", "client_id", "enabled", "default_groups"}).
			AddRow("p1", "google", "client-123", true, []byte(`["users"]`)))

	configs, err := s.Providers().ByProvider(context.Background(), "google")
	if err != nil {
		t.Fatalf("ByProvider: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("configs = %v", configs)
	}
	cfg := configs[0]
	if cfg.ClientID != "client-123" || !cfg.Enabled {
		t.Fatalf("config = %+v", cfg)
	}
	if len(cfg.DefaultGroups) != 1 || cfg.DefaultGroups[0] != "users" {
		t.Fatalf("default groups = %v", cfg.DefaultGroups)
	}
}

func TestPutProviderUpserts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("insert into oauth_configs").
		WithArgs(sqlmock.AnyArg(), "google", "client-123", true, []byte(`["users"]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.PutProvider(context.Background(), federation.ProviderConfig{
		Provider:      "google",
		ClientID:      "client-123",
		Enabled:       true,
		DefaultGroups: []string{"users"},
	})
	if err != nil {
		t.Fatalf("PutProvider: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
