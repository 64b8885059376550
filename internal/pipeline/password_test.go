package pipeline

import (
	"context"
	"testing"

	"gatekit.org/internal/authz"
	"gatekit.org/internal/token"
)

func passwordFixture(t *testing.T) (*Pipeline, *authz.MemoryDirectory) {
	t.Helper()
	dir := authz.NewMemoryDirectory()
	tokens, err := token.NewService(testKeypair(t), token.NewMemoryStore(), testIdentity)
	if err != nil {
		t.Fatalf("token.NewService: %v", err)
	}
	p, err := New(tokens, dir, authz.Requirement{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, dir
}

func TestValidateCredentials(t *testing.T) {
	p, dir := passwordFixture(t)
	ctx := context.Background()

	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := dir.Create(ctx, &authz.User{Username: "alice", Email: "alice@example.com", PasswordHash: hash}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	user, err := p.ValidateCredentials(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("ValidateCredentials: %v", err)
	}
	if user == nil || user.Username != "alice" {
		t.Fatalf("expected alice, got %+v", user)
	}

	user, err = p.ValidateCredentials(ctx, "alice", "wrong")
	if err != nil {
		t.Fatalf("wrong password must not error: %v", err)
	}
	if user != nil {
		t.Fatalf("wrong password must yield no user")
	}

	user, err = p.ValidateCredentials(ctx, "nobody", "s3cret")
	if err != nil {
		t.Fatalf("unknown user must not error: %v", err)
	}
	if user != nil {
		t.Fatalf("unknown user must yield no user")
	}
}

func TestValidateCredentialsRejectsServiceAccounts(t *testing.T) {
	p, dir := passwordFixture(t)
	ctx := context.Background()

	hash, err := HashPassword("machine-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := dir.Create(ctx, &authz.User{
		Username:     "ci-bot",
		Email:        "ci@example.com",
		PasswordHash: hash,
		AccountType:  authz.AccountTypeService,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	user, err := p.ValidateCredentials(ctx, "ci-bot", "machine-password")
	if err != nil {
		t.Fatalf("ValidateCredentials: %v", err)
	}
	if user != nil {
		t.Fatalf("service account must never pass password auth")
	}
}

func TestValidateCredentialsCorruptHash(t *testing.T) {
	p, dir := passwordFixture(t)
	ctx := context.Background()

	if err := dir.Create(ctx, &authz.User{Username: "broken", Email: "b@example.com", PasswordHash: "not-a-bcrypt-hash"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	user, err := p.ValidateCredentials(ctx, "broken", "whatever")
	if err != nil {
		t.Fatalf("corrupt hash must not error out: %v", err)
	}
	if user != nil {
		t.Fatalf("corrupt hash must yield no user")
	}
}
