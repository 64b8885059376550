package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"gatekit.org/internal/authz"
	"gatekit.org/internal/obs"
	"gatekit.org/internal/token"
)

// HashPassword hashes a plaintext password with bcrypt at the default
// cost. Used by provisioning paths; verification lives in
// ValidateCredentials.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ValidateCredentials looks up the user and compares the password
// against the stored bcrypt hash. It returns (nil, nil) for every
// authentication failure: unknown user, service account, wrong
// password, or a corrupt hash (logged, never a crash). A non-nil error
// means the user store itself failed and is safe to retry.
func (p *Pipeline) ValidateCredentials(ctx context.Context, username, password string) (*authz.User, error) {
	user, err := p.users.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, authz.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%w: lookup user: %w", token.ErrStoreUnavailable, err)
	}

	if user.IsService() {
		obs.LogRequest(map[string]any{
			"level":    "warn",
			"msg":      "password login rejected for service account",
			"username": username,
		})
		return nil, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			obs.LogRequest(map[string]any{
				"level":    "error",
				"msg":      "password hash comparison failed",
				"username": username,
				"error":    err.Error(),
			})
		}
		return nil, nil
	}
	return user, nil
}
