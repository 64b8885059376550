package federation

import (
	"context"
	"fmt"

	"gatekit.org/internal/authz"
)

// DirectRegistrar provisions federated accounts immediately, with no
// activation step. Deployments with an activation flow supply their own
// Registrar instead.
type DirectRegistrar struct {
	Users authz.UserStore
}

func (d DirectRegistrar) Register(ctx context.Context, reg Registration) (RegistrationResult, error) {
	u := &authz.User{
		Username:    reg.Username,
		Email:       reg.Email,
		FullName:    reg.FullName,
		AccountType: authz.AccountTypeUser,
		Groups:      reg.Groups,
	}
	if err := d.Users.Create(ctx, u); err != nil {
		return RegistrationResult{}, fmt.Errorf("create federated account: %w", err)
	}
	return RegistrationResult{}, nil
}
