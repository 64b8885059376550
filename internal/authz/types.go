package authz

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("authz: not found")
	ErrInvalidInput = errors.New("authz: invalid input")
	ErrConflict     = errors.New("authz: already exists")
)

const (
	// AccountTypeUser marks an interactive account.
	AccountTypeUser = "user"
	// AccountTypeService marks a machine identity. Service accounts are
	// never authenticated by password.
	AccountTypeService = "service"
)

// User is an identity in the authorization graph. Groups holds group
// names; the graph store resolves names to Group records.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name,omitempty"`
	PasswordHash string    `json:"-"`
	AccountType  string    `json:"account_type"`
	Groups       []string  `json:"groups"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsService reports whether this account is a machine identity.
func (u *User) IsService() bool {
	return u.AccountType == AccountTypeService
}

// Group bundles roles under a grantable name.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role bundles atomic actions under a grantable name.
type Role struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Actions   []string  `json:"actions"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Action is an atomic permission tag.
type Action struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Details string `json:"details,omitempty"`
}
