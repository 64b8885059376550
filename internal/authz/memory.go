package authz

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gatekit.org/internal/ids"
)

// MemoryDirectory is an in-process UserStore and GraphStore. It backs
// tests and the no-database development mode; production deployments
// use the Postgres store.
type MemoryDirectory struct {
	mu     sync.RWMutex
	users  map[string]*User
	groups map[string]*Group
	roles  map[string]*Role
}

var (
	_ UserStore  = (*MemoryDirectory)(nil)
	_ GraphStore = (*MemoryDirectory)(nil)
)

// NewMemoryDirectory returns an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:  make(map[string]*User),
		groups: make(map[string]*Group),
		roles:  make(map[string]*Role),
	}
}

func (d *MemoryDirectory) GetByUsername(ctx context.Context, username string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (d *MemoryDirectory) GetByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if strings.EqualFold(u.Email, email) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (d *MemoryDirectory) List(ctx context.Context) ([]*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*User, 0, len(d.users))
	for _, u := range d.users {
		clone := *u
		out = append(out, &clone)
	}
	return out, nil
}

func (d *MemoryDirectory) Create(ctx context.Context, u *User) error {
	if u == nil || strings.TrimSpace(u.Username) == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[u.Username]; ok {
		return fmt.Errorf("%w: user %s", ErrConflict, u.Username)
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.AccountType == "" {
		u.AccountType = AccountTypeUser
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	clone := *u
	d.users[u.Username] = &clone
	return nil
}

func (d *MemoryDirectory) Group(ctx context.Context, name string) (*Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[name]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *g
	return &clone, nil
}

func (d *MemoryDirectory) Role(ctx context.Context, name string) (*Role, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.roles[name]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *r
	return &clone, nil
}

// PutGroup inserts or replaces a group definition.
func (d *MemoryDirectory) PutGroup(g Group) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if g.ID == "" {
		g.ID = ids.New()
	}
	d.groups[g.Name] = &g
}

// PutRole inserts or replaces a role definition.
func (d *MemoryDirectory) PutRole(r Role) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r.ID == "" {
		r.ID = ids.New()
	}
	d.roles[r.Name] = &r
}

// SeedAdmin provisions the bootstrap administrator graph: an admin
// action, role and the administrators group plus the admin user with
// the supplied password hash. Used on first boot of the development
// mode so the server is never reachable without any valid login.
func (d *MemoryDirectory) SeedAdmin(ctx context.Context, passwordHash string) error {
	d.PutRole(Role{Name: "admin", Actions: []string{"CREATE_USER", "UPDATE_USER", "DELETE_USER", "CREATE_GROUP", "DELETE_GROUP"}})
	d.PutGroup(Group{Name: "administrators", Roles: []string{"admin"}})
	return d.Create(ctx, &User{
		Username:     "admin",
		Email:        "admin@localhost",
		FullName:     "Administrator",
		PasswordHash: passwordHash,
		AccountType:  AccountTypeUser,
		Groups:       []string{"administrators"},
	})
}
