package authz

import "context"

// UserStore is the external account directory consumed by the engine,
// the login pipeline and the federation bridge.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	Create(ctx context.Context, u *User) error
}

// GraphStore provides read access to the group->role->action graph.
type GraphStore interface {
	Group(ctx context.Context, name string) (*Group, error)
	Role(ctx context.Context, name string) (*Role, error)
}
