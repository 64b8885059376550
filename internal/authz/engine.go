// Package authz computes effective permission sets from the
// user -> group -> role -> action graph and evaluates permission
// requirements against token snapshots.
package authz

import (
	"context"
	"errors"
	"fmt"
)

// Engine resolves effective permissions against a graph store.
type Engine struct {
	users UserStore
	graph GraphStore
}

// NewEngine constructs an Engine.
func NewEngine(users UserStore, graph GraphStore) (*Engine, error) {
	if users == nil || graph == nil {
		return nil, errors.New("authz: user and graph stores are required")
	}
	return &Engine{users: users, graph: graph}, nil
}

// Resolve walks the user's groups to their roles and actions and
// returns the deduplicated union, with the requesting identity's own
// username always present under Users. Memberships pointing at groups
// or roles that no longer exist are skipped; store failures propagate.
func (e *Engine) Resolve(ctx context.Context, user *User) (Snapshot, error) {
	if user == nil || user.Username == "" {
		return Snapshot{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}

	var groups, roles, actions []string
	for _, groupName := range dedupe(user.Groups) {
		group, err := e.graph.Group(ctx, groupName)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return Snapshot{}, fmt.Errorf("authz: load group %s: %w", groupName, err)
		}
		groups = append(groups, group.Name)
		for _, roleName := range group.Roles {
			role, err := e.graph.Role(ctx, roleName)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return Snapshot{}, fmt.Errorf("authz: load role %s: %w", roleName, err)
			}
			roles = append(roles, role.Name)
			actions = append(actions, role.Actions...)
		}
	}

	return Snapshot{
		Users:   []string{user.Username},
		Groups:  dedupe(groups),
		Roles:   dedupe(roles),
		Actions: dedupe(actions),
	}, nil
}

// ResolveUsername is Resolve for callers that only hold a username.
func (e *Engine) ResolveUsername(ctx context.Context, username string) (Snapshot, error) {
	user, err := e.users.GetByUsername(ctx, username)
	if err != nil {
		return Snapshot{}, err
	}
	return e.Resolve(ctx, user)
}
