package authz

import "strings"

// Snapshot is the frozen result of resolving a user's authorization
// graph at token issuance time. It does not track later graph changes;
// a token carries the permissions it was issued with until it expires
// or is revoked.
type Snapshot struct {
	Users   []string `json:"users,omitempty"`
	Groups  []string `json:"groups,omitempty"`
	Roles   []string `json:"roles,omitempty"`
	Actions []string `json:"actions,omitempty"`
}

// Requirement is the partial permission set a protected operation
// demands. Every dimension is optional; see Satisfies for semantics.
type Requirement struct {
	Users   []string `json:"users,omitempty"`
	Groups  []string `json:"groups,omitempty"`
	Roles   []string `json:"roles,omitempty"`
	Actions []string `json:"actions,omitempty"`
}

// DefaultRequirement applies to protected operations that declare no
// requirement of their own.
var DefaultRequirement = Requirement{Groups: []string{"administrators"}}

// IsZero reports whether no dimension is set.
func (r Requirement) IsZero() bool {
	return len(r.Users) == 0 && len(r.Groups) == 0 && len(r.Roles) == 0 && len(r.Actions) == 0
}

// Satisfies reports whether the snapshot meets the requirement: any
// overlap, in any dimension the requirement names, grants access. An
// empty requirement denies; callers are expected to substitute
// DefaultRequirement before getting here, and if they do not we fail
// closed rather than allow-all.
func Satisfies(req Requirement, snap Snapshot) bool {
	if req.IsZero() {
		return false
	}
	return overlaps(req.Users, snap.Users) ||
		overlaps(req.Groups, snap.Groups) ||
		overlaps(req.Roles, snap.Roles) ||
		overlaps(req.Actions, snap.Actions)
}

func overlaps(required, granted []string) bool {
	if len(required) == 0 || len(granted) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		set[g] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
