package authz

import "context"

type snapshotContextKey struct{}
type tokenContextKey struct{}

// ContextWithSnapshot attaches the resolved permission snapshot of the
// authenticated caller to the context.
func ContextWithSnapshot(ctx context.Context, snap Snapshot) context.Context {
	return context.WithValue(ctx, snapshotContextKey{}, &snap)
}

// SnapshotFromContext extracts the caller's permission snapshot.
func SnapshotFromContext(ctx context.Context) (Snapshot, bool) {
	if ctx == nil {
		return Snapshot{}, false
	}
	v, ok := ctx.Value(snapshotContextKey{}).(*Snapshot)
	if !ok || v == nil {
		return Snapshot{}, false
	}
	return *v, true
}

// Username returns the owning username of a snapshot, if any.
func (s Snapshot) Username() string {
	if len(s.Users) == 0 {
		return ""
	}
	return s.Users[0]
}

// ContextWithToken stores the raw bearer credential in the context for
// handlers that declared interest in it.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the raw bearer credential if present.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
