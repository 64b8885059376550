package token

import (
	"context"
	"time"
)

// Record tracks one issued token. Presence of a record is the sole
// source of truth for "is this token still honored": revocation deletes
// the record, the signed envelope itself is never recalled.
type Record struct {
	TokenID   string    `json:"token_id"`
	Username  string    `json:"username"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store is the durable revocation-tracking store, keyed by token id.
// Create and Delete must be atomic per key; Get returns ErrNotFound for
// unknown ids. Implementations wrap infrastructure failures so they are
// distinguishable from absence.
type Store interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, tokenID string) (Record, error)
	Delete(ctx context.Context, tokenID string) error
	List(ctx context.Context) ([]Record, error)
	Count(ctx context.Context) (int, error)
}
