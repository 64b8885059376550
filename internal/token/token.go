// Package token issues, verifies and revokes the server's signed
// session tokens. A token is honored only while its signature verifies,
// its expiry has not passed and its tracking record is still present in
// the store; revocation works purely by deleting the record.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gatekit.org/internal/authz"
	"gatekit.org/internal/keys"
)

const defaultTTL = time.Hour

// Identity holds the process-wide issuer, subject and audience strings
// stamped into every issued token. All three are required before the
// service can start.
type Identity struct {
	Issuer   string
	Subject  string
	Audience string
}

// Validate reports which identity strings are missing.
func (id Identity) Validate() error {
	var missing []string
	if strings.TrimSpace(id.Issuer) == "" {
		missing = append(missing, "issuer")
	}
	if strings.TrimSpace(id.Subject) == "" {
		missing = append(missing, "subject")
	}
	if strings.TrimSpace(id.Audience) == "" {
		missing = append(missing, "audience")
	}
	if len(missing) > 0 {
		return fmt.Errorf("token: identity strings missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Claims is the signed envelope payload.
type Claims struct {
	TokenID     string         `json:"token_id"`
	Permissions authz.Snapshot `json:"permissions"`
	jwt.RegisteredClaims
}

// Issued is the result of minting one token.
type Issued struct {
	TokenID   string    `json:"token_id"`
	Signed    string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service signs and verifies tokens and tracks them for revocation.
type Service struct {
	keypair  *keys.Keypair
	store    Store
	identity Identity
	now      func() time.Time
	ttl      time.Duration
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithDefaultTTL configures the token lifetime used when Issue is
// called with a non-positive ttl.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewService constructs a Service. The keypair, store and all three
// identity strings are mandatory.
func NewService(kp *keys.Keypair, store Store, identity Identity, opts ...Option) (*Service, error) {
	if kp == nil {
		return nil, errors.New("token: keypair is required")
	}
	if store == nil {
		return nil, errors.New("token: tracking store is required")
	}
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	svc := &Service{
		keypair:  kp,
		store:    store,
		identity: identity,
		now:      time.Now,
		ttl:      defaultTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Identity returns the issuer/subject/audience triple tokens are
// minted with.
func (s *Service) Identity() Identity { return s.identity }

// Kid returns the active signing key id.
func (s *Service) Kid() string { return s.keypair.Kid }

// Issue mints a signed token carrying the permission snapshot and
// records it in the tracking store. The record and the envelope share
// the same token id and expiration.
func (s *Service) Issue(ctx context.Context, snap authz.Snapshot, ttl time.Duration) (Issued, error) {
	username := snap.Username()
	if username == "" {
		return Issued{}, errors.New("token: snapshot carries no username")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.now().UTC()
	expires := now.Add(ttl)
	tokenID := uuid.NewString()

	claims := Claims{
		TokenID:     tokenID,
		Permissions: snap,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.identity.Issuer,
			Subject:   s.identity.Subject,
			Audience:  jwt.ClaimStrings{s.identity.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.keypair.Kid
	signed, err := tok.SignedString(s.keypair.Private)
	if err != nil {
		return Issued{}, fmt.Errorf("token: sign: %w", err)
	}

	rec := Record{
		TokenID:   tokenID,
		Username:  username,
		IssuedAt:  now,
		ExpiresAt: expires,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return Issued{}, fmt.Errorf("%w: create record: %w", ErrStoreUnavailable, err)
	}

	return Issued{TokenID: tokenID, Signed: signed, ExpiresAt: expires}, nil
}

// Verify checks signature, expiry and the issuer/audience claims under
// the current public key. It does not consult the tracking store;
// callers must also check IsActive before granting access.
func (s *Service) Verify(signed string) (*Claims, error) {
	signed = strings.TrimSpace(signed)
	if signed == "" {
		return nil, ErrTokenMalformed
	}

	parsed, err := jwt.ParseWithClaims(signed, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.keypair.Public, nil
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(s.identity.Issuer),
		jwt.WithAudience(s.identity.Audience),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrTokenMalformed
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		default:
			return nil, ErrTokenSignature
		}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.TokenID == "" {
		return nil, ErrTokenSignature
	}
	return claims, nil
}

// IsActive reports whether a tracking record still exists for the id,
// i.e. the token has been neither revoked nor swept.
func (s *Service) IsActive(ctx context.Context, tokenID string) (bool, error) {
	_, err := s.store.Get(ctx, tokenID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("%w: get record: %w", ErrStoreUnavailable, err)
	}
}

// Revoke deletes the tracking record. Revoking an unknown or already
// revoked id is a no-op.
func (s *Service) Revoke(ctx context.Context, tokenID string) error {
	err := s.store.Delete(ctx, tokenID)
	switch {
	case err == nil, errors.Is(err, ErrNotFound):
		return nil
	default:
		return fmt.Errorf("%w: delete record: %w", ErrStoreUnavailable, err)
	}
}

// SweepExpired removes every tracking record whose stored expiration is
// strictly before the observed current time and returns the count
// removed. Deletion is by exact id so records issued concurrently with
// the sweep are never touched.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.now().UTC()
	recs, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: list records: %w", ErrStoreUnavailable, err)
	}
	removed := 0
	for _, rec := range recs {
		if !rec.ExpiresAt.Before(now) {
			continue
		}
		switch err := s.store.Delete(ctx, rec.TokenID); {
		case err == nil:
			removed++
		case errors.Is(err, ErrNotFound):
			// Revoked between the scan and the delete.
		default:
			return removed, fmt.Errorf("%w: delete record: %w", ErrStoreUnavailable, err)
		}
	}
	return removed, nil
}

// Active returns the number of tracked (unrevoked, unswept) tokens.
func (s *Service) Active(ctx context.Context) (int, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: count records: %w", ErrStoreUnavailable, err)
	}
	return n, nil
}

// ExportPublicKey returns the PEM encoding of the verification key for
// external verifiers.
func (s *Service) ExportPublicKey() (string, error) {
	return s.keypair.ExportPublic()
}
