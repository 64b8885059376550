// Package pipeline is the per-request authorization state machine: it
// normalizes the transport credential, verifies the token, enforces
// revocation through the tracking store and evaluates the operation's
// permission requirement.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"gatekit.org/internal/authz"
	"gatekit.org/internal/token"
)

// OutcomeKind enumerates the observable pipeline results. Presentation
// (login-page challenge vs structured error) is decided by the HTTP
// boundary based on content negotiation, not here.
type OutcomeKind int

const (
	// Allowed grants access; the resolved snapshot accompanies it.
	Allowed OutcomeKind = iota
	// Unauthorized covers absent, malformed, expired and revoked
	// credentials alike. The caller cannot tell which; logs can.
	Unauthorized
	// Forbidden means the credential is valid but the requirement is
	// not met.
	Forbidden
)

// Rejection reasons. Surfaced only in logs and metrics; every one of
// them maps to the same client-facing unauthorized response so the
// specific cause never leaks.
const (
	ReasonCredentialAbsent    = "credential_absent"
	ReasonCredentialMalformed = "credential_malformed"
	ReasonCredentialExpired   = "credential_expired"
	ReasonCredentialRevoked   = "credential_revoked"
	ReasonPermissionDenied    = "permission_denied"
)

// Outcome is the pipeline's decision for one request.
type Outcome struct {
	Kind        OutcomeKind
	Snapshot    authz.Snapshot    // populated when Kind == Allowed
	TokenID     string            // populated when the envelope decoded
	Requirement authz.Requirement // the unmet requirement when Kind == Forbidden
	Reason      string            // internal; never sent to the client verbatim
}

// Pipeline evaluates normalized credentials against token state and
// permission requirements.
type Pipeline struct {
	tokens     *token.Service
	users      authz.UserStore
	defaultReq authz.Requirement
}

// New constructs a Pipeline. defaultReq substitutes for operations that
// declare no requirement; a zero defaultReq keeps the engine's default.
func New(tokens *token.Service, users authz.UserStore, defaultReq authz.Requirement) (*Pipeline, error) {
	if tokens == nil {
		return nil, errors.New("pipeline: token service is required")
	}
	if users == nil {
		return nil, errors.New("pipeline: user store is required")
	}
	if defaultReq.IsZero() {
		defaultReq = authz.DefaultRequirement
	}
	return &Pipeline{tokens: tokens, users: users, defaultReq: defaultReq}, nil
}

// DefaultRequirement returns the requirement substituted for
// unprotected-by-name operations.
func (p *Pipeline) DefaultRequirement() authz.Requirement {
	return p.defaultReq
}

// Authorize runs the state machine. A non-nil error means the decision
// could not be made (transient store failure, unexpected internal
// error) and must surface as a server error, never as a credential
// rejection.
func (p *Pipeline) Authorize(ctx context.Context, cred Credential, req authz.Requirement) (Outcome, error) {
	if cred.Absent() {
		return Outcome{Kind: Unauthorized, Reason: ReasonCredentialAbsent}, nil
	}

	claims, err := p.tokens.Verify(cred.Raw)
	if err != nil {
		reason := ReasonCredentialMalformed
		switch {
		case errors.Is(err, token.ErrTokenExpired):
			reason = ReasonCredentialExpired
		case errors.Is(err, token.ErrTokenSignature):
			reason = ReasonCredentialMalformed
		case errors.Is(err, token.ErrTokenMalformed):
			reason = ReasonCredentialMalformed
		}
		return Outcome{Kind: Unauthorized, Reason: reason}, nil
	}

	active, err := p.tokens.IsActive(ctx, claims.TokenID)
	if err != nil {
		return Outcome{}, fmt.Errorf("pipeline: revocation check: %w", err)
	}
	if !active {
		// Revocation is enforced only here; the signature alone is
		// not proof the token is still honored.
		return Outcome{Kind: Unauthorized, TokenID: claims.TokenID, Reason: ReasonCredentialRevoked}, nil
	}

	if req.IsZero() {
		req = p.defaultReq
	}
	if !authz.Satisfies(req, claims.Permissions) {
		return Outcome{
			Kind:        Forbidden,
			TokenID:     claims.TokenID,
			Requirement: req,
			Reason:      ReasonPermissionDenied,
		}, nil
	}

	return Outcome{Kind: Allowed, TokenID: claims.TokenID, Snapshot: claims.Permissions}, nil
}
