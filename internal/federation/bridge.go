// Package federation bridges a third-party identity assertion (Google
// OAuth2 ID token) into a locally issued session token, provisioning
// an account on first contact.
package federation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekit.org/internal/authz"
	"gatekit.org/internal/obs"
	"gatekit.org/internal/token"
)

// RelayTypeClient is the marker a verified first-party relay sets when
// forwarding an already-obtained ID token.
const RelayTypeClient = "client"

// Registration is the provisioning request handed to the Registrar for
// accounts first seen through federation.
type Registration struct {
	Username string
	Email    string
	FullName string
	Groups   []string
}

// RegistrationResult reports how provisioning went. Pending is set when
// an external step (such as email activation) must complete before a
// token can be issued; its message is returned to the caller verbatim.
type RegistrationResult struct {
	Pending bool
	Message string
}

// Registrar provisions new accounts. The concrete implementation lives
// with the user-management collaborator, outside this engine.
type Registrar interface {
	Register(ctx context.Context, reg Registration) (RegistrationResult, error)
}

// Request carries either an ID token posted directly by a trusted
// first-party client (AuthCode) or an assertion forwarded by a relay
// that already completed the provider handshake (RelayBody plus the
// RelayType marker).
type Request struct {
	AuthCode  string
	RelayType string
	RelayBody string
}

// Result is a successful federation: either a minted token or a
// pending-activation message passed through from provisioning.
type Result struct {
	Issued  token.Issued
	Pending string
}

// Bridge wires provider verification to local identity and token
// issuance.
type Bridge struct {
	configs   ConfigStore
	verifier  Verifier
	users     authz.UserStore
	engine    *authz.Engine
	tokens    *token.Service
	registrar Registrar
	tokenTTL  time.Duration
}

// NewBridge constructs a Bridge. All collaborators are required.
func NewBridge(configs ConfigStore, verifier Verifier, users authz.UserStore, engine *authz.Engine, tokens *token.Service, registrar Registrar, tokenTTL time.Duration) (*Bridge, error) {
	if configs == nil || verifier == nil || users == nil || engine == nil || tokens == nil || registrar == nil {
		return nil, errors.New("federation: all collaborators are required")
	}
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &Bridge{
		configs:   configs,
		verifier:  verifier,
		users:     users,
		engine:    engine,
		tokens:    tokens,
		registrar: registrar,
		tokenTTL:  tokenTTL,
	}, nil
}

// FederateGoogle verifies the assertion, resolves or provisions the
// local account and mints a token for it.
func (b *Bridge) FederateGoogle(ctx context.Context, req Request) (Result, error) {
	cfg, err := b.enabledConfig(ctx, GoogleProvider)
	if err != nil {
		return Result{}, err
	}

	idToken := req.AuthCode
	if idToken == "" {
		if req.RelayType != RelayTypeClient {
			return Result{}, ErrProviderHeaderMalformed
		}
		idToken = strings.TrimSpace(req.RelayBody)
	}

	assertion, err := b.verifier.Verify(ctx, idToken, cfg.ClientID)
	if err != nil {
		if errors.Is(err, ErrVerifierUnavailable) {
			return Result{}, err
		}
		obs.LogRequest(map[string]any{
			"level":    "error",
			"msg":      "social login validation failed",
			"provider": GoogleProvider,
			"error":    err.Error(),
		})
		return Result{}, ErrAssertionInvalid
	}
	if assertion.Email == "" || !assertion.EmailVerified {
		obs.LogRequest(map[string]any{
			"level":    "error",
			"msg":      "social login rejected: email missing or unverified",
			"provider": GoogleProvider,
		})
		return Result{}, ErrAssertionInvalid
	}

	user, err := b.users.GetByEmail(ctx, assertion.Email)
	switch {
	case errors.Is(err, authz.ErrNotFound):
		result, err := b.registrar.Register(ctx, Registration{
			Username: assertion.Email,
			Email:    assertion.Email,
			FullName: strings.TrimSpace(assertion.GivenName + " " + assertion.FamilyName),
			Groups:   cfg.DefaultGroups,
		})
		if err != nil {
			return Result{}, fmt.Errorf("federation: provision account: %w", err)
		}
		if result.Pending {
			return Result{Pending: result.Message}, nil
		}
		user, err = b.users.GetByEmail(ctx, assertion.Email)
		if err != nil {
			return Result{}, fmt.Errorf("federation: reload provisioned account: %w", err)
		}
	case err != nil:
		return Result{}, fmt.Errorf("federation: lookup account: %w", err)
	}

	snap, err := b.engine.Resolve(ctx, user)
	if err != nil {
		return Result{}, fmt.Errorf("federation: resolve permissions: %w", err)
	}
	issued, err := b.tokens.Issue(ctx, snap, b.tokenTTL)
	if err != nil {
		return Result{}, fmt.Errorf("federation: issue token: %w", err)
	}
	return Result{Issued: issued}, nil
}

// IdentityProviders returns the enabled external providers as a
// provider -> client id map for login page assembly.
func (b *Bridge) IdentityProviders(ctx context.Context) (map[string]string, error) {
	configs, err := b.configs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("federation: list providers: %w", err)
	}
	out := make(map[string]string)
	for _, cfg := range configs {
		if !cfg.Enabled || cfg.Provider == LocalProvider {
			continue
		}
		out[cfg.Provider] = cfg.ClientID
	}
	return out, nil
}

// GoogleClientID returns the configured google client id, or empty when
// federation is not set up. Used by login page assembly.
func (b *Bridge) GoogleClientID(ctx context.Context) string {
	cfg, err := b.enabledConfig(ctx, GoogleProvider)
	if err != nil {
		return ""
	}
	return cfg.ClientID
}

func (b *Bridge) enabledConfig(ctx context.Context, provider string) (ProviderConfig, error) {
	configs, err := b.configs.ByProvider(ctx, provider)
	if err != nil {
		return ProviderConfig{}, fmt.Errorf("federation: load provider config: %w", err)
	}
	for _, cfg := range configs {
		if cfg.Enabled {
			return cfg, nil
		}
	}
	return ProviderConfig{}, ErrProviderNotConfigured
}
