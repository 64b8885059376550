// Package httpapi is the HTTP boundary: route wiring, content
// negotiation and the translation of pipeline outcomes into responses.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"gatekit.org/internal/authz"
	"gatekit.org/internal/federation"
	"gatekit.org/internal/obs"
	"gatekit.org/internal/pipeline"
	"gatekit.org/internal/token"
)

const defaultLoginPath = "/login"

// ReadyProbe reports readiness, pinging the database when one is
// configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the authorization engine.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	pipe       *pipeline.Pipeline
	tokens     *token.Service
	engine     *authz.Engine
	federation *federation.Bridge
	renderer   Renderer

	loginPath     string
	tokenTTL      time.Duration
	secureCookies bool
}

// Option configures the API.
type Option func(*API)

// WithRenderer replaces the built-in page renderer.
func WithRenderer(r Renderer) Option {
	return func(a *API) {
		if r != nil {
			a.renderer = r
		}
	}
}

// WithSecureCookies marks session cookies Secure with SameSite=None.
func WithSecureCookies(secure bool) Option {
	return func(a *API) { a.secureCookies = secure }
}

// WithTokenTTL sets the lifetime of tokens issued by login endpoints.
func WithTokenTTL(ttl time.Duration) Option {
	return func(a *API) {
		if ttl > 0 {
			a.tokenTTL = ttl
		}
	}
}

// WithFederation enables the external identity provider endpoints.
func WithFederation(bridge *federation.Bridge) Option {
	return func(a *API) { a.federation = bridge }
}

func New(rp ReadyProbe, version string, pipe *pipeline.Pipeline, tokens *token.Service, engine *authz.Engine, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		pipe:       pipe,
		tokens:     tokens,
		engine:     engine,
		renderer:   defaultRenderer{},
		loginPath:  defaultLoginPath,
		tokenTTL:   time.Hour,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// interactive login surface
	a.mux.HandleFunc(a.loginPath, a.handleLoginPage)
	a.mux.HandleFunc("/logout", a.handleLogout)

	// token lifecycle; credential endpoints are rate limited per IP
	a.mux.Handle("/auth/token", RateLimit(http.HandlerFunc(a.handleLogin), 20, 10))
	a.mux.HandleFunc("/auth/setup-info", a.handleSetupInfo)
	a.mux.HandleFunc("/auth/providers", a.handleProviders)
	a.mux.Handle("/auth/oauth/google", RateLimit(http.HandlerFunc(a.handleGoogleOAuth), 20, 10))

	// admin operations behind the default requirement
	a.mux.Handle("/auth/token/revoke", a.Protect(a.pipe.DefaultRequirement(), http.HandlerFunc(a.handleRevoke)))
	a.mux.Handle("/auth/token/cleanup", a.Protect(a.pipe.DefaultRequirement(), http.HandlerFunc(a.handleCleanup)))
	a.mux.Handle("/auth/token/active", a.Protect(a.pipe.DefaultRequirement(), http.HandlerFunc(a.handleTokenActive)))

	// caller introspection; unspecified requirement falls back to the
	// default (administrators)
	a.mux.Handle("/whoami", a.Protect(authz.Requirement{}, http.HandlerFunc(a.handleWhoami)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if wantsHTML(r) {
			a.writeHTML(w, http.StatusNotFound, a.renderer.NotFoundPage())
			return
		}
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the fully wrapped handler chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = RequestID(h)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = MaxBodyBytes(h, 1<<20)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- service handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "gatekit-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "gatekit-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
