package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"gatekit.org/internal/audit"
	"gatekit.org/internal/authz"
	"gatekit.org/internal/federation"
	"gatekit.org/internal/obs"
	"gatekit.org/internal/pipeline"
	"gatekit.org/internal/token"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type oauthRequest struct {
	AuthCode string `json:"auth_code"`
}

type revokeRequest struct {
	TokenID string `json:"token_id"`
}

// oauthRelayHeader marks an ID token forwarded by a trusted
// first-party relay instead of being posted as auth_code.
const oauthRelayHeader = "X-Google-OAuth2-Type"

func (a *API) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	// A browser arriving here with a still-valid token is bounced
	// through logout so stale sessions never mask the login form.
	if _, redirectLogout := pipeline.FromRequest(r, a.loginPath); redirectLogout {
		http.Redirect(w, r, "/logout", http.StatusSeeOther)
		return
	}
	a.writeHTML(w, http.StatusOK, a.renderer.LoginPage(a.providers(r)))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			writeError(w, r, http.StatusBadRequest, "malformed form body")
			return
		}
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	} else if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := a.pipe.ValidateCredentials(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "authentication backend unavailable, retry")
		return
	}
	if user == nil {
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
			"username": req.Username,
		})
		writeError(w, r, http.StatusUnauthorized, "invalid username or password")
		return
	}

	snap, err := a.engine.Resolve(r.Context(), user)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "permission resolution failed")
		return
	}
	issued, err := a.tokens.Issue(r.Context(), snap, a.tokenTTL)
	if err != nil {
		a.writeIssueError(w, r, err)
		return
	}
	obs.TokenIssued()
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"username":   user.Username,
		"token_id":   issued.TokenID,
		"expires_at": issued.ExpiresAt.Format(time.RFC3339),
	})

	a.setTokenCookie(w, issued.Signed)
	if wantsHTML(r) {
		target := "/"
		if ref, err := r.Cookie(pipeline.RefCookie); err == nil && validRedirect(ref.Value) {
			target = ref.Value
		}
		a.clearRefCookie(w)
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     issued.Signed,
		TokenID:   issued.TokenID,
		ExpiresAt: issued.ExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	// Best effort: revoke the presented token, then poison the cookie
	// so the next request re-enters the challenge path.
	cred, _ := pipeline.FromRequest(r, a.loginPath)
	if !cred.Absent() {
		if claims, err := a.tokens.Verify(cred.Raw); err == nil {
			if err := a.tokens.Revoke(r.Context(), claims.TokenID); err == nil {
				obs.TokenRevoked()
				_ = audit.LogEvent(r.Context(), "auth.token.revoked", map[string]any{
					"token_id": claims.TokenID,
					"cause":    "logout",
				})
			}
		}
	}
	a.setTokenCookie(w, pipeline.SentinelInvalid)
	if wantsHTML(r) {
		http.Redirect(w, r, a.loginPath, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

// handleSetupInfo exposes what a verifying collaborator needs: the
// public key, the key id and where to obtain tokens.
func (a *API) handleSetupInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	pub, err := a.tokens.ExportPublicKey()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "public key unavailable")
		return
	}
	id := a.tokens.Identity()
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":     id.Issuer,
		"audience":   id.Audience,
		"kid":        a.tokens.Kid(),
		"public_key": pub,
		"token_url":  "/auth/token",
	})
}

func (a *API) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": a.providers(r),
	})
}

func (a *API) handleGoogleOAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.federation == nil {
		writeError(w, r, http.StatusNotFound, "federation not configured")
		return
	}

	freq := federation.Request{RelayType: r.Header.Get(oauthRelayHeader)}
	if freq.RelayType != "" {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "malformed relay body")
			return
		}
		freq.RelayBody = strings.TrimSpace(string(raw))
	} else {
		var body oauthRequest
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		freq.AuthCode = strings.TrimSpace(body.AuthCode)
	}

	result, err := a.federation.FederateGoogle(r.Context(), freq)
	if err != nil {
		a.writeFederationError(w, r, err)
		return
	}
	if result.Pending != "" {
		writeJSON(w, http.StatusAccepted, map[string]any{"pending": result.Pending})
		return
	}
	obs.TokenIssued()
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"token_id": result.Issued.TokenID,
		"provider": federation.GoogleProvider,
	})
	a.setTokenCookie(w, result.Issued.Signed)
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     result.Issued.Signed,
		TokenID:   result.Issued.TokenID,
		ExpiresAt: result.Issued.ExpiresAt,
	})
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req revokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.TokenID) == "" {
		writeError(w, r, http.StatusBadRequest, "token_id is required")
		return
	}
	if err := a.tokens.Revoke(r.Context(), req.TokenID); err != nil {
		a.writeIssueError(w, r, err)
		return
	}
	obs.TokenRevoked()
	_ = audit.LogEvent(r.Context(), "auth.token.revoked", map[string]any{
		"token_id": req.TokenID,
		"cause":    "admin",
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

// handleTokenActive lets a remote verifier holding only the public key
// check whether a token id has been revoked or swept.
func (a *API) handleTokenActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	tokenID := strings.TrimSpace(r.URL.Query().Get("token_id"))
	if tokenID == "" {
		writeError(w, r, http.StatusBadRequest, "token_id is required")
		return
	}
	active, err := a.tokens.IsActive(r.Context(), tokenID)
	if err != nil {
		a.writeIssueError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token_id": tokenID,
		"active":   active,
	})
}

func (a *API) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	removed, err := a.tokens.SweepExpired(r.Context())
	if err != nil {
		a.writeIssueError(w, r, err)
		return
	}
	obs.TokensSwept(removed)
	_ = audit.LogEvent(r.Context(), "auth.token.cleanup", map[string]any{
		"removed": removed,
	})
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (a *API) handleWhoami(w http.ResponseWriter, r *http.Request) {
	snap, ok := authz.SnapshotFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, unauthorizedMessage)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) writeIssueError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, token.ErrStoreUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "token store unavailable, retry")
	case errors.Is(err, token.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "token not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "token operation failed")
	}
}

func (a *API) writeFederationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, federation.ErrProviderNotConfigured):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, federation.ErrProviderHeaderMalformed):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, federation.ErrAssertionInvalid):
		_ = audit.LogEvent(r.Context(), "auth.federation.rejected", map[string]any{
			"provider": federation.GoogleProvider,
		})
		writeError(w, r, http.StatusUnauthorized, federation.ErrAssertionInvalid.Error())
	case errors.Is(err, federation.ErrVerifierUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "identity provider unreachable, retry")
	default:
		writeError(w, r, http.StatusInternalServerError, "social login failed")
	}
}

// validRedirect confines post-login redirects to local paths.
func validRedirect(path string) bool {
	return strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "//")
}
