package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"gatekit.org/internal/authz"
	"gatekit.org/internal/obs"
	"gatekit.org/internal/pipeline"
	"gatekit.org/internal/token"
)

const unauthorizedMessage = "not authorized, invalid or expired"

// wantsHTML reports whether the client negotiated an interactive HTML
// response. API clients send Accept: application/json (or nothing).
func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// Protect wraps a handler with the authorization pipeline. The outcome
// decides presentation: browser clients get challenge or forbidden
// pages with the repair cookies, API clients get the structured error
// envelope. Allowed requests proceed with the permission snapshot and
// raw token on the context.
func (a *API) Protect(req authz.Requirement, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred, redirectLogout := pipeline.FromRequest(r, a.loginPath)
		if redirectLogout {
			http.Redirect(w, r, "/logout", http.StatusSeeOther)
			return
		}

		outcome, err := a.pipe.Authorize(r.Context(), cred, req)
		if err != nil {
			obs.AuthDecision("error")
			if errors.Is(err, token.ErrStoreUnavailable) {
				writeError(w, r, http.StatusServiceUnavailable, "authorization backend unavailable, retry")
				return
			}
			obs.LogRequest(map[string]any{
				"level": "error",
				"msg":   "authorization pipeline failure",
				"path":  r.URL.Path,
				"error": err.Error(),
			})
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}

		switch outcome.Kind {
		case pipeline.Allowed:
			obs.AuthDecision("allowed")
			ctx := authz.ContextWithSnapshot(r.Context(), outcome.Snapshot)
			ctx = authz.ContextWithToken(ctx, cred.Raw)
			next.ServeHTTP(w, r.WithContext(ctx))

		case pipeline.Unauthorized:
			obs.AuthDecision("unauthorized")
			obs.LogRequest(map[string]any{
				"level":  "warn",
				"msg":    "request unauthorized",
				"path":   r.URL.Path,
				"reason": outcome.Reason,
			})
			if wantsHTML(r) {
				a.setTokenCookie(w, pipeline.SentinelInvalid)
				a.setRefCookie(w, r.URL.Path)
				a.writeHTML(w, http.StatusUnauthorized, a.renderer.LoginPage(a.providers(r)))
				return
			}
			writeError(w, r, http.StatusUnauthorized, unauthorizedMessage)

		case pipeline.Forbidden:
			obs.AuthDecision("forbidden")
			if wantsHTML(r) {
				a.writeHTML(w, http.StatusForbidden, a.renderer.ForbiddenPage())
				return
			}
			payload := map[string]any{
				"error":  "not authorized",
				"detail": outcome.Requirement,
			}
			writeJSON(w, http.StatusForbidden, payload)

		default:
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
	})
}

func (a *API) writeHTML(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// providers lists enabled external identity providers for the login
// page. Failures degrade to a password-only page.
func (a *API) providers(r *http.Request) map[string]string {
	if a.federation == nil {
		return nil
	}
	out, err := a.federation.IdentityProviders(r.Context())
	if err != nil {
		obs.LogRequest(map[string]any{
			"level": "warn",
			"msg":   "identity provider listing failed",
			"error": err.Error(),
		})
		return nil
	}
	return out
}
