package httpapi

import (
	"net/http"

	"gatekit.org/internal/pipeline"
)

// sameSite picks the cookie policy: cross-site federation callbacks
// need SameSite=None, which browsers only accept on Secure cookies.
func (a *API) sameSite() http.SameSite {
	if a.secureCookies {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func (a *API) setTokenCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     pipeline.TokenCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: a.sameSite(),
	})
}

func (a *API) setRefCookie(w http.ResponseWriter, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     pipeline.RefCookie,
		Value:    path,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: a.sameSite(),
	})
}

func (a *API) clearRefCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     pipeline.RefCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: a.sameSite(),
	})
}
