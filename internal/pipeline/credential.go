package pipeline

import (
	"net/http"
	"strings"
)

// Cookie and sentinel names shared with the HTTP boundary. The pipeline
// accepts credentials from either of two carriers (a token cookie or a
// bearer header) and normalizes them to one internal representation
// before the state machine runs. SentinelAbsent is an explicit marker
// distinct from "not supplied" so later stages never confuse a missing
// carrier with an empty value.
const (
	TokenCookie = "token"
	RefCookie   = "ref"

	SentinelAbsent  = "NO_TOKEN"
	SentinelInvalid = "INVALID"

	bearerPrefix = "bearer "
)

// Credential is the normalized bearer credential for one request.
type Credential struct {
	Raw string
}

// Absent reports whether no usable credential was supplied.
func (c Credential) Absent() bool {
	return c.Raw == "" || c.Raw == SentinelAbsent || c.Raw == SentinelInvalid
}

// FromRequest promotes the token cookie into a synthetic bearer
// credential, falling back to the Authorization header and finally the
// absent sentinel. redirectLogout is true when a valid token cookie
// arrives on the login path itself; such requests short-circuit to the
// logout flow without consulting the token at all.
func FromRequest(r *http.Request, loginPath string) (cred Credential, redirectLogout bool) {
	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" && cookie.Value != SentinelInvalid {
		if r.URL.Path == loginPath {
			return Credential{}, true
		}
		return Credential{Raw: cookie.Value}, false
	}

	if raw := bearerFromHeader(r.Header.Get("Authorization")); raw != "" {
		return Credential{Raw: raw}, false
	}
	return Credential{Raw: SentinelAbsent}, false
}

func bearerFromHeader(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}
