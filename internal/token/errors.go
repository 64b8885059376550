package token

import "errors"

var (
	// ErrTokenMalformed means the credential is not a parseable signed envelope.
	ErrTokenMalformed = errors.New("token: malformed")
	// ErrTokenSignature means the envelope parsed but the signature does not
	// verify under the current public key, or the claims fail validation.
	ErrTokenSignature = errors.New("token: signature mismatch")
	// ErrTokenExpired means the signature verified but the expiry claim passed.
	ErrTokenExpired = errors.New("token: expired")

	// ErrNotFound is returned by stores when no tracking record exists.
	ErrNotFound = errors.New("token: record not found")
	// ErrStoreUnavailable wraps transient tracking-store failures. It is
	// safe to retry and must never be reported as an invalid credential.
	ErrStoreUnavailable = errors.New("token: store unavailable")
)
