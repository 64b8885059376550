package federation

import "errors"

var (
	// ErrProviderNotConfigured means no enabled configuration exists for
	// the requested provider.
	ErrProviderNotConfigured = errors.New("federation: provider not enabled or configured")
	// ErrProviderHeaderMalformed means a code-less flow arrived without
	// the first-party relay marker.
	ErrProviderHeaderMalformed = errors.New("federation: provider header malformed")
	// ErrAssertionInvalid is the only verification failure reported to
	// callers. The specific cause is logged, never surfaced, so the
	// endpoint cannot be used as an oracle.
	ErrAssertionInvalid = errors.New("unable to validate social login")
	// ErrVerifierUnavailable means the provider verification call timed
	// out or failed to connect; the federation attempt may be retried.
	ErrVerifierUnavailable = errors.New("federation: provider verification unavailable")
)
