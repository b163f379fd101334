package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Transport errors come straight from net/http and are always
// retryable up to the job's budget; everything below is a classified failure.
var (
	// ErrKeyFetch: the platform public-key endpoint was unreachable or
	// returned an unparseable key.
	ErrKeyFetch = errors.New("public key fetch failed")
	ErrEncrypt  = errors.New("credential encryption failed")

	// Login failures, one per platform status code. All fatal for the
	// current login attempt.
	ErrMFANotSatisfied = errors.New("mfa challenge not satisfied")
	ErrBadCredentials  = errors.New("invalid username or password")
	ErrBlocked         = errors.New("access denied, address may be blocked")
	ErrUpstream        = errors.New("platform internal error")

	// ErrNotLoggedIn guards calls that need a session token.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrSessionExpired maps result code -1; recovered by a re-hop.
	ErrSessionExpired = errors.New("session expired")

	ErrInvalidDate = errors.New("date must match YYYY-MM-DD")
	ErrNoSuchVenue = errors.New("no such venue")
	ErrNoSuchJob   = errors.New("no such job")
)

// ParseError reports a platform payload field that was absent or not
// coercible to its declared type.
type ParseError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: field %q: %s", e.Entity, e.Field, e.Reason)
}

// ProtocolError reports an unexpected response shape from the platform.
type ProtocolError struct {
	Op     string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: unexpected platform response: %s", e.Op, e.Reason)
}

// HTTPError carries a login status code without a dedicated mapping.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error [%d]", e.StatusCode)
}

// IsAuthError reports whether err is fatal to the current login attempt and
// must be surfaced to the operator rather than retried.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMFANotSatisfied) ||
		errors.Is(err, ErrBadCredentials) ||
		errors.Is(err, ErrBlocked)
}
