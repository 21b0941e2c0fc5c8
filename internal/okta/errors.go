package okta

import (
	"errors"
	"fmt"
)

// Authentication-phase errors abort the whole run: nothing downstream can
// proceed without a session.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountLocked      = errors.New("account is locked out")
	ErrSessionExpired     = errors.New("okta session has expired")

	// Challenge errors are locally retryable up to the factor budget.
	ErrFactorRejected = errors.New("factor verification rejected")
	ErrFactorTimeout  = errors.New("factor challenge timed out")

	// ErrNoFactorsRemaining escalates a ChallengeError to an
	// authentication failure once every factor's budget is spent.
	ErrNoFactorsRemaining = errors.New("no usable MFA factors remaining")

	ErrAppNotAccessible = errors.New("application not accessible for this user")
)

// AuthError wraps a fatal authentication failure with its phase.
type AuthError struct {
	Phase string // "login", "challenge", "session"
	Err   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed during %s: %v", e.Phase, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError reports a failure to retrieve or recognize an application's
// SAML payload.
type FetchError struct {
	App string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching assertion for %q: %v", e.App, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
