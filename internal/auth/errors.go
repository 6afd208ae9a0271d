package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for authentication outcomes.
// Use errors.Is(err, auth.ErrAuthenticationFailed) to check.
var (
	// ErrAuthenticationFailed reports that silent and interactive credential
	// acquisition both failed without a definitive cancellation signal.
	// The concrete cause is reachable through the wrapping AuthError.
	ErrAuthenticationFailed = errors.New("auth: authentication failed")

	// ErrAuthenticationCancelled reports that the user aborted the
	// interactive sign-in. Kept distinct from ErrAuthenticationFailed so
	// hosts can suppress error UI and simply re-prompt later.
	ErrAuthenticationCancelled = errors.New("auth: authentication cancelled")

	// ErrServiceNotFound reports that discovery returned no service entry
	// matching the configured capability and API version. A configuration
	// problem, not transient — never retried automatically.
	ErrServiceNotFound = errors.New("auth: no matching service for account")
)

// AuthError wraps the underlying cause of a failed protocol run together
// with the stage that failed. Matches ErrAuthenticationFailed under
// errors.Is; the cause stays reachable through Unwrap.
type AuthError struct {
	Stage string
	Err   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s: %v", e.Stage, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is treat any AuthError as ErrAuthenticationFailed without
// shadowing the wrapped cause chain.
func (e *AuthError) Is(target error) bool {
	return target == ErrAuthenticationFailed
}
