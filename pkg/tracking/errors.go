package tracking

import (
	"errors"
	"fmt"
)

// AuthError is a session-fatal failure. Every AuthError resets the session.
type AuthError struct {
	Kind    string
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// ValidationError is raised before any network call is made.
type ValidationError struct {
	Kind    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

var (
	// ErrInvalidKey means the authentication endpoint rejected the credential.
	ErrInvalidKey = &AuthError{Kind: "InvalidKey", Message: "invalid api key"}

	// ErrInsufficientPrivilege means the credential is valid but not an administrator.
	ErrInsufficientPrivilege = &AuthError{Kind: "InsufficientPrivilege", Message: "insufficient privilege"}

	// ErrSessionExpired means a previously stored key was rejected on silent re-login.
	ErrSessionExpired = &AuthError{Kind: "Expired", Message: "session expired"}

	// ErrNotAuthenticated is returned by operations that need a live session.
	ErrNotAuthenticated = &AuthError{Kind: "NotAuthenticated", Message: "not authenticated"}

	// ErrInvalidRange means a time filter with from >= to.
	ErrInvalidRange = &ValidationError{Kind: "InvalidRange", Message: "invalid time range"}

	// ErrNonNumericField means a numeric form field could not be parsed.
	ErrNonNumericField = &ValidationError{Kind: "NonNumericField", Message: "non-numeric field"}
)

// NetworkError wraps a transport or server failure during a request.
// It is recoverable: poll cycles report it and retry on the next tick.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: server returned %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is session-fatal.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsValidationError reports whether err was raised by input validation.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNetworkError reports whether err is a transient transport failure.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
