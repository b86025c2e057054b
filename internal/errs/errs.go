// Package errs defines the error taxonomy shared by the request pipeline
// and the refresh coordinator. Classification happens once, in the
// transport layer; everything above it matches with errors.As.
package errs

import (
	"errors"
	"fmt"
)

// NetworkError is a transient transport failure. It is surfaced to the
// caller unmodified; this core never retries it on its own.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("network error during %s", e.Op)
	}
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthExpiredError signals that the server rejected the access token as
// expired. It is the only error class recovered locally: one refresh
// followed by one replay.
type AuthExpiredError struct {
	Code string
}

func (e *AuthExpiredError) Error() string {
	if e.Code == "" {
		return "access token expired"
	}
	return fmt.Sprintf("access token expired (%s)", e.Code)
}

// AuthInvalidError means the refresh token itself was rejected. Not
// recoverable; always followed by forced logout.
type AuthInvalidError struct {
	Reason string
	Err    error
}

func (e *AuthInvalidError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("authentication invalid: %s", e.Reason)
	}
	return fmt.Sprintf("authentication invalid: %s: %v", e.Reason, e.Err)
}

func (e *AuthInvalidError) Unwrap() error { return e.Err }

// ValidationError carries a server-side input validation failure through
// to the caller untouched.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Code, e.Message)
}

// GraphQLError is any other resolver-level failure. Business errors pass
// through the pipeline without triggering recovery.
type GraphQLError struct {
	Code    string
	Message string
}

func (e *GraphQLError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsAuthExpired reports whether err classifies as an expired access token.
func IsAuthExpired(err error) bool {
	var target *AuthExpiredError
	return errors.As(err, &target)
}

// IsAuthInvalid reports whether err classifies as a rejected refresh token.
func IsAuthInvalid(err error) bool {
	var target *AuthInvalidError
	return errors.As(err, &target)
}

// IsNetwork reports whether err classifies as a transient transport failure.
func IsNetwork(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}
