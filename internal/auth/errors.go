// Package auth issues and verifies session tokens and resolves the
// authenticated user for protected routes.
package auth

import (
	"errors"
	"net/http"
)

// Authentication errors.
var (
	// ErrMissingToken indicates the Authorization header is absent or not a Bearer token.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken indicates the token is malformed, expired or badly signed.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUnknownSubject indicates the token names a user that no longer exists.
	ErrUnknownSubject = errors.New("token subject not found")

	// ErrUnauthorized indicates the request carries no authenticated identity.
	ErrUnauthorized = errors.New("not authorized")
)

// ErrorCode is a machine-readable authentication error code.
type ErrorCode string

const (
	// ErrorCodeUnauthorized maps to HTTP 401.
	ErrorCodeUnauthorized ErrorCode = "Unauthorized"
)

// UnauthorizedMessage is the single client-facing message for every
// authentication failure, so callers cannot tell the cases apart.
const UnauthorizedMessage = "Not authorized"

// AuthError represents an authentication failure as sent to the client.
type AuthError struct {
	// Code is the error code.
	Code ErrorCode

	// Message is the client-facing message.
	Message string

	// HTTPStatus is the HTTP status code.
	HTTPStatus int

	// Cause is the underlying error. It is logged, never sent.
	Cause error
}

func (e *AuthError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Unwrap returns the underlying cause.
func (e *AuthError) Unwrap() error {
	return e.Cause
}

// NewAuthError creates the client-facing error for an authentication failure.
// Every cause collapses to the same 401 response.
func NewAuthError(err error) *AuthError {
	return &AuthError{
		Code:       ErrorCodeUnauthorized,
		Message:    UnauthorizedMessage,
		HTTPStatus: http.StatusUnauthorized,
		Cause:      err,
	}
}
