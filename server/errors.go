package server

import (
	"fmt"
	"net/http"
)

// OAuth error codes used in token endpoint responses
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidToken         = "invalid_token"
	ErrorCodeUnauthorizedClient   = "unauthorized_client"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeServerError          = "server_error"
	ErrorCodeRateLimitExceeded    = "rate_limit_exceeded"
)

// Error is a protocol-level grant processing error. It carries the OAuth
// error code for the response body and the HTTP status to respond with.
type Error struct {
	Code        string // OAuth error code (e.g., "invalid_grant")
	Description string // Human-readable description, safe to expose to callers
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates a new protocol error
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *Error {
		return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates a bad credential presented to a grant handler:
	// an unknown, consumed, or expired code or refresh token, or wrong user
	// credentials
	ErrInvalidGrant = func(desc string) *Error {
		return NewError(ErrorCodeInvalidGrant, desc, http.StatusUnauthorized)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *Error {
		return NewError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidToken indicates the bearer token is invalid or expired
	ErrInvalidToken = func(desc string) *Error {
		return NewError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
	}

	// ErrUnauthorizedClient indicates the client is not registered for the requested grant type
	ErrUnauthorizedClient = func(desc string) *Error {
		return NewError(ErrorCodeUnauthorizedClient, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedGrantType indicates the grant type is not one the server implements
	ErrUnsupportedGrantType = func(desc string) *Error {
		return NewError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrServerError indicates a storage or internal failure; detail is logged, never exposed
	ErrServerError = func(desc string) *Error {
		return NewError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)
