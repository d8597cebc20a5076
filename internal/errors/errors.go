// Package errors maps the domain failure taxonomy onto HTTP responses
// and metrics. Secret values never appear in messages sent to clients.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/matthewgrima/twitchcommands/internal/domain"
)

// Type categorizes an error for response formatting and metrics.
type Type string

const (
	// TypeValidation indicates invalid input (HTTP 400)
	TypeValidation Type = "validation"
	// TypeAuth indicates a missing or dead credential (HTTP 401)
	TypeAuth Type = "auth"
	// TypeNotFound indicates resource not found (HTTP 404)
	TypeNotFound Type = "not_found"
	// TypeTransient indicates a retryable upstream failure (HTTP 503)
	TypeTransient Type = "transient"
	// TypeInternal indicates a server-side fault (HTTP 500)
	TypeInternal Type = "internal"
)

// Error is a structured error carrying a taxonomy type and a message
// safe to show to the caller. Cause is for logs only.
type Error struct {
	Type    Type
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the response status for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeAuth:
		return http.StatusUnauthorized
	case TypeNotFound:
		return http.StatusNotFound
	case TypeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func Validation(message string) *Error {
	return &Error{Type: TypeValidation, Message: message}
}

func Auth(message string) *Error {
	return &Error{Type: TypeAuth, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Type: TypeNotFound, Message: message}
}

func Transient(message string, cause error) *Error {
	return &Error{Type: TypeTransient, Message: message, Cause: cause}
}

func Internal(message string, cause error) *Error {
	return &Error{Type: TypeInternal, Message: message, Cause: cause}
}

// Response is the JSON body sent to clients.
type Response struct {
	Error string `json:"error"`
	Type  Type   `json:"type"`
}

func (e *Error) ToResponse() Response {
	return Response{Error: e.Message, Type: e.Type}
}

// FromDomain converts a domain taxonomy error into a structured Error.
// Unknown errors become opaque internals so no detail leaks.
func FromDomain(err error) *Error {
	if err == nil {
		return nil
	}

	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}

	switch {
	case errors.Is(err, domain.ErrInvalidGrant),
		errors.Is(err, domain.ErrCredentialExpired),
		errors.Is(err, domain.ErrRevoked),
		errors.Is(err, domain.ErrNotAuthenticated):
		return &Error{Type: TypeAuth, Message: "please log in again", Cause: err}
	case errors.Is(err, domain.ErrInvalidScope):
		return &Error{Type: TypeValidation, Message: "granted permissions are insufficient", Cause: err}
	case errors.Is(err, domain.ErrTransient):
		return &Error{Type: TypeTransient, Message: "twitch is temporarily unavailable, try again", Cause: err}
	case errors.Is(err, domain.ErrCredentialNotFound),
		errors.Is(err, domain.ErrSubscriptionNotFound),
		errors.Is(err, domain.ErrUserNotFound):
		return &Error{Type: TypeNotFound, Message: "not found", Cause: err}
	default:
		return &Error{Type: TypeInternal, Message: "internal server error", Cause: err}
	}
}
