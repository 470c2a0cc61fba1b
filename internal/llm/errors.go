package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies a provider failure.
type ErrorCode string

const (
	// ErrAuth means the API key was rejected. Terminal.
	ErrAuth ErrorCode = "AUTH_ERROR"
	// ErrRateLimit means the vendor throttled the request. Retryable.
	ErrRateLimit ErrorCode = "RATE_LIMIT"
	// ErrTimeout means the call exceeded its deadline. Retryable.
	ErrTimeout ErrorCode = "TIMEOUT"
	// ErrProvider means the vendor returned an unexpected failure.
	// Retryable only when the upstream status was a server error.
	ErrProvider ErrorCode = "PROVIDER_ERROR"
	// ErrInvalidRequest means the request was malformed or referenced an
	// unknown model. Terminal.
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	// ErrBadOutput means the model response could not be parsed. Terminal.
	ErrBadOutput ErrorCode = "BAD_OUTPUT"
)

// Error is the normalized provider failure. Every provider maps its
// vendor-specific errors into this shape so the retry wrapper and the
// analysis engine never inspect vendor types.
type Error struct {
	Code     ErrorCode
	Provider string
	Message  string
	// Retryable marks the server-error subset of ErrProvider; the other
	// codes have a fixed retryability.
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s [%s]", e.Provider, e.Code)
}

// Unwrap returns the wrapped vendor error.
func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether the failure is worth retrying.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case ErrRateLimit, ErrTimeout:
		return true
	case ErrProvider:
		return e.Retryable
	default:
		return false
	}
}

// IsRetryable reports whether an arbitrary error is a retryable provider
// failure. Unrecognized errors are not retried.
func IsRetryable(err error) bool {
	var provErr *Error
	if errors.As(err, &provErr) {
		return provErr.IsRetryable()
	}
	return false
}

// classifyStatus maps an upstream HTTP status to a normalized error.
func classifyStatus(provider string, status int, message string) *Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Code: ErrAuth, Provider: provider, Message: message}
	case status == http.StatusTooManyRequests:
		return &Error{Code: ErrRateLimit, Provider: provider, Message: message}
	case status == http.StatusRequestTimeout:
		return &Error{Code: ErrTimeout, Provider: provider, Message: message}
	case status >= 500:
		return &Error{Code: ErrProvider, Provider: provider, Message: message, Retryable: true}
	case status >= 400:
		return &Error{Code: ErrInvalidRequest, Provider: provider, Message: message}
	default:
		return &Error{Code: ErrProvider, Provider: provider, Message: message}
	}
}

// wrapTransport normalizes transport-level failures (timeouts,
// cancellations, connection errors).
func wrapTransport(provider string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: ErrTimeout, Provider: provider, Message: "request deadline exceeded", Err: err}
	}
	return &Error{Code: ErrProvider, Provider: provider, Message: err.Error(), Retryable: true, Err: err}
}
