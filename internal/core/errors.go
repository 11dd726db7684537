// internal/core/errors.go
package core

import (
	"errors"
	"fmt"
)

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Errorf wraps a formatted cause under base.
func Errorf(base *Error, format string, args ...any) *Error {
	return WrapError(base, fmt.Errorf(format, args...))
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Predefined errors
var (
	// Upstream errors, produced by provider adapters
	ErrRateLimited    = &Error{Code: "RATE_LIMITED", Message: "provider rate limit exceeded"}
	ErrBadResponse    = &Error{Code: "BAD_RESPONSE", Message: "malformed provider response"}
	ErrTimeout        = &Error{Code: "UPSTREAM_TIMEOUT", Message: "provider request timed out"}
	ErrProviderFailed = &Error{Code: "PROVIDER_FAILED", Message: "provider request failed"}
	ErrSymbolNotFound = &Error{Code: "SYMBOL_NOT_FOUND", Message: "symbol not found"}
	ErrUnsupported    = &Error{Code: "UNSUPPORTED", Message: "operation not supported by provider"}

	// Caller-facing errors
	ErrAllProvidersExhausted = &Error{Code: "ALL_PROVIDERS_EXHAUSTED", Message: "no provider could serve the request"}
	ErrInvalidSymbol         = &Error{Code: "INVALID_SYMBOL", Message: "invalid symbol"}
	ErrInvalidRequest        = &Error{Code: "INVALID_REQUEST", Message: "invalid request"}

	// Storage errors
	ErrNotFound = &Error{Code: "NOT_FOUND", Message: "object not found"}

	// Config errors
	ErrNoProviders   = &Error{Code: "NO_PROVIDERS", Message: "no providers configured"}
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}
)
