// Package core holds the canonical error shape returned at the HTTP and
// WebSocket boundary.
package core

import "fmt"

// Error is the body of the {"error": ...} envelope.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	// ProviderError is the upstream code or detail for provider failures.
	ProviderError any `json:"provider_error,omitempty"`
}

func (e *Error) Error() string {
	msg := string(e.Type) + ": " + e.Message
	if e.Param != "" {
		msg += fmt.Sprintf(" (param: %s)", e.Param)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" (code: %s)", e.Code)
	}
	return msg
}

type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrConflict       ErrorType = "conflict_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrProvider       ErrorType = "provider_error"
	ErrUnavailable    ErrorType = "unavailable_error"
)

func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message, Param: param}
}

func NewNotFoundError(message string) *Error {
	return &Error{Type: ErrNotFound, Message: message}
}

// NewConflictError reports a request that is valid but not possible in the
// advisor's current state, such as narrating before any report exists.
func NewConflictError(message, code string) *Error {
	return &Error{Type: ErrConflict, Message: message, Code: code}
}

// NewUnavailableError reports a feature that is not configured or a process
// that is shutting down.
func NewUnavailableError(message, code string) *Error {
	return &Error{Type: ErrUnavailable, Message: message, Code: code}
}

// IsRetryable reports whether the same call may succeed later unchanged.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI, ErrUnavailable:
		return true
	}
	return false
}
