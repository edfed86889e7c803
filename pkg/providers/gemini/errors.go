package gemini

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/genai"
)

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrProvider       ErrorType = "provider_error"
	ErrEmptyResponse  ErrorType = "empty_response_error"
)

// Error is a classified Gemini API failure.
type Error struct {
	Type    ErrorType
	Message string
	Code    string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gemini: %s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("gemini: %s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI:
		return true
	default:
		return false
	}
}

// classify maps SDK errors to *Error. Context errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return &Error{Type: ErrProvider, Message: err.Error(), Err: err}
	}

	var t ErrorType
	switch apiErr.Status {
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION":
		t = ErrInvalidRequest
	case "UNAUTHENTICATED":
		t = ErrAuthentication
	case "PERMISSION_DENIED":
		t = ErrPermission
	case "NOT_FOUND":
		t = ErrNotFound
	case "RESOURCE_EXHAUSTED":
		t = ErrRateLimit
	case "INTERNAL":
		t = ErrAPI
	case "UNAVAILABLE":
		t = ErrOverloaded
	default:
		t = ErrProvider
	}
	switch apiErr.Code {
	case 429:
		t = ErrRateLimit
	case 500:
		t = ErrAPI
	case 503:
		t = ErrOverloaded
	case 401, 403:
		t = ErrAuthentication
	}
	return &Error{Type: t, Message: apiErr.Message, Code: apiErr.Status, Err: err}
}

// withRetry runs op, retrying retryable errors with exponential backoff.
func (c *Client) withRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := classify(op())
		if err == nil {
			return nil
		}
		var ge *Error
		if errors.As(err, &ge) && ge.IsRetryable() {
			c.log.Debug("gemini request failed, retrying", "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, policy)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
