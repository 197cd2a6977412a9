package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType categorizes provider failures for retry decisions.
type ErrorType int8

const (
	// Retryable error types.

	// ErrorTypeRateLimit is a 429 or quota response.
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient covers 5xx, timeouts and dropped connections.
	ErrorTypeTransient
	// ErrorTypeEmptyResponse is a successful call that produced no text.
	ErrorTypeEmptyResponse

	// Non-retryable error types.

	// ErrorTypeAuth is a 401/403 or a missing API key.
	ErrorTypeAuth
	// ErrorTypeBadPrompt is a malformed or oversized request.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is anything unclassified. It is retried.
	ErrorTypeUnknown
)

// String returns the metric label for the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified provider error.
type Error struct {
	Err        error     // wrapped provider error
	Message    string    // human-readable message
	Type       ErrorType // classification
	StatusCode int       // HTTP status code if known
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("LLM error (%s): %s", e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %v", e.Type, e.Err)
	}
	return fmt.Sprintf("LLM error (%s): status %d", e.Type, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ShouldRetry reports whether another attempt can succeed. Everything is
// retryable except authentication and bad prompt errors.
func (e *Error) ShouldRetry() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt:
		return false
	default:
		return true
	}
}

// NewError creates a classified error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// NewErrorWithStatus creates a classified error carrying an HTTP status.
func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{Type: errorType, StatusCode: statusCode, Message: message}
}

// NewErrorWithCause creates a classified error wrapping cause.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// Is reports whether err is an Error of errorType.
func Is(err error, errorType ErrorType) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// TypeOf returns err's classification, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// ClassifyStatus maps an HTTP status code to an error type. ok is false for
// codes that carry no classification.
func ClassifyStatus(status int) (ErrorType, bool) {
	switch {
	case status == 401 || status == 403:
		return ErrorTypeAuth, true
	case status == 429:
		return ErrorTypeRateLimit, true
	case status == 400 || status == 404 || status == 413 || status == 422:
		return ErrorTypeBadPrompt, true
	case status >= 500 && status <= 599:
		return ErrorTypeTransient, true
	default:
		return ErrorTypeUnknown, false
	}
}

// Classify wraps a provider error. A known status code takes precedence over
// message patterns. Errors that are already classified pass through.
func Classify(err error, status int, provider string) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewErrorWithCause(ErrorTypeTransient, err, provider+" request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return NewErrorWithCause(ErrorTypeTransient, err, provider+" request canceled")
	}

	if t, ok := ClassifyStatus(status); ok {
		return &Error{Type: t, StatusCode: status, Err: err, Message: fmt.Sprintf("%s returned status %d: %v", provider, status, err)}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case containsAny(lower, "timeout", "connection", "network", "temporary", "eof", "reset", "unavailable"):
		return NewErrorWithCause(ErrorTypeTransient, err, provider+" network or connection error")
	case containsAny(lower, "rate", "quota", "too many requests"):
		return NewErrorWithCause(ErrorTypeRateLimit, err, provider+" rate limiting detected")
	case containsAny(lower, "unauthorized", "api key", "authentication", "permission denied"):
		return NewErrorWithCause(ErrorTypeAuth, err, provider+" authentication error")
	case containsAny(lower, "invalid", "malformed", "too large", "context length", "not found"):
		return NewErrorWithCause(ErrorTypeBadPrompt, err, provider+" rejected the request")
	default:
		return NewErrorWithCause(ErrorTypeUnknown, err, provider+" unclassified error")
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
