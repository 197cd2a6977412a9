package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrExecution matches any AgentExecutionError.
	ErrExecution = errors.New("agent execution failed")

	// ErrRetriesExhausted matches an AgentRetriesExhaustedError.
	ErrRetriesExhausted = errors.New("agent retries exhausted")

	// ErrAttemptTimeout indicates an attempt exceeded its time budget.
	ErrAttemptTimeout = errors.New("agent attempt timed out")

	// ErrMissingInput indicates a declared input field was absent from the state.
	ErrMissingInput = errors.New("declared input missing from state")
)

// RetryableError lets an error decide whether another attempt can help.
type RetryableError interface {
	error
	ShouldRetry() bool
}

// AgentExecutionError is the failure of one attempt.
type AgentExecutionError struct {
	Agent   string
	Attempt int
	Cause   error
}

func (e *AgentExecutionError) Error() string {
	return fmt.Sprintf("agent %s attempt %d: %v", e.Agent, e.Attempt, e.Cause)
}

func (e *AgentExecutionError) Unwrap() error {
	return e.Cause
}

func (e *AgentExecutionError) Is(target error) bool {
	return target == ErrExecution
}

// ShouldRetry defers to the cause; unclassified causes are retried.
func (e *AgentExecutionError) ShouldRetry() bool {
	var r RetryableError
	if errors.As(e.Cause, &r) {
		return r.ShouldRetry()
	}
	return true
}

// AgentRetriesExhaustedError is returned after the final attempt fails.
type AgentRetriesExhaustedError struct {
	Agent    string
	Attempts int
	Last     *AgentExecutionError
}

func (e *AgentRetriesExhaustedError) Error() string {
	return fmt.Sprintf("agent %s failed after %d attempt(s): %v", e.Agent, e.Attempts, e.Last.Cause)
}

func (e *AgentRetriesExhaustedError) Unwrap() error {
	return e.Last
}

func (e *AgentRetriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// PermanentError marks a cause that another attempt cannot fix.
type PermanentError struct {
	Underlying error
}

func (e *PermanentError) Error() string {
	return e.Underlying.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Underlying
}

// ShouldRetry always returns false.
func (e *PermanentError) ShouldRetry() bool {
	return false
}

// Permanent wraps err so the Runner stops retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Underlying: err}
}
