package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a structured error classification.
type ErrorCode string

const (
	// ErrCodeParse indicates malformed duration, level or config text.
	ErrCodeParse ErrorCode = "PARSE"
	// ErrCodeTaskPanicked indicates a task panicked; the payload is recorded
	// against that task only.
	ErrCodeTaskPanicked ErrorCode = "TASK_PANICKED"
	// ErrCodeShutdownTimeout indicates some tasks did not reach a terminal
	// state before the shutdown deadline.
	ErrCodeShutdownTimeout ErrorCode = "SHUTDOWN_TIMEOUT"
	// ErrCodeChannelClosed indicates the consumer side of a channel is gone.
	ErrCodeChannelClosed ErrorCode = "CHANNEL_CLOSED"
	// ErrCodeCancelled indicates cooperative cancellation.
	ErrCodeCancelled ErrorCode = "CANCELLED"
	// ErrCodeInvalidConfig indicates a configuration value out of range.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	// ErrCodeInternal indicates an internal invariant was violated.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// StructuredError provides structured error information for better observability.
// It includes an error code for programmatic handling, a human-readable message,
// the underlying cause, and optional context for debugging.
type StructuredError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is and errors.As support.
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// Is matches another *StructuredError with the same code and message, so
// package-level sentinels built with [New] work with errors.Is.
func (e *StructuredError) Is(target error) bool {
	t, ok := target.(*StructuredError)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == e.Message
}

// New creates a new StructuredError with the given code and message.
func New(code ErrorCode, message string) *StructuredError {
	return &StructuredError{
		Code:    code,
		Message: message,
	}
}

// NewWithContext creates a new StructuredError with context information.
func NewWithContext(code ErrorCode, message string, context map[string]any) *StructuredError {
	return &StructuredError{
		Code:    code,
		Message: message,
		Context: context,
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(code ErrorCode, message string, cause error) *StructuredError {
	return &StructuredError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithContext wraps an error with additional context information.
func WrapWithContext(code ErrorCode, message string, cause error, context map[string]any) *StructuredError {
	return &StructuredError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: context,
	}
}

// CodeOf returns the code of the first *StructuredError in err's chain, or
// the empty code when there is none.
func CodeOf(err error) ErrorCode {
	var se *StructuredError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsCode reports whether any *StructuredError in err's chain has the given
// code. Joined errors are searched too.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *StructuredError:
		if e.Code == code {
			return true
		}
		return IsCode(e.Cause, code)
	case interface{ Unwrap() []error }:
		for _, sub := range e.Unwrap() {
			if IsCode(sub, code) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return IsCode(e.Unwrap(), code)
	}
	return false
}
