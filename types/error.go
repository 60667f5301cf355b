package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the serving layer.
type ErrorCode string

// Batch processing error codes
const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrBatchExecution  ErrorCode = "BATCH_EXECUTION"
	ErrBatchCancelled  ErrorCode = "BATCH_CANCELLED"
	ErrProcessorClosed ErrorCode = "PROCESSOR_CLOSED"
)

// Cache error codes
const (
	ErrCacheWrite ErrorCode = "CACHE_WRITE"
	ErrCacheRead  ErrorCode = "CACHE_READ"
)

// Lookup error codes
const (
	ErrNotFound ErrorCode = "NOT_FOUND"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, or "" if it is not
// a structured Error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
