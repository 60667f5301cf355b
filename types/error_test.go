package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	e := NewError(ErrCacheWrite, "put failed")
	assert.Equal(t, "[CACHE_WRITE] put failed", e.Error())

	e = e.WithCause(errors.New("connection refused"))
	assert.Equal(t, "[CACHE_WRITE] put failed: connection refused", e.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	e := NewError(ErrBatchExecution, "handler failed").WithCause(cause)

	assert.ErrorIs(t, e, cause)
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", e), cause)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(NewError(ErrInvalidRequest, "bad input")))
	assert.True(t, IsRetryable(NewError(ErrCacheWrite, "timeout").WithRetryable(true)))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrNotFound, GetErrorCode(NewError(ErrNotFound, "missing")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", NewError(ErrBatchCancelled, "cleared"))
	assert.Equal(t, ErrBatchCancelled, GetErrorCode(wrapped))
}
