package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("connection refused")
	err := NewError(ErrStoreError, "failed to save workflow").
		WithCause(root).
		WithRetryable(true).
		WithDetail("workflow_id", "research")

	assert.Equal(t, ErrStoreError, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, root)
	assert.Equal(t, "[STORE_ERROR] failed to save workflow: connection refused", err.Error())
	assert.Equal(t, "research", err.Details["workflow_id"])
	assert.Equal(t, http.StatusInternalServerError, err.Status())
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrNotFound, "workflow not found")
	wrapped := fmt.Errorf("load: %w", inner)

	e, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, e)
	assert.Equal(t, ErrNotFound, GetErrorCode(wrapped))
	assert.False(t, IsRetryable(wrapped))

	_, ok = AsError(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestError_Status(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrInvalidRequest, http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{ErrGraphInvalidEdge, http.StatusUnprocessableEntity},
		{ErrCompileFailed, http.StatusUnprocessableEntity},
		{ErrRunStartFailed, http.StatusBadGateway},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrServiceUnavailable, http.StatusServiceUnavailable},
		{ErrorCode("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NewError(tt.code, "x").Status(), tt.code)
	}

	assert.Equal(t, http.StatusConflict, NewError(ErrInvalidRequest, "x").WithHTTPStatus(http.StatusConflict).Status())
}
