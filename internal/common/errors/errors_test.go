package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusinessErrorsAreNotRetryable(t *testing.T) {
	business := []error{
		NewValidationError("bad input"),
		NewNotEligibleError("suspended"),
		NewDuplicateCandidacyError("posting-001", "prof-001"),
		NewPostingClosedError("posting-001", "expired"),
		NewInvalidStateError("CONFIRMED", "OPEN"),
		NewForbiddenError("not the owner"),
		NewNotFoundError("posting", "ghost"),
		NewRateLimitExceededError("activation", 2),
		NewInvalidTokenError("posting-001"),
	}

	for _, err := range business {
		assert.True(t, IsBusiness(err), err.Error())
		assert.False(t, IsRetryable(err), err.Error())
	}
}

func TestInfrastructureErrorsAreRetryable(t *testing.T) {
	infra := []error{
		NewStorageError("insert", fmt.Errorf("connection reset")),
		NewCacheError("get", fmt.Errorf("timeout")),
		NewSearchIndexError("index", fmt.Errorf("unavailable")),
	}

	for _, err := range infra {
		assert.False(t, IsBusiness(err), err.Error())
		assert.True(t, IsRetryable(err), err.Error())
	}
}

func TestCodeOf_UnwrapsThroughWrapping(t *testing.T) {
	inner := NewRateLimitExceededError("activation", 2)
	wrapped := fmt.Errorf("availability toggle: %w", inner)

	assert.Equal(t, ErrCodeRateLimitExceeded, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, ErrCodeRateLimitExceeded))
}

func TestCodeOf_UnknownError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(stderrors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestStorageErrorPreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewStorageError("insert posting", cause)

	require.ErrorIs(t, err, cause)

	var stdErr *StandardError
	require.True(t, stderrors.As(err, &stdErr))
	assert.Equal(t, ErrCodeStorageFailed, stdErr.Code)
	assert.False(t, stdErr.Timestamp.IsZero())
}
