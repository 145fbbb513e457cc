package apperrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorError(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		expected string
	}{
		{
			name: "With Code",
			appError: &AppError{
				Code:    "TEST_CODE",
				Message: "This is a test error",
			},
			expected: "[TEST_CODE] This is a test error",
		},
		{
			name: "Without Code",
			appError: &AppError{
				Message: "This is a test error without code",
			},
			expected: "This is a test error without code",
		},
		{
			name: "With Cause",
			appError: &AppError{
				Code:    "DB_ERROR",
				Message: "insert failed",
				Cause:   errors.New("boom"),
			},
			expected: "[DB_ERROR] insert failed: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appError.Error())
		})
	}
}

func TestAppErrorKinds(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		err := Validation(CodeAmountInvalid, "amount %s must be positive", "0")
		assert.ErrorIs(t, err, ErrValidation)
		assert.NotErrorIs(t, err, ErrBusinessRule)
		assert.Equal(t, CodeAmountInvalid, CodeOf(err))
	})

	t.Run("wrapped business rule keeps its code", func(t *testing.T) {
		err := fmt.Errorf("request credit: %w", BusinessRule(CodeLimitExceeded, "over limit"))
		assert.ErrorIs(t, err, ErrBusinessRule)
		assert.Equal(t, CodeLimitExceeded, CodeOf(err))
	})

	t.Run("persistence timeout carries its cause", func(t *testing.T) {
		err := PersistenceTimeout(context.DeadlineExceeded, "commit")
		assert.ErrorIs(t, err, ErrPersistenceTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.True(t, IsRetryable(err))
	})

	t.Run("database error", func(t *testing.T) {
		err := WrapDatabaseError(errors.New("conn reset"), "select credit")
		assert.ErrorIs(t, err, ErrDatabase)
		assert.False(t, IsRetryable(err))
	})

	t.Run("plain error has no code", func(t *testing.T) {
		assert.Empty(t, CodeOf(errors.New("plain")))
	})
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("reason", "must not be empty")
	assert.ErrorIs(t, err, ErrValidation)

	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.Equal(t, "reason", vErr.Field)
	assert.Contains(t, err.Error(), "validation failed for field 'reason'")
}
