package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "generic error", err: errors.New("some error"), expected: false},
		{name: "ErrNotFound", err: ErrNotFound, expected: true},
		{name: "wrapped ErrNotFound", err: fmt.Errorf("lookup: %w", ErrNotFound), expected: true},
		{name: "ErrScaleNotFound", err: ErrScaleNotFound, expected: true},
		{name: "ErrItemNotFound", err: ErrItemNotFound, expected: true},
		{name: "wrapped ErrContextNotFound", err: fmt.Errorf("active: %w", ErrContextNotFound), expected: true},
		{name: "ErrDuplicate", err: ErrDuplicate, expected: false},
		{name: "ErrContextConflict", err: ErrContextConflict, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsNotFoundError(tt.err))
		})
	}
}

func TestIsDuplicateError(t *testing.T) {
	assert.False(t, IsDuplicateError(nil))
	assert.False(t, IsDuplicateError(ErrNotFound))
	assert.True(t, IsDuplicateError(ErrDuplicate))
	assert.True(t, IsDuplicateError(fmt.Errorf("create scale: %w", ErrDuplicate)))
}

func TestEntityErrorsKeepTheirName(t *testing.T) {
	assert.Equal(t, "entity not found: context", ErrContextNotFound.Error())
	assert.False(t, errors.Is(ErrScaleNotFound, ErrItemNotFound))
}

func TestStoreError(t *testing.T) {
	originalErr := errors.New("database connection failed")
	storeErr := NewStoreError("context", "publish", "database error", originalErr)

	assert.Equal(t, "publish operation on context failed: database error: database connection failed", storeErr.Error())
	assert.Same(t, originalErr, storeErr.Unwrap())
	assert.ErrorIs(t, storeErr, originalErr)

	bare := NewStoreError("item", "pool", "no scales given", nil)
	assert.Equal(t, "pool operation on item failed: no scales given", bare.Error())

	var target *StoreError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", storeErr), &target))
	assert.Equal(t, "publish", target.Operation)
}
