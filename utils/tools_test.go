package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryWithBackoff_SucceedsAfterRetries(t *testing.T) {
	attempts := 0
	errorsSeen := 0

	err := TryWithBackoff(3, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, func(err error) {
		errorsSeen++
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, errorsSeen)
}

func TestTryWithBackoff_ReturnsLastError(t *testing.T) {
	attempts := 0
	err := TryWithBackoff(2, time.Millisecond, func() error {
		attempts++
		return errors.New("always")
	}, func(error) {})

	require.Error(t, err)
	// initial try plus two retries
	assert.Equal(t, 3, attempts)
}

func TestContains(t *testing.T) {
	assert.True(t, Contains([]string{"eth", "tron"}, "tron"))
	assert.False(t, Contains([]string{"eth"}, "tron"))
	assert.False(t, Contains(nil, "eth"))
}
