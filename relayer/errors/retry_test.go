package errors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1.0,
	}
}

func TestRetryWithConfig(t *testing.T) {
	t.Run("retries transient failures until success", func(t *testing.T) {
		calls := 0
		err := RetryWithConfig(context.Background(), func() error {
			calls++
			if calls < 3 {
				return NewRPCError("chainA", "flaky", nil)
			}
			return nil
		}, fastConfig(5))

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := RetryWithConfig(context.Background(), func() error {
			calls++
			return NewTimeoutError("chainA", "slow")
		}, fastConfig(3))

		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("aborts immediately on non-retryable error", func(t *testing.T) {
		calls := 0
		err := RetryWithConfig(context.Background(), func() error {
			calls++
			return NewIntegrityError("chainA", "bad payload", nil)
		}, fastConfig(5))

		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		calls := 0
		err := RetryWithConfig(ctx, func() error {
			calls++
			return NewRPCError("chainA", "flaky", nil)
		}, fastConfig(5))

		require.Error(t, err)
		assert.LessOrEqual(t, calls, 1)
	})
}

func TestIsRetryable(t *testing.T) {
	t.Run("by error code", func(t *testing.T) {
		assert.True(t, IsRetryable(NewNetworkError("c", "down", nil)))
		assert.True(t, IsRetryable(NewRPCError("c", "down", nil)))
		assert.True(t, IsRetryable(NewTimeoutError("c", "slow")))
		assert.False(t, IsRetryable(NewIntegrityError("c", "corrupt", nil)))
		assert.False(t, IsRetryable(NewValidationError("c", "bad")))
	})

	t.Run("by message pattern for plain errors", func(t *testing.T) {
		assert.True(t, IsRetryable(fmt.Errorf("dial tcp: connection refused")))
		assert.True(t, IsRetryable(fmt.Errorf("nonce too low")))
		assert.False(t, IsRetryable(fmt.Errorf("round closed")))
	})

	t.Run("wrapped relay errors keep their code", func(t *testing.T) {
		err := Wrap(NewRPCError("c", "down", nil), "while polling")
		assert.True(t, IsRetryable(err))
	})
}
