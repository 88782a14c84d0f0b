package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryWithBackoff(t *testing.T) {
	t.Run("succeeds on first attempt", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(context.Background(), func() error {
			calls++
			return nil
		}, 3, time.Millisecond, nil)

		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("succeeds after retries", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(context.Background(), func() error {
			calls++
			if calls < 3 {
				return errors.New("temporary")
			}
			return nil
		}, 3, time.Millisecond, nil)

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns last error when exhausted", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(context.Background(), func() error {
			calls++
			return errors.New("persistent")
		}, 2, time.Millisecond, nil)

		assert.EqualError(t, err, "persistent")
		assert.Equal(t, 2, calls)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		permanent := errors.New("permanent")
		calls := 0
		err := RetryWithBackoff(context.Background(), func() error {
			calls++
			return permanent
		}, 5, time.Millisecond, func(err error) bool { return !errors.Is(err, permanent) })

		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("invalid max attempts", func(t *testing.T) {
		err := RetryWithBackoff(context.Background(), func() error { return nil }, 0, time.Millisecond, nil)
		assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
	})

	t.Run("context canceled during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := RetryWithBackoff(ctx, func() error {
			calls++
			cancel()
			return errors.New("fail")
		}, 5, time.Hour, nil)

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestBackoff(t *testing.T) {
	base := 5 * time.Second
	assert.Equal(t, 5*time.Second, Backoff(base, 1))
	assert.Equal(t, 10*time.Second, Backoff(base, 2))
	assert.Equal(t, 20*time.Second, Backoff(base, 3))
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
}
