package contract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var fastPolicy = RetryPolicy{Attempts: 3}

func TestRetry_TransientThenSuccess(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), fastPolicy, func(context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError("fetch", errors.New("rate limited"))
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_Exhausted(t *testing.T) {
	attempts, err := Retry(context.Background(), fastPolicy, func(context.Context) error {
		return NewTransientError("fetch", errors.New("timeout"))
	})
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, attempts)
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	attempts, err := Retry(context.Background(), fastPolicy, func(context.Context) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	attempts, err := Retry(context.Background(), RetryPolicy{}, func(context.Context) error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts, err := Retry(ctx, RetryPolicy{Attempts: 5}, func(context.Context) error {
		cancel()
		return NewTransientError("fetch", errors.New("timeout"))
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
