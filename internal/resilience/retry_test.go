package resilience

import (
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("syntax error at or near")))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(context.DeadlineExceeded))

	assert.True(t, IsTransient(NewTransientError(errors.New("anything"))))
	assert.True(t, IsTransient(syscall.ECONNRESET))
	assert.True(t, IsTransient(errors.New("read tcp: connection reset by peer")))
	assert.True(t, IsTransient(errors.New("conn closed")))
	assert.True(t, IsTransient(errors.New("database is locked")))
}

func TestIsTransientWrapped(t *testing.T) {
	inner := NewTransientError(errors.New("pool exhausted"))
	wrapped := errors.Join(errors.New("fetch row"), inner)
	assert.True(t, IsTransient(wrapped))
}

func TestRetryOnceSucceedsSecondTry(t *testing.T) {
	calls := 0
	val, err := RetryOnce(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("conn closed")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 2, calls)
}

func TestRetryOnceGivesUpAfterSecondFailure(t *testing.T) {
	calls := 0
	_, err := RetryOnce(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("conn closed")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryOnceDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	_, err := RetryOnce(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("relation does not exist")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryOnceRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := RetryOnce(ctx, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("conn closed")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
