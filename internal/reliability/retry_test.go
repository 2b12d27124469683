package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
		Name:        "test",
	}
}

func TestRetryer_SucceedsAfterTransientFailures(t *testing.T) {
	r := NewRetryer(fastRetryConfig(3), zerolog.Nop())

	calls := 0
	err := r.Execute(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryer_ExhaustsAttempts(t *testing.T) {
	r := NewRetryer(fastRetryConfig(3), zerolog.Nop())

	calls := 0
	failure := errors.New("still down")
	err := r.Execute(context.Background(), func() error {
		calls++
		return failure
	})
	require.ErrorIs(t, err, failure)
	assert.Equal(t, 3, calls)
}

func TestRetryer_PermanentErrorStopsImmediately(t *testing.T) {
	r := NewRetryer(fastRetryConfig(5), zerolog.Nop())

	calls := 0
	bad := errors.New("unsupported currency")
	err := r.Execute(context.Background(), func() error {
		calls++
		return Permanent(bad)
	})
	require.ErrorIs(t, err, bad)
	assert.Equal(t, 1, calls)
}

func TestRetryer_ContextCancellation(t *testing.T) {
	r := NewRetryer(RetryConfig{
		MaxAttempts: 10,
		BaseDelay:   time.Hour,
		MaxDelay:    time.Hour,
		Name:        "test",
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Execute(ctx, func() error { return errors.New("transient") })
	require.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		MaxFailures: 2,
		Timeout:     time.Hour,
		Name:        "test",
	}, zerolog.Nop())

	failure := errors.New("down")
	require.ErrorIs(t, cb.Execute(func() error { return failure }), failure)
	require.ErrorIs(t, cb.Execute(func() error { return failure }), failure)
	assert.Equal(t, StateOpen, cb.State())

	// Calls are rejected without reaching the function
	calls := 0
	err := cb.Execute(func() error { calls++; return nil })
	require.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, 0, calls)
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		MaxFailures:      1,
		Timeout:          time.Millisecond,
		SuccessThreshold: 2,
		Name:             "test",
	}, zerolog.Nop())

	require.Error(t, cb.Execute(func() error { return errors.New("down") }))
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ReopensOnHalfOpenFailure(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		MaxFailures:      1,
		Timeout:          time.Millisecond,
		SuccessThreshold: 2,
		Name:             "test",
	}, zerolog.Nop())

	require.Error(t, cb.Execute(func() error { return errors.New("down") }))
	time.Sleep(5 * time.Millisecond)

	require.Error(t, cb.Execute(func() error { return errors.New("still down") }))
	assert.Equal(t, StateOpen, cb.State())
}
