package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryDelaysGrowAndCap(t *testing.T) {
	p := Policy{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  5,
	}

	var delays []time.Duration
	err := Retry(context.Background(), p, func(attempt int, delay time.Duration) error {
		delays = append(delays, delay)
		return errors.New("nope")
	})

	require.Error(t, err)
	assert.Equal(t, []time.Duration{
		1 * time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond,
	}, delays)
}

func TestRetryStopsOnSuccess(t *testing.T) {
	p := Policy{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2, MaxAttempts: 10}

	calls := 0
	err := Retry(context.Background(), p, func(attempt int, _ time.Duration) error {
		calls++
		if attempt == 3 {
			return nil
		}
		return errors.New("again")
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryReturnsLastError(t *testing.T) {
	p := Policy{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2, MaxAttempts: 2}

	boom := errors.New("boom")
	err := Retry(context.Background(), p, func(int, time.Duration) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestRetryCancelledMidSleep(t *testing.T) {
	p := Policy{InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, MaxAttempts: 5}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, p, func(int, time.Duration) error {
		calls++
		return errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryZeroAttempts(t *testing.T) {
	err := Retry(context.Background(), Policy{MaxAttempts: 0}, func(int, time.Duration) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.NoError(t, err)
}
