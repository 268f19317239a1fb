// Package backoff provides bounded exponential retry spacing for the broker
// and store connect loops.
package backoff

import (
	"context"
	"time"
)

type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
}

// Retry runs fn up to p.MaxAttempts times. fn receives the 1-based attempt
// number and the delay associated with that attempt
// (min(MaxDelay, InitialDelay×Multiplier^(attempt−1))). fn returning nil stops
// the sequence. Between attempts Retry sleeps the NEXT attempt's delay; the
// sleep is interruptible, and on cancellation Retry returns ctx.Err() without
// running fn again. When all attempts fail, the last error is returned.
func Retry(ctx context.Context, p Policy, fn func(attempt int, delay time.Duration) error) error {
	if p.MaxAttempts <= 0 {
		return nil
	}

	delay := p.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(attempt, delay)
		if lastErr == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay = next(delay, p)
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
	return lastErr
}

func next(cur time.Duration, p Policy) time.Duration {
	d := time.Duration(float64(cur) * p.Multiplier)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
