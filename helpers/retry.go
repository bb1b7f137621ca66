package helpers

import (
	"context"
	"time"

	"github.com/juju/errors"
)

// Bounded retry with fixed delay before every attempt, including the first.
// Zero value is 1 attempt without delay.
type Retry struct {
	Attempts int
	Delay    time.Duration
	// nil = always retry
	Retryable func(error) bool
	// nil = SleepContext, tests inject fake to avoid real time passing
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do returns nil on first success or last attempt error.
// Non retryable error is returned immediately.
func (r Retry) Do(ctx context.Context, op func(attempt int) error) error {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if r.Delay > 0 {
			if serr := sleep(ctx, r.Delay); serr != nil {
				if err == nil {
					err = serr
				}
				return errors.Annotatef(err, "retry interrupted attempt=%d/%d", i, attempts)
			}
		}
		if err = op(i); err == nil {
			return nil
		}
		if r.Retryable != nil && !r.Retryable(err) {
			return err
		}
	}
	return err
}

// SleepContext waits d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
