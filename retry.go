package zkgroup

import (
	"context"
	"fmt"
	"time"
)

// Retrier wraps operations with linear, clamped backoff. The attempt counter
// is instance state: each owning actor carries its own Retrier, so multiple
// guardians in one process never interfere.
//
// The counter increments on every invocation including the first, so an
// attempt may carry leftover backoff from a prior failed cycle sharing the
// same counter. It resets to zero on success.
type Retrier struct {
	base      time.Duration
	max       time.Duration
	opTimeout time.Duration
	attempts  int
}

// NewRetrier builds a Retrier from the configured backoff bounds and
// per-attempt operation timeout.
func NewRetrier(base, max, opTimeout time.Duration) *Retrier {
	return &Retrier{base: base, max: max, opTimeout: opTimeout}
}

// Backoff returns min(base*attempt, max).
func (r *Retrier) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := r.base * time.Duration(attempt)
	if d > r.max || d/time.Duration(attempt) != r.base {
		return r.max
	}
	return d
}

// Attempts returns the current attempt counter.
func (r *Retrier) Attempts() int { return r.attempts }

// Reset zeroes the attempt counter.
func (r *Retrier) Reset() { r.attempts = 0 }

// Do increments the attempt counter, waits out the backoff for that attempt,
// then runs op under the operation timeout. Cancellation during the wait
// returns ctx.Err() without running op. Panics inside op surface as errors,
// never across this boundary.
func (r *Retrier) Do(ctx context.Context, op func(context.Context) error) error {
	r.attempts++
	if delay := r.Backoff(r.attempts); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	opCtx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	if err := runGuarded(opCtx, op); err != nil {
		return err
	}
	r.attempts = 0
	return nil
}

func runGuarded(ctx context.Context, op func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("operation panicked: %v", p)
		}
	}()
	return op(ctx)
}
