package zkgroup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffLinearAndClamped(t *testing.T) {
	r := NewRetrier(100*time.Millisecond, 350*time.Millisecond, time.Second)
	assert.Equal(t, time.Duration(0), r.Backoff(0))
	assert.Equal(t, 100*time.Millisecond, r.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, r.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, r.Backoff(3))
	assert.Equal(t, 350*time.Millisecond, r.Backoff(4))
	assert.Equal(t, 350*time.Millisecond, r.Backoff(1000))

	// monotonically non-decreasing
	prev := time.Duration(0)
	for n := 1; n <= 50; n++ {
		d := r.Backoff(n)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", n)
		prev = d
	}
}

func TestRetrierCountsAndResets(t *testing.T) {
	r := NewRetrier(time.Millisecond, 5*time.Millisecond, time.Second)
	fail := errors.New("boom")

	err := r.Do(context.Background(), func(context.Context) error { return fail })
	require.ErrorIs(t, err, fail)
	assert.Equal(t, 1, r.Attempts())

	err = r.Do(context.Background(), func(context.Context) error { return fail })
	require.ErrorIs(t, err, fail)
	assert.Equal(t, 2, r.Attempts())

	err = r.Do(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, r.Attempts(), "counter resets on success")
}

func TestRetrierCancelDuringDelay(t *testing.T) {
	r := NewRetrier(time.Hour, time.Hour, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	ran := false

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := r.Do(ctx, func(context.Context) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran, "operation must not run when cancelled during the delay")
}

func TestRetrierAppliesOperationTimeout(t *testing.T) {
	r := NewRetrier(time.Millisecond, time.Millisecond, 30*time.Millisecond)
	err := r.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetrierConvertsPanics(t *testing.T) {
	r := NewRetrier(time.Millisecond, time.Millisecond, time.Second)
	err := r.Do(context.Background(), func(context.Context) error {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}
