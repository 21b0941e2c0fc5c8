package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instantPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Jitter:      func(d time.Duration) time.Duration { return d },
		Sleep:       func(ctx context.Context, d time.Duration) error { return nil },
	}
}

var errThrottled = errors.New("throttled")

func TestDoSucceedsAfterThrottling(t *testing.T) {
	calls := 0
	err := Do(context.Background(), instantPolicy(5),
		func(err error) bool { return errors.Is(err, errThrottled) },
		func(ctx context.Context) error {
			calls++
			if calls <= 3 {
				return errThrottled
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 4, calls, "three throttles then success")
}

func TestDoExhaustsBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), instantPolicy(5),
		func(error) bool { return true },
		func(ctx context.Context) error {
			calls++
			return errThrottled
		})

	assert.Equal(t, 5, calls, "no attempts beyond the budget")

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)
	assert.ErrorIs(t, err, errThrottled)
	assert.Contains(t, err.Error(), "5 attempts")
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("access denied")
	calls := 0
	err := Do(context.Background(), instantPolicy(5),
		func(err error) bool { return errors.Is(err, errThrottled) },
		func(ctx context.Context) error {
			calls++
			return permanent
		})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, permanent)
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := instantPolicy(5)
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := Do(ctx, p, func(error) bool { return true }, func(ctx context.Context) error {
		return errThrottled
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelayGrowsAndCaps(t *testing.T) {
	p := Policy{
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  2 * time.Second,
		Jitter:    func(d time.Duration) time.Duration { return d },
	}

	assert.Equal(t, 500*time.Millisecond, p.delay(1))
	assert.Equal(t, 1*time.Second, p.delay(2))
	assert.Equal(t, 2*time.Second, p.delay(3))
	assert.Equal(t, 2*time.Second, p.delay(4), "capped at MaxDelay")
}
