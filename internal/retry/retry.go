// Package retry implements bounded exponential backoff with jitter.
//
// The policy is an explicit value passed to callers rather than a hidden
// client default, so tests can run with a zero-delay policy and a fixed
// jitter function.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Policy describes how an idempotent network operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Jitter scales a computed delay. Nil means full jitter
	// (random duration in [0, delay)).
	Jitter func(time.Duration) time.Duration

	// Sleep is overridable in tests. Nil means time.Sleep honoring ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default matches the exchange policy: base 500ms, capped at 8s, 5 attempts.
func Default() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// ExhaustedError reports that every attempt failed. It is the caller-visible
// form of a transient failure: the attempt count is part of the message.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is exhausted. retryable decides whether an error is worth
// another attempt (throttling, 5xx, transport failures).
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		last = err

		if attempt == p.MaxAttempts {
			break
		}
		if err := p.sleep(ctx, p.delay(attempt)); err != nil {
			return err
		}
	}

	return &ExhaustedError{Attempts: p.MaxAttempts, Last: last}
}

func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter != nil {
		return p.Jitter(d)
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
