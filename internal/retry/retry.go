package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy is a bounded retry policy. Attempts counts the first call.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration

	// Backoff returns the wait after the given failed attempt (1-based).
	// Nil means Linear.
	Backoff func(attempt int, base time.Duration) time.Duration

	// Sleep waits for d or until ctx is done. Nil means a timer wait.
	Sleep func(ctx context.Context, d time.Duration) error

	// Retryable filters errors worth another attempt. Nil retries everything.
	Retryable func(err error) bool
}

// Default is three attempts with a 500ms linear backoff.
func Default() Policy {
	return Policy{Attempts: 3, BaseDelay: 500 * time.Millisecond}
}

// Linear waits attempt × base.
func Linear(attempt int, base time.Duration) time.Duration {
	return time.Duration(attempt) * base
}

// Do runs fn until it succeeds or the attempts run out. The last error is
// returned wrapped with the attempt count.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for calls that return a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = Linear
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = wait
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, backoff(attempt, p.BaseDelay)); err != nil {
			return zero, fmt.Errorf("retry interrupted after %d attempts: %w", attempt, lastErr)
		}
	}
	return zero, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
