// Package retryx provides bounded exponential backoff around calls to the
// identity service. The caller supplies the error classification so the same
// policy is applied consistently at every call site instead of each one
// growing its own backoff loop.
package retryx

import (
	"context"
	"time"
)

// Class is the retry classification of an error.
type Class int

const (
	// ClassFatal errors indicate the credential itself is unusable. They are
	// returned immediately and must never be retried.
	ClassFatal Class = iota

	// ClassRetryable errors are transient service conditions (rate limiting).
	ClassRetryable

	// ClassOther covers everything else. Returned immediately so unexpected
	// failures are not masked as transient.
	ClassOther
)

// Classifier maps an error to a retry Class.
type Classifier func(error) Class

// Config bounds a retry loop. The zero value is not usable; use Defaults or
// fill every field.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the sleep before the second attempt. It doubles after
	// every retryable failure.
	InitialDelay time.Duration

	// Sleep is swapped out in tests. Nil means a context-aware timer sleep.
	Sleep func(context.Context, time.Duration) error
}

// Defaults returns the policy used for session refresh calls: three attempts
// with a one second initial backoff.
func Defaults() Config {
	return Config{MaxAttempts: 3, InitialDelay: time.Second}
}

// Do runs op under the retry policy. Only errors classified ClassRetryable
// are retried; fatal and unknown errors are returned on first sight. After
// MaxAttempts retryable failures the last error is returned.
func Do[T any](ctx context.Context, cfg Config, classify Classifier, op func(context.Context) (T, error)) (T, error) {
	var zero T

	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = timerSleep
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; ; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}

		if classify(err) != ClassRetryable {
			return zero, err
		}

		lastErr = err
		if attempt >= cfg.MaxAttempts {
			return zero, lastErr
		}

		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
		delay *= 2
	}
}

func timerSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
