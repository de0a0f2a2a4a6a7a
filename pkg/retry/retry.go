// Package retry provides exponential backoff, both as a blocking helper and
// as a deadline schedule for event-loop driven retries.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int           // Maximum number of attempts (0 = infinite)
	InitialWait time.Duration // Initial wait time
	MaxWait     time.Duration // Maximum wait time
	Multiplier  float64       // Backoff multiplier
	Jitter      float64       // Jitter factor (0-1)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 8,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     5 * time.Minute,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// Wait returns the backoff delay before the given attempt (1-based).
func (c Config) Wait(attempt int) time.Duration {
	wait := float64(c.InitialWait) * math.Pow(c.Multiplier, float64(attempt-1))
	if wait > float64(c.MaxWait) {
		wait = float64(c.MaxWait)
	}
	if c.Jitter > 0 {
		wait += wait * c.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(wait)
}

// Backoff tracks retry attempts for one operation without blocking. An
// event loop records failures and polls Ready against its own clock.
type Backoff struct {
	cfg      Config
	attempts int
	deadline time.Time
}

// NewBackoff creates a backoff schedule with no attempts recorded.
func NewBackoff(cfg Config) *Backoff {
	return &Backoff{cfg: cfg}
}

// Fail records a failed attempt and returns false once the attempt budget
// is exhausted.
func (b *Backoff) Fail(now time.Time) bool {
	b.attempts++
	if b.cfg.MaxAttempts > 0 && b.attempts >= b.cfg.MaxAttempts {
		return false
	}
	b.deadline = now.Add(b.cfg.Wait(b.attempts))
	return true
}

// Ready reports whether the next attempt may start.
func (b *Backoff) Ready(now time.Time) bool {
	return !now.Before(b.deadline)
}

// Attempts returns the number of failures recorded so far.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Reset clears the schedule after a success.
func (b *Backoff) Reset() {
	b.attempts = 0
	b.deadline = time.Time{}
}

// RetryableError wraps an error that should be retried.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string {
	return e.Err.Error()
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps an error to mark it as retryable.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err}
}

// IsRetryable returns true if the error should be retried.
func IsRetryable(err error) bool {
	var retryable RetryableError
	return errors.As(err, &retryable)
}

// Do executes fn with retries, sleeping between attempts. Non-retryable
// errors abort immediately.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error

	for attempt := 1; cfg.MaxAttempts == 0 || attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Wait(attempt)):
		}
	}

	return lastErr
}
