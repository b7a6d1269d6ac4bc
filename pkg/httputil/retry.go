package httputil

import (
	"context"
	"errors"
	"time"
)

// RetryableError marks a feed failure as transient: a dropped connection, a
// truncated body or a 5xx status. Anything else, including 404, is final.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Transient wraps err in a [RetryableError]. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// Policy bounds how often a feed request is repeated.
type Policy struct {
	Attempts int           // total calls, at least 1
	Delay    time.Duration // wait before the second call, doubled after each
}

// DefaultPolicy is used by feed clients that do not configure one.
var DefaultPolicy = Policy{Attempts: 3, Delay: time.Second}

// Do runs fn under the policy. See [Retry].
func (p Policy) Do(ctx context.Context, fn func() error) error {
	return Retry(ctx, p.Attempts, p.Delay, fn)
}

// Retry calls fn until it succeeds, returns an error that is not a
// [RetryableError], or attempts calls have been made. The last error is
// returned as is. If ctx ends while waiting, ctx.Err() is returned.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	attempts = max(attempts, 1)
	var lastErr error

	for i := range attempts {
		if lastErr = fn(); lastErr == nil || !isRetryable(lastErr) {
			return lastErr
		}
		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			delay *= 2
		}
	}
	return lastErr
}

// RetryWithBackoff runs fn under [DefaultPolicy].
func RetryWithBackoff(ctx context.Context, fn func() error) error {
	return DefaultPolicy.Do(ctx, fn)
}

func isRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
