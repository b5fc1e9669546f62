// Package retry polls an operation with growing waits until it succeeds.
//
// The profiler uses it while a freshly spawned interpreter is still
// bootstrapping: its runtime structures exist in memory before they are
// populated, so the first few reads are expected to fail.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is wrapped into the error returned when Policy.Timeout
	// expires.
	ErrTimeout = errors.New("retry timeout exceeded")
	// ErrExhausted is wrapped into the error returned after Policy.Attempts
	// failed calls.
	ErrExhausted = errors.New("retry attempts exhausted")
)

// Policy bounds a retry loop. At least one of Attempts, Timeout or the
// context should end it.
type Policy struct {
	// Initial is the wait after the first failure. Every later wait doubles,
	// up to Max when Max is set.
	Initial time.Duration
	Max     time.Duration
	// Attempts limits the number of calls. Zero means no limit.
	Attempts int
	// Timeout limits the time spent in Do. Zero means no limit.
	Timeout time.Duration
}

// Until returns a policy that polls until deadline.
func Until(deadline time.Time, initial, maxWait time.Duration) Policy {
	timeout := time.Until(deadline)
	if timeout <= 0 {
		// One attempt still happens.
		timeout = time.Nanosecond
	}
	return Policy{Initial: initial, Max: maxWait, Timeout: timeout}
}

// Do calls fn until it returns nil or an error that retryable rejects, the
// policy runs out or ctx is done. A nil retryable retries every error. When
// the policy runs out, the error wraps both the reason and the last failure.
func Do(ctx context.Context, p Policy, fn func() error, retryable func(error) bool) error {
	start := time.Now()
	wait := p.Initial

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}

		if p.Attempts > 0 && attempt >= p.Attempts {
			return fmt.Errorf("%w (%d): %w", ErrExhausted, attempt, err)
		}
		if p.Timeout > 0 {
			remaining := p.Timeout - time.Since(start)
			if remaining <= 0 {
				return fmt.Errorf("%w after %d attempts: %w", ErrTimeout, attempt, err)
			}
			wait = min(wait, remaining)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		wait = next(p, wait)
	}
}

// next doubles wait, capped at p.Max.
func next(p Policy, wait time.Duration) time.Duration {
	wait *= 2
	if wait <= 0 {
		wait = time.Millisecond
	}
	if p.Max > 0 && wait > p.Max {
		wait = p.Max
	}
	return wait
}
