// Package retry re-runs failing operations with capped exponential backoff.
//
// A Policy is a plain value: build one with MeetupPolicy or DatabasePolicy,
// or fill the fields directly, and call Do or Value.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RETRYABLE MARKER
// ══════════════════════════════════════════════════════════════════════════════

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt under a policy without a
// ShouldRetry predicate. The marker is stripped from the error Do returns.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err carries the Retryable marker.
func IsRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

func strip(err error) error {
	if r, ok := err.(*retryableError); ok {
		return r.err
	}
	return err
}

// Hinter is implemented by errors that know how long the remote side wants
// callers to back off, such as a 429 carrying Retry-After.
type Hinter interface {
	RetryAfterHint() time.Duration
}

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// Policy describes how often and how patiently to retry.
type Policy struct {
	// Attempts counts the first call. Values below 1 mean a single call.
	Attempts int
	// Base is the wait after the first failure.
	Base time.Duration
	// Cap bounds every computed wait. Zero means no cap.
	Cap time.Duration
	// Factor multiplies the wait after each failure. Values below 1 mean 1.
	Factor float64
	// Jitter spreads each wait by ±Jitter of its value, in [0, 1].
	Jitter float64

	// ShouldRetry decides which errors get another attempt. Nil retries
	// only errors marked with Retryable.
	ShouldRetry func(error) bool
	// Notify is called before every wait.
	Notify func(attempt int, err error, wait time.Duration)
}

// MeetupPolicy retries GraphQL requests: half a second doubling up to ten
// seconds, with a fifth of jitter.
func MeetupPolicy(attempts int, shouldRetry func(error) bool) Policy {
	return Policy{
		Attempts:    attempts,
		Base:        500 * time.Millisecond,
		Cap:         10 * time.Second,
		Factor:      2,
		Jitter:      0.2,
		ShouldRetry: shouldRetry,
	}
}

// DatabasePolicy retries short database operations three times.
func DatabasePolicy() Policy {
	return Policy{
		Attempts: 3,
		Base:     50 * time.Millisecond,
		Cap:      time.Second,
		Factor:   2,
		Jitter:   0.05,
	}
}

// Backoff returns the wait after failure number attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	factor := max(p.Factor, 1)
	wait := float64(p.Base) * math.Pow(factor, float64(max(attempt, 1)-1))
	if p.Cap > 0 {
		wait = min(wait, float64(p.Cap))
	}
	if j := min(max(p.Jitter, 0), 1); j > 0 {
		wait *= 1 + j*(2*rand.Float64()-1)
	}
	return time.Duration(max(wait, 0))
}

func (p Policy) retries(err error) bool {
	if p.ShouldRetry != nil {
		return p.ShouldRetry(err)
	}
	return IsRetryable(err)
}

// Do calls op until it succeeds, fails with an error the policy does not
// retry, the attempts run out, or ctx is done. The last error of op is
// returned; a cancelled ctx only wins when op never ran.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)

	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return strip(last)
			}
			return err
		}

		last = op(ctx)
		if last == nil {
			return nil
		}
		if attempt >= attempts || !p.retries(last) {
			return strip(last)
		}

		wait := p.Backoff(attempt)
		var hinter Hinter
		if errors.As(last, &hinter) {
			wait = max(wait, hinter.RetryAfterHint())
		}
		if p.Notify != nil {
			p.Notify(attempt, last, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return strip(last)
		case <-timer.C:
		}
	}
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}
