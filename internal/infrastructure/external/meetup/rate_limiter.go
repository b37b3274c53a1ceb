package meetup

import (
	"context"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// PACING
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiterConfig sets how fast the client may call the GraphQL endpoint.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained rate.
	RequestsPerSecond float64
	// BurstSize requests may go back to back after an idle spell.
	BurstSize int
	// MinInterval separates any two requests, burst or not.
	MinInterval time.Duration
	// WaitTimeout caps how long Allow blocks. Zero waits as long as ctx does.
	WaitTimeout time.Duration
	// RetryAfter is the pause after a 429 that named no Retry-After.
	RetryAfter time.Duration
}

// DefaultRateLimiterConfig stays well under what Meetup tolerates for a
// single token.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 2,
		BurstSize:         4,
		MinInterval:       250 * time.Millisecond,
		WaitTimeout:       time.Minute,
		RetryAfter:        30 * time.Second,
	}
}

// RateLimiter paces requests with the generic cell rate algorithm: it keeps
// the time the next request is due at the sustained rate (tat) and lets a
// request through once now is within the burst allowance of it.
type RateLimiter struct {
	interval  time.Duration
	allowance time.Duration
	minGap    time.Duration
	maxWait   time.Duration
	pause     time.Duration
	burst     int
	now       func() time.Time

	mu          sync.Mutex
	tat         time.Time
	last        time.Time
	pausedUntil time.Time
}

func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRateLimiterConfig().RequestsPerSecond
	}
	burst := max(cfg.BurstSize, 1)
	interval := time.Duration(float64(time.Second) / rps)

	return &RateLimiter{
		interval:  interval,
		allowance: interval * time.Duration(burst-1),
		minGap:    cfg.MinInterval,
		maxWait:   cfg.WaitTimeout,
		pause:     cfg.RetryAfter,
		burst:     burst,
		now:       time.Now,
	}
}

// RateLimitError is a 429 from Meetup, or the limiter giving up on a wait.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string { return e.Message }

// RetryAfterHint makes the retry policy wait at least as long as the server
// asked.
func (e *RateLimitError) RetryAfterHint() time.Duration { return e.RetryAfter }

// ErrRateLimitWaitTimeout is returned by Allow when the next slot is further
// away than WaitTimeout.
var ErrRateLimitWaitTimeout = &RateLimitError{Message: "rate limiter: next slot beyond wait timeout"}

// Allow blocks until the next request slot, ctx is done, or the slot turns
// out to be further away than WaitTimeout.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	var waited time.Duration
	for {
		wait := rl.reserve()
		if wait == 0 {
			return nil
		}
		if rl.maxWait > 0 && waited+wait > rl.maxWait {
			return ErrRateLimitWaitTimeout
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
			waited += wait
		}
	}
}

// reserve claims a slot and returns zero, or returns how long until one
// could be claimed.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Before(rl.pausedUntil) {
		return rl.pausedUntil.Sub(now)
	}

	tat := rl.tat
	if tat.Before(now) {
		tat = now
	}
	due := tat.Add(-rl.allowance)
	if gap := rl.last.Add(rl.minGap); !rl.last.IsZero() && gap.After(due) {
		due = gap
	}
	if due.After(now) {
		return due.Sub(now)
	}

	rl.tat = tat.Add(rl.interval)
	rl.last = now
	return 0
}

// RecordRateLimitHit stops every request for retryAfter, or for the
// configured pause when the server sent none, and spends the burst.
func (rl *RateLimiter) RecordRateLimitHit(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = rl.pause
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.pausedUntil = rl.now().Add(retryAfter)
	rl.tat = rl.pausedUntil.Add(rl.allowance)
}

// RateLimiterStatus describes the limiter at one instant. Available is how
// many requests could go out immediately ignoring MinInterval.
type RateLimiterStatus struct {
	Available  int
	Burst      int
	BlockedFor time.Duration
}

func (rl *RateLimiter) Status() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	st := RateLimiterStatus{Burst: rl.burst}
	if now.Before(rl.pausedUntil) {
		st.BlockedFor = rl.pausedUntil.Sub(now)
		return st
	}

	backlog := max(rl.tat.Sub(now), 0)
	if backlog <= rl.allowance {
		st.Available = min(rl.burst, int((rl.allowance-backlog)/rl.interval)+1)
	}
	return st
}
