// Package circuitbreaker stops calling a dependency that keeps failing and
// probes it again after a cool-down. A long pull uses it so that a dead
// Meetup endpoint fails the run quickly instead of burning every retry.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/nykp/meetup-participation/circuitbreaker"

// State is the position of the breaker.
type State uint8

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// ErrOpen matches every rejection with errors.Is.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned instead of calling through while the breaker
// rejects calls.
type OpenError struct {
	Name string
	// RetryIn is the time left until the breaker lets a probe through. Zero
	// while half-open probes are all in flight.
	RetryIn time.Duration
}

func (e *OpenError) Error() string {
	if e.RetryIn > 0 {
		return fmt.Sprintf("%s: circuit open, next probe in %s", e.Name, e.RetryIn.Round(time.Millisecond))
	}
	return fmt.Sprintf("%s: circuit open, probe in flight", e.Name)
}

// Is makes errors.Is(err, ErrOpen) hold.
func (e *OpenError) Is(target error) bool { return target == ErrOpen }

// ══════════════════════════════════════════════════════════════════════════════
// SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

// Settings configure a Breaker. Zero fields take the defaults noted.
type Settings struct {
	Name string
	// Trip is the run of consecutive failures that opens the circuit (5).
	Trip int
	// Recover is the run of half-open successes that closes it again (1).
	Recover int
	// Cooldown is how long the circuit stays open before probing (30s).
	Cooldown time.Duration
	// Probes bounds concurrent half-open calls (1).
	Probes int
	// IsFailure filters which errors count. Nil counts every error; errors
	// it rejects count as successes.
	IsFailure func(error) bool
	// OnChange is called with the lock held; it must not call back into
	// the breaker.
	OnChange func(name string, from, to State)
}

func (s Settings) withDefaults() Settings {
	if s.Name == "" {
		s.Name = "breaker"
	}
	if s.Trip < 1 {
		s.Trip = 5
	}
	if s.Recover < 1 {
		s.Recover = 1
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.Probes < 1 {
		s.Probes = 1
	}
	return s
}

// Stats are running totals since construction or the last Reset.
type Stats struct {
	Calls    int
	Failures int
	Rejected int
	Trips    int
	// FailStreak is the current run of consecutive failures.
	FailStreak int
}

// ══════════════════════════════════════════════════════════════════════════════
// BREAKER
// ══════════════════════════════════════════════════════════════════════════════

// Breaker is safe for concurrent use.
type Breaker struct {
	settings Settings
	now      func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	okStreak   int
	inFlight   int
	openedAt   time.Time
	stats      Stats

	transitions metric.Int64Counter
	rejections  metric.Int64Counter
	attrs       metric.MeasurementOption
}

// New creates a closed Breaker.
func New(s Settings) *Breaker {
	s = s.withDefaults()
	meter := otel.Meter(meterName)
	return &Breaker{
		settings: s,
		now:      time.Now,
		state:    Closed,
		transitions: counter(meter, "circuitbreaker.transitions",
			"State changes of the circuit breaker"),
		rejections: counter(meter, "circuitbreaker.rejections",
			"Calls refused while the circuit was open"),
		attrs: metric.WithAttributes(attribute.String("breaker", s.Name)),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		c, _ = noop.NewMeterProvider().Meter(meterName).Int64Counter(name)
	}
	return c
}

// ForMeetup returns the breaker guarding the Meetup GraphQL endpoint. One
// half-open success closes it.
func ForMeetup(trip int, cooldown time.Duration, isFailure func(error) bool, onChange func(name string, from, to State)) *Breaker {
	return New(Settings{
		Name:      "meetup-api",
		Trip:      trip,
		Recover:   1,
		Cooldown:  cooldown,
		IsFailure: isFailure,
		OnChange:  onChange,
	})
}

// Execute calls fn unless the circuit is open and records the outcome.
// Outcomes of calls admitted before the last state change are ignored.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, err := b.admit(ctx)
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(gen, err)
	return err
}

func (b *Breaker) admit(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		left := b.settings.Cooldown - b.now().Sub(b.openedAt)
		if left > 0 {
			b.stats.Rejected++
			b.rejections.Add(ctx, 1, b.attrs)
			return 0, &OpenError{Name: b.settings.Name, RetryIn: left}
		}
		b.transition(ctx, HalfOpen)
	}

	if b.state == HalfOpen {
		if b.inFlight >= b.settings.Probes {
			b.stats.Rejected++
			b.rejections.Add(ctx, 1, b.attrs)
			return 0, &OpenError{Name: b.settings.Name}
		}
		b.inFlight++
	}
	return b.generation, nil
}

func (b *Breaker) record(gen uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Calls++
	if gen != b.generation {
		return
	}
	if b.state == HalfOpen {
		b.inFlight--
	}

	failed := err != nil && (b.settings.IsFailure == nil || b.settings.IsFailure(err))
	ctx := context.Background()
	if !failed {
		b.stats.FailStreak = 0
		if b.state == HalfOpen {
			b.okStreak++
			if b.okStreak >= b.settings.Recover {
				b.transition(ctx, Closed)
			}
		}
		return
	}

	b.stats.Failures++
	b.stats.FailStreak++
	switch b.state {
	case Closed:
		if b.stats.FailStreak >= b.settings.Trip {
			b.transition(ctx, Open)
		}
	case HalfOpen:
		b.transition(ctx, Open)
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(ctx context.Context, to State) {
	from := b.state
	if from == to {
		return
	}

	b.state = to
	b.generation++
	b.okStreak = 0
	b.inFlight = 0
	if to == Open {
		b.openedAt = b.now()
		b.stats.Trips++
	}
	if to == Closed {
		b.stats.FailStreak = 0
	}

	b.transitions.Add(ctx, 1, b.attrs, metric.WithAttributes(attribute.String("to", to.String())))
	if b.settings.OnChange != nil {
		b.settings.OnChange(b.settings.Name, from, to)
	}
}

// State reports the current state. An open breaker whose cool-down has
// elapsed still reports Open until the next call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a copy of the running totals.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Reset closes the breaker and clears the totals without notifying
// OnChange.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.generation++
	b.okStreak = 0
	b.inFlight = 0
	b.stats = Stats{}
}
