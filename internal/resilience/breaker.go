// Package resilience provides the circuit breaker that guards calls to the
// remote inference service.
//
// The breaker is a classic three-state machine (closed → open → half-open).
// While open, calls fail fast with [ErrCircuitOpen]; the turn controller
// surfaces that the same way as any transport failure, so a flapping backend
// degrades to quick "server error" statuses instead of hanging utterances on
// a dead endpoint. After the cooldown one probe call is let through; its
// outcome decides whether the breaker closes again.
//
// Breaker is safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] when the breaker is open
// and the cooldown has not yet elapsed, or while a probe is already in
// flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed is the normal operating state — calls are forwarded.
	StateClosed State = iota

	// StateOpen rejects calls immediately until the cooldown elapses.
	StateOpen

	// StateHalfOpen lets a single probe call through after the cooldown.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	defaultMaxFailures = 3
	defaultCooldown    = 15 * time.Second
)

// Option is a functional option for configuring a Breaker.
type Option func(*Breaker)

// WithMaxFailures sets the number of consecutive failures that trip the
// breaker. Default: 3.
func WithMaxFailures(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.maxFailures = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before admitting a
// probe. Default: 15s.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// Breaker is a three-state circuit breaker with a single-probe half-open
// policy.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	probeActive bool
}

// NewBreaker creates a Breaker named for log messages.
func NewBreaker(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:        name,
		maxFailures: defaultMaxFailures,
		cooldown:    defaultCooldown,
		now:         time.Now,
		state:       StateClosed,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Execute runs fn if the breaker admits the call. A ctx cancellation error
// from fn is not counted as a backend failure — the caller gave up, the
// backend did not misbehave.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probeActive = false
	}
	switch {
	case err == nil:
		b.settle(true)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Neutral outcome: leave the state unchanged.
	default:
		b.settle(false)
	}
	return err
}

// admit decides whether a call may proceed, transitioning open → half-open
// once the cooldown has elapsed. It reports whether the admitted call is the
// half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		slog.Info("circuit breaker half-open", "name", b.name)
		fallthrough
	default: // StateHalfOpen
		if b.probeActive {
			return false, ErrCircuitOpen
		}
		b.probeActive = true
		return true, nil
	}
}

// settle applies the outcome of a completed call. Must be called with b.mu
// held.
func (b *Breaker) settle(ok bool) {
	if ok {
		if b.state != StateClosed {
			slog.Info("circuit breaker closed", "name", b.name)
		}
		b.state = StateClosed
		b.failures = 0
		return
	}

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = b.now()
		slog.Warn("circuit breaker re-opened after failed probe", "name", b.name)
		return
	}

	b.failures++
	if b.failures >= b.maxFailures {
		b.state = StateOpen
		b.openedAt = b.now()
		slog.Warn("circuit breaker opened",
			"name", b.name,
			"consecutive_failures", b.failures)
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
