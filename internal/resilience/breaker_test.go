package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

// fakeClock is a manually advanced time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time            { return c.t }
func (c *fakeClock) advance(d time.Duration)   { c.t = c.t.Add(d) }

func fail(context.Context) error { return errBackend }
func ok(context.Context) error   { return nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(0, 0)}
	b := NewBreaker("test", WithMaxFailures(3), WithCooldown(15*time.Second), WithClock(clock.now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, fail); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: want backend error, got %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v after %d failures, want open", b.State(), 3)
	}

	if err := b.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("want ErrCircuitOpen while open, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(0, 0)}
	b := NewBreaker("test", WithMaxFailures(3), WithClock(clock.now))
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, ok)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed — success should reset the count", b.State())
	}
}

func TestBreakerProbeAfterCooldown(t *testing.T) {
	t.Parallel()

	t.Run("successful probe closes", func(t *testing.T) {
		t.Parallel()
		clock := &fakeClock{t: time.Unix(0, 0)}
		b := NewBreaker("test", WithMaxFailures(1), WithCooldown(15*time.Second), WithClock(clock.now))
		ctx := context.Background()

		_ = b.Execute(ctx, fail)
		clock.advance(16 * time.Second)

		if err := b.Execute(ctx, ok); err != nil {
			t.Fatalf("probe call failed: %v", err)
		}
		if b.State() != StateClosed {
			t.Fatalf("state = %v after successful probe, want closed", b.State())
		}
	})

	t.Run("failed probe re-opens", func(t *testing.T) {
		t.Parallel()
		clock := &fakeClock{t: time.Unix(0, 0)}
		b := NewBreaker("test", WithMaxFailures(1), WithCooldown(15*time.Second), WithClock(clock.now))
		ctx := context.Background()

		_ = b.Execute(ctx, fail)
		clock.advance(16 * time.Second)
		_ = b.Execute(ctx, fail)

		if b.State() != StateOpen {
			t.Fatalf("state = %v after failed probe, want open", b.State())
		}
		// The fresh open period starts from the probe failure.
		if err := b.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("want ErrCircuitOpen right after re-open, got %v", err)
		}
	})
}

func TestBreakerContextErrorsAreNeutral(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(0, 0)}
	b := NewBreaker("test", WithMaxFailures(1), WithClock(clock.now))
	ctx := context.Background()

	cancelled := func(context.Context) error { return context.Canceled }
	for i := 0; i < 5; i++ {
		if err := b.Execute(ctx, cancelled); !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed — cancellations must not trip the breaker", b.State())
	}
}
