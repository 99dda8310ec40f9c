// Package poll implements the bounded condition-polling engine used to wait
// for the UI to reach a usable state.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devicelab-dev/uisync/pkg/core"
	"github.com/devicelab-dev/uisync/pkg/logger"
	"github.com/devicelab-dev/uisync/pkg/metrics"
)

// DefaultMaxInterval caps the sleep between checks regardless of what the
// caller asks for.
const DefaultMaxInterval = 250 * time.Millisecond

// Poller runs checkers until they yield or a deadline passes. A Poller holds
// no per-wait state and may be shared.
type Poller struct {
	clock       Clock
	maxInterval time.Duration
	recorder    metrics.Recorder
	log         *slog.Logger
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock sets the clock. Tests use FakeClock.
func WithClock(c Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithMaxInterval sets the poll interval cap. Non-positive values are ignored.
func WithMaxInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.maxInterval = d
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(p *Poller) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) { p.log = logger.OrDiscard(l) }
}

// New creates a Poller.
func New(opts ...Option) *Poller {
	p := &Poller{
		clock:       RealClock{},
		maxInterval: DefaultMaxInterval,
		recorder:    metrics.Nop{},
		log:         logger.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Clock returns the poller's clock.
func (p *Poller) Clock() Clock {
	return p.clock
}

// interval clamps a requested interval into (0, maxInterval].
func (p *Poller) interval(requested time.Duration) time.Duration {
	if requested <= 0 || requested > p.maxInterval {
		return p.maxInterval
	}
	return requested
}

// WaitFor polls checker until it yields a value or timeout elapses.
//
// The deadline is fixed once at the start. The checker always runs at least
// once and there is no sleep before the first check. After each unmet check
// the poller sleeps min(interval, remaining); when no time remains it fails
// with a ConditionTimeout carrying timeout. Checker errors and ctx
// cancellation end the wait immediately.
func WaitFor[T any](ctx context.Context, p *Poller, checker Checker[T], timeout, interval time.Duration) (T, error) {
	start := p.clock.Now()
	return run(ctx, p, checker, start, start.Add(timeout), timeout, interval)
}

// WaitUntil is WaitFor against an absolute deadline, for operations whose
// phases share one budget. The timeout reported on failure is the time that
// remained when WaitUntil was called.
func WaitUntil[T any](ctx context.Context, p *Poller, checker Checker[T], deadline time.Time, interval time.Duration) (T, error) {
	start := p.clock.Now()
	return run(ctx, p, checker, start, deadline, deadline.Sub(start), interval)
}

func run[T any](ctx context.Context, p *Poller, checker Checker[T], start, deadline time.Time, budget, interval time.Duration) (T, error) {
	var zero T
	desc := describe(checker)
	kind := kindOf(checker)
	step := p.interval(interval)
	checks := 0

	finish := func(outcome string) {
		elapsed := p.clock.Now().Sub(start)
		p.recorder.ObserveWait(kind, outcome, checks, elapsed)
		p.log.Debug("wait finished",
			"condition", desc,
			"kind", kind,
			"outcome", outcome,
			"checks", checks,
			"elapsed_ms", elapsed.Milliseconds())
	}

	for {
		if err := ctx.Err(); err != nil {
			finish(metrics.OutcomeCancelled)
			return zero, fmt.Errorf("wait for %s: %w", desc, err)
		}

		value, ok, err := checker.Check(ctx)
		checks++
		if err != nil {
			finish(metrics.OutcomeError)
			return zero, err
		}
		if ok {
			finish(metrics.OutcomeSatisfied)
			return value, nil
		}

		remaining := deadline.Sub(p.clock.Now())
		if remaining <= 0 {
			finish(metrics.OutcomeTimeout)
			return zero, core.NewConditionTimeout(budget, desc)
		}

		if err := p.clock.Sleep(ctx, min(step, remaining)); err != nil {
			finish(metrics.OutcomeCancelled)
			return zero, fmt.Errorf("wait for %s: %w", desc, err)
		}
	}
}
