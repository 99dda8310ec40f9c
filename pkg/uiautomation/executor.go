package uiautomation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/devicelab-dev/uisync/pkg/core"
	"github.com/devicelab-dev/uisync/pkg/logger"
	"github.com/devicelab-dev/uisync/pkg/metrics"
)

// DefaultCallTimeout bounds a single service call.
const DefaultCallTimeout = 30 * time.Second

// Executor runs units of work against the accessibility service. Every
// failure comes back as a ServiceTimeout, except caller cancellation which
// comes back as the context error and ErrIdleTimeout which is returned as is.
type Executor interface {
	Execute(ctx context.Context, op string, fn func(context.Context, Service) error) error

	// ExecuteWithin is Execute for calls that carry their own budget. The
	// call is bounded by the larger of bound and the call timeout.
	ExecuteWithin(ctx context.Context, op string, bound time.Duration, fn func(context.Context, Service) error) error
}

// Call runs fn through exec and returns its typed result.
func Call[T any](ctx context.Context, exec Executor, op string, fn func(context.Context, Service) (T, error)) (T, error) {
	var out T
	err := exec.Execute(ctx, op, func(ctx context.Context, s Service) error {
		v, err := fn(ctx, s)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// SerialExecutor runs one call at a time against a single Service, each
// bounded by a call timeout. Waiting for the previous call counts against the
// bound.
type SerialExecutor struct {
	service     Service
	sem         chan struct{}
	callTimeout time.Duration
	recorder    metrics.Recorder
	log         *slog.Logger
}

// ExecutorOption configures a SerialExecutor.
type ExecutorOption func(*SerialExecutor)

// WithCallTimeout sets the per-call bound.
func WithCallTimeout(d time.Duration) ExecutorOption {
	return func(e *SerialExecutor) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) ExecutorOption {
	return func(e *SerialExecutor) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *SerialExecutor) { e.log = logger.OrDiscard(l) }
}

// NewSerialExecutor creates an executor for service.
func NewSerialExecutor(service Service, opts ...ExecutorOption) *SerialExecutor {
	e := &SerialExecutor{
		service:     service,
		sem:         make(chan struct{}, 1),
		callTimeout: DefaultCallTimeout,
		recorder:    metrics.Nop{},
		log:         logger.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CallTimeout returns the per-call bound.
func (e *SerialExecutor) CallTimeout() time.Duration {
	return e.callTimeout
}

// Execute runs fn with a context bounded by the call timeout. If fn does not
// return in time the caller is released; fn keeps the service until it
// returns, so the next call waits for it.
func (e *SerialExecutor) Execute(ctx context.Context, op string, fn func(context.Context, Service) error) error {
	return e.execute(ctx, op, e.callTimeout, fn)
}

// ExecuteWithin runs fn bounded by max(bound, call timeout).
func (e *SerialExecutor) ExecuteWithin(ctx context.Context, op string, bound time.Duration, fn func(context.Context, Service) error) error {
	return e.execute(ctx, op, max(bound, e.callTimeout), fn)
}

func (e *SerialExecutor) execute(ctx context.Context, op string, bound time.Duration, fn func(context.Context, Service) error) error {
	callCtx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	var err error
	select {
	case e.sem <- struct{}{}:
		done := make(chan error, 1)
		go func() {
			defer func() { <-e.sem }()
			done <- fn(callCtx, e.service)
		}()

		select {
		case err = <-done:
		case <-callCtx.Done():
			err = callCtx.Err()
		}
	case <-callCtx.Done():
		err = errors.Wrap(callCtx.Err(), "service busy")
	}

	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	// The service answered; the UI just never went quiet.
	if errors.Is(err, ErrIdleTimeout) {
		e.log.Debug("ui not idle", "op", op, "error", err)
		return err
	}

	e.recorder.IncServiceTimeout(op)
	e.log.Warn("service call failed", "op", op, "error", err)
	return core.NewServiceTimeout(bound, errors.Wrap(err, op))
}
