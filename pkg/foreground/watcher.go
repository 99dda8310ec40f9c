package foreground

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/devicelab-dev/uisync/pkg/logger"
)

// DefaultWatchInterval is how often the Watcher asks the device for the
// resumed activity.
const DefaultWatchInterval = time.Second

// ErrNoActivity is returned by an ActivitySource when nothing is resumed,
// e.g. while the screen is off.
var ErrNoActivity = errors.New("no resumed activity")

// ActivitySource reports the activity the platform currently has resumed.
// Implemented by device.AndroidDevice.
type ActivitySource interface {
	ResumedActivity(ctx context.Context) (Activity, error)
}

// Watcher is the lifecycle observer that keeps a Registry in step with the
// device.
type Watcher struct {
	source   ActivitySource
	registry *Registry
	interval time.Duration
	log      *slog.Logger
	onChange func(Activity, bool)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = logger.OrDiscard(l) }
}

// OnChange registers a callback run after every registry update. The bool is
// false when the registry was cleared.
func OnChange(fn func(Activity, bool)) WatcherOption {
	return func(w *Watcher) { w.onChange = fn }
}

// NewWatcher creates a Watcher feeding registry from source.
func NewWatcher(source ActivitySource, registry *Registry, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		source:   source,
		registry: registry,
		interval: DefaultWatchInterval,
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Sync queries the source once and updates the registry. Source errors other
// than ErrNoActivity leave the registry untouched.
func (w *Watcher) Sync(ctx context.Context) error {
	a, err := w.source.ResumedActivity(ctx)
	if errors.Is(err, ErrNoActivity) {
		if _, ok := w.registry.Current(); ok {
			w.registry.Clear()
			w.log.Info("foreground cleared")
			w.notify(Activity{}, false)
		}
		return nil
	}
	if err != nil {
		return err
	}

	if prev, ok := w.registry.Current(); ok && prev.Same(a) {
		return nil
	}
	if a.Since.IsZero() {
		a.Since = time.Now()
	}
	w.registry.Set(a)
	w.log.Info("foreground changed", "activity", a.String())
	w.notify(a, true)
	return nil
}

func (w *Watcher) notify(a Activity, ok bool) {
	if w.onChange != nil {
		w.onChange(a, ok)
	}
}

// Run syncs immediately and then on every tick until ctx is done. Source
// errors are logged and polling continues.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.Sync(ctx); err != nil && ctx.Err() == nil {
			w.log.Warn("foreground lookup failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
