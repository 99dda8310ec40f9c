// Package driver exposes the synchronized view of the device UI: root
// resolution, node cache invalidation and the current foreground activity.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/uisync/pkg/foreground"
	"github.com/devicelab-dev/uisync/pkg/logger"
	"github.com/devicelab-dev/uisync/pkg/poll"
	"github.com/devicelab-dev/uisync/pkg/uiautomation"
)

// Defaults for Options.
const (
	// DefaultQuietWindow is the minimum UI inactivity before the UI counts as
	// idle. It dominates how fast scripted steps run.
	DefaultQuietWindow = 500 * time.Millisecond

	// DefaultPollInterval is the sleep between root fetches.
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultRootTimeout is used when RootNode is called with a non-positive timeout.
	DefaultRootTimeout = 10 * time.Second
)

// Strategy selects how InvalidateCache clears the service's node cache.
type Strategy int

const (
	// FullReset puts the device to sleep and wakes it. Always clears the
	// cache; the screen visibly blinks.
	FullReset Strategy = iota + 1

	// SoftInvalidation sends a window state change through the service. It
	// relies on an undocumented side effect and is best effort only.
	SoftInvalidation
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case FullReset:
		return "full"
	case SoftInvalidation:
		return "soft"
	default:
		return "unknown"
	}
}

// ParseStrategy parses "full" or "soft".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full", "full-reset", "reset":
		return FullReset, nil
	case "soft", "soft-invalidation", "hack":
		return SoftInvalidation, nil
	default:
		return 0, fmt.Errorf("unknown cache invalidation strategy %q (want full or soft)", s)
	}
}

// Options configures a Driver. Zero values select the defaults.
type Options struct {
	QuietWindow  time.Duration
	PollInterval time.Duration
	RootTimeout  time.Duration
	Poller       *poll.Poller
	Registry     *foreground.Registry
	Logger       *slog.Logger
}

// Driver is the entry point for scripted actions. A Driver serves one
// automation session; RootNode must not be called concurrently.
type Driver struct {
	exec        uiautomation.Executor
	poller      *poll.Poller
	registry    *foreground.Registry
	quiet       time.Duration
	interval    time.Duration
	rootTimeout time.Duration
	sessionID   string
	log         *slog.Logger
}

// New creates a Driver that reaches the accessibility service through exec.
func New(exec uiautomation.Executor, opts Options) *Driver {
	d := &Driver{
		exec:        exec,
		poller:      opts.Poller,
		registry:    opts.Registry,
		quiet:       opts.QuietWindow,
		interval:    opts.PollInterval,
		rootTimeout: opts.RootTimeout,
		sessionID:   uuid.NewString(),
	}
	if d.poller == nil {
		d.poller = poll.New()
	}
	if d.registry == nil {
		d.registry = foreground.NewRegistry()
	}
	if d.quiet <= 0 {
		d.quiet = DefaultQuietWindow
	}
	if d.interval <= 0 {
		d.interval = DefaultPollInterval
	}
	if d.rootTimeout <= 0 {
		d.rootTimeout = DefaultRootTimeout
	}
	d.log = logger.OrDiscard(opts.Logger).With("session", d.sessionID)
	return d
}

// SessionID identifies this driver in logs.
func (d *Driver) SessionID() string {
	return d.sessionID
}

// Poller returns the driver's poller for use with poll.WaitFor.
func (d *Driver) Poller() *poll.Poller {
	return d.poller
}

// Registry returns the foreground registry shared with the lifecycle observer.
func (d *Driver) Registry() *foreground.Registry {
	return d.registry
}

// QuietWindow returns the idle quiet window.
func (d *Driver) QuietWindow() time.Duration {
	return d.quiet
}

// CurrentForeground returns the activity last reported as resumed.
func (d *Driver) CurrentForeground() (foreground.Activity, bool) {
	return d.registry.Current()
}

// SetCurrentForeground records a as the resumed activity. Lifecycle observers
// must call it whenever the foreground changes.
func (d *Driver) SetCurrentForeground(a foreground.Activity) {
	d.registry.Set(a)
}

// ClearForeground forgets the current activity.
func (d *Driver) ClearForeground() {
	d.registry.Clear()
}

// InvalidateCache clears the accessibility node cache using strategy. Some
// widgets do not emit events after actions, which leaves stale nodes behind.
func (d *Driver) InvalidateCache(ctx context.Context, strategy Strategy) error {
	d.log.Info("invalidate node cache", "strategy", strategy.String())

	switch strategy {
	case FullReset:
		return d.exec.Execute(ctx, "fullReset", func(ctx context.Context, s uiautomation.Service) error {
			if err := s.Sleep(ctx); err != nil {
				return err
			}
			return s.WakeUp(ctx)
		})
	case SoftInvalidation:
		return d.exec.Execute(ctx, "softInvalidation", func(ctx context.Context, s uiautomation.Service) error {
			return s.SendWindowStateChanged(ctx)
		})
	default:
		return fmt.Errorf("unknown cache invalidation strategy %d", strategy)
	}
}

// NodeMatching returns a checker that fetches the active window once per
// check and yields the first node matching pred. It skips the idle phase, so
// it suits polling through poll.WaitFor.
func (d *Driver) NodeMatching(desc string, pred func(*uiautomation.Node) bool) poll.Checker[*uiautomation.Node] {
	return poll.DescribeKind[*uiautomation.Node]("node", desc, poll.CheckerFunc[*uiautomation.Node](func(ctx context.Context) (*uiautomation.Node, bool, error) {
		root, err := d.fetchRoot(ctx)
		if err != nil || root == nil {
			return nil, false, err
		}
		n := root.Find(pred)
		return n, n != nil, nil
	}))
}

func (d *Driver) fetchRoot(ctx context.Context) (*uiautomation.Node, error) {
	return uiautomation.Call(ctx, d.exec, "getRootInActiveWindow", func(ctx context.Context, s uiautomation.Service) (*uiautomation.Node, error) {
		return s.RootInActiveWindow(ctx)
	})
}
