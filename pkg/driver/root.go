package driver

import (
	"context"
	"errors"
	"time"

	"github.com/devicelab-dev/uisync/pkg/core"
	"github.com/devicelab-dev/uisync/pkg/poll"
	"github.com/devicelab-dev/uisync/pkg/uiautomation"
)

const (
	idleCondition = "ui idle"
	rootCondition = "root AccessibilityNodeInfo"
)

// idleCallSlack is how long past its own budget the idle call may run before
// the service counts as unresponsive.
const idleCallSlack = 500 * time.Millisecond

// RootNode waits for the UI to go idle and then polls for the root of the
// active window. Both phases share one budget of timeout measured from the
// call; the fetch phase gets whatever the idle phase left.
//
// It fails with a ConditionTimeout when the UI never idles or no root appears
// in time, and with a ServiceTimeout when a service call itself fails. A
// non-positive timeout uses the driver's default.
func (d *Driver) RootNode(ctx context.Context, timeout time.Duration) (*uiautomation.Node, error) {
	if timeout <= 0 {
		timeout = d.rootTimeout
	}
	clock := d.poller.Clock()
	start := clock.Now()
	deadline := start.Add(timeout)

	err := d.exec.ExecuteWithin(ctx, "waitForIdle", timeout+idleCallSlack, func(ctx context.Context, s uiautomation.Service) error {
		return s.WaitForIdle(ctx, d.quiet, timeout)
	})
	if errors.Is(err, uiautomation.ErrIdleTimeout) {
		d.log.Warn("ui did not become idle", "timeout_ms", timeout.Milliseconds())
		return nil, core.NewConditionTimeout(timeout, idleCondition).WithCause(uiautomation.ErrIdleTimeout)
	}
	if err != nil {
		return nil, err
	}
	idleAt := clock.Now()

	checker := poll.DescribeKind[*uiautomation.Node]("root", rootCondition, poll.CheckerFunc[*uiautomation.Node](func(ctx context.Context) (*uiautomation.Node, bool, error) {
		root, err := d.fetchRoot(ctx)
		if err != nil {
			return nil, false, err
		}
		return root, root != nil, nil
	}))

	root, err := poll.WaitUntil(ctx, d.poller, checker, deadline, d.interval)
	if core.IsConditionTimeout(err) {
		d.log.Warn("no root node", "timeout_ms", timeout.Milliseconds())
		return nil, core.NewConditionTimeout(timeout, rootCondition)
	}
	if err != nil {
		return nil, err
	}

	d.log.Debug("root node resolved",
		"idle_ms", idleAt.Sub(start).Milliseconds(),
		"total_ms", clock.Now().Sub(start).Milliseconds())
	return root, nil
}
