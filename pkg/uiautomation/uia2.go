package uiautomation

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/devicelab-dev/uisync/pkg/poll"
	"github.com/devicelab-dev/uisync/pkg/uiautomator2"
)

// DefaultIdleSampleInterval is how often WaitForIdle samples the hierarchy.
const DefaultIdleSampleInterval = 100 * time.Millisecond

// UIA2Client is the subset of uiautomator2.Client used by UIA2Service.
type UIA2Client interface {
	Source(ctx context.Context) (string, error)
	PressKeyCode(ctx context.Context, keyCode int) error
	GetSettings(ctx context.Context) (map[string]interface{}, error)
	UpdateSettings(ctx context.Context, settings map[string]interface{}) error
}

// UIA2Service implements Service on top of the UIAutomator2 server running
// on the device.
type UIA2Service struct {
	client         UIA2Client
	clock          poll.Clock
	sampleInterval time.Duration
}

// NewUIA2Service creates a Service backed by client.
func NewUIA2Service(client UIA2Client) *UIA2Service {
	return &UIA2Service{
		client:         client,
		clock:          poll.RealClock{},
		sampleInterval: DefaultIdleSampleInterval,
	}
}

// SetSampleInterval sets how often WaitForIdle samples the hierarchy.
func (s *UIA2Service) SetSampleInterval(d time.Duration) {
	if d > 0 {
		s.sampleInterval = d
	}
}

// WaitForIdle treats the UI as idle once consecutive hierarchy dumps have
// been identical for quiet. The server does not expose accessibility events,
// so an unchanged hierarchy stands in for "no events".
func (s *UIA2Service) WaitForIdle(ctx context.Context, quiet, timeout time.Duration) error {
	start := s.clock.Now()
	deadline := start.Add(timeout)

	last, err := s.client.Source(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch hierarchy")
	}
	stableSince := s.clock.Now()

	for {
		now := s.clock.Now()
		stable := now.Sub(stableSince)
		if stable >= quiet {
			return nil
		}
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			return errors.Wrapf(ErrIdleTimeout, "no %v quiet window within %v", quiet, timeout)
		}

		if err := s.clock.Sleep(ctx, min(s.sampleInterval, remaining, quiet-stable)); err != nil {
			return err
		}

		cur, err := s.client.Source(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch hierarchy")
		}
		if cur != last {
			last = cur
			stableSince = s.clock.Now()
		}
	}
}

// RootInActiveWindow fetches and parses the current hierarchy.
func (s *UIA2Service) RootInActiveWindow(ctx context.Context) (*Node, error) {
	src, err := s.client.Source(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch hierarchy")
	}
	return ParseHierarchy(src)
}

// Sleep presses KEYCODE_SLEEP.
func (s *UIA2Service) Sleep(ctx context.Context) error {
	return errors.Wrap(s.client.PressKeyCode(ctx, uiautomator2.KeyCodeSleep), "sleep")
}

// WakeUp presses KEYCODE_WAKEUP.
func (s *UIA2Service) WakeUp(ctx context.Context) error {
	return errors.Wrap(s.client.PressKeyCode(ctx, uiautomator2.KeyCodeWakeUp), "wake up")
}

// SendWindowStateChanged flips the server's ignoreUnimportantViews setting
// and restores it. Each change makes the on-device UiAutomation reapply its
// service info, which drops AccessibilityNodeInfoCache as a side effect on
// the Android versions we know of. It is not a documented contract.
func (s *UIA2Service) SendWindowStateChanged(ctx context.Context) error {
	settings, err := s.client.GetSettings(ctx)
	if err != nil {
		return errors.Wrap(err, "read settings")
	}
	current, _ := settings[uiautomator2.SettingIgnoreUnimportantViews].(bool)

	if err := s.client.UpdateSettings(ctx, map[string]interface{}{
		uiautomator2.SettingIgnoreUnimportantViews: !current,
	}); err != nil {
		return errors.Wrap(err, "toggle "+uiautomator2.SettingIgnoreUnimportantViews)
	}
	if err := s.client.UpdateSettings(ctx, map[string]interface{}{
		uiautomator2.SettingIgnoreUnimportantViews: current,
	}); err != nil {
		return errors.Wrap(err, "restore "+uiautomator2.SettingIgnoreUnimportantViews)
	}
	return nil
}
