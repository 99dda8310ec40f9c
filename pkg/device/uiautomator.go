package device

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/pkg/errors"

	"github.com/devicelab-dev/uisync/pkg/core"
	"github.com/devicelab-dev/uisync/pkg/poll"
	"github.com/devicelab-dev/uisync/pkg/uiautomator2"
)

// UIAutomator2 package names
const (
	UIAutomator2Server = "io.appium.uiautomator2.server"
	UIAutomator2Test   = "io.appium.uiautomator2.server.test"
)

// DefaultDevicePort is the port the server listens on inside the device.
const DefaultDevicePort = 6790

// Port range for TCP forwarding (Windows)
const (
	portRangeStart = 6001
	portRangeEnd   = 7001
)

// UIAutomator2Config holds configuration for the UIAutomator2 server.
type UIAutomator2Config struct {
	SocketPath string        // Unix socket path (Linux/Mac only, default: /tmp/uia2-<serial>.sock)
	LocalPort  int           // TCP port; forces TCP forwarding when set
	DevicePort int           // Port on device (default: 6790)
	Timeout    time.Duration // Startup timeout (default: 30s)
}

// DefaultUIAutomator2Config returns default configuration.
func DefaultUIAutomator2Config() UIAutomator2Config {
	return UIAutomator2Config{
		DevicePort: DefaultDevicePort,
		Timeout:    30 * time.Second,
	}
}

// StartUIAutomator2 starts the UIAutomator2 server on the device and waits
// until it answers its status endpoint.
func (d *AndroidDevice) StartUIAutomator2(ctx context.Context, cfg UIAutomator2Config) error {
	if cfg.DevicePort == 0 {
		cfg.DevicePort = DefaultDevicePort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultUIAutomator2Config().Timeout
	}

	if !d.IsInstalled(ctx, UIAutomator2Server) {
		return errors.Errorf("UIAutomator2 server not installed: %s", UIAutomator2Server)
	}
	if !d.IsInstalled(ctx, UIAutomator2Test) {
		return errors.Errorf("UIAutomator2 test APK not installed: %s", UIAutomator2Test)
	}

	d.StopUIAutomator2(ctx)

	var err error
	if runtime.GOOS == "windows" || cfg.LocalPort != 0 {
		err = d.setupTCPForward(ctx, cfg)
	} else {
		err = d.setupSocketForward(ctx, cfg)
	}
	if err != nil {
		return err
	}

	// nohup keeps the instrumentation alive after the adb shell exits
	instrumentCmd := fmt.Sprintf(
		"nohup am instrument -w -e disableAnalytics true "+
			"%s/androidx.test.runner.AndroidJUnitRunner "+
			"> /dev/null 2>&1 &",
		UIAutomator2Test,
	)
	if _, err := d.Shell(ctx, instrumentCmd); err != nil {
		return errors.Wrap(err, "failed to start instrumentation")
	}

	if err := waitForServer(ctx, d.Client(), cfg.Timeout); err != nil {
		d.StopUIAutomator2(ctx)
		return core.ErrServerUnreachable.WithCause(err)
	}

	d.log.Info("UIAutomator2 server ready", "serial", d.serial, "socket", d.socketPath, "port", d.localPort)
	return nil
}

// Client returns a UIAutomator2 client over the current forward. It is only
// usable after StartUIAutomator2 or an explicit forward.
func (d *AndroidDevice) Client() *uiautomator2.Client {
	var c *uiautomator2.Client
	if d.localPort != 0 {
		c = uiautomator2.NewClientTCP(d.localPort)
	} else {
		c = uiautomator2.NewClient(d.socketPath)
	}
	c.SetLogger(d.log)
	return c
}

// setupSocketForward sets up Unix socket forwarding (Linux/Mac).
func (d *AndroidDevice) setupSocketForward(ctx context.Context, cfg UIAutomator2Config) error {
	socketPath := cfg.SocketPath
	if socketPath == "" {
		socketPath = d.DefaultSocketPath()
	}

	// Stale socket files make the forward fail
	os.Remove(socketPath)

	if err := d.ForwardSocket(ctx, socketPath, cfg.DevicePort); err != nil {
		return errors.Wrap(err, "socket forward failed")
	}
	d.socketPath = socketPath
	return nil
}

// setupTCPForward sets up TCP port forwarding (Windows).
func (d *AndroidDevice) setupTCPForward(ctx context.Context, cfg UIAutomator2Config) error {
	localPort := cfg.LocalPort
	if localPort == 0 {
		port, err := findFreePort(portRangeStart, portRangeEnd)
		if err != nil {
			return err
		}
		localPort = port
	}

	if err := d.Forward(ctx, localPort, cfg.DevicePort); err != nil {
		return errors.Wrap(err, "port forward failed")
	}
	d.localPort = localPort
	return nil
}

// findFreePort finds a free TCP port in the given range.
func findFreePort(start, end int) (int, error) {
	for port := start; port <= end; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			ln.Close()
			return port, nil
		}
	}
	return 0, errors.Errorf("no free port found in range %d-%d", start, end)
}

// StopUIAutomator2 stops the UIAutomator2 server and removes its forwards.
// Cleanup is best effort.
func (d *AndroidDevice) StopUIAutomator2(ctx context.Context) {
	d.Shell(ctx, "am force-stop "+UIAutomator2Server)
	d.Shell(ctx, "am force-stop "+UIAutomator2Test)

	if d.socketPath != "" {
		d.RemoveSocketForward(ctx, d.socketPath)
		os.Remove(d.socketPath)
		d.socketPath = ""
	}
	if d.localPort != 0 {
		d.RemoveForward(ctx, d.localPort)
		d.localPort = 0
	}
}

// waitForServer polls the status endpoint until the server reports ready.
func waitForServer(ctx context.Context, client *uiautomator2.Client, timeout time.Duration) error {
	checker := poll.DescribeKind[bool]("server", "UIAutomator2 server", poll.CheckerFunc[bool](func(ctx context.Context) (bool, bool, error) {
		ready, err := client.Status(ctx)
		return ready, err == nil && ready, nil
	}))

	_, err := poll.WaitFor(ctx, poll.New(), checker, timeout, poll.DefaultMaxInterval)
	return err
}
