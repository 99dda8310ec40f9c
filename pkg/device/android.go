// Package device provides Android device management via ADB.
package device

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/devicelab-dev/uisync/pkg/foreground"
	"github.com/devicelab-dev/uisync/pkg/logger"
)

// Runner runs a host command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("%w: %s", err, msg)
	}
	return stdout.String(), nil
}

// AndroidDevice manages an Android device connection via ADB.
type AndroidDevice struct {
	serial     string
	adbPath    string
	runner     Runner
	log        *slog.Logger
	socketPath string // Unix socket forwarded to the UIAutomator2 server
	localPort  int    // TCP port forwarded to the UIAutomator2 server (Windows)
}

// DeviceInfo contains basic device information.
type DeviceInfo struct {
	Serial     string
	Model      string
	SDK        string
	Brand      string
	IsEmulator bool
}

// Option configures an AndroidDevice.
type Option func(*AndroidDevice)

// WithRunner replaces the command runner used to invoke adb.
func WithRunner(r Runner) Option {
	return func(d *AndroidDevice) { d.runner = r }
}

// WithADBPath skips the PATH lookup for adb.
func WithADBPath(path string) Option {
	return func(d *AndroidDevice) { d.adbPath = path }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *AndroidDevice) { d.log = logger.OrDiscard(l) }
}

// New creates an AndroidDevice for the given serial.
// If serial is empty, it auto-detects the connected device.
func New(ctx context.Context, serial string, opts ...Option) (*AndroidDevice, error) {
	d := &AndroidDevice{
		serial: serial,
		runner: execRunner{},
		log:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.adbPath == "" {
		path, err := findADB()
		if err != nil {
			return nil, err
		}
		d.adbPath = path
	}

	if d.serial == "" {
		devices, err := d.listDevices(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "no device specified and auto-detect failed")
		}
		d.serial = devices[0]
	}

	if err := d.waitForDevice(ctx, 5*time.Second); err != nil {
		return nil, errors.Wrap(err, "device not found")
	}

	d.log.Debug("device connected", "serial", d.serial)
	return d, nil
}

// listDevices returns the serials adb reports in the "device" state.
func (d *AndroidDevice) listDevices(ctx context.Context) ([]string, error) {
	out, err := d.runner.Run(ctx, d.adbPath, "devices")
	if err != nil {
		return nil, errors.Wrap(err, "adb devices")
	}
	serials := parseDevices(out)
	if len(serials) == 0 {
		return nil, errors.New("no connected devices found")
	}
	return serials, nil
}

func parseDevices(out string) []string {
	var serials []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 2 && parts[1] == "device" {
			serials = append(serials, parts[0])
		}
	}
	return serials
}

// Serial returns the device serial number.
func (d *AndroidDevice) Serial() string {
	return d.serial
}

// Shell executes a shell command on the device.
func (d *AndroidDevice) Shell(ctx context.Context, cmd string) (string, error) {
	return d.adb(ctx, "shell", cmd)
}

// IsInstalled checks if a package is installed.
func (d *AndroidDevice) IsInstalled(ctx context.Context, pkg string) bool {
	out, err := d.Shell(ctx, "pm list packages "+pkg)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "package:"+pkg {
			return true
		}
	}
	return false
}

// Forward creates a port forward from local to device.
func (d *AndroidDevice) Forward(ctx context.Context, localPort, remotePort int) error {
	_, err := d.adb(ctx, "forward", fmt.Sprintf("tcp:%d", localPort), fmt.Sprintf("tcp:%d", remotePort))
	return err
}

// RemoveForward removes a port forward.
func (d *AndroidDevice) RemoveForward(ctx context.Context, localPort int) error {
	_, err := d.adb(ctx, "forward", "--remove", fmt.Sprintf("tcp:%d", localPort))
	return err
}

// ForwardSocket forwards a Unix socket to a device TCP port.
func (d *AndroidDevice) ForwardSocket(ctx context.Context, socketPath string, remotePort int) error {
	_, err := d.adb(ctx, "forward", "localfilesystem:"+socketPath, fmt.Sprintf("tcp:%d", remotePort))
	return err
}

// RemoveSocketForward removes a Unix socket forward.
func (d *AndroidDevice) RemoveSocketForward(ctx context.Context, socketPath string) error {
	_, err := d.adb(ctx, "forward", "--remove", "localfilesystem:"+socketPath)
	return err
}

// DefaultSocketPath returns the default Unix socket path for this device.
func (d *AndroidDevice) DefaultSocketPath() string {
	return fmt.Sprintf("/tmp/uia2-%s.sock", d.serial)
}

// SocketPath returns the current UIAutomator2 socket path (empty if not started or on Windows).
func (d *AndroidDevice) SocketPath() string {
	return d.socketPath
}

// LocalPort returns the current UIAutomator2 TCP port (0 if not started or on Linux/Mac).
func (d *AndroidDevice) LocalPort() int {
	return d.localPort
}

// Info returns device information.
func (d *AndroidDevice) Info(ctx context.Context) DeviceInfo {
	info := DeviceInfo{Serial: d.serial}
	prop := func(name string) string {
		out, err := d.Shell(ctx, "getprop "+name)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(out)
	}

	info.Model = prop("ro.product.model")
	info.SDK = prop("ro.build.version.sdk")
	info.Brand = prop("ro.product.brand")
	info.IsEmulator = prop("ro.kernel.qemu") == "1"
	return info
}

// resumedPattern matches the resumed activity lines of
// "dumpsys activity activities" across platform versions.
var resumedPattern = regexp.MustCompile(`(?m)(?:^|\s)(?:mResumedActivity|topResumedActivity|ResumedActivity)\s*[:=]\s*ActivityRecord\{\S+\s+(?:u\d+\s+)?([^\s/}]+)/([^\s}]+)`)

// ResumedActivity reports the activity currently in the resumed state. It
// returns foreground.ErrNoActivity when nothing is resumed, for example while
// the screen is off.
func (d *AndroidDevice) ResumedActivity(ctx context.Context) (foreground.Activity, error) {
	out, err := d.Shell(ctx, "dumpsys activity activities")
	if err != nil {
		return foreground.Activity{}, errors.Wrap(err, "dumpsys activity")
	}
	return parseResumedActivity(out)
}

func parseResumedActivity(out string) (foreground.Activity, error) {
	m := resumedPattern.FindStringSubmatch(out)
	if m == nil {
		return foreground.Activity{}, foreground.ErrNoActivity
	}
	pkg, name := m[1], m[2]
	if strings.HasPrefix(name, ".") {
		name = pkg + name
	}
	return foreground.Activity{Package: pkg, Name: name}, nil
}

// adb executes an ADB command against this device.
func (d *AndroidDevice) adb(ctx context.Context, args ...string) (string, error) {
	cmdArgs := make([]string, 0, len(args)+2)
	if d.serial != "" {
		cmdArgs = append(cmdArgs, "-s", d.serial)
	}
	cmdArgs = append(cmdArgs, args...)

	out, err := d.runner.Run(ctx, d.adbPath, cmdArgs...)
	if err != nil {
		return "", errors.Wrapf(err, "adb %s", strings.Join(args, " "))
	}
	return out, nil
}

// waitForDevice waits for the device to be available.
func (d *AndroidDevice) waitForDevice(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if d.isConnected(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Errorf("timeout waiting for device %s", d.serial)
		case <-ticker.C:
		}
	}
}

// isConnected checks if the device is connected.
func (d *AndroidDevice) isConnected(ctx context.Context) bool {
	out, err := d.adb(ctx, "get-state")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "device"
}

// findADB locates the ADB binary.
func findADB() (string, error) {
	if path, err := exec.LookPath("adb"); err == nil {
		return path, nil
	}
	return "", errors.New("adb not found in PATH; ensure Android SDK is installed")
}
