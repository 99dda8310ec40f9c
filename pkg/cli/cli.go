// Package cli provides the command-line interface for uisync.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/uisync/pkg/core"
)

// Version is set at build time.
var Version = "dev"

// Exit codes beyond the generic failure.
const (
	exitConditionTimeout = 2
	exitServiceTimeout   = 3
)

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Config file (default: <home>/config.yaml)",
		EnvVars: []string{"UISYNC_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"s"},
		Usage:   "Device serial (default: first connected device)",
		EnvVars: []string{"UISYNC_DEVICE", "ANDROID_SERIAL"},
	},
	&cli.StringFlag{
		Name:  "socket",
		Usage: "Use an already forwarded UIAutomator2 Unix socket",
	},
	&cli.IntFlag{
		Name:  "port",
		Usage: "Use an already forwarded UIAutomator2 TCP port",
	},
	&cli.DurationFlag{
		Name:    "timeout",
		Aliases: []string{"t"},
		Usage:   "Wait budget (default: sync.rootTimeout)",
	},
	&cli.DurationFlag{
		Name:  "quiet-window",
		Usage: "Inactivity required before the UI counts as idle",
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"UISYNC_VERBOSE"},
	},
	&cli.StringFlag{
		Name:  "log-dir",
		Usage: "Log directory (default: <home>/logs)",
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "uisync",
		Usage:   "Synchronized access to the Android accessibility tree",
		Version: Version,
		Description: `uisync waits for the device UI to settle before reading the accessibility
tree, polls for elements with bounded timeouts and tracks the foreground activity.

Examples:
  uisync root
  uisync --timeout 5s wait-for --text "Log in"
  uisync invalidate --strategy soft
  uisync foreground --metrics-addr :9090`,
		Flags: GlobalFlags,
		Commands: []*cli.Command{
			rootCommand,
			waitForCommand,
			invalidateCommand,
			foregroundCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case core.IsConditionTimeout(err):
		return exitConditionTimeout
	case core.IsServiceTimeout(err):
		return exitServiceTimeout
	default:
		return 1
	}
}
