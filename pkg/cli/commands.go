package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/uisync/pkg/device"
	"github.com/devicelab-dev/uisync/pkg/driver"
	"github.com/devicelab-dev/uisync/pkg/foreground"
	"github.com/devicelab-dev/uisync/pkg/logger"
	"github.com/devicelab-dev/uisync/pkg/metrics"
	"github.com/devicelab-dev/uisync/pkg/poll"
	"github.com/devicelab-dev/uisync/pkg/uiautomation"
)

var rootCommand = &cli.Command{
	Name:  "root",
	Usage: "Wait for the UI to settle and print the active window",
	Description: `Wait until the UI is idle, then print the accessibility tree of the
active window.

Examples:
  uisync root
  uisync root --depth 2
  uisync --timeout 3s --quiet-window 300ms root`,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "depth",
			Usage: "Maximum depth to print (0 prints everything)",
		},
		&cli.BoolFlag{
			Name:  "count",
			Usage: "Print only the number of nodes",
		},
		&cli.BoolFlag{
			Name:  "metrics",
			Usage: "Print wait metrics after the command",
		},
	},
	Action: runRoot,
}

var waitForCommand = &cli.Command{
	Name:  "wait-for",
	Usage: "Poll the active window until an element appears",
	Description: `Poll the active window until a node matches. Exits with status 2 when
the element does not appear within --timeout.

Examples:
  uisync wait-for --text "Log in"
  uisync --timeout 20s wait-for --id com.example:id/submit`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "text",
			Usage: "Match nodes whose text equals this value",
		},
		&cli.StringFlag{
			Name:  "id",
			Usage: "Match nodes by resource id",
		},
		&cli.StringFlag{
			Name:  "desc",
			Usage: "Match nodes by content description",
		},
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "Poll interval (default: sync.pollInterval)",
		},
		&cli.BoolFlag{
			Name:  "metrics",
			Usage: "Print wait metrics after the command",
		},
	},
	Action: runWaitFor,
}

var invalidateCommand = &cli.Command{
	Name:  "invalidate",
	Usage: "Clear the accessibility node cache",
	Description: `Clear stale nodes left behind by widgets that do not emit events.

Strategies:
  full  put the device to sleep and wake it (reliable, screen blinks)
  soft  send a window state change (best effort)`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "strategy",
			Usage: "Invalidation strategy (full, soft)",
			Value: "full",
		},
	},
	Action: runInvalidate,
}

var foregroundCommand = &cli.Command{
	Name:  "foreground",
	Usage: "Watch the foreground activity",
	Description: `Print the resumed activity whenever it changes, until interrupted.

Examples:
  uisync foreground
  uisync foreground --once
  uisync foreground --metrics-addr :9090`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "once",
			Usage: "Print the current activity and exit",
		},
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "Poll interval (default: foreground.pollInterval)",
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Serve Prometheus metrics on this address",
			EnvVars: []string{"UISYNC_METRICS_ADDR"},
		},
	},
	Action: runForeground,
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func runRoot(c *cli.Context) error {
	ctx, stop := signalContext(c)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.close()

	start := time.Now()
	root, err := s.driver.RootNode(ctx, cfg.Sync.RootTimeout)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if c.Bool("count") {
		fmt.Fprintln(c.App.Writer, root.Count())
	} else {
		printTree(c.App.Writer, root, c.Int("depth"))
		fmt.Fprintf(c.App.Writer, "%d nodes, settled in %s\n", root.Count(), formatDuration(elapsed.Milliseconds()))
	}

	if c.Bool("metrics") {
		return dumpMetrics(c.App.Writer, s.registry, metricsPrefix)
	}
	return nil
}

func runWaitFor(c *cli.Context) error {
	desc, pred, err := nodeMatcher(c.String("text"), c.String("id"), c.String("desc"))
	if err != nil {
		return err
	}

	ctx, stop := signalContext(c)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.close()

	interval := cfg.Sync.PollInterval
	if c.IsSet("interval") {
		interval = c.Duration("interval")
	}

	start := time.Now()
	node, err := poll.WaitFor(ctx, s.driver.Poller(), s.driver.NodeMatching(desc, pred), cfg.Sync.RootTimeout, interval)
	if err != nil {
		return err
	}

	x, y := node.Bounds.Center()
	fmt.Fprintf(c.App.Writer, "%s found after %s at (%d,%d)\n", desc, formatDuration(time.Since(start).Milliseconds()), x, y)
	fmt.Fprintln(c.App.Writer, node.Describe())

	if c.Bool("metrics") {
		return dumpMetrics(c.App.Writer, s.registry, metricsPrefix)
	}
	return nil
}

// nodeMatcher builds the predicate for wait-for. Every given selector must
// match.
func nodeMatcher(text, id, contentDesc string) (string, func(*uiautomation.Node) bool, error) {
	var parts []string
	var preds []func(*uiautomation.Node) bool

	if text != "" {
		parts = append(parts, fmt.Sprintf("text=%q", text))
		preds = append(preds, func(n *uiautomation.Node) bool { return n.Text == text })
	}
	if id != "" {
		parts = append(parts, "id="+id)
		preds = append(preds, func(n *uiautomation.Node) bool {
			return n.ResourceID == id || strings.HasSuffix(n.ResourceID, ":id/"+id)
		})
	}
	if contentDesc != "" {
		parts = append(parts, fmt.Sprintf("desc=%q", contentDesc))
		preds = append(preds, func(n *uiautomation.Node) bool { return n.ContentDesc == contentDesc })
	}
	if len(preds) == 0 {
		return "", nil, errors.New("one of --text, --id or --desc is required")
	}

	return "node " + strings.Join(parts, " "), func(n *uiautomation.Node) bool {
		for _, p := range preds {
			if !p(n) {
				return false
			}
		}
		return true
	}, nil
}

func runInvalidate(c *cli.Context) error {
	strategy, err := driver.ParseStrategy(c.String("strategy"))
	if err != nil {
		return err
	}

	ctx, stop := signalContext(c)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.driver.InvalidateCache(ctx, strategy); err != nil {
		return err
	}
	printSetupSuccess("Node cache invalidated (%s)", strategy)
	return nil
}

func runForeground(c *cli.Context) error {
	ctx, stop := signalContext(c)
	defer stop()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := initLogger(cfg); err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Default()

	dev, err := device.New(ctx, cfg.Device, device.WithLogger(log))
	if err != nil {
		return err
	}

	interval := cfg.Foreground.PollInterval
	if c.IsSet("interval") {
		interval = c.Duration("interval")
	}

	reg := newRegistry()
	recorder := metrics.NewPrometheusRecorder(reg)
	registry := foreground.NewRegistry()
	watcher := foreground.NewWatcher(dev, registry,
		foreground.WithInterval(interval),
		foreground.WithLogger(log),
		foreground.OnChange(func(a foreground.Activity, ok bool) {
			recorder.IncForegroundChange(a.Package)
			printForeground(c.App.Writer, a, ok)
		}))

	if c.Bool("once") {
		if err := watcher.Sync(ctx); err != nil {
			return err
		}
		if _, ok := registry.Current(); !ok {
			printForeground(c.App.Writer, foreground.Activity{}, false)
		}
		return nil
	}

	addr := c.String("metrics-addr")
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		srv := newMetricsServer(addr, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", addr, "error", err)
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", "addr", addr)
	}

	err = watcher.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// metricsPrefix selects the uisync families out of the runtime collectors.
const metricsPrefix = "uisync_"

// dumpMetrics writes the gathered families whose name starts with prefix in
// the Prometheus text format.
func dumpMetrics(w io.Writer, gatherer prometheus.Gatherer, prefix string) error {
	families, err := gatherer.Gather()
	if err != nil {
		return err
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), prefix) {
			continue
		}
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

func newMetricsServer(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
