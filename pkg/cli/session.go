package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/uisync/pkg/config"
	"github.com/devicelab-dev/uisync/pkg/core"
	"github.com/devicelab-dev/uisync/pkg/device"
	"github.com/devicelab-dev/uisync/pkg/driver"
	"github.com/devicelab-dev/uisync/pkg/logger"
	"github.com/devicelab-dev/uisync/pkg/metrics"
	"github.com/devicelab-dev/uisync/pkg/poll"
	"github.com/devicelab-dev/uisync/pkg/uiautomation"
	"github.com/devicelab-dev/uisync/pkg/uiautomator2"
)

// loadConfig reads the config file and applies global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(config.GetConfigDir())
	}
	if err != nil {
		return nil, err
	}

	if c.IsSet("device") {
		cfg.Device = c.String("device")
	}
	if c.IsSet("socket") {
		cfg.Server.Socket = c.String("socket")
		cfg.Server.Port = 0
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
		cfg.Server.Socket = ""
	}
	if c.IsSet("timeout") {
		cfg.Sync.RootTimeout = c.Duration("timeout")
	}
	if c.IsSet("quiet-window") {
		cfg.Sync.QuietWindow = c.Duration("quiet-window")
	}
	if c.Bool("verbose") {
		cfg.Log.Verbose = true
	}
	if c.IsSet("log-dir") {
		cfg.Log.Dir = c.String("log-dir")
	}
	if c.Bool("no-ansi") {
		color.NoColor = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initLogger installs the process-wide logger for cfg.
func initLogger(cfg *config.Config) error {
	return logger.Init(logger.Options{
		Dir:        cfg.LogDir(),
		Verbose:    cfg.Log.Verbose,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
	})
}

// newRegistry returns a Prometheus registry with the runtime collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// session is one connected automation session: server transport, executor
// and driver.
type session struct {
	cfg      *config.Config
	log      *slog.Logger
	dev      *device.AndroidDevice
	client   *uiautomator2.Client
	driver   *driver.Driver
	registry *prometheus.Registry
	recorder *metrics.PrometheusRecorder
}

func openSession(ctx context.Context, cfg *config.Config) (*session, error) {
	if err := initLogger(cfg); err != nil {
		return nil, err
	}

	s := &session{
		cfg:      cfg,
		log:      logger.Default(),
		registry: newRegistry(),
	}
	s.recorder = metrics.NewPrometheusRecorder(s.registry)

	client, err := s.connect(ctx)
	if err != nil {
		s.close()
		return nil, err
	}
	s.client = client

	caps := uiautomator2.Capabilities{PlatformName: "Android", DeviceName: cfg.Device}
	if err := client.CreateSession(ctx, caps); err != nil {
		s.close()
		return nil, core.ErrServerUnreachable.WithCause(err)
	}
	logger.Debug("uia2 session created", "id", client.SessionID(), "log", logger.GetPath())

	// Idle waits are ours; the server must not add its own before each call.
	if err := client.UpdateSettings(ctx, map[string]interface{}{uiautomator2.SettingWaitForIdleTimeout: 0}); err != nil {
		logger.Warn("disable server idle wait", "error", err)
	}

	exec := uiautomation.NewSerialExecutor(uiautomation.NewUIA2Service(client),
		uiautomation.WithCallTimeout(cfg.Server.CallTimeout),
		uiautomation.WithRecorder(s.recorder),
		uiautomation.WithLogger(s.log))

	poller := poll.New(
		poll.WithMaxInterval(cfg.Sync.MaxPollInterval),
		poll.WithRecorder(s.recorder),
		poll.WithLogger(s.log))

	s.driver = driver.New(exec, driver.Options{
		QuietWindow:  cfg.Sync.QuietWindow,
		PollInterval: cfg.Sync.PollInterval,
		RootTimeout:  cfg.Sync.RootTimeout,
		Poller:       poller,
		Logger:       s.log,
	})
	return s, nil
}

// connect reuses a forwarded server when one is configured and otherwise
// starts the server on the device.
func (s *session) connect(ctx context.Context) (*uiautomator2.Client, error) {
	switch {
	case s.cfg.Server.Socket != "":
		return uiautomator2.NewClient(s.cfg.Server.Socket), nil
	case s.cfg.Server.Port != 0:
		return uiautomator2.NewClientTCP(s.cfg.Server.Port), nil
	}

	dev, err := device.New(ctx, s.cfg.Device, device.WithLogger(s.log))
	if err != nil {
		return nil, err
	}
	s.dev = dev

	info := dev.Info(ctx)
	printSetupStep("Starting UIAutomator2 server on %s %s (SDK %s)...", info.Brand, info.Model, info.SDK)
	err = dev.StartUIAutomator2(ctx, device.UIAutomator2Config{
		DevicePort: s.cfg.Server.DevicePort,
		Timeout:    s.cfg.Server.StartTimeout,
	})
	if err != nil {
		return nil, err
	}
	printSetupSuccess("UIAutomator2 server started")
	return dev.Client(), nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.client != nil {
		if err := s.client.DeleteSession(ctx); err != nil {
			logger.Debug("delete session", "error", err)
		}
	}
	if s.dev != nil {
		s.dev.StopUIAutomator2(ctx)
	}
	logger.Close()
}
