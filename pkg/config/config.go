// Package config handles configuration for uisync.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/uisync/pkg/core"
)

// Config represents the workspace configuration (config.yaml).
type Config struct {
	Device     string           `yaml:"device"` // Target device serial; empty auto-detects
	Server     ServerConfig     `yaml:"server"`
	Sync       SyncConfig       `yaml:"sync"`
	Foreground ForegroundConfig `yaml:"foreground"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig describes how to reach the UIAutomator2 server.
type ServerConfig struct {
	Socket       string        `yaml:"socket"`       // Existing forwarded Unix socket
	Port         int           `yaml:"port"`         // Existing forwarded TCP port
	DevicePort   int           `yaml:"devicePort"`   // Server port inside the device
	CallTimeout  time.Duration `yaml:"callTimeout"`  // Bound on a single service call
	StartTimeout time.Duration `yaml:"startTimeout"` // Server startup timeout
}

// SyncConfig tunes UI synchronization.
type SyncConfig struct {
	RootTimeout     time.Duration `yaml:"rootTimeout"`
	QuietWindow     time.Duration `yaml:"quietWindow"`
	PollInterval    time.Duration `yaml:"pollInterval"`
	MaxPollInterval time.Duration `yaml:"maxPollInterval"`
}

// ForegroundConfig tunes the foreground activity watcher.
type ForegroundConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
}

// LogConfig configures logging.
type LogConfig struct {
	Dir        string `yaml:"dir"` // Defaults to <home>/logs
	Verbose    bool   `yaml:"verbose"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // e.g. ":9090"; empty disables /metrics
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			DevicePort:   6790,
			CallTimeout:  30 * time.Second,
			StartTimeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			RootTimeout:     10 * time.Second,
			QuietWindow:     500 * time.Millisecond,
			PollInterval:    250 * time.Millisecond,
			MaxPollInterval: 250 * time.Millisecond,
		},
		Foreground: ForegroundConfig{
			PollInterval: time.Second,
		},
		Log: LogConfig{
			MaxSizeMB:  2,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load loads configuration from a file, layered over Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, core.ErrInvalidConfig.
			WithMessage(fmt.Sprintf("parse %s", path)).
			WithCause(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{"config.yaml", "config.yml"} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			return Load(configPath)
		}
	}

	// No config file found
	return Default(), nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return core.ErrInvalidConfig.WithMessage(fmt.Sprintf(format, args...))
	}

	switch {
	case c.Server.Socket != "" && c.Server.Port != 0:
		return invalid("server.socket and server.port are mutually exclusive")
	case c.Server.Port < 0 || c.Server.Port > 65535:
		return invalid("server.port %d out of range", c.Server.Port)
	case c.Server.DevicePort <= 0 || c.Server.DevicePort > 65535:
		return invalid("server.devicePort %d out of range", c.Server.DevicePort)
	case c.Server.CallTimeout <= 0:
		return invalid("server.callTimeout must be positive")
	case c.Sync.RootTimeout <= 0:
		return invalid("sync.rootTimeout must be positive")
	case c.Sync.QuietWindow <= 0:
		return invalid("sync.quietWindow must be positive")
	case c.Sync.PollInterval <= 0:
		return invalid("sync.pollInterval must be positive")
	case c.Sync.MaxPollInterval <= 0:
		return invalid("sync.maxPollInterval must be positive")
	case c.Foreground.PollInterval <= 0:
		return invalid("foreground.pollInterval must be positive")
	}
	return nil
}

// LogDir returns the configured log directory or <home>/logs.
func (c *Config) LogDir() string {
	if c.Log.Dir != "" {
		return c.Log.Dir
	}
	return GetLogDir()
}
