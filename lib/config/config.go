// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/winsync/state"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for winsync.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Log configures the process logger.
	Log LogConfig `yaml:"log"`

	// Engine configures the state engine.
	Engine EngineConfig `yaml:"engine"`

	// Bridge configures the environment bridge socket.
	Bridge BridgeConfig `yaml:"bridge"`

	// Trace configures diagnostic recording.
	Trace TraceConfig `yaml:"trace"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Log    *LogConfig    `yaml:"log,omitempty"`
	Engine *EngineConfig `yaml:"engine,omitempty"`
	Bridge *BridgeConfig `yaml:"bridge,omitempty"`
	Trace  *TraceConfig  `yaml:"trace,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`

	// Format is text, json, or auto (text on a terminal, JSON otherwise).
	// Default: auto
	Format string `yaml:"format"`
}

// EngineConfig configures the state engine.
type EngineConfig struct {
	// OperationTimeout bounds every remote call.
	// Default: 2s
	OperationTimeout string `yaml:"operation_timeout"`

	// DiscoveryRetries is how many times a transient failure while
	// constructing an application is retried.
	// Default: 3
	DiscoveryRetries int `yaml:"discovery_retries"`

	// RetryDelay is the pause between retries.
	// Default: 100ms
	RetryDelay string `yaml:"retry_delay"`

	// Strict turns unclassified remote errors into panics.
	// Default: true (development), false (production)
	Strict *bool `yaml:"strict"`
}

// BridgeConfig configures the bridge between the engine and the
// platform helper.
type BridgeConfig struct {
	// SocketPath is the unix socket the helper listens on.
	// Default: ${XDG_RUNTIME_DIR:-/run}/winsync/bridge.sock
	SocketPath string `yaml:"socket_path"`

	// DialTimeout bounds connecting to the socket.
	// Default: 5s
	DialTimeout string `yaml:"dial_timeout"`
}

// TraceConfig configures the trace recorder.
type TraceConfig struct {
	// Path is the trace file. Empty disables recording.
	Path string `yaml:"path"`

	// Compression is none, lz4, or zstd.
	// Default: zstd
	Compression string `yaml:"compression"`

	// BlockRecords is how many records are buffered per block.
	// Default: 256
	BlockRecords int `yaml:"block_records"`
}

// Default returns the default configuration. The config file is
// still required; defaults only fill fields it leaves out.
func Default() *Config {
	return &Config{
		Environment: Development,
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Engine: EngineConfig{
			OperationTimeout: "2s",
			DiscoveryRetries: 3,
			RetryDelay:       "100ms",
			Strict:           boolPtr(true),
		},
		Bridge: BridgeConfig{
			SocketPath:  "${XDG_RUNTIME_DIR:-/run}/winsync/bridge.sock",
			DialTimeout: "5s",
		},
		Trace: TraceConfig{
			Compression:  "zstd",
			BlockRecords: 256,
		},
	}
}

// Load loads configuration from the WINSYNC_CONFIG environment variable.
// There is no fallback: if WINSYNC_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("WINSYNC_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("WINSYNC_CONFIG environment variable not set; " +
			"set it to the path of your winsync.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &ConfigOverrides{
				Log:    &LogConfig{Format: "json"},
				Engine: &EngineConfig{Strict: boolPtr(false)},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
		if overrides.Log.Format != "" {
			c.Log.Format = overrides.Log.Format
		}
	}

	if overrides.Engine != nil {
		if overrides.Engine.OperationTimeout != "" {
			c.Engine.OperationTimeout = overrides.Engine.OperationTimeout
		}
		if overrides.Engine.DiscoveryRetries != 0 {
			c.Engine.DiscoveryRetries = overrides.Engine.DiscoveryRetries
		}
		if overrides.Engine.RetryDelay != "" {
			c.Engine.RetryDelay = overrides.Engine.RetryDelay
		}
		if overrides.Engine.Strict != nil {
			c.Engine.Strict = overrides.Engine.Strict
		}
	}

	if overrides.Bridge != nil {
		if overrides.Bridge.SocketPath != "" {
			c.Bridge.SocketPath = overrides.Bridge.SocketPath
		}
		if overrides.Bridge.DialTimeout != "" {
			c.Bridge.DialTimeout = overrides.Bridge.DialTimeout
		}
	}

	if overrides.Trace != nil {
		if overrides.Trace.Path != "" {
			c.Trace.Path = overrides.Trace.Path
		}
		if overrides.Trace.Compression != "" {
			c.Trace.Compression = overrides.Trace.Compression
		}
		if overrides.Trace.BlockRecords != 0 {
			c.Trace.BlockRecords = overrides.Trace.BlockRecords
		}
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Bridge.SocketPath = expandVars(c.Bridge.SocketPath, vars)
	c.Trace.Path = expandVars(c.Trace.Path, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var (
	logLevels    = []string{"debug", "info", "warn", "error"}
	logFormats   = []string{"auto", "text", "json"}
	compressions = []string{"none", "lz4", "zstd"}
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if !slices.Contains(logLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", logLevels))
	}
	if !slices.Contains(logFormats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", logFormats))
	}

	if _, err := c.Engine.Options(); err != nil {
		errs = append(errs, err)
	}

	if c.Bridge.SocketPath == "" {
		errs = append(errs, fmt.Errorf("bridge.socket_path is required"))
	}
	if _, err := positiveDuration("bridge.dial_timeout", c.Bridge.DialTimeout); err != nil {
		errs = append(errs, err)
	}

	if !slices.Contains(compressions, c.Trace.Compression) {
		errs = append(errs, fmt.Errorf("trace.compression must be one of: %v", compressions))
	}
	if c.Trace.BlockRecords <= 0 {
		errs = append(errs, fmt.Errorf("trace.block_records must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Options converts the engine section into state options. The logger
// and clock are left for the caller.
func (e EngineConfig) Options() (state.Options, error) {
	timeout, err := positiveDuration("engine.operation_timeout", e.OperationTimeout)
	if err != nil {
		return state.Options{}, err
	}
	delay, err := positiveDuration("engine.retry_delay", e.RetryDelay)
	if err != nil {
		return state.Options{}, err
	}
	if e.DiscoveryRetries < 0 {
		return state.Options{}, fmt.Errorf("engine.discovery_retries must not be negative")
	}
	return state.Options{
		OperationTimeout: timeout,
		DiscoveryRetries: e.DiscoveryRetries,
		RetryDelay:       delay,
		Strict:           e.Strict != nil && *e.Strict,
	}, nil
}

// DialTimeoutDuration returns the parsed dial timeout, or 5s when it
// does not parse.
func (b BridgeConfig) DialTimeoutDuration() time.Duration {
	duration, err := time.ParseDuration(b.DialTimeout)
	if err != nil || duration <= 0 {
		return 5 * time.Second
	}
	return duration
}

// SlogLevel returns the configured level, or info when it is not
// recognized.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func positiveDuration(field, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return duration, nil
}

func boolPtr(value bool) *bool { return &value }
