// Copyright 2025 Mortem Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	mortemerrors "github.com/mortem-dev/mortem/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config represents the complete mortem configuration.
type Config struct {
	Memcheck MemcheckConfig `yaml:"memcheck"`
	Debugger DebuggerConfig `yaml:"debugger"`
	Report   ReportConfig   `yaml:"report"`
	History  HistoryConfig  `yaml:"history"`
	Log      LogConfig      `yaml:"log"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Watch    WatchConfig    `yaml:"watch"`
}

// MemcheckConfig configures the dynamic analysis tool.
type MemcheckConfig struct {
	// Binary is the analysis tool executable.
	// Environment: MORTEM_MEMCHECK_BINARY
	// Default: valgrind
	Binary string `yaml:"binary"`

	// ExtraArgs are additional arguments passed to the tool before the
	// target program.
	ExtraArgs []string `yaml:"extra_args,omitempty"`

	// FirstError is the 1-based index of the first detected error that
	// triggers a debug session. Earlier errors are reported by the tool
	// but not debugged.
	// Default: 1
	FirstError int `yaml:"first_error"`

	// PollInterval is how often the session controller polls the tool's
	// diagnostic stream for new lines.
	// Default: 100ms
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DebuggerConfig configures the interactive debugger.
type DebuggerConfig struct {
	// Binary is the debugger executable.
	// Environment: MORTEM_DEBUGGER_BINARY
	// Default: gdb
	Binary string `yaml:"binary"`

	// CommandTimeout is the per-command response deadline.
	// Environment: MORTEM_DEBUGGER_TIMEOUT
	// Default: 20s
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// MaxResponseLines caps the lines accumulated for a single command
	// before the response is cut off.
	// Default: 10000
	MaxResponseLines int `yaml:"max_response_lines"`

	// PageHeight is the terminal height the debugger paginates at.
	// Default: 24
	PageHeight int `yaml:"page_height"`

	// SetupCommands are extra debugger commands run after attach,
	// before any inspection.
	SetupCommands []string `yaml:"setup_commands,omitempty"`

	// DisplayWidth truncates evaluated expression values in reports.
	// Default: 80
	DisplayWidth int `yaml:"display_width"`
}

// ReportConfig configures crash report rendering and filtering.
type ReportConfig struct {
	// Destinations are additional files reports are written to.
	// Stdout is always included.
	Destinations []string `yaml:"destinations,omitempty"`

	// Color controls styled output: auto, always, or never.
	// Default: auto
	Color string `yaml:"color"`

	// ContextLines caps the nearby-code lines kept per frame.
	// Default: 10
	ContextLines int `yaml:"context_lines"`

	// SuppressPaths are glob patterns; an error whose source frames all
	// match one of them is not reported.
	SuppressPaths []string `yaml:"suppress_paths,omitempty"`

	// Filter is an expression evaluated against each parsed error
	// (fields: message, index). Errors it rejects are skipped.
	Filter string `yaml:"filter,omitempty"`
}

// HistoryConfig configures the run-history store.
type HistoryConfig struct {
	// Enabled controls whether runs are recorded.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database location.
	// Environment: MORTEM_HISTORY_PATH
	// Default: ~/.local/share/mortem/mortem.db
	Path string `yaml:"path,omitempty"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Environment: LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: json
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled activates tracing.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Exporter is the span exporter: stdout, otlp-grpc, or otlp-http.
	// Default: stdout
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint is the OTLP receiver address (required for otlp exporters).
	// Environment: MORTEM_TRACING_ENDPOINT
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS for OTLP connections.
	Insecure bool `yaml:"insecure"`

	// SampleRate is the fraction of runs to trace (0.0 - 1.0).
	// Default: 1.0
	SampleRate float64 `yaml:"sample_rate,omitempty"`

	// ServiceName identifies this service in traces.
	// Default: mortem
	ServiceName string `yaml:"service_name,omitempty"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// ListenAddr is the address the /metrics listener binds to.
	// Empty disables the listener.
	// Environment: MORTEM_METRICS_ADDR
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// WatchConfig configures watch mode re-runs.
type WatchConfig struct {
	// Debounce is how long to wait after the last filesystem event
	// before re-running.
	// Default: 500ms
	Debounce time.Duration `yaml:"debounce"`

	// MaxTriggersPerMinute rate-limits re-runs during rebuild storms.
	// Default: 10
	MaxTriggersPerMinute int `yaml:"max_triggers_per_minute"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Memcheck: MemcheckConfig{
			Binary:       "valgrind",
			FirstError:   1,
			PollInterval: 100 * time.Millisecond,
		},
		Debugger: DebuggerConfig{
			Binary:           "gdb",
			CommandTimeout:   20 * time.Second,
			MaxResponseLines: 10000,
			PageHeight:       24,
			DisplayWidth:     80,
		},
		Report: ReportConfig{
			Color:        "auto",
			ContextLines: 10,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    defaultHistoryPath(),
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "json",
			AddSource: false,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "stdout",
			SampleRate:  1.0,
			ServiceName: "mortem",
		},
		Metrics: MetricsConfig{
			ListenAddr: "",
		},
		Watch: WatchConfig{
			Debounce:             500 * time.Millisecond,
			MaxTriggersPerMinute: 10,
		},
	}
}

// Load loads configuration from environment variables and optionally from a YAML file.
// Environment variables take precedence over file-based configuration.
// If configPath is empty, only defaults and environment variables are used.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	// Load from file if path provided
	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &mortemerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	// Override with environment variables
	cfg.loadFromEnv()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, &mortemerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values with sensible defaults.
// This allows minimal configs (e.g., just a debugger section) to work
// without specifying all fields explicitly.
func (c *Config) applyDefaults() {
	defaults := Default()

	// Memcheck defaults
	if c.Memcheck.Binary == "" {
		c.Memcheck.Binary = defaults.Memcheck.Binary
	}
	if c.Memcheck.FirstError == 0 {
		c.Memcheck.FirstError = defaults.Memcheck.FirstError
	}
	if c.Memcheck.PollInterval == 0 {
		c.Memcheck.PollInterval = defaults.Memcheck.PollInterval
	}

	// Debugger defaults
	if c.Debugger.Binary == "" {
		c.Debugger.Binary = defaults.Debugger.Binary
	}
	if c.Debugger.CommandTimeout == 0 {
		c.Debugger.CommandTimeout = defaults.Debugger.CommandTimeout
	}
	if c.Debugger.MaxResponseLines == 0 {
		c.Debugger.MaxResponseLines = defaults.Debugger.MaxResponseLines
	}
	if c.Debugger.PageHeight == 0 {
		c.Debugger.PageHeight = defaults.Debugger.PageHeight
	}
	if c.Debugger.DisplayWidth == 0 {
		c.Debugger.DisplayWidth = defaults.Debugger.DisplayWidth
	}

	// Report defaults
	if c.Report.Color == "" {
		c.Report.Color = defaults.Report.Color
	}
	if c.Report.ContextLines == 0 {
		c.Report.ContextLines = defaults.Report.ContextLines
	}

	// History defaults
	if c.History.Path == "" {
		c.History.Path = defaults.History.Path
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	// Tracing defaults
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = defaults.Tracing.Exporter
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = defaults.Tracing.SampleRate
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaults.Tracing.ServiceName
	}

	// Watch defaults
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = defaults.Watch.Debounce
	}
	if c.Watch.MaxTriggersPerMinute == 0 {
		c.Watch.MaxTriggersPerMinute = defaults.Watch.MaxTriggersPerMinute
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	// Expand home directory if present
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	// Memcheck configuration
	if val := os.Getenv("MORTEM_MEMCHECK_BINARY"); val != "" {
		c.Memcheck.Binary = val
	}

	// Debugger configuration
	if val := os.Getenv("MORTEM_DEBUGGER_BINARY"); val != "" {
		c.Debugger.Binary = val
	}
	if val := os.Getenv("MORTEM_DEBUGGER_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Debugger.CommandTimeout = duration
		}
	}

	// History configuration
	if val := os.Getenv("MORTEM_HISTORY_PATH"); val != "" {
		c.History.Path = val
	}

	// Log configuration
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	// Tracing configuration
	if val := os.Getenv("MORTEM_TRACING_ENDPOINT"); val != "" {
		c.Tracing.Endpoint = val
	}

	// Metrics configuration
	if val := os.Getenv("MORTEM_METRICS_ADDR"); val != "" {
		c.Metrics.ListenAddr = val
	}

	// Watch configuration
	if val := os.Getenv("MORTEM_WATCH_MAX_TRIGGERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Watch.MaxTriggersPerMinute = n
		}
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	// Validate memcheck configuration
	if c.Memcheck.Binary == "" {
		errs = append(errs, "memcheck.binary must not be empty")
	}
	if c.Memcheck.FirstError < 1 {
		errs = append(errs, fmt.Sprintf("memcheck.first_error must be at least 1, got %d", c.Memcheck.FirstError))
	}
	if c.Memcheck.PollInterval <= 0 {
		errs = append(errs, fmt.Sprintf("memcheck.poll_interval must be positive, got %v", c.Memcheck.PollInterval))
	}

	// Validate debugger configuration
	if c.Debugger.Binary == "" {
		errs = append(errs, "debugger.binary must not be empty")
	}
	if c.Debugger.CommandTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("debugger.command_timeout must be positive, got %v", c.Debugger.CommandTimeout))
	}
	if c.Debugger.MaxResponseLines <= 0 {
		errs = append(errs, fmt.Sprintf("debugger.max_response_lines must be positive, got %d", c.Debugger.MaxResponseLines))
	}
	if c.Debugger.PageHeight < 4 {
		errs = append(errs, fmt.Sprintf("debugger.page_height must be at least 4, got %d", c.Debugger.PageHeight))
	}
	if c.Debugger.DisplayWidth < 16 {
		errs = append(errs, fmt.Sprintf("debugger.display_width must be at least 16, got %d", c.Debugger.DisplayWidth))
	}

	// Validate report configuration
	validColors := map[string]bool{"auto": true, "always": true, "never": true}
	if !validColors[c.Report.Color] {
		errs = append(errs, fmt.Sprintf("report.color must be one of [auto, always, never], got %q", c.Report.Color))
	}
	if c.Report.ContextLines < 0 {
		errs = append(errs, fmt.Sprintf("report.context_lines must be non-negative, got %d", c.Report.ContextLines))
	}

	// Validate log configuration
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	// Validate tracing configuration
	if c.Tracing.Enabled {
		validExporters := map[string]bool{"stdout": true, "otlp-grpc": true, "otlp-http": true}
		if !validExporters[c.Tracing.Exporter] {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of [stdout, otlp-grpc, otlp-http], got %q", c.Tracing.Exporter))
		}
		if strings.HasPrefix(c.Tracing.Exporter, "otlp") && c.Tracing.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("tracing.endpoint is required for the %s exporter", c.Tracing.Exporter))
		}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0.0 and 1.0, got %v", c.Tracing.SampleRate))
	}

	// Validate watch configuration
	if c.Watch.Debounce <= 0 {
		errs = append(errs, fmt.Sprintf("watch.debounce must be positive, got %v", c.Watch.Debounce))
	}
	if c.Watch.MaxTriggersPerMinute <= 0 {
		errs = append(errs, fmt.Sprintf("watch.max_triggers_per_minute must be positive, got %d", c.Watch.MaxTriggersPerMinute))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}

	return nil
}

// defaultHistoryPath returns the default run-history database path.
func defaultHistoryPath() string {
	return filepath.Join(DataDir(), "mortem.db")
}
