// Copyright 2025 Tom Barlow
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
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	skerrors "github.com/tombee/storykeep/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config represents the complete storykeep configuration.
type Config struct {
	Lock    LockConfig    `yaml:"lock" json:"lock"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Audit   AuditConfig   `yaml:"audit" json:"audit"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`

	// Path is the file the configuration was read from, empty when only
	// defaults and environment were used.
	Path string `yaml:"-" json:"path,omitempty"`
}

// LockConfig controls lock acquisition.
type LockConfig struct {
	// Timeout bounds how long a command waits for a held lock.
	// Environment: STORYKEEP_LOCK_TIMEOUT
	// Default: 5s
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// InitialBackoff is the first wait after finding a live holder.
	// Default: 10ms
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`

	// MaxBackoff caps the wait between contention checks.
	// Default: 250ms
	MaxBackoff time.Duration `yaml:"max_backoff" json:"max_backoff"`

	// Watch wakes waiters through filesystem notifications.
	// Default: true
	Watch *bool `yaml:"watch,omitempty" json:"watch,omitempty"`
}

// WatchEnabled reports whether filesystem notifications are used.
func (l LockConfig) WatchEnabled() bool {
	return l.Watch == nil || *l.Watch
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	// Environment: STORYKEEP_LOG_LEVEL, LOG_LEVEL
	// Default: warn
	Level string `yaml:"level" json:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: text
	Format string `yaml:"format" json:"format"`
}

// AuditConfig configures the audit log.
type AuditConfig struct {
	// Path of the JSON-lines audit log. Empty disables auditing.
	// Environment: STORYKEEP_AUDIT_LOG
	Path string `yaml:"path" json:"path"`
}

// MetricsConfig configures metrics export.
type MetricsConfig struct {
	// Textfile is where each invocation writes its Prometheus metrics, for
	// the node_exporter textfile collector. Empty disables export.
	// Environment: STORYKEEP_METRICS_FILE
	Textfile string `yaml:"textfile" json:"textfile"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	// Enabled exports spans on every invocation; --trace enables it for one.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Exporter is one of stdout, otlp-grpc or otlp-http.
	// Environment: STORYKEEP_TRACE_EXPORTER
	Exporter string `yaml:"exporter" json:"exporter"`

	// Endpoint is the collector host:port for the OTLP exporters. Empty uses
	// OTEL_EXPORTER_OTLP_ENDPOINT or the exporter default.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure,omitempty" json:"insecure,omitempty"`

	// Headers are sent with every export request.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// Default returns a Config with default values.
func Default() *Config {
	watch := true
	return &Config{
		Lock: LockConfig{
			Timeout:        5 * time.Second,
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     250 * time.Millisecond,
			Watch:          &watch,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		Tracing: TracingConfig{
			Exporter: "stdout",
		},
	}
}

// Load reads configuration from configPath, applies environment overrides
// and validates the result. A missing file is not an error: defaults are
// used. If configPath is empty the default location is tried.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		if p, err := ConfigPath(); err == nil {
			configPath = p
		}
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &skerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s: %v", configPath, err),
				Cause:  err,
			}
		}
	}

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Lock.Timeout == 0 {
		c.Lock.Timeout = defaults.Lock.Timeout
	}
	if c.Lock.InitialBackoff == 0 {
		c.Lock.InitialBackoff = defaults.Lock.InitialBackoff
	}
	if c.Lock.MaxBackoff == 0 {
		c.Lock.MaxBackoff = defaults.Lock.MaxBackoff
	}
	if c.Lock.Watch == nil {
		c.Lock.Watch = defaults.Lock.Watch
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = defaults.Tracing.Exporter
	}
}

// loadFromFile loads configuration from a YAML file. A missing file leaves
// the configuration untouched.
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
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	c.Path = path
	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() error {
	if val := os.Getenv("STORYKEEP_LOCK_TIMEOUT"); val != "" {
		duration, err := time.ParseDuration(val)
		if err != nil {
			return &skerrors.ConfigError{
				Key:    "STORYKEEP_LOCK_TIMEOUT",
				Reason: fmt.Sprintf("invalid duration %q", val),
				Cause:  err,
			}
		}
		c.Lock.Timeout = duration
	}
	if val := os.Getenv("STORYKEEP_AUDIT_LOG"); val != "" {
		c.Audit.Path = val
	}
	if val := os.Getenv("STORYKEEP_METRICS_FILE"); val != "" {
		c.Metrics.Textfile = val
	}

	if val := os.Getenv("STORYKEEP_TRACE_EXPORTER"); val != "" {
		c.Tracing.Exporter = strings.ToLower(val)
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("STORYKEEP_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Lock.Timeout < 0 {
		errs = append(errs, fmt.Sprintf("lock.timeout must not be negative, got %v", c.Lock.Timeout))
	}
	if c.Lock.InitialBackoff <= 0 {
		errs = append(errs, fmt.Sprintf("lock.initial_backoff must be positive, got %v", c.Lock.InitialBackoff))
	}
	if c.Lock.MaxBackoff < c.Lock.InitialBackoff {
		errs = append(errs, fmt.Sprintf("lock.max_backoff (%v) must be at least lock.initial_backoff (%v)", c.Lock.MaxBackoff, c.Lock.InitialBackoff))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	validExporters := map[string]bool{"stdout": true, "otlp-grpc": true, "otlp-http": true}
	if !validExporters[c.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("tracing.exporter must be one of [stdout, otlp-grpc, otlp-http], got %q", c.Tracing.Exporter))
	}

	if len(errs) > 0 {
		return &skerrors.ConfigError{
			Key:    "validation",
			Reason: strings.Join(errs, "; "),
			Cause:  ErrInvalidConfig,
		}
	}
	return nil
}

// YAML renders the configuration as it would appear in a config file.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
