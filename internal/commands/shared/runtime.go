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

package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/storykeep/internal/audit"
	"github.com/tombee/storykeep/internal/condition"
	"github.com/tombee/storykeep/internal/config"
	"github.com/tombee/storykeep/internal/filelock"
	"github.com/tombee/storykeep/internal/jq"
	"github.com/tombee/storykeep/internal/log"
	"github.com/tombee/storykeep/internal/metrics"
	"github.com/tombee/storykeep/internal/persist"
	"github.com/tombee/storykeep/internal/tracing"
)

// TimeoutFlag is the name of the per-command lock wait flag.
const TimeoutFlag = "timeout"

// Runtime bundles the components a command needs, built from configuration
// and global flags. Commands create one per invocation and Close it when
// done.
type Runtime struct {
	Config      *config.Config
	Logger      *slog.Logger
	Locks       *filelock.Manager
	Writer      *persist.Writer
	Coordinator *persist.Coordinator
	Cache       *persist.Cache
	Audit       *audit.Logger
	Metrics     *metrics.Metrics
	JQ          *jq.Executor
	Conditions  *condition.Evaluator

	tracing *tracing.Provider
}

// NewRuntime loads configuration and wires the lock manager, persistence,
// audit, metrics and tracing for cmd.
func NewRuntime(cmd *cobra.Command) (*Runtime, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	// The environment still contributes STORYKEEP_DEBUG and LOG_SOURCE
	logCfg := log.FromEnv()
	logCfg.Level = logLevel(cfg)
	logCfg.Format = log.Format(cfg.Log.Format)
	logCfg.Output = cmd.ErrOrStderr()
	logger := log.New(logCfg)

	v, _, _ := GetVersion()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	provider, err := tracing.Setup(ctx, tracing.Config{
		Enabled:        GetTrace() || cfg.Tracing.Enabled,
		ServiceName:    "storykeep",
		ServiceVersion: v,
		Exporter:       cfg.Tracing.Exporter,
		Writer:         cmd.ErrOrStderr(),
		OTLP: tracing.OTLPConfig{
			Endpoint: cfg.Tracing.Endpoint,
			Insecure: cfg.Tracing.Insecure,
			Headers:  cfg.Tracing.Headers,
		},
	})
	if err != nil {
		return nil, NewFailureError("failed to set up tracing", err)
	}

	m := metrics.New()
	auditLog := audit.NewLogger(cfg.Audit.Path, logger)

	locks := filelock.NewManager(filelock.Options{
		InitialBackoff: cfg.Lock.InitialBackoff,
		MaxBackoff:     cfg.Lock.MaxBackoff,
		Watch:          cfg.Lock.WatchEnabled(),
		Logger:         logger,
		Observers:      []filelock.Observer{m.Observer(), auditLog.Observer()},
	})
	writer := persist.NewWriter(locks, logger).WithLockTimeout(cfg.Lock.Timeout)

	return &Runtime{
		Config:      cfg,
		Logger:      logger,
		Locks:       locks,
		Writer:      writer,
		Coordinator: persist.NewCoordinator(locks, writer, logger).WithDefaultLockTimeout(cfg.Lock.Timeout),
		Cache:       persist.NewCache(),
		Audit:       auditLog,
		Metrics:     m,
		JQ:          jq.NewExecutor(jq.DefaultTimeout, jq.DefaultMaxInputSize),
		Conditions:  condition.New(),
		tracing:     provider,
	}, nil
}

// LoadConfig loads configuration from --config, or the default location when
// the flag is unset. An explicit path that does not exist is invalid input;
// a missing default file means defaults.
func LoadConfig() (*config.Config, error) {
	configPath := GetConfigPath()
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, NewInvalidInputError(fmt.Sprintf("cannot read config file %s", configPath), err)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, ClassifyError("invalid configuration", err)
	}
	return cfg, nil
}

// logLevel applies --verbose and --quiet over the configured level.
// STORYKEEP_DEBUG wins over the config file but not over --quiet.
func logLevel(cfg *config.Config) string {
	switch {
	case GetVerbose():
		return "debug"
	case GetQuiet():
		return "error"
	case debugEnv():
		return "debug"
	default:
		return cfg.Log.Level
	}
}

func debugEnv() bool {
	v := os.Getenv("STORYKEEP_DEBUG")
	return v == "true" || v == "1"
}

// AddTimeoutFlag registers --timeout on fs.
func AddTimeoutFlag(fs *pflag.FlagSet, p *time.Duration) {
	fs.DurationVar(p, TimeoutFlag, 0, "How long to wait for the document lock (default from config, 5s)")
}

// LockTimeout returns the --timeout value when it was given and the
// configured timeout otherwise.
func (r *Runtime) LockTimeout(fs *pflag.FlagSet, value time.Duration) time.Duration {
	if fs != nil && fs.Changed(TimeoutFlag) {
		return value
	}
	return r.Config.Lock.Timeout
}

// Close exports metrics and flushes spans. Failures are logged, never
// returned: the command's own outcome decides the exit code.
func (r *Runtime) Close(ctx context.Context) {
	if r == nil {
		return
	}
	var errs []error
	if err := r.Metrics.WriteTextfile(r.Config.Metrics.Textfile); err != nil {
		errs = append(errs, err)
	}
	if err := r.tracing.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush spans: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		r.Logger.Warn("shutdown incomplete", log.Error(err))
	}
}
