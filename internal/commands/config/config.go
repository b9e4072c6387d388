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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/storykeep/internal/commands/shared"
	"github.com/tombee/storykeep/internal/config"
)

// NewConfigCommand creates the config command with subcommands
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
		Long: `View storykeep configuration.

Configuration is read from $XDG_CONFIG_HOME/storykeep/config.yaml (or the
file given with --config) and overridden by STORYKEEP_* environment
variables.

Subcommands:
  show     - Display the effective configuration
  path     - Show config file location
  validate - Check the configuration for errors`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigPathCommand())
	cmd.AddCommand(NewValidateCommand())

	// If no subcommand provided, default to 'show'
	cmd.RunE = runConfigShow

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the configuration after defaults and environment overrides
have been applied. Use --json for machine-readable output.`,
		RunE: runConfigShow,
	}
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file location",
		RunE:  runConfigPath,
	}
}

// configView is the JSON form of the configuration, with durations as
// strings so they read the same as in the YAML file.
type configView struct {
	shared.JSONResponse
	Path    string               `json:"path,omitempty"`
	Lock    lockView             `json:"lock"`
	Log     config.LogConfig     `json:"log"`
	Audit   config.AuditConfig   `json:"audit"`
	Metrics config.MetricsConfig `json:"metrics"`
	Tracing config.TracingConfig `json:"tracing"`
}

type lockView struct {
	Timeout        string `json:"timeout"`
	InitialBackoff string `json:"initial_backoff"`
	MaxBackoff     string `json:"max_backoff"`
	Watch          bool   `json:"watch"`
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, configView{
			JSONResponse: shared.NewJSONResponse("config show", true),
			Path:         cfg.Path,
			Lock: lockView{
				Timeout:        cfg.Lock.Timeout.String(),
				InitialBackoff: cfg.Lock.InitialBackoff.String(),
				MaxBackoff:     cfg.Lock.MaxBackoff.String(),
				Watch:          cfg.Lock.WatchEnabled(),
			},
			Log:     cfg.Log,
			Audit:   cfg.Audit,
			Metrics: cfg.Metrics,
			Tracing: cfg.Tracing,
		})
	}

	data, err := cfg.YAML()
	if err != nil {
		return shared.NewFailureError("failed to encode config", err)
	}

	p := shared.NewPrinter(shared.ColorEnabled(out))
	source := cfg.Path
	if source == "" {
		source = "defaults (no config file)"
	}
	fmt.Fprintln(out, p.Header("Configuration: "+source))
	fmt.Fprintln(out)
	_, err = out.Write(data)
	return err
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	cfgPath := shared.GetConfigPath()
	if cfgPath == "" {
		var err error
		cfgPath, err = config.ConfigPath()
		if err != nil {
			return shared.NewFailureError("failed to determine config path", err)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), cfgPath)
	return nil
}
