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

	"github.com/spf13/cobra"

	"github.com/tombee/storykeep/internal/commands/shared"
	"github.com/tombee/storykeep/internal/config"
)

// ValidationResult represents the result of config validation.
type ValidationResult struct {
	shared.JSONResponse
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// NewValidateCommand creates the 'config validate' subcommand.
func NewValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validate the configuration file and environment overrides.

Checks performed:
  - YAML syntax and duration values
  - Lock timeout and backoff bounds
  - Log level and format
  - Audit log and metrics textfile directories exist

With --strict, warnings are treated as errors.`,
		Example: `  # Validate configuration
  storykeep config validate

  # Validate with warnings as errors
  storykeep config validate --strict`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")

	return cmd
}

func runValidate(cmd *cobra.Command, strict bool) error {
	cfg, err := shared.LoadConfig()

	var result ValidationResult
	var exitErr *shared.ExitError
	switch {
	case err == nil:
		result = validateConfig(cfg)
	case errors.As(err, &exitErr) && exitErr.Code == shared.ExitInvalidInput:
		result = ValidationResult{Errors: []string{exitErr.Error()}}
	default:
		return err
	}

	if err := outputValidationResult(cmd, result); err != nil {
		return err
	}

	if !result.Valid {
		return shared.NewReportedError(shared.ExitInvalidInput, "configuration is invalid")
	}
	if strict && len(result.Warnings) > 0 {
		return shared.NewReportedError(shared.ExitInvalidInput, "configuration has warnings (strict mode)")
	}
	return nil
}

// validateConfig reports problems a loaded config can still have: settings
// that are legal but probably unintended.
func validateConfig(cfg *config.Config) ValidationResult {
	var warnings []string

	if cfg.Path == "" {
		warnings = append(warnings, "No config file found; using defaults.")
	}
	if cfg.Lock.Timeout == 0 {
		warnings = append(warnings, "lock.timeout is 0: writers never wait for a busy lock.")
	}
	if !cfg.Lock.WatchEnabled() {
		warnings = append(warnings, "lock.watch is off: waiters rely on polling alone.")
	}
	if dir, ok := missingDir(cfg.Audit.Path); ok {
		warnings = append(warnings, fmt.Sprintf("audit.path directory %s does not exist.", dir))
	}
	if dir, ok := missingDir(cfg.Metrics.Textfile); ok {
		warnings = append(warnings, fmt.Sprintf("metrics.textfile directory %s does not exist.", dir))
	}

	return ValidationResult{
		Valid:    true,
		Warnings: warnings,
	}
}

// missingDir reports whether the parent directory of path is absent.
func missingDir(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return dir, true
	}
	return "", false
}

func outputValidationResult(cmd *cobra.Command, result ValidationResult) error {
	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		result.JSONResponse = shared.NewJSONResponse("config validate", result.Valid)
		return shared.EmitJSON(out, result)
	}

	p := shared.NewPrinter(shared.ColorEnabled(out))
	if result.Valid {
		fmt.Fprintln(out, p.OK("Configuration is valid"))
	} else {
		fmt.Fprintln(out, p.Error("Configuration validation failed"))
	}

	if len(result.Errors) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, p.Header("Errors:"))
		for _, e := range result.Errors {
			fmt.Fprintln(out, "  "+p.Error(e))
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, p.Header("Warnings:"))
		for _, w := range result.Warnings {
			fmt.Fprintln(out, "  "+p.Warn(w))
		}
	}
	return nil
}
