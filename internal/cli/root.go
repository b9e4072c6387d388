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

package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/storykeep/internal/commands/completion"
	configcmd "github.com/tombee/storykeep/internal/commands/config"
	"github.com/tombee/storykeep/internal/commands/document"
	"github.com/tombee/storykeep/internal/commands/lock"
	"github.com/tombee/storykeep/internal/commands/shared"
	versioncmd "github.com/tombee/storykeep/internal/commands/version"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command with every storykeep
// subcommand registered.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storykeep",
		Short: "storykeep - safe concurrent updates to JSON state files",
		Long: `storykeep reads and writes JSON documents that several processes share.

Every write goes through a temp file and an atomic rename, so readers never
see a half-written document. Read-modify-write updates hold an advisory
lock (a PATH.lock marker holding the writer's pid) so concurrent updates
never lose each other's changes. Locks left by crashed processes are
reclaimed automatically.

Run 'storykeep update --help' to get started.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	flags := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVarP(flags.Verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(flags.Quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(flags.JSON, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(flags.Config, "config", "", "Path to config file (default: ~/.config/storykeep/config.yaml)")
	cmd.PersistentFlags().BoolVar(flags.Trace, "trace", false, "Export OpenTelemetry spans (to stderr unless tracing.exporter is set)")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	// Document commands
	cmd.AddCommand(document.NewWriteCommand())
	cmd.AddCommand(document.NewUpdateCommand())
	cmd.AddCommand(document.NewShowCommand())

	// Lock maintenance
	cmd.AddCommand(lock.NewCommand())

	// Configuration and diagnostics
	cmd.AddCommand(configcmd.NewConfigCommand())
	cmd.AddCommand(completion.NewCommand())
	cmd.AddCommand(versioncmd.NewVersionCommand())

	cmd.SetHelpCommand(NewHelpCommand(cmd))

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// Execute runs the command tree and exits with the mapped exit code on
// failure.
func Execute(rootCmd *cobra.Command) {
	executed, err := rootCmd.ExecuteC()
	if err != nil {
		HandleExitError(commandName(rootCmd, executed), err)
	}
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(command string, err error) {
	shared.HandleExitError(command, err)
}

// commandName returns the executed command path without the binary name,
// e.g. "lock release".
func commandName(root, executed *cobra.Command) string {
	if executed == nil || executed == root {
		return root.Name()
	}
	return strings.TrimPrefix(executed.CommandPath(), root.Name()+" ")
}
