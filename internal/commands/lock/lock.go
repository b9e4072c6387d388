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

// Package lock implements the lock status, release and prune commands for
// inspecting and repairing document lock markers.
package lock

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/storykeep/internal/filelock"
)

// NewCommand creates the lock command with subcommands
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect and repair document locks",
		Long: `Inspect and repair the lock markers storykeep keeps beside documents.

A document PATH is locked while PATH.lock exists; the marker holds the
process id of its holder. Markers left by processes that have exited are
reclaimed automatically by the next writer, so these commands are only
needed for diagnosis or cleanup.

Subcommands:
  status  - Show who holds a document's lock
  release - Remove a lock marker
  prune   - Remove stale markers below a directory`,
	}

	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newReleaseCommand())
	cmd.AddCommand(newPruneCommand())

	return cmd
}

// targetOf accepts either a document path or its marker path.
func targetOf(arg string) string {
	if strings.HasSuffix(arg, filelock.Suffix) {
		return filelock.TargetPath(arg)
	}
	return arg
}
