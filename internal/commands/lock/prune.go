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

package lock

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tombee/storykeep/internal/commands/shared"
	"github.com/tombee/storykeep/internal/filelock"
)

type pruneOptions struct {
	pattern string
	dryRun  bool
}

type prunedMarker struct {
	LockPath string `json:"lock_path"`
	PID      int    `json:"pid,omitempty"`
	Valid    bool   `json:"valid"`
}

type pruneResponse struct {
	shared.JSONResponse
	Root    string         `json:"root"`
	DryRun  bool           `json:"dry_run"`
	Markers []prunedMarker `json:"markers"`
}

func newPruneCommand() *cobra.Command {
	opts := &pruneOptions{}

	cmd := &cobra.Command{
		Use:   "prune DIR",
		Short: "Remove stale lock markers below a directory",
		Long: `Find lock markers below DIR and remove those whose holder is no longer
running or whose content is unreadable. Markers held by running processes
are left alone.

--pattern selects markers with a doublestar glob relative to DIR.`,
		Example: `  storykeep lock prune .
  storykeep lock prune stories --pattern '*/status.json.lock' --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.pattern, "pattern", filelock.DefaultPrunePattern, "Glob selecting lock markers")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Report stale markers without removing them")

	return cmd
}

func runPrune(cmd *cobra.Command, root string, opts *pruneOptions) error {
	rt, err := shared.NewRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	stale, err := rt.Locks.Prune(cmd.Context(), root, opts.pattern, opts.dryRun)
	removed := len(stale)
	if opts.dryRun {
		removed = 0
	}
	_ = rt.Audit.LogPrune(root, len(stale), opts.dryRun, err)
	if err != nil {
		return shared.ClassifyError(fmt.Sprintf("failed to prune %s", root), err)
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		markers := make([]prunedMarker, 0, len(stale))
		for _, m := range stale {
			markers = append(markers, prunedMarker{LockPath: m.Path, PID: m.PID, Valid: m.Valid})
		}
		return shared.EmitJSON(out, pruneResponse{
			JSONResponse: shared.NewJSONResponse("lock prune", true),
			Root:         root,
			DryRun:       opts.dryRun,
			Markers:      markers,
		})
	}

	if shared.GetQuiet() {
		return nil
	}
	p := shared.NewPrinter(shared.ColorEnabled(out))
	verb := "removed"
	if opts.dryRun {
		verb = "would remove"
	}
	for _, m := range stale {
		holder := "unreadable marker"
		if m.Valid {
			holder = fmt.Sprintf("process %d", m.PID)
		}
		line := fmt.Sprintf("%s %s (%s", verb, m.Path, holder)
		if !m.ModTime.IsZero() {
			line += ", " + humanize.Time(m.ModTime)
		}
		fmt.Fprintln(out, p.OK(line+")"))
	}
	fmt.Fprintln(out, p.Info(fmt.Sprintf("%d stale %s removed", removed, plural(removed, "lock", "locks"))))
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
