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
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tombee/storykeep/internal/commands/shared"
	"github.com/tombee/storykeep/internal/filelock"
	"github.com/tombee/storykeep/internal/lifecycle"
)

// lockStatus describes one document's lock.
type lockStatus struct {
	Path     string     `json:"path"`
	LockPath string     `json:"lock_path"`
	Locked   bool       `json:"locked"`
	Valid    bool       `json:"valid"`
	PID      int        `json:"pid,omitempty"`
	Alive    bool       `json:"alive"`
	Stale    bool       `json:"stale"`
	Command  string     `json:"command,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
	Error    string     `json:"error,omitempty"`
}

type statusResponse struct {
	shared.JSONResponse
	Locks []lockStatus `json:"locks"`
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status PATH...",
		Short: "Show who holds a document's lock",
		Long: `Show the lock state of each document: unlocked, held by a running
process, or stale (the recorded holder is gone or the marker is unreadable).

PATH may name the document or its .lock marker.`,
		Example: `  storykeep lock status status.json
  storykeep lock status stories/*.json --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := shared.NewRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	statuses := make([]lockStatus, 0, len(args))
	for _, arg := range args {
		statuses = append(statuses, inspect(rt.Locks, targetOf(arg)))
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, statusResponse{
			JSONResponse: shared.NewJSONResponse("lock status", true),
			Locks:        statuses,
		})
	}

	p := shared.NewPrinter(shared.ColorEnabled(out))
	for _, s := range statuses {
		fmt.Fprintln(out, describe(p, s))
	}
	return nil
}

func inspect(locks *filelock.Manager, target string) lockStatus {
	status := lockStatus{Path: target, LockPath: filelock.LockPath(target)}

	marker, err := locks.Inspect(target)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			status.Error = err.Error()
		}
		return status
	}

	status.Locked = true
	status.Valid = marker.Valid
	status.PID = marker.PID
	if !marker.ModTime.IsZero() {
		since := marker.ModTime
		status.Since = &since
	}

	if !marker.Valid {
		status.Stale = true
		return status
	}

	info := lifecycle.GetProcessInfo(marker.PID)
	status.Alive = locks.Alive(marker)
	status.Stale = !status.Alive
	if info.Running {
		status.Command = info.Command
	}
	return status
}

func describe(p shared.Printer, s lockStatus) string {
	var b strings.Builder
	b.WriteString(s.Path)
	b.WriteString("  ")

	switch {
	case s.Error != "":
		b.WriteString(p.Error("cannot read lock: " + s.Error))
		return b.String()
	case !s.Locked:
		b.WriteString(p.Label("unlocked"))
		return b.String()
	case !s.Valid:
		b.WriteString(p.HolderState(false))
		b.WriteString(" unreadable marker")
	case s.Alive:
		b.WriteString(p.HolderState(true))
		fmt.Fprintf(&b, " by process %d", s.PID)
		if s.Command != "" {
			b.WriteString(" " + p.Label("("+s.Command+")"))
		}
	default:
		b.WriteString(p.HolderState(false))
		fmt.Fprintf(&b, " process %d is not running", s.PID)
	}

	if s.Since != nil {
		b.WriteString(p.Label(", since " + humanize.Time(*s.Since)))
	}
	return b.String()
}
