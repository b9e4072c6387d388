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

	"github.com/spf13/cobra"

	"github.com/tombee/storykeep/internal/commands/shared"
	"github.com/tombee/storykeep/internal/filelock"
	skerrors "github.com/tombee/storykeep/pkg/errors"
)

type releaseResponse struct {
	shared.JSONResponse
	Path     string `json:"path"`
	Released bool   `json:"released"`
	PID      int    `json:"pid,omitempty"`
}

func newReleaseCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "release PATH",
		Short: "Remove a document's lock marker",
		Long: `Remove the lock marker for PATH.

Stale markers (holder not running, or unreadable) are removed directly.
A marker held by a running process is only removed with --force, which
lets the next writer proceed while the holder may still be writing.`,
		Example: `  storykeep lock release status.json
  storykeep lock release status.json.lock --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelease(cmd, targetOf(args[0]), force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Remove the marker even if its holder is running")

	return cmd
}

func runRelease(cmd *cobra.Command, target string, force bool) error {
	rt, err := shared.NewRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	out := cmd.OutOrStdout()
	p := shared.NewPrinter(shared.ColorEnabled(out))
	lockPath := filelock.LockPath(target)

	marker, err := rt.Locks.Inspect(target)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if shared.GetJSON() {
			return shared.EmitJSON(out, releaseResponse{
				JSONResponse: shared.NewJSONResponse("lock release", true),
				Path:         target,
			})
		}
		if !shared.GetQuiet() {
			fmt.Fprintln(out, p.Info(target+" is not locked"))
		}
		return nil
	case err != nil && !force:
		return shared.NewFailureError(fmt.Sprintf("cannot read %s", lockPath), err)
	}

	alive := rt.Locks.Alive(marker)
	if alive && !force {
		return shared.NewFailureError("refusing to release lock", &skerrors.ValidationError{
			Field:      "force",
			Message:    fmt.Sprintf("%s is held by running process %d", lockPath, marker.PID),
			Suggestion: "wait for the holder to finish, or pass --force if it is hung",
		})
	}

	var releaseErr error
	if !rt.Locks.Release(lockPath) {
		releaseErr = fmt.Errorf("failed to remove %s", lockPath)
	}
	_ = rt.Audit.LogForceRelease(lockPath, marker.PID, releaseErr)
	if releaseErr != nil {
		return shared.NewFailureError("release failed", releaseErr)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(out, releaseResponse{
			JSONResponse: shared.NewJSONResponse("lock release", true),
			Path:         target,
			Released:     true,
			PID:          marker.PID,
		})
	}
	if !shared.GetQuiet() {
		if alive {
			fmt.Fprintln(out, p.Warn(fmt.Sprintf("released %s held by running process %d", target, marker.PID)))
		} else {
			fmt.Fprintln(out, p.OK("released "+target))
		}
	}
	return nil
}
