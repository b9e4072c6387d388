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

// Package document implements the write, update and show commands.
package document

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/storykeep/internal/commands/shared"
	"github.com/tombee/storykeep/internal/metrics"
	"github.com/tombee/storykeep/internal/persist"
	"github.com/tombee/storykeep/pkg/errors"
)

type writeOptions struct {
	value string
	from  string
	force bool
}

// writeResponse is the JSON output of write.
type writeResponse struct {
	shared.JSONResponse
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// NewWriteCommand creates the write command.
func NewWriteCommand() *cobra.Command {
	opts := &writeOptions{}

	cmd := &cobra.Command{
		Use:   "write PATH",
		Short: "Atomically replace a JSON document",
		Long: `Write a JSON value to PATH, replacing any existing document.

The value is validated and pretty-printed, written to a temporary file next
to PATH and renamed into place, so readers never see a partial document.
Parent directories are created as needed.

The document's lock is taken first. If another process holds it past the
lock timeout the write goes ahead anyway; use 'storykeep update' when the
new content depends on the old.`,
		Example: `  storykeep write status.json --value '{"stage": "review"}'
  storykeep write status.json --from new-status.json
  generate-status | storykeep write status.json --from -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.value, "value", "", "JSON value to write")
	cmd.Flags().StringVar(&opts.from, "from", "", "Read the JSON value from a file ('-' for stdin)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Write without taking the document lock")
	cmd.MarkFlagsMutuallyExclusive("value", "from")
	cmd.MarkFlagsOneRequired("value", "from")

	return cmd
}

func runWrite(cmd *cobra.Command, path string, opts *writeOptions) error {
	raw, err := readValue(cmd.InOrStdin(), opts)
	if err != nil {
		return err
	}

	rt, err := shared.NewRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	var writeOpts []persist.WriteOption
	if opts.force {
		writeOpts = append(writeOpts, persist.WithForce())
	}

	res := rt.Writer.Write(cmd.Context(), path, raw, writeOpts...)
	_ = rt.Audit.LogWrite(path, res.Err)
	if !res.Success {
		rt.Metrics.RecordDocumentOp("write", metrics.ResultFailure)
		return shared.ClassifyError(fmt.Sprintf("failed to write %s", path), res.Err)
	}
	rt.Metrics.RecordDocumentOp("write", metrics.ResultSuccess)

	size := 0
	if info, err := os.Stat(path); err == nil {
		size = int(info.Size())
	}
	rt.Metrics.RecordBytesWritten(size)

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, writeResponse{
			JSONResponse: shared.NewJSONResponse("write", true),
			Path:         path,
			Bytes:        size,
		})
	}
	if !shared.GetQuiet() {
		fmt.Fprintln(out, shared.NewPrinter(shared.ColorEnabled(out)).OK("wrote "+path))
	}
	return nil
}

// readValue returns the JSON to write, rejecting anything that does not
// parse.
func readValue(stdin io.Reader, opts *writeOptions) (json.RawMessage, error) {
	var data []byte
	switch {
	case opts.from == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, shared.NewFailureError("failed to read stdin", err)
		}
		data = b
	case opts.from != "":
		b, err := os.ReadFile(opts.from)
		if err != nil {
			return nil, shared.NewInvalidInputError(fmt.Sprintf("cannot read %s", opts.from), err)
		}
		data = b
	default:
		data = []byte(opts.value)
	}

	if !json.Valid(data) {
		return nil, shared.NewInvalidInputError("invalid value", &errors.ValidationError{
			Field:      "value",
			Message:    "value is not valid JSON",
			Suggestion: `quote strings, e.g. --value '"done"' or --value '{"stage": "done"}'`,
		})
	}
	return json.RawMessage(data), nil
}
