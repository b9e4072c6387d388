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

package document

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/storykeep/internal/commands/shared"
	"github.com/tombee/storykeep/internal/metrics"
	"github.com/tombee/storykeep/internal/persist"
)

type showOptions struct {
	query string
	raw   bool
}

// showResponse is the JSON output of show.
type showResponse struct {
	shared.JSONResponse
	Path string `json:"path"`
	Data any    `json:"data"`
}

// NewShowCommand creates the show command.
func NewShowCommand() *cobra.Command {
	opts := &showOptions{}

	cmd := &cobra.Command{
		Use:   "show PATH",
		Short: "Print a JSON document",
		Long: `Print the document at PATH, optionally filtered through a jq expression.

Reading never takes the lock: documents are replaced by rename, so show
always sees a complete version.`,
		Example: `  storykeep show status.json
  storykeep show status.json --query '.steps | length'
  storykeep show status.json --query .stage --raw`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.query, "query", "", "jq expression to apply before printing")
	cmd.Flags().BoolVarP(&opts.raw, "raw", "r", false, "Print string results without quotes")

	return cmd
}

func runShow(cmd *cobra.Command, path string, opts *showOptions) error {
	rt, err := shared.NewRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	if err := rt.JQ.Validate(opts.query, nil); err != nil {
		return shared.NewInvalidInputError("invalid query", err)
	}

	doc, err := rt.Cache.Load(path)
	if err != nil {
		rt.Metrics.RecordDocumentOp("show", metrics.ResultFailure)
		return shared.ClassifyError(fmt.Sprintf("failed to read %s", path), err)
	}

	result, err := rt.JQ.Execute(cmd.Context(), opts.query, doc, nil)
	if err != nil {
		rt.Metrics.RecordDocumentOp("show", metrics.ResultFailure)
		return shared.NewFailureError("query failed", err)
	}
	rt.Metrics.RecordDocumentOp("show", metrics.ResultSuccess)

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, showResponse{
			JSONResponse: shared.NewJSONResponse("show", true),
			Path:         path,
			Data:         result,
		})
	}

	if s, ok := result.(string); ok && opts.raw {
		_, err := fmt.Fprintln(out, s)
		return err
	}

	data, err := persist.Encode(result)
	if err != nil {
		return shared.NewFailureError("failed to render document", err)
	}
	_, err = out.Write(data)
	return err
}
