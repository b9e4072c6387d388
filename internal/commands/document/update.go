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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/storykeep/internal/commands/shared"
	"github.com/tombee/storykeep/internal/metrics"
	"github.com/tombee/storykeep/internal/persist"
	"github.com/tombee/storykeep/pkg/errors"
)

type updateOptions struct {
	condition string
	timeout   time.Duration
	args      []string
	jsonArgs  []string
	print     bool
}

// updateResponse is the JSON output of update.
type updateResponse struct {
	shared.JSONResponse
	Path    string `json:"path"`
	Changed bool   `json:"changed"`
	Data    any    `json:"data"`
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand() *cobra.Command {
	opts := &updateOptions{}

	cmd := &cobra.Command{
		Use:   "update PATH EXPR",
		Short: "Change a JSON document with a jq expression",
		Long: `Update the document at PATH by applying the jq expression EXPR to its
current content and writing back the single value it produces.

The document's lock is held for the whole read-modify-write, so concurrent
updates never lose each other's changes. A lock whose holder has exited is
reclaimed immediately; a lock held by a running process is waited for up to
the lock timeout, after which the command exits with status 75 and leaves the
document unchanged.

With --if, the update only happens when the condition (an expr-lang
expression over the current document) is true.`,
		Example: `  storykeep update status.json '.stage = "review"'
  storykeep update status.json '.attempts += 1' --if 'attempts < 3'
  storykeep update status.json '.owner = $owner' --arg owner=alice
  storykeep update status.json '.steps += [$step]' --argjson 'step={"id": "s3"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd, args[0], args[1], opts)
		},
	}

	cmd.Flags().StringVar(&opts.condition, "if", "", "Only update when this condition holds")
	cmd.Flags().StringArrayVar(&opts.args, "arg", nil, "Bind a jq string variable (name=value, repeatable)")
	cmd.Flags().StringArrayVar(&opts.jsonArgs, "argjson", nil, "Bind a jq JSON variable (name=json, repeatable)")
	cmd.Flags().BoolVar(&opts.print, "print", false, "Print the resulting document")
	shared.AddTimeoutFlag(cmd.Flags(), &opts.timeout)

	return cmd
}

func runUpdate(cmd *cobra.Command, path, expression string, opts *updateOptions) error {
	vars, err := parseVars(opts.args, opts.jsonArgs)
	if err != nil {
		return err
	}

	rt, err := shared.NewRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(cmd.Context())

	transform, err := rt.JQ.Transform(cmd.Context(), expression, vars)
	if err != nil {
		return shared.NewInvalidInputError("invalid expression", err)
	}
	if err := rt.Conditions.Validate(opts.condition); err != nil {
		return shared.NewInvalidInputError("invalid condition", err)
	}

	skipped := false
	fn := func(data any) (any, error) {
		ok, err := rt.Conditions.Evaluate(opts.condition, data)
		if err != nil {
			return nil, err
		}
		if !ok {
			skipped = true
			return nil, persist.ErrSkip
		}
		return transform(data)
	}

	res := rt.Coordinator.Apply(cmd.Context(), path, fn,
		persist.WithLockTimeout(rt.LockTimeout(cmd.Flags(), opts.timeout)))
	_ = rt.Audit.LogUpdate(path, res.Success && !skipped, res.Err)

	if !res.Success {
		rt.Metrics.RecordDocumentOp("update", metrics.ResultFailure)
		return shared.ClassifyError(fmt.Sprintf("failed to update %s", path), res.Err)
	}

	result := metrics.ResultSuccess
	if skipped {
		result = metrics.ResultSkipped
	}
	rt.Metrics.RecordDocumentOp("update", result)

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, updateResponse{
			JSONResponse: shared.NewJSONResponse("update", true),
			Path:         path,
			Changed:      !skipped,
			Data:         res.Data,
		})
	}
	if opts.print {
		data, err := persist.Encode(res.Data)
		if err != nil {
			return shared.NewFailureError("failed to render document", err)
		}
		_, err = out.Write(data)
		return err
	}
	if !shared.GetQuiet() {
		p := shared.NewPrinter(shared.ColorEnabled(out))
		if skipped {
			fmt.Fprintln(out, p.Info("condition not met, "+path+" unchanged"))
		} else {
			fmt.Fprintln(out, p.OK("updated "+path))
		}
	}
	return nil
}

// parseVars turns --arg and --argjson values into jq variables.
func parseVars(args, jsonArgs []string) (map[string]any, error) {
	vars := make(map[string]any, len(args)+len(jsonArgs))
	for _, arg := range args {
		name, value, err := splitVar("arg", arg)
		if err != nil {
			return nil, err
		}
		vars["$"+name] = value
	}
	for _, arg := range jsonArgs {
		name, raw, err := splitVar("argjson", arg)
		if err != nil {
			return nil, err
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, shared.NewInvalidInputError("invalid --argjson", &errors.ValidationError{
				Field:      name,
				Message:    fmt.Sprintf("value for %s is not valid JSON", name),
				Suggestion: `use --arg for plain strings, or quote them: --argjson 'name="text"'`,
			})
		}
		vars["$"+name] = value
	}
	return vars, nil
}

func splitVar(flag, arg string) (string, string, error) {
	name, value, ok := strings.Cut(arg, "=")
	name = strings.TrimPrefix(name, "$")
	if !ok || name == "" {
		return "", "", shared.NewInvalidInputError(fmt.Sprintf("invalid --%s", flag), &errors.ValidationError{
			Field:      flag,
			Message:    fmt.Sprintf("%q is not in name=value form", arg),
			Suggestion: fmt.Sprintf("use --%s name=value", flag),
		})
	}
	return name, value, nil
}
