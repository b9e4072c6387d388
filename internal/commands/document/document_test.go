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
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/storykeep/internal/audit"
	"github.com/tombee/storykeep/internal/commands/shared"
)

// isolate keeps user configuration and environment out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("STORYKEEP_LOCK_TIMEOUT", "")
	t.Setenv("STORYKEEP_AUDIT_LOG", "")
	t.Setenv("STORYKEEP_METRICS_FILE", "")
	shared.SetConfigPathForTest("")
	shared.SetJSONForTest(false)
	shared.SetQuietForTest(false)
	t.Cleanup(func() {
		shared.SetJSONForTest(false)
		shared.SetQuietForTest(false)
	})
}

func run(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	out, _, err := runCapture(t, cmd, stdin, args...)
	return out, err
}

// runCapture is run that also returns what the command logged to stderr.
func runCapture(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func readJSON(t *testing.T, path string) any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var v any
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func TestWriteCommand(t *testing.T) {
	isolate(t)
	target := filepath.Join(t.TempDir(), "stories", "s1.json")

	out, err := run(t, NewWriteCommand(), "", target, "--value", `{"stage":"draft","tags":["a"]}`)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+target)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"stage\": \"draft\",\n  \"tags\": [\n    \"a\"\n  ]\n}\n", string(data))
}

func TestWriteCommandFromStdin(t *testing.T) {
	isolate(t)
	target := filepath.Join(t.TempDir(), "s1.json")

	_, err := run(t, NewWriteCommand(), `[1, 2, 3]`, target, "--from", "-")
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, readJSON(t, target))
}

func TestWriteCommandFromFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	source := filepath.Join(dir, "source.json")
	require.NoError(t, os.WriteFile(source, []byte(`{"k": "v"}`), 0o644))
	target := filepath.Join(dir, "target.json")

	_, err := run(t, NewWriteCommand(), "", target, "--from", source)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, readJSON(t, target))
}

func TestWriteCommandInvalidJSON(t *testing.T) {
	isolate(t)
	target := filepath.Join(t.TempDir(), "s1.json")

	_, err := run(t, NewWriteCommand(), "", target, "--value", "not json")
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidInput, shared.ExitCode(err))
	assert.NoFileExists(t, target)
}

func TestWriteCommandRequiresValue(t *testing.T) {
	isolate(t)
	_, err := run(t, NewWriteCommand(), "", filepath.Join(t.TempDir(), "x.json"))
	assert.Error(t, err)
}

func TestWriteCommandJSONOutput(t *testing.T) {
	isolate(t)
	shared.SetJSONForTest(true)
	target := filepath.Join(t.TempDir(), "s1.json")

	out, err := run(t, NewWriteCommand(), "", target, "--value", `"done"`)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "write", resp["command"])
	assert.Equal(t, target, resp["path"])
	assert.Equal(t, float64(len("\"done\"\n")), resp["bytes"])
}

func TestUpdateCommand(t *testing.T) {
	isolate(t)
	target := filepath.Join(t.TempDir(), "s1.json")
	require.NoError(t, os.WriteFile(target, []byte(`{"count": 5, "stage": "draft"}`), 0o644))

	out, err := run(t, NewUpdateCommand(), "", target, ".count += 1")
	require.NoError(t, err)
	assert.Contains(t, out, "updated "+target)
	assert.Equal(t, map[string]any{"count": float64(6), "stage": "draft"}, readJSON(t, target))
	assert.NoFileExists(t, target+".lock")
}

func TestUpdateCommandCondition(t *testing.T) {
	isolate(t)
	target := filepath.Join(t.TempDir(), "s1.json")
	require.NoError(t, os.WriteFile(target, []byte(`{"attempts": 3}`), 0o644))

	out, err := run(t, NewUpdateCommand(), "", target, ".attempts += 1", "--if", "attempts < 3")
	require.NoError(t, err)
	assert.Contains(t, out, "condition not met")
	assert.Equal(t, map[string]any{"attempts": float64(3)}, readJSON(t, target))

	_, err = run(t, NewUpdateCommand(), "", target, ".attempts += 1", "--if", "attempts <= 3")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"attempts": float64(4)}, readJSON(t, target))
}

func TestUpdateCommandVariables(t *testing.T) {
	isolate(t)
	target := filepath.Join(t.TempDir(), "s1.json")
	require.NoError(t, os.WriteFile(target, []byte(`{"steps": []}`), 0o644))

	_, err := run(t, NewUpdateCommand(), "", target,
		".owner = $owner | .steps += [$step]",
		"--arg", "owner=alice",
		"--argjson", `step={"id": "s1"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"owner": "alice",
		"steps": []any{map[string]any{"id": "s1"}},
	}, readJSON(t, target))
}

func TestUpdateCommandErrors(t *testing.T) {
	tests := []struct {
		name     string
		args     func(target string) []string
		wantCode int
	}{
		{
			name:     "missing document",
			args:     func(target string) []string { return []string{target + ".missing", ".a = 1"} },
			wantCode: shared.ExitNotFound,
		},
		{
			name:     "invalid expression",
			args:     func(target string) []string { return []string{target, ".["} },
			wantCode: shared.ExitInvalidInput,
		},
		{
			name:     "invalid condition",
			args:     func(target string) []string { return []string{target, ".a = 1", "--if", "a =="} },
			wantCode: shared.ExitInvalidInput,
		},
		{
			name:     "malformed arg",
			args:     func(target string) []string { return []string{target, ".a = $x", "--arg", "x"} },
			wantCode: shared.ExitInvalidInput,
		},
		{
			name:     "malformed argjson",
			args:     func(target string) []string { return []string{target, ".a = $x", "--argjson", "x=oops"} },
			wantCode: shared.ExitInvalidInput,
		},
		{
			name:     "expression without output",
			args:     func(target string) []string { return []string{target, "empty"} },
			wantCode: shared.ExitFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			target := filepath.Join(t.TempDir(), "s1.json")
			original := `{"a": 0}`
			require.NoError(t, os.WriteFile(target, []byte(original), 0o644))

			_, err := run(t, NewUpdateCommand(), "", tt.args(target)...)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, shared.ExitCode(err))

			data, err := os.ReadFile(target)
			require.NoError(t, err)
			assert.Equal(t, original, string(data))
		})
	}
}

func TestUpdateCommandContention(t *testing.T) {
	isolate(t)
	target := filepath.Join(t.TempDir(), "s1.json")
	require.NoError(t, os.WriteFile(target, []byte(`{"a": 0}`), 0o644))
	// The test process is alive, so its marker is never stale.
	require.NoError(t, os.WriteFile(target+".lock", []byte(pidString()+"\n"), 0o644))

	_, err := run(t, NewUpdateCommand(), "", target, ".a = 1", "--timeout", "50ms")
	require.Error(t, err)
	assert.Equal(t, shared.ExitContention, shared.ExitCode(err))
	assert.Contains(t, err.Error(), shared.ContentionMessage)
	assert.Equal(t, map[string]any{"a": float64(0)}, readJSON(t, target))
}

func TestUpdateCommandContentionAudited(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	auditLog := filepath.Join(dir, "audit.jsonl")
	t.Setenv("STORYKEEP_AUDIT_LOG", auditLog)
	target := filepath.Join(dir, "s1.json")
	require.NoError(t, os.WriteFile(target, []byte(`{"a": 0}`), 0o644))
	require.NoError(t, os.WriteFile(target+".lock", []byte(pidString()+"\n"), 0o644))

	_, err := run(t, NewUpdateCommand(), "", target, ".a = 1", "--timeout", "20ms")
	require.Error(t, err)

	events, err := audit.ReadEvents(auditLog)
	require.NoError(t, err)
	var update *audit.Event
	for i := range events {
		if events[i].Event == audit.EventUpdate {
			update = &events[i]
		}
	}
	require.NotNil(t, update, "no update event in %+v", events)
	assert.False(t, update.Success)
	assert.Equal(t, "update failed", update.Message)
	assert.Contains(t, update.Error, "timeout")
}

func TestWriteCommandWarnsWhenAuditUnwritable(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	t.Setenv("STORYKEEP_AUDIT_LOG", filepath.Join(blocker, "audit.jsonl"))
	target := filepath.Join(dir, "s1.json")

	out, stderr, err := runCapture(t, NewWriteCommand(), "", target, "--value", `{"a":1}`)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+target)
	assert.Contains(t, stderr, "audit write failed")
	assert.Equal(t, map[string]any{"a": float64(1)}, readJSON(t, target))
}

func TestUpdateCommandPrint(t *testing.T) {
	isolate(t)
	target := filepath.Join(t.TempDir(), "s1.json")
	require.NoError(t, os.WriteFile(target, []byte(`{"a": 0}`), 0o644))

	out, err := run(t, NewUpdateCommand(), "", target, ".a = 2", "--print")
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 2\n}\n", out)
}

func TestShowCommand(t *testing.T) {
	isolate(t)
	target := filepath.Join(t.TempDir(), "s1.json")
	require.NoError(t, os.WriteFile(target, []byte(`{"stage":"review","steps":[1,2]}`), 0o644))

	out, err := run(t, NewShowCommand(), "", target)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"stage\": \"review\",\n  \"steps\": [\n    1,\n    2\n  ]\n}\n", out)

	out, err = run(t, NewShowCommand(), "", target, "--query", ".steps | length")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, err = run(t, NewShowCommand(), "", target, "--query", ".stage", "--raw")
	require.NoError(t, err)
	assert.Equal(t, "review\n", out)

	out, err = run(t, NewShowCommand(), "", target, "--query", ".stage")
	require.NoError(t, err)
	assert.Equal(t, "\"review\"\n", out)
}

func TestShowCommandErrors(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	_, err := run(t, NewShowCommand(), "", filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err))

	target := filepath.Join(dir, "s1.json")
	require.NoError(t, os.WriteFile(target, []byte(`{}`), 0o644))
	_, err = run(t, NewShowCommand(), "", target, "--query", ".[")
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidInput, shared.ExitCode(err))
}

func TestShowCommandJSON(t *testing.T) {
	isolate(t)
	shared.SetJSONForTest(true)
	target := filepath.Join(t.TempDir(), "s1.json")
	require.NoError(t, os.WriteFile(target, []byte(`{"stage":"review"}`), 0o644))

	out, err := run(t, NewShowCommand(), "", target)
	require.NoError(t, err)

	var resp struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "review", resp.Data["stage"])
}

func pidString() string {
	return strconv.Itoa(os.Getpid())
}
