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

package filelock

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	skerrors "github.com/tombee/storykeep/pkg/errors"
)

func TestPrune(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "stories", "nested"), 0o755))

	live := filepath.Join(root, "stories", "live.json.lock")
	dead := filepath.Join(root, "stories", "nested", "dead.json.lock")
	junk := filepath.Join(root, "audit.json.lock")
	other := filepath.Join(root, "stories", "notes.txt")

	writeMarker(t, live, strconv.Itoa(os.Getpid())+"\n")
	writeMarker(t, dead, strconv.Itoa(deadPID(t))+"\n")
	writeMarker(t, junk, "???")
	writeMarker(t, other, "1\n")

	m := NewManager(Options{})

	t.Run("dry run reports without removing", func(t *testing.T) {
		stale, err := m.Prune(context.Background(), root, "", true)
		require.NoError(t, err)

		var paths []string
		for _, marker := range stale {
			paths = append(paths, marker.Path)
		}
		assert.ElementsMatch(t, []string{dead, junk}, paths)
		assert.FileExists(t, dead)
		assert.FileExists(t, junk)
	})

	t.Run("pattern narrows the search", func(t *testing.T) {
		stale, err := m.Prune(context.Background(), root, "stories/**/*.lock", true)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, dead, stale[0].Path)
	})

	t.Run("removes stale markers only", func(t *testing.T) {
		rec := &recorder{}
		m.Observe(rec.observe)

		stale, err := m.Prune(context.Background(), root, "", false)
		require.NoError(t, err)
		assert.Len(t, stale, 2)

		assert.FileExists(t, live)
		assert.FileExists(t, other)
		assert.NoFileExists(t, dead)
		assert.NoFileExists(t, junk)
		assert.Equal(t, []EventType{EventStaleReclaimed, EventStaleReclaimed}, rec.types())
	})

	t.Run("invalid pattern", func(t *testing.T) {
		_, err := m.Prune(context.Background(), root, "[", true)
		var validation *skerrors.ValidationError
		assert.ErrorAs(t, err, &validation)
	})
}
