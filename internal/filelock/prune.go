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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tombee/storykeep/internal/log"
	skerrors "github.com/tombee/storykeep/pkg/errors"
)

// DefaultPrunePattern matches every lock marker below the search root.
const DefaultPrunePattern = "**/*" + Suffix

// Prune finds markers below root matching pattern (doublestar syntax,
// relative to root) and removes those whose holder is dead or unidentifiable.
// With dryRun set nothing is removed and every stale marker found is
// returned; otherwise only the markers actually removed are, in lexical order.
func (m *Manager) Prune(ctx context.Context, root, pattern string, dryRun bool) ([]Marker, error) {
	if pattern == "" {
		pattern = DefaultPrunePattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, &skerrors.ValidationError{
			Field:      "pattern",
			Message:    fmt.Sprintf("invalid glob pattern %q", pattern),
			Suggestion: "Use doublestar syntax, e.g. **/*.lock",
		}
	}

	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to search %s for lock markers: %w", root, err)
	}

	start := time.Now()
	var stale []Marker
	for _, match := range matches {
		if err := ctx.Err(); err != nil {
			return stale, err
		}

		lockPath := filepath.Join(root, filepath.FromSlash(match))
		marker, inspected, err := readMarker(lockPath)
		if err != nil && errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err == nil && marker.Valid && m.checker.Alive(marker.PID) {
			continue
		}

		if dryRun {
			stale = append(stale, marker)
			continue
		}

		removed, err := m.reclaim(m.logger.With(log.LockPathKey, lockPath), lockPath, inspected, marker.PID, start, "prune")
		if err != nil {
			return stale, err
		}
		if removed {
			stale = append(stale, marker)
		}
	}

	return stale, nil
}
