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
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Suffix is appended to a target path to name its lock marker.
const Suffix = ".lock"

// maxMarkerSize bounds how much of a marker is read. A pid fits in a few bytes;
// anything larger is not one of ours.
const maxMarkerSize = 64

// Marker is a parsed view of a lock marker file.
type Marker struct {
	// Path is the marker file path (<target>.lock)
	Path string

	// PID is the process id recorded in the marker. Zero when Valid is false.
	PID int

	// ModTime is when the marker was written
	ModTime time.Time

	// Valid is false when the marker content is not a decimal process id
	Valid bool
}

// Target returns the document path the marker guards.
func (m Marker) Target() string {
	return TargetPath(m.Path)
}

// LockPath returns the marker path for a target document.
func LockPath(targetPath string) string {
	return targetPath + Suffix
}

// TargetPath returns the document path for a marker path.
func TargetPath(lockPath string) string {
	return strings.TrimSuffix(lockPath, Suffix)
}

// readMarker reads and parses the marker at lockPath. The returned FileInfo
// identifies the inspected file so a later removal can verify it was not
// replaced in between. A marker whose content is not a pid is returned with
// Valid=false and a nil error; I/O failures are returned as errors.
func readMarker(lockPath string) (Marker, fs.FileInfo, error) {
	marker := Marker{Path: lockPath}

	f, err := os.Open(lockPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return marker, nil, err
		}
		// Unreadable: still identify the file for stale removal
		info, statErr := os.Lstat(lockPath)
		if statErr != nil {
			return marker, nil, statErr
		}
		marker.ModTime = info.ModTime()
		return marker, info, fmt.Errorf("failed to open lock marker: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return marker, nil, fmt.Errorf("failed to stat lock marker: %w", err)
	}
	marker.ModTime = info.ModTime()

	data, err := io.ReadAll(io.LimitReader(f, maxMarkerSize+1))
	if err != nil {
		return marker, info, fmt.Errorf("failed to read lock marker: %w", err)
	}

	if pid, ok := parsePID(data); ok {
		marker.PID = pid
		marker.Valid = true
	}
	return marker, info, nil
}

// parsePID accepts a decimal integer surrounded by optional whitespace.
func parsePID(data []byte) (int, bool) {
	if len(data) > maxMarkerSize {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

// markerContent is the on-disk representation of a marker for pid.
func markerContent(pid int) []byte {
	return []byte(strconv.Itoa(pid) + "\n")
}

// createMarker creates lockPath exclusively with pid as its content. It
// returns an error satisfying errors.Is(err, fs.ErrExist) when the marker
// already exists.
//
// The content is staged in a private sibling and hard-linked into place, so
// the marker appears with its pid already written. Filesystems that refuse
// hard links fall back to O_EXCL create followed by a write.
func createMarker(lockPath string, pid int) error {
	content := markerContent(pid)

	stage, err := os.CreateTemp(filepath.Dir(lockPath), filepath.Base(lockPath)+".stage-*")
	if err != nil {
		return fmt.Errorf("failed to create lock staging file: %w", err)
	}
	stagePath := stage.Name()
	defer os.Remove(stagePath)

	if _, err := stage.Write(content); err != nil {
		stage.Close()
		return fmt.Errorf("failed to write lock staging file: %w", err)
	}
	if err := stage.Sync(); err != nil {
		stage.Close()
		return fmt.Errorf("failed to sync lock staging file: %w", err)
	}
	if err := stage.Close(); err != nil {
		return fmt.Errorf("failed to close lock staging file: %w", err)
	}

	linkErr := os.Link(stagePath, lockPath)
	if linkErr == nil {
		return nil
	}
	if errors.Is(linkErr, fs.ErrExist) {
		return linkErr
	}

	return createMarkerExclusive(lockPath, content)
}

// createMarkerExclusive is the O_EXCL fallback for createMarker. The marker is
// empty until the write lands, so creation holds the directory guard and
// reclaimers never see it half written.
func createMarkerExclusive(lockPath string, content []byte) error {
	unlock, err := guardDir(filepath.Dir(lockPath))
	if err != nil {
		return err
	}
	defer unlock()

	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return err
		}
		return fmt.Errorf("failed to create lock marker: %w", err)
	}

	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(lockPath)
		return fmt.Errorf("failed to write lock marker: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(lockPath)
		return fmt.Errorf("failed to sync lock marker: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(lockPath)
		return fmt.Errorf("failed to close lock marker: %w", err)
	}
	return nil
}

// removeStale deletes the marker at lockPath if it is still the file
// described by inspected and isStale still holds for its content. The check
// and the removal run under the directory guard, so a reclaimer that lost the
// race cannot delete the marker the winner created in the meantime. It
// reports whether a marker was removed; false with a nil error means the
// marker vanished or changed and the caller should re-evaluate.
func removeStale(lockPath string, inspected fs.FileInfo, isStale func(Marker) bool) (bool, error) {
	unlock, err := guardDir(filepath.Dir(lockPath))
	if err != nil {
		return false, err
	}
	defer unlock()

	marker, current, err := readMarker(lockPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if current == nil {
		return false, err
	}
	if inspected != nil && !os.SameFile(inspected, current) {
		return false, nil
	}
	// An unreadable or malformed marker stays stale; a valid one is checked again
	if err == nil && marker.Valid && !isStale(marker) {
		return false, nil
	}

	if err := os.Remove(lockPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to remove stale lock marker: %w", err)
	}
	return true, nil
}
