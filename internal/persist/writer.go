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

package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/storykeep/internal/filelock"
	"github.com/tombee/storykeep/internal/log"
	skerrors "github.com/tombee/storykeep/pkg/errors"
)

const tracerName = "github.com/tombee/storykeep/internal/persist"

// DefaultLockTimeout bounds how long a write or update waits for a lock.
const DefaultLockTimeout = 5 * time.Second

// WriteResult is the outcome of Writer.Write.
type WriteResult struct {
	Success bool
	Err     error
}

// WriteOption customizes a single write.
type WriteOption func(*writeOptions)

type writeOptions struct {
	force bool
}

// WithForce skips lock acquisition. Use it when the caller already holds the
// target's lock.
func WithForce() WriteOption {
	return func(o *writeOptions) { o.force = true }
}

// Writer persists JSON documents by writing a temporary sibling and renaming
// it over the target, so readers only ever see a complete document.
type Writer struct {
	locks       *filelock.Manager
	lockTimeout time.Duration
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewWriter creates a Writer. locks may be nil, in which case every write is
// unguarded.
func NewWriter(locks *filelock.Manager, logger *slog.Logger) *Writer {
	return &Writer{
		locks:       locks,
		lockTimeout: DefaultLockTimeout,
		logger:      log.WithComponent(log.OrDiscard(logger), "persist"),
		tracer:      otel.Tracer(tracerName),
	}
}

// WithLockTimeout sets how long Write waits for the target's lock.
func (w *Writer) WithLockTimeout(timeout time.Duration) *Writer {
	w.lockTimeout = timeout
	return w
}

// Write serializes value and atomically replaces targetPath with it, creating
// parent directories as needed.
//
// Unless WithForce is given, Write first tries to lock the target. If the
// wait for a live holder times out the write proceeds unguarded: a plain
// write only replaces the document, and callers that need the previous
// content to stay valid across the update use Coordinator.Apply. Any other
// acquisition failure, including cancellation of ctx, fails the write. Any lock Write acquired is
// released before it returns. Write never panics.
func (w *Writer) Write(ctx context.Context, targetPath string, value any, opts ...WriteOption) (res WriteResult) {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := w.tracer.Start(ctx, "persist.Write", trace.WithAttributes(
		attribute.String("document.path", targetPath),
		attribute.Bool("document.force", o.force),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			res = WriteResult{Err: fmt.Errorf("write %s panicked: %v", targetPath, r)}
		}
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
	}()

	logger := log.WithPath(w.logger, targetPath)

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return WriteResult{Err: &skerrors.DocumentError{Op: "mkdir", Path: targetPath, Cause: err}}
	}

	data, err := Encode(value)
	if err != nil {
		return WriteResult{Err: &skerrors.DocumentError{Op: "encode", Path: targetPath, Cause: err}}
	}

	if !o.force && w.locks != nil {
		lock := w.locks.Acquire(ctx, targetPath, w.lockTimeout)
		switch {
		case lock.Acquired:
			defer w.release(logger, lock.LockPath)
		case skerrors.IsLockTimeout(lock.Err):
			logger.Warn("writing without lock", log.Error(lock.Err))
		default:
			logger.Warn("document not written, lock unavailable", log.Error(lock.Err))
			return WriteResult{Err: fmt.Errorf("failed to lock %s: %w", targetPath, lock.Err)}
		}
	}

	if err := writeAtomic(targetPath, data); err != nil {
		logger.Warn("document write failed", log.Error(err))
		return WriteResult{Err: err}
	}

	logger.Debug("document written", slog.Int("bytes", len(data)))
	return WriteResult{Success: true}
}

func (w *Writer) release(logger *slog.Logger, lockPath string) {
	if !w.locks.Release(lockPath) {
		logger.Warn("lock marker left behind", slog.String(log.LockPathKey, lockPath))
	}
}

// Encode renders value as two-space indented JSON with a trailing newline.
// HTML characters are not escaped.
func Encode(value any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeAtomic writes data to a temporary sibling of targetPath and renames it
// into place. The temporary file is removed on every failure path.
func writeAtomic(targetPath string, data []byte) error {
	dir := filepath.Dir(targetPath)

	perm := os.FileMode(0o644)
	if info, err := os.Stat(targetPath); err == nil && info.Mode().IsRegular() {
		perm = info.Mode().Perm()
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(targetPath)+".tmp-*")
	if err != nil {
		return &skerrors.DocumentError{Op: "write", Path: targetPath, Cause: err}
	}
	tmpPath := tmpFile.Name()

	committed := false
	defer func() {
		if !committed {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return &skerrors.DocumentError{Op: "write", Path: targetPath, Cause: err}
	}
	if err := tmpFile.Chmod(perm); err != nil {
		return &skerrors.DocumentError{Op: "write", Path: targetPath, Cause: err}
	}
	if err := tmpFile.Sync(); err != nil {
		return &skerrors.DocumentError{Op: "write", Path: targetPath, Cause: err}
	}
	if err := tmpFile.Close(); err != nil {
		return &skerrors.DocumentError{Op: "write", Path: targetPath, Cause: err}
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		return &skerrors.DocumentError{Op: "rename", Path: targetPath, Cause: err}
	}
	committed = true

	syncDir(dir)
	return nil
}

// syncDir makes a completed rename durable. Best effort: not every platform
// can fsync a directory.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
