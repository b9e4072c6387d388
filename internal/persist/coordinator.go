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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/storykeep/internal/filelock"
	"github.com/tombee/storykeep/internal/log"
	skerrors "github.com/tombee/storykeep/pkg/errors"
)

// ErrSkip may be returned by a TransformFunc to leave the document untouched.
// Apply then reports success with the unchanged data.
var ErrSkip = errors.New("transform skipped")

// TransformFunc computes a document's new content from its current content.
// data is the decoded JSON (map[string]any, []any, string, float64, bool or nil).
type TransformFunc func(data any) (any, error)

// Result is the outcome of Coordinator.Apply. Data holds the new document on
// success and the last good content otherwise, when it could be read.
type Result struct {
	Success bool
	Data    any
	Err     error
}

// ApplyOption customizes a single Apply call.
type ApplyOption func(*applyOptions)

type applyOptions struct {
	lockTimeout time.Duration
}

// WithLockTimeout bounds how long Apply waits for the document's lock.
func WithLockTimeout(timeout time.Duration) ApplyOption {
	return func(o *applyOptions) { o.lockTimeout = timeout }
}

// Coordinator runs lock-guarded read-modify-write cycles on existing documents.
type Coordinator struct {
	locks       *filelock.Manager
	writer      *Writer
	lockTimeout time.Duration
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewCoordinator creates a Coordinator. The writer should share locks with the
// coordinator; Apply always writes with WithForce since it already holds the
// lock.
func NewCoordinator(locks *filelock.Manager, writer *Writer, logger *slog.Logger) *Coordinator {
	if writer == nil {
		writer = NewWriter(locks, logger)
	}
	return &Coordinator{
		locks:       locks,
		writer:      writer,
		lockTimeout: DefaultLockTimeout,
		logger:      log.WithComponent(log.OrDiscard(logger), "coordinator"),
		tracer:      otel.Tracer(tracerName),
	}
}

// WithDefaultLockTimeout sets the lock wait used when Apply gets no
// WithLockTimeout option.
func (c *Coordinator) WithDefaultLockTimeout(timeout time.Duration) *Coordinator {
	c.lockTimeout = timeout
	return c
}

// Apply locks targetPath, reads and decodes it, passes the content to fn and
// atomically writes the value fn returns.
//
// Apply never creates a document: a missing target yields a NotFoundError.
// When the lock cannot be obtained Apply fails open, returning the current
// content alongside the acquisition error so callers can still make a
// read-only decision. The lock is released on every path and Apply never
// panics.
func (c *Coordinator) Apply(ctx context.Context, targetPath string, fn TransformFunc, opts ...ApplyOption) (res Result) {
	o := applyOptions{lockTimeout: c.lockTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := c.tracer.Start(ctx, "persist.Apply", trace.WithAttributes(
		attribute.String("document.path", targetPath),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("update %s panicked: %v", targetPath, r)}
		}
		span.SetAttributes(attribute.Bool("document.updated", res.Success))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
	}()

	logger := log.WithPath(c.logger, targetPath)

	if _, err := os.Stat(targetPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{Err: &skerrors.NotFoundError{ID: targetPath}}
		}
		return Result{Err: &skerrors.DocumentError{Op: "stat", Path: targetPath, Cause: err}}
	}

	lock := c.locks.Acquire(ctx, targetPath, o.lockTimeout)
	if !lock.Acquired {
		logger.Warn("update skipped, lock unavailable", log.Error(lock.Err))
		current, err := Read(targetPath)
		if err != nil {
			return Result{Err: errors.Join(lock.Err, err)}
		}
		return Result{Data: current, Err: lock.Err}
	}
	defer func() {
		if !c.locks.Release(lock.LockPath) {
			logger.Warn("lock marker left behind", slog.String(log.LockPathKey, lock.LockPath))
		}
	}()

	current, err := Read(targetPath)
	if err != nil {
		return Result{Err: err}
	}

	next, err := transform(fn, current)
	if errors.Is(err, ErrSkip) {
		logger.Debug("transform skipped update")
		return Result{Success: true, Data: current}
	}
	if err != nil {
		return Result{
			Data: current,
			Err:  &skerrors.DocumentError{Op: "transform", Path: targetPath, Cause: err},
		}
	}

	written := c.writer.Write(ctx, targetPath, next, WithForce())
	if !written.Success {
		return Result{Data: current, Err: written.Err}
	}

	logger.Debug("document updated")
	return Result{Success: true, Data: next}
}

// transform calls fn, converting a panic into an error.
func transform(fn TransformFunc, current any) (next any, err error) {
	if fn == nil {
		return nil, errors.New("no transform given")
	}
	defer func() {
		if r := recover(); r != nil {
			next, err = nil, fmt.Errorf("transform panicked: %v", r)
		}
	}()
	return fn(current)
}

// Read loads and decodes the JSON document at path. Numbers decode as float64.
func Read(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &skerrors.NotFoundError{ID: path}
		}
		return nil, &skerrors.DocumentError{Op: "read", Path: path, Cause: err}
	}
	return decode(path, data)
}

func decode(path string, data []byte) (any, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, &skerrors.DocumentError{Op: "parse", Path: path, Cause: err}
	}
	return value, nil
}
