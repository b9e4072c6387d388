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
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/tombee/storykeep/internal/lifecycle"
	"github.com/tombee/storykeep/internal/log"
	skerrors "github.com/tombee/storykeep/pkg/errors"
)

const tracerName = "github.com/tombee/storykeep/internal/filelock"

// Options configures a Manager. The zero value is usable.
type Options struct {
	// Checker decides whether a marker's holder is alive.
	// Default: lifecycle.ProcessChecker{}
	Checker lifecycle.LivenessChecker

	// PID is written into markers this manager creates.
	// Default: os.Getpid()
	PID int

	// InitialBackoff is the first wait after finding a live holder.
	// Default: 10ms
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between contention checks.
	// Default: 250ms
	MaxBackoff time.Duration

	// Watch wakes waiters through filesystem notifications when a marker is
	// removed. Polling continues regardless.
	Watch bool

	// Logger receives diagnostics. Default: discard.
	Logger *slog.Logger

	// Observers are notified of every lock event.
	Observers []Observer
}

// Result is the outcome of an acquisition attempt.
type Result struct {
	Acquired bool
	LockPath string
	Err      error
}

// Manager creates and removes lock markers beside target documents and
// resolves contention by retrying, reclaiming stale markers, or timing out.
// A Manager holds no per-lock state and may be shared.
type Manager struct {
	checker        lifecycle.LivenessChecker
	pid            int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	watch          bool
	logger         *slog.Logger
	observers      []Observer
	tracer         trace.Tracer
}

// NewManager creates a Manager from opts.
func NewManager(opts Options) *Manager {
	m := &Manager{
		checker:        opts.Checker,
		pid:            opts.PID,
		initialBackoff: opts.InitialBackoff,
		maxBackoff:     opts.MaxBackoff,
		watch:          opts.Watch,
		logger:         log.WithComponent(log.OrDiscard(opts.Logger), "filelock"),
		observers:      opts.Observers,
		tracer:         otel.Tracer(tracerName),
	}
	if m.checker == nil {
		m.checker = lifecycle.ProcessChecker{}
	}
	if m.pid <= 0 {
		m.pid = os.Getpid()
	}
	if m.initialBackoff <= 0 {
		m.initialBackoff = DefaultInitialBackoff
	}
	if m.maxBackoff <= 0 {
		m.maxBackoff = DefaultMaxBackoff
	}
	return m
}

// PID returns the process id this manager writes into markers.
func (m *Manager) PID() int {
	return m.pid
}

// Observe registers an additional observer.
func (m *Manager) Observe(observer Observer) {
	m.observers = append(m.observers, observer)
}

// Acquire creates <targetPath>.lock exclusively.
//
// When the marker already exists its recorded holder is checked: an
// unreadable or malformed marker, or one naming a process that no longer
// exists, is removed and creation retried at once. A live holder is waited
// out with backoff until timeout has elapsed, after which the result carries
// a *errors.LockTimeoutError. Any other filesystem fault is returned
// immediately. Acquire never panics; failures are reported in the Result.
func (m *Manager) Acquire(ctx context.Context, targetPath string, timeout time.Duration) Result {
	lockPath := LockPath(targetPath)

	ctx, span := m.tracer.Start(ctx, "filelock.Acquire", trace.WithAttributes(
		attribute.String("lock.path", lockPath),
		attribute.Int64("lock.timeout_ms", timeout.Milliseconds()),
	))
	defer span.End()

	res := m.acquire(ctx, lockPath, timeout)

	span.SetAttributes(attribute.Bool("lock.acquired", res.Acquired))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	return res
}

func (m *Manager) acquire(ctx context.Context, lockPath string, timeout time.Duration) (res Result) {
	res.LockPath = lockPath
	defer func() {
		if r := recover(); r != nil {
			res = Result{LockPath: lockPath, Err: fmt.Errorf("lock acquisition panicked: %v", r)}
		}
	}()

	logger := m.logger.With(slog.String(log.LockPathKey, lockPath))
	start := time.Now()
	deadline := start.Add(timeout)
	bo := newBackoff(m.initialBackoff, m.maxBackoff)
	// Long waits report progress at debug level once a second
	progress := rate.Sometimes{First: 1, Interval: time.Second}

	watch := m.watch
	var watcher *releaseWatcher
	defer func() { watcher.Close() }()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		err := createMarker(lockPath, m.pid)
		if err == nil {
			waited := time.Since(start)
			logger.Debug("lock acquired", slog.Int("attempts", attempt), log.Duration("wait", waited.Milliseconds()))
			m.emit(Event{Type: EventAcquired, LockPath: lockPath, PID: m.pid, Waited: waited})
			res.Acquired = true
			return res
		}
		if !errors.Is(err, fs.ErrExist) {
			logger.Warn("lock marker could not be created", log.Error(err))
			res.Err = err
			return res
		}

		marker, inspected, readErr := readMarker(lockPath)
		if readErr != nil {
			if errors.Is(readErr, fs.ErrNotExist) {
				// Released between our create and read
				continue
			}
			if _, err := m.reclaim(logger, lockPath, inspected, 0, start, readErr.Error()); err != nil {
				res.Err = err
				return res
			}
			continue
		}

		if !marker.Valid {
			if _, err := m.reclaim(logger, lockPath, inspected, 0, start, "malformed marker"); err != nil {
				res.Err = err
				return res
			}
			continue
		}

		if !m.checker.Alive(marker.PID) {
			if _, err := m.reclaim(logger, lockPath, inspected, marker.PID, start, "holder not running"); err != nil {
				res.Err = err
				return res
			}
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			waited := time.Since(start)
			logger.Info("lock wait timed out",
				log.Int(log.PIDKey, marker.PID),
				log.Duration("wait", waited.Milliseconds()))
			m.emit(Event{Type: EventTimeout, LockPath: lockPath, PID: marker.PID, Waited: waited})
			res.Err = &skerrors.LockTimeoutError{
				LockPath:  lockPath,
				HolderPID: marker.PID,
				Waited:    waited,
			}
			return res
		}

		if watch && watcher == nil {
			w, err := watchRelease(lockPath)
			if err != nil {
				logger.Debug("release watcher unavailable, polling only", log.Error(err))
				watch = false
			} else {
				watcher = w
			}
		}

		progress.Do(func() {
			logger.Debug("waiting for lock held by live process",
				log.Int(log.PIDKey, marker.PID),
				log.Duration("waited", time.Since(start).Milliseconds()),
				log.Duration("remaining", remaining.Milliseconds()))
		})

		wait := clip(bo.Next(), remaining)
		log.Trace(logger, "lock held by live process, waiting",
			log.Int(log.PIDKey, marker.PID),
			log.Duration("backoff", wait.Milliseconds()))

		if err := sleep(ctx, wait, watcher.Released()); err != nil {
			res.Err = err
			return res
		}
	}
}

// reclaim removes a stale marker and reports it. It returns false when the
// marker changed since it was inspected and was left in place.
func (m *Manager) reclaim(logger *slog.Logger, lockPath string, inspected fs.FileInfo, holder int, start time.Time, reason string) (bool, error) {
	removed, err := removeStale(lockPath, inspected, m.stale)
	if err != nil {
		logger.Warn("stale lock marker could not be removed", log.Error(err))
		return false, err
	}
	if !removed {
		log.Trace(logger, "lock marker changed before reclaim, re-evaluating")
		return false, nil
	}
	logger.Debug("stale lock reclaimed", log.Int(log.PIDKey, holder), log.String("reason", reason))
	m.emit(Event{Type: EventStaleReclaimed, LockPath: lockPath, PID: holder, Waited: time.Since(start)})
	return true, nil
}

func (m *Manager) stale(marker Marker) bool {
	return !m.checker.Alive(marker.PID)
}

// Release removes lockPath. A missing marker is not an error. Release never
// panics and never returns an error value, because it runs on cleanup paths
// where a failure must not mask the caller's original outcome; it reports
// false when the marker could not be removed.
//
// Release does not check who holds the marker. Only call it with a path
// returned by a successful Acquire, or to clear a marker known to be stale.
func (m *Manager) Release(lockPath string) (released bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("lock release panicked", slog.String(log.LockPathKey, lockPath), slog.Any("panic", r))
			released = false
		}
	}()

	if _, err := os.Lstat(lockPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true
		}
		m.logger.Warn("lock marker could not be inspected", slog.String(log.LockPathKey, lockPath), log.Error(err))
		return false
	}

	if err := os.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.Warn("lock marker could not be removed", slog.String(log.LockPathKey, lockPath), log.Error(err))
		return false
	}

	m.logger.Debug("lock released", slog.String(log.LockPathKey, lockPath))
	m.emit(Event{Type: EventReleased, LockPath: lockPath, PID: m.pid})
	return true
}

// WithLock runs fn while holding the lock for targetPath. The lock is
// released on every exit path, including a panic in fn.
func (m *Manager) WithLock(ctx context.Context, targetPath string, timeout time.Duration, fn func() error) error {
	res := m.Acquire(ctx, targetPath, timeout)
	if !res.Acquired {
		return res.Err
	}
	defer m.Release(res.LockPath)

	return fn()
}

// Inspect reads the marker guarding targetPath without modifying it.
// It returns an error satisfying errors.Is(err, fs.ErrNotExist) when the
// target is not locked.
func (m *Manager) Inspect(targetPath string) (Marker, error) {
	marker, _, err := readMarker(LockPath(targetPath))
	return marker, err
}

// Alive reports whether the holder recorded in marker is still running.
func (m *Manager) Alive(marker Marker) bool {
	return marker.Valid && m.checker.Alive(marker.PID)
}

func (m *Manager) emit(event Event) {
	for _, observer := range m.observers {
		observer(event)
	}
}

// sleep waits for d, an early wake-up on wake, or cancellation.
func sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	case <-wake:
		return nil
	}
}
