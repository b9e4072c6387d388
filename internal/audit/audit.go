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

// Package audit appends a JSON-lines record of document mutations and lock
// events. Several storykeep processes may append to the same file; each
// event is written with a single O_APPEND write.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/storykeep/internal/filelock"
	"github.com/tombee/storykeep/internal/log"
)

// Event types recorded besides the lock events from filelock.
const (
	EventWrite       = "write"
	EventUpdate      = "update"
	EventForceUnlock = "force_release"
	EventPrune       = "prune"
)

// Event is one line of the audit log.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Path      string    `json:"path,omitempty"`
	PID       int       `json:"pid,omitempty"`
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Logger appends events to a file. A nil *Logger discards everything, so
// callers need not check whether auditing is enabled.
type Logger struct {
	logPath string
	pid     int
	logger  *slog.Logger
	mu      sync.Mutex
	now     func() time.Time
}

// NewLogger creates an audit logger writing to logPath. An empty path
// returns nil, which disables auditing.
func NewLogger(logPath string, logger *slog.Logger) *Logger {
	if logPath == "" {
		return nil
	}
	return &Logger{
		logPath: logPath,
		pid:     os.Getpid(),
		logger:  log.WithComponent(log.OrDiscard(logger), "audit"),
		now:     time.Now,
	}
}

// Path returns the audit log location.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.logPath
}

// LogWrite records a whole-document write.
func (l *Logger) LogWrite(path string, err error) error {
	message := "document written"
	if err != nil {
		message = "document write failed"
	}
	return l.record(EventWrite, path, message, err)
}

// LogUpdate records a read-modify-write. changed is false when the update
// was skipped by its guard; a non-nil err marks the update as failed either way.
func (l *Logger) LogUpdate(path string, changed bool, err error) error {
	message := "document updated"
	switch {
	case err != nil:
		message = "update failed"
	case !changed:
		message = "update skipped, condition not met"
	}
	return l.record(EventUpdate, path, message, err)
}

// LogForceRelease records a marker removed on operator request.
func (l *Logger) LogForceRelease(lockPath string, holder int, err error) error {
	return l.record(EventForceUnlock, lockPath, fmt.Sprintf("lock held by process %d removed", holder), err)
}

// LogPrune records a sweep for stale markers.
func (l *Logger) LogPrune(root string, removed int, dryRun bool, err error) error {
	message := fmt.Sprintf("%d stale lock(s) removed", removed)
	if dryRun {
		message = fmt.Sprintf("%d stale lock(s) found (dry run)", removed)
	}
	return l.record(EventPrune, root, message, err)
}

// Observer returns a filelock observer that records stale reclaims and
// timeouts. Acquire and release events are too frequent to be useful here.
func (l *Logger) Observer() filelock.Observer {
	return func(e filelock.Event) {
		if l == nil {
			return
		}
		var event Event
		switch e.Type {
		case filelock.EventStaleReclaimed:
			event = Event{
				Event:   string(e.Type),
				Path:    e.LockPath,
				PID:     e.PID,
				Success: true,
				Message: fmt.Sprintf("stale lock of process %d reclaimed", e.PID),
			}
			if e.PID == 0 {
				event.Message = "unreadable lock marker reclaimed"
			}
		case filelock.EventTimeout:
			event = Event{
				Event:   string(e.Type),
				Path:    e.LockPath,
				PID:     e.PID,
				Message: fmt.Sprintf("gave up after %v waiting for process %d", e.Waited.Round(time.Millisecond), e.PID),
			}
		default:
			return
		}
		if err := l.writeEvent(event); err != nil {
			l.logger.Warn("audit write failed", log.Error(err))
		}
	}
}

// record appends one event. A write failure is logged as a warning and
// returned.
func (l *Logger) record(name, path, message string, err error) error {
	if l == nil {
		return nil
	}
	event := Event{
		Event:   name,
		Path:    path,
		PID:     l.pid,
		Success: err == nil,
		Message: message,
	}
	if err != nil {
		event.Error = err.Error()
	}
	if err := l.writeEvent(event); err != nil {
		l.logger.Warn("audit write failed",
			log.String(log.EventKey, name),
			log.String(log.PathKey, path),
			log.Error(err))
		return err
	}
	return nil
}

// writeEvent appends an event to the log file.
func (l *Logger) writeEvent(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}

	if err := os.MkdirAll(filepath.Dir(l.logPath), 0o700); err != nil {
		return fmt.Errorf("failed to create audit log directory: %w", err)
	}

	f, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// ReadEvents loads every event from an audit log. Lines that fail to decode
// are skipped.
func ReadEvents(logPath string) ([]Event, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}
