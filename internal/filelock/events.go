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

import "time"

// EventType identifies what happened to a lock.
type EventType string

const (
	// EventAcquired is emitted when the caller created the marker.
	EventAcquired EventType = "acquired"

	// EventStaleReclaimed is emitted when a marker naming a dead or
	// unidentifiable holder was removed.
	EventStaleReclaimed EventType = "stale_reclaimed"

	// EventTimeout is emitted when a live holder outlasted the wait bound.
	EventTimeout EventType = "timeout"

	// EventReleased is emitted when a marker was removed by Release.
	EventReleased EventType = "released"
)

// Event describes a lock state change. Observers receive events synchronously
// on the goroutine that caused them and must not block.
type Event struct {
	Type     EventType
	LockPath string

	// PID is the caller's pid for acquired/released, and the recorded
	// holder for stale_reclaimed/timeout (zero if the marker was unreadable).
	PID int

	// Waited is the time spent in Acquire before the event.
	Waited time.Duration
}

// Observer receives lock events.
type Observer func(Event)
