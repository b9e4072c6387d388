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
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// releaseWatcher wakes a contended Acquire as soon as the marker it waits on
// is removed or renamed, instead of sleeping out the full backoff interval.
// The timer in Acquire stays authoritative; the watcher only shortens waits.
type releaseWatcher struct {
	watcher  *fsnotify.Watcher
	lockPath string
	events   chan struct{}
	stop     chan struct{}
	once     sync.Once
}

// watchRelease starts watching the directory containing lockPath.
func watchRelease(lockPath string) (*releaseWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(lockPath)); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &releaseWatcher{
		watcher:  watcher,
		lockPath: filepath.Clean(lockPath),
		events:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Released signals (coalesced) after the marker disappears. The channel is
// never closed.
func (w *releaseWatcher) Released() <-chan struct{} {
	if w == nil {
		return nil
	}
	return w.events
}

// Close stops the watcher. Safe on a nil receiver and when called twice.
func (w *releaseWatcher) Close() error {
	if w == nil {
		return nil
	}
	w.once.Do(func() {
		close(w.stop)
		w.watcher.Close()
	})
	return nil
}

func (w *releaseWatcher) run() {
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.lockPath {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.signal()
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Missed events are possible after an error; let the waiter re-check.
			w.signal()
		}
	}
}

func (w *releaseWatcher) signal() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}
