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

// Package persist stores JSON documents so that concurrent storykeep
// processes never observe or produce a partially written file.
//
// Writer replaces a document atomically: the new content is encoded first,
// written to a temporary sibling, flushed and renamed over the target. When
// a lock manager is configured the write is guarded by the target's lock
// marker, but a held lock never blocks a plain write indefinitely; the
// writer falls back to an unguarded write once the wait expires.
//
// Coordinator builds read-modify-write on top of Writer. It only proceeds
// while holding the lock, so two updates of the same document can never
// lose each other's changes:
//
//	locks := filelock.NewManager(filelock.Options{Watch: true})
//	coord := persist.NewCoordinator(locks, persist.NewWriter(locks, logger), logger)
//	res := coord.Apply(ctx, "status.json", func(data any) (any, error) {
//		doc := data.(map[string]any)
//		doc["count"] = doc["count"].(float64) + 1
//		return doc, nil
//	})
//
// Read and Cache load documents without locking. A rename is atomic, so an
// unlocked reader sees either the old or the new content.
package persist
