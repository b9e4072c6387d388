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
	"errors"
	"os"
	"sync"
	"time"

	skerrors "github.com/tombee/storykeep/pkg/errors"
)

// Cache memoizes decoded documents. An entry is reused only while the file's
// modification time and size are unchanged, so a rename by another process
// invalidates it on the next Load.
//
// Values returned by Load are shared between callers and must be treated as
// read-only.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	hits    int
	misses  int
}

type cacheEntry struct {
	modTime time.Time
	size    int64
	value   any
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Load returns the decoded document at path, reading it only when the cached
// copy is missing or out of date.
func (c *Cache) Load(path string) (any, error) {
	info, err := os.Stat(path)
	if err != nil {
		c.Invalidate(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, &skerrors.NotFoundError{ID: path}
		}
		return nil, &skerrors.DocumentError{Op: "stat", Path: path, Cause: err}
	}

	c.mu.Lock()
	entry, ok := c.entries[path]
	if ok && entry.modTime.Equal(info.ModTime()) && entry.size == info.Size() {
		c.hits++
		c.mu.Unlock()
		return entry.value, nil
	}
	c.misses++
	c.mu.Unlock()

	value, err := Read(path)
	if err != nil {
		c.Invalidate(path)
		return nil, err
	}

	c.mu.Lock()
	c.entries[path] = cacheEntry{modTime: info.ModTime(), size: info.Size(), value: value}
	c.mu.Unlock()
	return value, nil
}

// Invalidate drops any cached copy of path.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// Len reports the number of cached documents.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats reports cache hits and misses since creation.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
