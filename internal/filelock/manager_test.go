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
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/storykeep/internal/lifecycle"
	"github.com/tombee/storykeep/internal/log"
	skerrors "github.com/tombee/storykeep/pkg/errors"
)

// deadPID returns the id of a child process that has already been reaped.
func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("sh", "-c", "exit 0")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	_ = cmd.Wait()
	return pid
}

func writeMarker(t *testing.T, lockPath, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(lockPath, []byte(content), 0o644))
}

func readMarkerPID(t *testing.T, lockPath string) int {
	t.Helper()
	data, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	require.Equal(t, byte('\n'), data[len(data)-1], "marker must end with a newline")
	pid, err := strconv.Atoi(string(data[:len(data)-1]))
	require.NoError(t, err)
	return pid
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func TestAcquire_CreatesMarker(t *testing.T) {
	target := filepath.Join(t.TempDir(), "story.json")
	m := NewManager(Options{})

	res := m.Acquire(context.Background(), target, time.Second)

	require.True(t, res.Acquired, "acquire failed: %v", res.Err)
	assert.NoError(t, res.Err)
	assert.Equal(t, target+".lock", res.LockPath)
	assert.Equal(t, os.Getpid(), readMarkerPID(t, res.LockPath))

	// No staging files left behind
	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAcquire_MutualExclusion(t *testing.T) {
	target := filepath.Join(t.TempDir(), "story.json")
	first := NewManager(Options{})
	second := NewManager(Options{})

	held := first.Acquire(context.Background(), target, time.Second)
	require.True(t, held.Acquired)

	blocked := second.Acquire(context.Background(), target, 30*time.Millisecond)
	assert.False(t, blocked.Acquired)
	assert.True(t, skerrors.IsLockTimeout(blocked.Err))

	require.True(t, first.Release(held.LockPath))

	retry := second.Acquire(context.Background(), target, 30*time.Millisecond)
	assert.True(t, retry.Acquired, "acquire after release failed: %v", retry.Err)
}

func TestAcquire_ReclaimsDeadHolder(t *testing.T) {
	target := filepath.Join(t.TempDir(), "story.json")
	lockPath := LockPath(target)
	dead := deadPID(t)
	writeMarker(t, lockPath, strconv.Itoa(dead)+"\n")

	rec := &recorder{}
	m := NewManager(Options{Observers: []Observer{rec.observe}})

	start := time.Now()
	res := m.Acquire(context.Background(), target, 100*time.Millisecond)
	elapsed := time.Since(start)

	require.True(t, res.Acquired, "acquire failed: %v", res.Err)
	assert.Less(t, elapsed, 100*time.Millisecond)
	assert.Equal(t, os.Getpid(), readMarkerPID(t, lockPath))
	assert.Equal(t, []EventType{EventStaleReclaimed, EventAcquired}, rec.types())
	assert.Equal(t, dead, rec.events[0].PID)
}

func TestAcquire_ReclaimsMalformedMarker(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"garbage", "not-a-pid\n"},
		{"negative", "-5\n"},
		{"zero", "0\n"},
		{"oversized", string(make([]byte, 4096))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := filepath.Join(t.TempDir(), "story.json")
			writeMarker(t, LockPath(target), tt.content)

			m := NewManager(Options{})
			res := m.Acquire(context.Background(), target, 50*time.Millisecond)

			require.True(t, res.Acquired, "acquire failed: %v", res.Err)
			assert.Equal(t, os.Getpid(), readMarkerPID(t, res.LockPath))
		})
	}
}

func TestAcquire_ConcurrentReclaimElectsOneHolder(t *testing.T) {
	const (
		contenders = 16
		rounds     = 100
		deadHolder = 999999
	)
	target := filepath.Join(t.TempDir(), "story.json")
	lockPath := LockPath(target)
	checker := lifecycle.LivenessFunc(func(pid int) bool { return pid != deadHolder })

	managers := make([]*Manager, contenders)
	for i := range managers {
		managers[i] = NewManager(Options{PID: 1000 + i, Checker: checker})
	}

	for round := 0; round < rounds; round++ {
		writeMarker(t, lockPath, strconv.Itoa(deadHolder)+"\n")

		results := make([]Result, contenders)
		var wg sync.WaitGroup
		for i, m := range managers {
			wg.Add(1)
			go func(i int, m *Manager) {
				defer wg.Done()
				results[i] = m.Acquire(context.Background(), target, 0)
			}(i, m)
		}
		wg.Wait()

		var holders []int
		for i, res := range results {
			if res.Acquired {
				holders = append(holders, managers[i].PID())
			} else {
				require.True(t, skerrors.IsLockTimeout(res.Err), "round %d: unexpected error: %v", round, res.Err)
			}
		}
		require.Len(t, holders, 1, "round %d: holders %v", round, holders)
		assert.Equal(t, holders[0], readMarkerPID(t, lockPath))
		require.NoError(t, os.Remove(lockPath))
	}
}

func TestAcquire_TimesOutOnLiveHolder(t *testing.T) {
	target := filepath.Join(t.TempDir(), "story.json")
	lockPath := LockPath(target)
	writeMarker(t, lockPath, strconv.Itoa(os.Getpid())+"\n")

	rec := &recorder{}
	m := NewManager(Options{Observers: []Observer{rec.observe}})

	start := time.Now()
	res := m.Acquire(context.Background(), target, 50*time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, res.Acquired)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "timeout")
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)

	var lockErr *skerrors.LockTimeoutError
	require.True(t, errors.As(res.Err, &lockErr))
	assert.Equal(t, os.Getpid(), lockErr.HolderPID)
	assert.Equal(t, lockPath, lockErr.LockPath)

	// The live holder's marker is untouched
	assert.Equal(t, os.Getpid(), readMarkerPID(t, lockPath))
	assert.Equal(t, []EventType{EventTimeout}, rec.types())
}

func TestAcquire_ThrottlesWaitLogging(t *testing.T) {
	target := filepath.Join(t.TempDir(), "story.json")
	writeMarker(t, LockPath(target), strconv.Itoa(os.Getpid())+"\n")

	var buf bytes.Buffer
	logger := log.New(&log.Config{Level: "debug", Format: log.FormatJSON, Output: &buf})
	m := NewManager(Options{Logger: logger, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})

	res := m.Acquire(context.Background(), target, 200*time.Millisecond)
	require.False(t, res.Acquired)

	// Dozens of retries within a second produce a single progress line
	assert.Equal(t, 1, strings.Count(buf.String(), "waiting for lock held by live process"))
}

func TestAcquire_ZeroTimeoutTriesOnce(t *testing.T) {
	target := filepath.Join(t.TempDir(), "story.json")
	writeMarker(t, LockPath(target), strconv.Itoa(os.Getpid())+"\n")

	calls := 0
	m := NewManager(Options{Checker: lifecycle.LivenessFunc(func(pid int) bool {
		calls++
		return true
	})})

	res := m.Acquire(context.Background(), target, 0)

	assert.False(t, res.Acquired)
	assert.True(t, skerrors.IsLockTimeout(res.Err))
	assert.Equal(t, 1, calls)
}

func TestAcquire_UsesInjectedChecker(t *testing.T) {
	target := filepath.Join(t.TempDir(), "story.json")
	writeMarker(t, LockPath(target), "4242\n")

	var probed []int
	m := NewManager(Options{
		PID: 777,
		Checker: lifecycle.LivenessFunc(func(pid int) bool {
			probed = append(probed, pid)
			return false
		}),
	})

	res := m.Acquire(context.Background(), target, 50*time.Millisecond)

	require.True(t, res.Acquired)
	assert.Equal(t, []int{4242}, probed)
	assert.Equal(t, 777, readMarkerPID(t, res.LockPath))
	assert.Equal(t, 777, m.PID())
}

func TestAcquire_FilesystemFaultIsImmediate(t *testing.T) {
	target := filepath.Join(t.TempDir(), "missing", "story.json")
	m := NewManager(Options{})

	start := time.Now()
	res := m.Acquire(context.Background(), target, 5*time.Second)

	assert.False(t, res.Acquired)
	require.Error(t, res.Err)
	assert.False(t, skerrors.IsLockTimeout(res.Err))
	assert.True(t, errors.Is(res.Err, fs.ErrNotExist))
	assert.Less(t, time.Since(start), time.Second)
}

func TestAcquire_ContextCanceled(t *testing.T) {
	target := filepath.Join(t.TempDir(), "story.json")
	writeMarker(t, LockPath(target), strconv.Itoa(os.Getpid())+"\n")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	m := NewManager(Options{})
	start := time.Now()
	res := m.Acquire(ctx, target, 5*time.Second)

	assert.False(t, res.Acquired)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAcquire_WatchWakesWaiterOnRelease(t *testing.T) {
	target := filepath.Join(t.TempDir(), "story.json")
	holder := NewManager(Options{})
	held := holder.Acquire(context.Background(), target, time.Second)
	require.True(t, held.Acquired)

	// Long backoff: without the watcher the waiter would sleep for seconds
	waiter := NewManager(Options{
		Watch:          true,
		InitialBackoff: 3 * time.Second,
		MaxBackoff:     3 * time.Second,
	})

	go func() {
		time.Sleep(50 * time.Millisecond)
		holder.Release(held.LockPath)
	}()

	start := time.Now()
	res := waiter.Acquire(context.Background(), target, 10*time.Second)

	require.True(t, res.Acquired, "acquire failed: %v", res.Err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRelease(t *testing.T) {
	t.Run("absent marker is a no-op", func(t *testing.T) {
		lockPath := filepath.Join(t.TempDir(), "story.json.lock")
		m := NewManager(Options{})

		assert.True(t, m.Release(lockPath))
		assert.True(t, m.Release(lockPath))
		_, err := os.Stat(lockPath)
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})

	t.Run("removes held marker", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "story.json")
		rec := &recorder{}
		m := NewManager(Options{Observers: []Observer{rec.observe}})

		res := m.Acquire(context.Background(), target, time.Second)
		require.True(t, res.Acquired)

		assert.True(t, m.Release(res.LockPath))
		_, err := os.Stat(res.LockPath)
		assert.True(t, errors.Is(err, fs.ErrNotExist))
		assert.Equal(t, []EventType{EventAcquired, EventReleased}, rec.types())
	})

	t.Run("fault is reported as false", func(t *testing.T) {
		dir := t.TempDir()
		file := filepath.Join(dir, "plain")
		require.NoError(t, os.WriteFile(file, nil, 0o644))

		m := NewManager(Options{})
		// A path below a regular file cannot be inspected
		assert.False(t, m.Release(filepath.Join(file, "story.json.lock")))
	})
}

func TestWithLock(t *testing.T) {
	target := filepath.Join(t.TempDir(), "story.json")
	m := NewManager(Options{})

	t.Run("releases after fn error", func(t *testing.T) {
		boom := errors.New("boom")
		err := m.WithLock(context.Background(), target, time.Second, func() error {
			_, statErr := os.Stat(LockPath(target))
			assert.NoError(t, statErr, "marker should exist while fn runs")
			return boom
		})
		assert.ErrorIs(t, err, boom)
		_, statErr := os.Stat(LockPath(target))
		assert.True(t, errors.Is(statErr, fs.ErrNotExist))
	})

	t.Run("releases after panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = m.WithLock(context.Background(), target, time.Second, func() error {
				panic("transform exploded")
			})
		})
		_, statErr := os.Stat(LockPath(target))
		assert.True(t, errors.Is(statErr, fs.ErrNotExist))
	})

	t.Run("returns acquisition error", func(t *testing.T) {
		writeMarker(t, LockPath(target), strconv.Itoa(os.Getpid())+"\n")
		defer os.Remove(LockPath(target))

		called := false
		err := m.WithLock(context.Background(), target, 10*time.Millisecond, func() error {
			called = true
			return nil
		})
		assert.True(t, skerrors.IsLockTimeout(err))
		assert.False(t, called)
	})
}

func TestInspect(t *testing.T) {
	target := filepath.Join(t.TempDir(), "story.json")
	m := NewManager(Options{})

	_, err := m.Inspect(target)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	res := m.Acquire(context.Background(), target, time.Second)
	require.True(t, res.Acquired)

	marker, err := m.Inspect(target)
	require.NoError(t, err)
	assert.True(t, marker.Valid)
	assert.Equal(t, os.Getpid(), marker.PID)
	assert.Equal(t, target, marker.Target())
	assert.False(t, marker.ModTime.IsZero())
	assert.True(t, m.Alive(marker))

	writeMarker(t, res.LockPath, "junk")
	marker, err = m.Inspect(target)
	require.NoError(t, err)
	assert.False(t, marker.Valid)
	assert.False(t, m.Alive(marker))
}
