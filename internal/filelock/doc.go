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

/*
Package filelock implements an advisory, cross-process lock on a file path.

A lock on target is the marker file target+".lock" containing the decimal
process id of its holder and a newline. Creating the marker is exclusive;
whoever creates it holds the lock until Release removes it.

	m := filelock.NewManager(filelock.Options{})
	res := m.Acquire(ctx, "/data/story.json", 5*time.Second)
	if !res.Acquired {
	    return res.Err
	}
	defer m.Release(res.LockPath)

# Contention

When the marker exists, Acquire reads the recorded pid. A marker that cannot
be read or parsed, or that names a process which no longer exists, is stale
and is removed immediately. A live holder is polled with exponential backoff
until the timeout elapses; the result then carries an
*errors.LockTimeoutError. There is no queueing and no lease: a hung holder
keeps its lock, and contenders time out.

# Maintenance

Inspect reports the current holder of a target and Prune sweeps a directory
tree for stale markers left by crashed processes.
*/
package filelock
