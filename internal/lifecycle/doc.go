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
Package lifecycle answers questions about other processes.

Lock markers record the id of the process that created them. When a marker
is found during contention, the lock manager asks a LivenessChecker whether
that process still exists; a marker naming a dead process is stale and may be
reclaimed.

# Liveness

IsProcessRunning probes with a null signal and never affects the target:

	if !lifecycle.IsProcessRunning(pid) {
	    // marker is stale
	}

A probe that fails with a permission error still proves the process exists,
and any other unexpected outcome is treated as alive. Callers inject a
LivenessChecker so tests can simulate dead or foreign holders:

	checker := lifecycle.LivenessFunc(func(pid int) bool { return pid == os.Getpid() })

# Process Information

GetProcessInfo adds the command line of a live holder for diagnostics:

	info := lifecycle.GetProcessInfo(pid)
	fmt.Println(info.Running, info.Command)
*/
package lifecycle
