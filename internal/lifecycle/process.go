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

package lifecycle

// LivenessChecker answers whether a process currently exists.
// Implementations must not have side effects on the probed process and must
// never panic.
type LivenessChecker interface {
	Alive(pid int) bool
}

// LivenessFunc adapts a plain function to LivenessChecker.
type LivenessFunc func(pid int) bool

// Alive implements LivenessChecker.
func (f LivenessFunc) Alive(pid int) bool { return f(pid) }

// ProcessChecker probes the operating system for process existence.
// The zero value is ready to use.
type ProcessChecker struct{}

// Alive implements LivenessChecker using IsProcessRunning.
func (ProcessChecker) Alive(pid int) bool { return IsProcessRunning(pid) }

// ProcessInfo contains information about a process recorded in a lock marker.
type ProcessInfo struct {
	PID     int
	Running bool
	Command string
}

// IsProcessRunning checks if a process with the given PID exists.
//
// Zero and negative ids are never probed and report false. For valid ids the
// probe is a null signal: "no such process" reports false, while a permission
// failure or any other outcome reports true. Uncertainty resolves to alive so
// that a lock is never taken from a holder that might still be working.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	return probe(pid)
}

// GetProcessInfo returns information about the process with the given PID.
func GetProcessInfo(pid int) *ProcessInfo {
	info := &ProcessInfo{
		PID:     pid,
		Running: IsProcessRunning(pid),
	}

	if info.Running {
		cmd, err := getProcessCommand(pid)
		if err != nil {
			// Process exists but we can't read command - that's ok
			info.Command = "<unknown>"
		} else {
			info.Command = cmd
		}
	}

	return info
}
