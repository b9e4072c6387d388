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

//go:build unix

package lifecycle

import (
	"errors"

	"golang.org/x/sys/unix"
)

// probe sends signal 0, which performs the kernel's existence and permission
// checks without delivering anything.
func probe(pid int) bool {
	err := unix.Kill(pid, 0)
	switch {
	case err == nil:
		return true
	case errors.Is(err, unix.ESRCH):
		return false
	case errors.Is(err, unix.EPERM):
		// Exists, but owned by someone we may not signal.
		return true
	default:
		return true
	}
}
