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

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid user input, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested document, lock, or file does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "document", "lock")
	Resource string

	// ID is the identifier that was not found, usually a path
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s does not exist", e.ID)
	}
	return fmt.Sprintf("%s %s does not exist", e.Resource, e.ID)
}

// LockTimeoutError is returned when a lock held by a live process is not
// released within the wait bound. It is an expected, transient condition.
type LockTimeoutError struct {
	// LockPath is the marker file that could not be created
	LockPath string

	// HolderPID is the process recorded in the marker at the last attempt
	HolderPID int

	// Waited is how long the caller waited before giving up
	Waited time.Duration
}

// Error implements the error interface.
func (e *LockTimeoutError) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("lock timeout after %v: %s is held by process %d", e.Waited.Round(time.Millisecond), e.LockPath, e.HolderPID)
	}
	return fmt.Sprintf("lock timeout after %v: %s", e.Waited.Round(time.Millisecond), e.LockPath)
}

// IsUserVisible implements UserVisibleError.
func (e *LockTimeoutError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *LockTimeoutError) UserMessage() string {
	return "another process is using this resource; retry later"
}

// Suggestion implements UserVisibleError.
func (e *LockTimeoutError) Suggestion() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("Another process (pid %d) is using this resource; retry later, or inspect it with 'storykeep lock status'", e.HolderPID)
	}
	return "Another process is using this resource; retry later"
}

// ErrorType implements ErrorClassifier.
func (e *LockTimeoutError) ErrorType() string { return "timeout" }

// IsRetryable implements ErrorClassifier.
func (e *LockTimeoutError) IsRetryable() bool { return true }

// DocumentError represents a failure reading, decoding, transforming or
// persisting a JSON document.
type DocumentError struct {
	// Op is the failed step: read, parse, encode, write, rename, transform
	Op string

	// Path is the document path
	Path string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *DocumentError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s %s failed", e.Op, e.Path)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DocumentError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *DocumentError) ErrorType() string { return "document" }

// IsRetryable implements ErrorClassifier.
func (e *DocumentError) IsRetryable() bool { return false }

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "lock.timeout")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
