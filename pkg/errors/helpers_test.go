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

package errors_test

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	skerrors "github.com/tombee/storykeep/pkg/errors"
)

func TestWrap(t *testing.T) {
	t.Run("wraps error with context", func(t *testing.T) {
		original := errors.New("original error")
		wrapped := skerrors.Wrap(original, "additional context")

		if wrapped == nil {
			t.Fatal("Wrap should not return nil for non-nil error")
		}

		msg := wrapped.Error()
		if !strings.Contains(msg, "additional context") {
			t.Errorf("wrapped error should contain context, got: %s", msg)
		}
		if !strings.Contains(msg, "original error") {
			t.Errorf("wrapped error should contain original message, got: %s", msg)
		}
	})

	t.Run("returns nil for nil error", func(t *testing.T) {
		if wrapped := skerrors.Wrap(nil, "context"); wrapped != nil {
			t.Errorf("Wrap(nil, _) should return nil, got: %v", wrapped)
		}
	})

	t.Run("preserves error chain", func(t *testing.T) {
		wrapped := skerrors.Wrap(os.ErrNotExist, "context")

		if !errors.Is(wrapped, os.ErrNotExist) {
			t.Error("wrapped error should match original with errors.Is")
		}
	})
}

func TestWrapf(t *testing.T) {
	original := errors.New("permission denied")
	wrapped := skerrors.Wrapf(original, "creating directory %s", "/var/lib/stories")

	msg := wrapped.Error()
	if !strings.Contains(msg, "creating directory /var/lib/stories") {
		t.Errorf("wrapped error should contain formatted context, got: %s", msg)
	}
	if !skerrors.Is(wrapped, original) {
		t.Error("Wrapf should preserve the chain")
	}
	if skerrors.Wrapf(nil, "x %d", 1) != nil {
		t.Error("Wrapf(nil, ...) should return nil")
	}
}

func TestIsLockTimeout(t *testing.T) {
	lockErr := &skerrors.LockTimeoutError{LockPath: "/tmp/a.json.lock"}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct", lockErr, true},
		{"wrapped", fmt.Errorf("update failed: %w", lockErr), true},
		{"other", errors.New("timeout"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := skerrors.IsLockTimeout(tt.err); got != tt.want {
				t.Errorf("IsLockTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	err := skerrors.Wrap(&skerrors.NotFoundError{Resource: "document", ID: "a.json"}, "update")
	if !skerrors.IsNotFound(err) {
		t.Error("IsNotFound() should see through wrapping")
	}
	if skerrors.IsNotFound(os.ErrNotExist) {
		t.Error("IsNotFound() should not match os.ErrNotExist")
	}
}

func TestIsRetryable(t *testing.T) {
	if !skerrors.IsRetryable(&skerrors.LockTimeoutError{}) {
		t.Error("lock timeouts should be retryable")
	}
	if skerrors.IsRetryable(&skerrors.DocumentError{Op: "parse", Path: "a.json"}) {
		t.Error("document faults should not be retryable")
	}
	if skerrors.IsRetryable(errors.New("plain")) {
		t.Error("unclassified errors should not be retryable")
	}
}
