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
	"strings"
	"testing"
	"time"

	skerrors "github.com/tombee/storykeep/pkg/errors"
)

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *skerrors.ValidationError
		wantMsg string
	}{
		{
			name:    "with field",
			err:     &skerrors.ValidationError{Field: "value", Message: "not valid JSON"},
			wantMsg: "validation failed on value: not valid JSON",
		},
		{
			name:    "without field",
			err:     &skerrors.ValidationError{Message: "missing path"},
			wantMsg: "validation failed: missing path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ValidationError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestNotFoundError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *skerrors.NotFoundError
		wantMsg string
	}{
		{
			name:    "document",
			err:     &skerrors.NotFoundError{Resource: "document", ID: "/data/story.json"},
			wantMsg: "document /data/story.json does not exist",
		},
		{
			name:    "bare path",
			err:     &skerrors.NotFoundError{ID: "/data/story.json"},
			wantMsg: "/data/story.json does not exist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("NotFoundError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestLockTimeoutError(t *testing.T) {
	err := &skerrors.LockTimeoutError{
		LockPath:  "/data/story.json.lock",
		HolderPID: 4242,
		Waited:    51 * time.Millisecond,
	}

	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("Error() = %q, want it to mention timeout", err.Error())
	}
	if !strings.Contains(err.Error(), "4242") {
		t.Errorf("Error() = %q, want holder pid", err.Error())
	}

	var visible skerrors.UserVisibleError = err
	if !visible.IsUserVisible() {
		t.Error("lock timeouts should be user visible")
	}
	if visible.UserMessage() != "another process is using this resource; retry later" {
		t.Errorf("UserMessage() = %q", visible.UserMessage())
	}
	if !strings.Contains(visible.Suggestion(), "4242") {
		t.Errorf("Suggestion() = %q, want holder pid", visible.Suggestion())
	}

	var classifier skerrors.ErrorClassifier = err
	if classifier.ErrorType() != "timeout" || !classifier.IsRetryable() {
		t.Errorf("classifier = (%q, %v), want (timeout, true)", classifier.ErrorType(), classifier.IsRetryable())
	}

	noHolder := &skerrors.LockTimeoutError{LockPath: "x.lock"}
	if strings.Contains(noHolder.Error(), "process") {
		t.Errorf("Error() without holder = %q", noHolder.Error())
	}
}

func TestDocumentError(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := &skerrors.DocumentError{Op: "parse", Path: "story.json", Cause: cause}

	if got, want := err.Error(), "parse story.json: unexpected end of JSON input"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("DocumentError should unwrap to its cause")
	}

	bare := &skerrors.DocumentError{Op: "rename", Path: "story.json"}
	if got, want := bare.Error(), "rename story.json failed"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestConfigError(t *testing.T) {
	cause := errors.New("yaml: line 3")
	err := &skerrors.ConfigError{Key: "lock.timeout", Reason: "must be positive", Cause: cause}

	if got, want := err.Error(), "config error at lock.timeout: must be positive"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("ConfigError should unwrap to its cause")
	}

	noKey := &skerrors.ConfigError{Reason: "unreadable"}
	if got, want := noKey.Error(), "config error: unreadable"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
