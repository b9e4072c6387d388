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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	skerrors "github.com/tombee/storykeep/pkg/errors"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitInvalidInput = 2
	ExitNotFound     = 3
	ExitContention   = 75 // Lock held by another process (EX_TEMPFAIL from sysexits.h)
)

// ContentionMessage is shown when a command gives up waiting for a lock.
const ContentionMessage = "another process is using this resource; retry later"

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error

	// Reported is set when the command already printed the failure
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewFailureError creates an error for operations that did not complete
func NewFailureError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitFailure,
		Message: msg,
		Cause:   cause,
	}
}

// NewInvalidInputError creates an error for bad arguments or flags
func NewInvalidInputError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitInvalidInput,
		Message: msg,
		Cause:   cause,
	}
}

// NewNotFoundError creates an error for missing documents
func NewNotFoundError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitNotFound,
		Message: msg,
		Cause:   cause,
	}
}

// NewReportedError creates an error whose details the command has already
// written. HandleExitError only exits with its code.
func NewReportedError(code int, msg string) *ExitError {
	return &ExitError{
		Code:     code,
		Message:  msg,
		Reported: true,
	}
}

// NewContentionError creates an error for a lock that stayed busy. The
// message is fixed so scripts and users see the same guidance every time.
func NewContentionError(cause error) *ExitError {
	return &ExitError{
		Code:    ExitContention,
		Message: ContentionMessage,
		Cause:   cause,
	}
}

// ClassifyError wraps err in an ExitError chosen from its type. Errors that
// already carry an exit code are returned unchanged.
func ClassifyError(msg string, err error) error {
	if err == nil {
		return nil
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}

	var validationErr *skerrors.ValidationError
	var configErr *skerrors.ConfigError
	switch {
	case skerrors.IsLockTimeout(err):
		return NewContentionError(err)
	case skerrors.IsNotFound(err):
		return NewNotFoundError(msg, err)
	case errors.As(err, &validationErr), errors.As(err, &configErr):
		return NewInvalidInputError(msg, err)
	default:
		return NewFailureError(msg, err)
	}
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// PrintError writes err and any user-facing suggestion to w.
func PrintError(w io.Writer, err error) {
	if err == nil {
		return
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code == ExitContention {
		// The cause names paths and pids; keep it for verbose runs only
		fmt.Fprintln(w, "Error:", exitErr.Message)
		if GetVerbose() && exitErr.Cause != nil {
			fmt.Fprintln(w, "  cause:", exitErr.Cause)
		}
	} else {
		fmt.Fprintln(w, "Error:", err.Error())
	}

	printUserVisibleSuggestion(w, err)
}

// HandleExitError prints err and exits with its code. In JSON mode the error
// is emitted as a JSON envelope on stdout instead.
func HandleExitError(command string, err error) {
	if err == nil {
		return
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Reported {
		os.Exit(exitErr.Code)
	}

	if GetJSON() {
		_ = EmitJSONError(os.Stdout, command, []JSONError{ToJSONError(err)})
	} else {
		PrintError(os.Stderr, err)
	}

	os.Exit(ExitCode(err))
}

// printUserVisibleSuggestion checks if an error implements UserVisibleError
// and prints the suggestion if available.
func printUserVisibleSuggestion(w io.Writer, err error) {
	if suggestion := Suggestion(err); suggestion != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
	}
}

// Suggestion returns the user-facing suggestion carried by err, if any.
func Suggestion(err error) string {
	var userErr skerrors.UserVisibleError
	if errors.As(err, &userErr) && userErr.IsUserVisible() {
		return userErr.Suggestion()
	}
	var validationErr *skerrors.ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Suggestion
	}
	return ""
}
