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

import "errors"

// Error codes for structured JSON output
const (
	// Input errors (E001-E099)
	ErrorCodeInvalidInput = "E001" // Invalid argument, flag or expression
	ErrorCodeInvalidJSON  = "E002" // Value is not valid JSON

	// Contention errors (E100-E199)
	ErrorCodeLockTimeout = "E101" // Lock held by another process

	// Configuration errors (E200-E299)
	ErrorCodeInvalidConfig = "E201" // Invalid configuration

	// Resource errors (E400-E499)
	ErrorCodeNotFound        = "E401" // Document not found
	ErrorCodeInternal        = "E402" // Internal error
	ErrorCodeOperationFailed = "E403" // Operation failed
)

// mapExitErrorToCode maps ExitError codes to JSON error codes
func mapExitErrorToCode(exitErr *ExitError) string {
	if exitErr == nil {
		return ErrorCodeInternal
	}

	switch exitErr.Code {
	case ExitInvalidInput:
		return ErrorCodeInvalidInput
	case ExitNotFound:
		return ErrorCodeNotFound
	case ExitContention:
		return ErrorCodeLockTimeout
	default:
		return ErrorCodeOperationFailed
	}
}

// ToJSONError converts err into its structured JSON form.
func ToJSONError(err error) JSONError {
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		return JSONError{
			Code:       ErrorCodeInternal,
			Message:    err.Error(),
			Suggestion: Suggestion(err),
		}
	}
	message := exitErr.Error()
	if exitErr.Code == ExitContention {
		message = exitErr.Message
	}
	return JSONError{
		Code:       mapExitErrorToCode(exitErr),
		Message:    message,
		Suggestion: Suggestion(err),
	}
}
