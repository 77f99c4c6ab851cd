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

// UserVisibleError defines errors that should be displayed to end users
// with user-friendly messages and actionable suggestions.
//
// Domain-specific errors should implement this interface to integrate
// with CLI error formatting.
type UserVisibleError interface {
	error

	// IsUserVisible returns true if this error should be shown to users.
	// Internal errors or debugging details should return false.
	IsUserVisible() bool

	// UserMessage returns a user-friendly error message.
	// This should avoid technical jargon and implementation details.
	UserMessage() string

	// Suggestion returns actionable guidance for resolving the error.
	// Returns empty string if no suggestion is available.
	Suggestion() string
}

// ErrorClassifier defines methods for programmatic error handling.
// Errors that implement this interface can be classified by type for
// logging, metrics, or specific handling paths.
type ErrorClassifier interface {
	error

	// ErrorType returns a string identifying the error category.
	// Examples: "validation", "not_found", "mechanism", "unmount"
	ErrorType() string

	// IsExpected returns true for failures the caller is designed to
	// absorb and continue past (a busy unmount, a mechanism falling
	// through to the next in the chain). False marks a defect.
	IsExpected() bool
}

// ErrorType implements ErrorClassifier.
func (e *MechanismError) ErrorType() string { return "mechanism" }

// IsExpected implements ErrorClassifier. A failed mechanism hands over to
// the next fallback, so the dispatcher treats it as expected.
func (e *MechanismError) IsExpected() bool { return true }

// ErrorType implements ErrorClassifier.
func (e *UnmountError) ErrorType() string { return "unmount" }

// IsExpected implements ErrorClassifier. Busy mounts are retried by the
// sweep until it stops making progress.
func (e *UnmountError) IsExpected() bool { return true }

// ErrorType implements ErrorClassifier.
func (e *ProtectedError) ErrorType() string { return "protected" }

// IsExpected implements ErrorClassifier. Killing a protected process
// without shutdown authorization is a caller defect.
func (e *ProtectedError) IsExpected() bool { return false }
