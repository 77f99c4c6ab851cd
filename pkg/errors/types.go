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
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "service", "transition", "mount")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// MechanismError represents a failed power mechanism attempt.
// Use this when a concrete reboot/power-off mechanism (ACPI request,
// reboot(2), an exec fallback) reports failure and the dispatcher
// moves on to the next mechanism in its fallback chain.
type MechanismError struct {
	// Mechanism names the mechanism that failed (e.g., "acpi", "reboot-syscall", "systemctl")
	Mechanism string

	// Action is the requested power action ("reboot" or "power_off")
	Action string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *MechanismError) Error() string {
	msg := fmt.Sprintf("power mechanism %s failed", e.Mechanism)
	if e.Action != "" {
		msg = fmt.Sprintf("%s during %s", msg, e.Action)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *MechanismError) Unwrap() error {
	return e.Cause
}

// UnmountError represents a failed unmount attempt during the teardown sweep.
// These are expected while mounts are still busy; the sweep retries until it
// stops making progress, so callers log these rather than aborting.
type UnmountError struct {
	// Mount is the mount path that could not be unmounted
	Mount string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *UnmountError) Error() string {
	return fmt.Sprintf("unmount %s failed: %v", e.Mount, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *UnmountError) Unwrap() error {
	return e.Cause
}

// ProtectedError represents an attempt to terminate a protected process
// outside an authorized shutdown. The init-analog and the finalizer refuse
// termination until shutdown authorization has been granted.
type ProtectedError struct {
	// PID is the protected process
	PID int

	// Name is the process display name
	Name string
}

// Error implements the error interface.
func (e *ProtectedError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("process %d (%s) is protected from termination", e.PID, e.Name)
	}
	return fmt.Sprintf("process %d is protected from termination", e.PID)
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "listen.socket", "journal.path")
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

// TimeoutError represents operation timeouts.
// Use this when an operation exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "daemon request", "journal write")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}
