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

package services

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/powerd/pkg/errors"
)

// RestartPolicy controls when an exited service is relaunched.
type RestartPolicy string

const (
	// RestartAlways relaunches the service after every exit.
	RestartAlways RestartPolicy = "always"

	// RestartOnFailure relaunches only after a non-zero exit.
	RestartOnFailure RestartPolicy = "on-failure"

	// RestartNever leaves the service down once it exits.
	RestartNever RestartPolicy = "never"
)

// Kind places a service in a drain phase. User services are terminated
// first during a power-down; system services survive until the system
// drain, alongside powerd's own records.
type Kind string

const (
	// KindUser is the default kind for supervised services.
	KindUser Kind = "user"

	// KindSystem marks infrastructure the user drain must not touch.
	KindSystem Kind = "system"
)

const (
	// DefaultRestartDelay is the pause before a relaunch.
	DefaultRestartDelay = 1 * time.Second
)

// Unit represents a YAML service unit definition.
//
// A minimal unit only needs a command:
//
//	name: telemetry
//	command: ["/usr/bin/telemetryd", "--foreground"]
//
// The When field holds an expression evaluated against machine facts
// (env, hostname, os, arch, cpus); units whose condition is false are
// listed but never launched.
type Unit struct {
	// Name is the service identifier. Defaults to the unit file's
	// basename when loaded from disk.
	Name string `yaml:"name"`

	// Description provides human-readable context about the service.
	Description string `yaml:"description,omitempty"`

	// Command is the argv to execute. The first element is the binary.
	Command []string `yaml:"command"`

	// WorkingDir is the working directory for the process.
	WorkingDir string `yaml:"working_dir,omitempty"`

	// Env are additional environment variables for the process.
	Env map[string]string `yaml:"env,omitempty"`

	// When is an optional condition expression. Empty means always.
	When string `yaml:"when,omitempty"`

	// Kind selects the drain phase (user or system). Defaults to user.
	Kind Kind `yaml:"kind,omitempty"`

	// Protected refuses termination requests until a shutdown transition
	// authorizes them. A protected service cannot be stopped or reloaded
	// while the machine is up.
	Protected bool `yaml:"protected,omitempty"`

	// Restart is the relaunch policy (always, on-failure, never).
	// Defaults to on-failure.
	Restart RestartPolicy `yaml:"restart,omitempty"`

	// RestartDelay is the pause before a relaunch. Defaults to 1s.
	RestartDelay time.Duration `yaml:"restart_delay,omitempty"`

	// StopGrace overrides the supervisor's SIGTERM grace period for
	// this service. Zero means use the supervisor default.
	StopGrace time.Duration `yaml:"stop_grace,omitempty"`
}

// ParseUnit parses a service unit from YAML bytes.
func ParseUnit(data []byte) (*Unit, error) {
	var u Unit
	if err := yaml.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to parse service unit: %w", err)
	}

	u.ApplyDefaults()

	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service unit: %w", err)
	}

	return &u, nil
}

// ApplyDefaults applies default values to unit fields.
func (u *Unit) ApplyDefaults() {
	if u.Kind == "" {
		u.Kind = KindUser
	}
	if u.Restart == "" {
		u.Restart = RestartOnFailure
	}
	if u.RestartDelay == 0 {
		u.RestartDelay = DefaultRestartDelay
	}
}

// Validate checks if the unit definition is valid.
func (u *Unit) Validate() error {
	if u.Name == "" {
		return &errors.ValidationError{
			Field:      "name",
			Message:    "service name is required",
			Suggestion: "add a name field or rely on the unit file's basename",
		}
	}
	if len(u.Command) == 0 {
		return &errors.ValidationError{
			Field:      "command",
			Message:    "service command is required",
			Suggestion: "add a command array whose first element is the binary to run",
		}
	}
	if u.Command[0] == "" {
		return &errors.ValidationError{
			Field:      "command",
			Message:    "service binary must not be empty",
			Suggestion: "set command[0] to the path of the binary to run",
		}
	}

	switch u.Kind {
	case KindUser, KindSystem:
	default:
		return &errors.ValidationError{
			Field:      "kind",
			Message:    fmt.Sprintf("unknown service kind %q", u.Kind),
			Suggestion: "use one of: user, system",
		}
	}

	switch u.Restart {
	case RestartAlways, RestartOnFailure, RestartNever:
	default:
		return &errors.ValidationError{
			Field:      "restart",
			Message:    fmt.Sprintf("unknown restart policy %q", u.Restart),
			Suggestion: "use one of: always, on-failure, never",
		}
	}

	if u.RestartDelay < 0 {
		return &errors.ValidationError{
			Field:   "restart_delay",
			Message: "restart delay must not be negative",
		}
	}
	if u.StopGrace < 0 {
		return &errors.ValidationError{
			Field:   "stop_grace",
			Message: "stop grace must not be negative",
		}
	}

	return nil
}
