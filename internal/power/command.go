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

package power

import (
	"fmt"

	"github.com/tombee/powerd/pkg/errors"
)

// Command selects the power state a transition drives the machine into.
// The set is closed: a Command that is neither CommandShutdown nor
// CommandReboot reaching the transition task is a caller defect and panics
// there rather than returning an error.
type Command string

const (
	// CommandShutdown powers the machine off after draining services and
	// tearing down managed mounts.
	CommandShutdown Command = "shutdown"

	// CommandReboot restarts the machine. Reboot performs no service
	// termination; it quiesces filesystems and dispatches immediately.
	CommandReboot Command = "reboot"
)

// Valid reports whether c is a member of the closed command set.
func (c Command) Valid() bool {
	return c == CommandShutdown || c == CommandReboot
}

// String returns the wire name of the command.
func (c Command) String() string {
	return string(c)
}

// ParseCommand converts a wire name into a Command. Unknown names return a
// ValidationError; this is the boundary where untrusted input is rejected
// before it can reach the task's panic path.
func ParseCommand(name string) (Command, error) {
	cmd := Command(name)
	if !cmd.Valid() {
		return "", &errors.ValidationError{
			Field:      "command",
			Message:    fmt.Sprintf("unknown power command %q", name),
			Suggestion: "Use \"shutdown\" or \"reboot\"",
		}
	}
	return cmd, nil
}
