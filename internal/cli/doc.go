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

/*
Package cli provides the root command and shared configuration for powerctl.

This package creates the main Cobra command tree and handles global concerns
like version information, persistent flags, and error handling. Individual
commands are implemented in the internal/commands subpackages.

# Command Tree

The CLI is organized as:

	powerctl
	├── shutdown      Request an orderly power-off
	├── reboot        Request an orderly reboot
	├── status        Show daemon status
	├── services      List supervised services
	│   └── reload    Re-read service unit files
	├── journal       Inspect the transition journal
	│   └── show      Show one transition with its phase timeline
	├── daemon        Manage the daemon process
	│   ├── start     Start the daemon in the background
	│   ├── stop      Stop the daemon
	│   ├── status    Show daemon health and version
	│   └── ping      Check daemon reachability
	├── doctor        Check powerd health and configuration
	├── setup         Interactive configuration wizard
	├── config        View and validate configuration
	│   ├── show      Display the effective configuration
	│   ├── path      Show config file location
	│   └── validate  Validate the configuration file
	├── version       Show version information
	└── completion    Generate shell completion scripts

# Global Flags

Every command accepts:

	--verbose, -v    Enable verbose output
	--quiet, -q      Suppress non-error output
	--json           Output in JSON format
	--config         Path to config file
	--host           Daemon address (overrides POWERD_HOST)

# Exit Codes

powerctl exits 0 on success and nonzero on failure. The daemon being
unreachable is exit code 10 so that scripts can tell "daemon down" apart
from "request rejected".
*/
package cli
