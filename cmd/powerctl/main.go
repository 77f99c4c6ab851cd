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

package main

import (
	"github.com/tombee/powerd/internal/cli"
	"github.com/tombee/powerd/internal/commands/completion"
	configcmd "github.com/tombee/powerd/internal/commands/config"
	"github.com/tombee/powerd/internal/commands/daemon"
	"github.com/tombee/powerd/internal/commands/diagnostics"
	"github.com/tombee/powerd/internal/commands/journal"
	"github.com/tombee/powerd/internal/commands/services"
	"github.com/tombee/powerd/internal/commands/setup"
	"github.com/tombee/powerd/internal/commands/status"
	"github.com/tombee/powerd/internal/commands/transition"
	versioncmd "github.com/tombee/powerd/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Set version information from build-time ldflags
	cli.SetVersion(version, commit, buildDate)

	// Create root command and add subcommands
	rootCmd := cli.NewRootCommand()

	// Power transition commands
	rootCmd.AddCommand(transition.NewShutdownCommand())
	rootCmd.AddCommand(transition.NewRebootCommand())

	// Inspection commands
	rootCmd.AddCommand(status.NewCommand())
	rootCmd.AddCommand(services.NewCommand())
	rootCmd.AddCommand(journal.NewCommand())

	// Daemon commands
	rootCmd.AddCommand(daemon.NewCommand())
	rootCmd.AddCommand(diagnostics.NewDoctorCommand())

	// Configuration
	rootCmd.AddCommand(setup.NewCommand())
	rootCmd.AddCommand(configcmd.NewCommand())

	// Utility commands
	rootCmd.AddCommand(completion.NewCommand())
	rootCmd.AddCommand(versioncmd.NewVersionCommand())

	// Execute root command
	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
