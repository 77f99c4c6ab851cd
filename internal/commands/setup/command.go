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

package setup

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tombee/powerd/internal/commands/shared"
	"github.com/tombee/powerd/internal/config"
)

// NewCommand creates the setup command
func NewCommand() *cobra.Command {
	var accessible bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive wizard to configure powerd",
		Long: `Launch the interactive setup wizard to configure:
  - Listeners (Unix socket, optional TCP with TLS)
  - API authentication for remote access
  - The transition journal (path, write-ahead logging)
  - Power transition behavior (ACPI mode, drain diagnostics)
  - Supervised services (unit directory, file watching)

The wizard provides a TUI (Terminal User Interface) for guided configuration.
It edits the same config.yaml the daemon reads; restart powerd (or send it
SIGHUP) after saving to pick up the changes.

Use --accessible for simple text prompts if the TUI doesn't work in your terminal.
You can also set POWERD_ACCESSIBLE=1 to enable accessible mode.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd, accessible)
		},
	}

	cmd.Flags().BoolVar(&accessible, "accessible", false, "Use accessible mode (simple text prompts instead of TUI)")

	return cmd
}

// runSetup executes the setup wizard
func runSetup(cmd *cobra.Command, accessible bool) error {
	accessibleMode := shouldUseAccessibleMode(accessible)

	// Validate terminal size if using TUI mode
	if !accessibleMode {
		if err := validateTerminalSize(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			fmt.Fprintf(os.Stderr, "Tip: Use --accessible flag for non-interactive mode:\n")
			fmt.Fprintf(os.Stderr, "  powerctl setup --accessible\n")
			return err
		}
	}

	path := shared.GetConfigPath()
	if path == "" {
		var err error
		path, err = config.ConfigPath()
		if err != nil {
			return fmt.Errorf("failed to locate config file: %w", err)
		}
	}

	file, err := config.NewFile(path)
	if err != nil {
		return err
	}

	// Hold the file lock for the whole session so a concurrent setup (or a
	// daemon reload writing defaults) cannot interleave with our edits.
	if err := file.Lock(); err != nil {
		if errors.Is(err, config.ErrLockTimeout) {
			return shared.NewFailureError("another powerctl setup session holds the config lock", err)
		}
		return err
	}
	defer file.Unlock()

	cfg, err := file.Load()
	if err != nil {
		return fmt.Errorf("failed to load existing configuration: %w", err)
	}

	saved, err := RunWizard(cmd.Context(), cfg, accessibleMode)
	if err != nil {
		return err
	}
	if !saved {
		cmd.Println("Setup aborted. No changes written.")
		return nil
	}

	if err := file.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	cmd.Println(shared.RenderOK(fmt.Sprintf("Configuration written to %s", path)))
	cmd.Println("Restart powerd (or send it SIGHUP) to apply the new settings.")
	return nil
}

// shouldUseAccessibleMode determines if accessible mode should be used.
// Returns true if:
// - --accessible flag is set
// - POWERD_ACCESSIBLE=1 environment variable is set
// - stdin is not a terminal (e.g., piped input)
func shouldUseAccessibleMode(flagValue bool) bool {
	// Explicit flag takes precedence
	if flagValue {
		return true
	}

	// Check environment variable
	if os.Getenv("POWERD_ACCESSIBLE") == "1" {
		return true
	}

	// Check if stdin is a terminal
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return true
	}

	return false
}

// validateTerminalSize checks if the terminal is large enough for the TUI.
// Minimum size: 40 columns x 15 rows
func validateTerminalSize() error {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		// Can't determine size, assume it's okay
		return nil
	}

	const minWidth = 40
	const minHeight = 15

	if width < minWidth || height < minHeight {
		return fmt.Errorf("terminal too small (need at least %dx%d, got %dx%d)", minWidth, minHeight, width, height)
	}

	return nil
}
