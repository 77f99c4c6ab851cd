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

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/powerd/internal/commands/shared"
	"github.com/tombee/powerd/internal/config"
	powerderrors "github.com/tombee/powerd/pkg/errors"
	"github.com/tombee/powerd/pkg/security"
)

// ValidationResult is the outcome of checking a configuration file.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Validate the configuration file before handing it to the daemon.

Checks performed:
  - YAML syntax and structure
  - Field values (log levels, addresses, intervals, destinations)
  - Listener, TLS and auth combinations
  - File and directory permissions

With --strict, warnings are treated as errors.`,
		Example: `  # Validate the installed configuration
  powerctl config validate

  # Vet a candidate file before installing it
  powerctl config validate --config /tmp/config.yaml --strict`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, resolvePath(), strict, shared.GetJSON())
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")

	return cmd
}

func runValidate(cmd *cobra.Command, path string, strict, asJSON bool) error {
	return writeResult(cmd, validateFile(path), strict, asJSON)
}

func validateFile(path string) ValidationResult {
	if path == "" {
		return ValidationResult{Errors: []string{"failed to determine config path"}}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ValidationResult{
			Errors: []string{fmt.Sprintf("no configuration file found at %s. Run 'powerctl setup' to create one.", path)},
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return ValidationResult{Errors: loadErrors(err)}
	}

	return ValidationResult{Valid: true, Warnings: collectWarnings(path, cfg)}
}

// loadErrors flattens a load failure into individual messages.
// Validation failures arrive as one joined error; each offending field
// gets its own line back.
func loadErrors(err error) []string {
	var cfgErr *powerderrors.ConfigError
	if errors.As(err, &cfgErr) && cfgErr.Cause != nil {
		if errors.Is(cfgErr.Cause, config.ErrInvalidConfig) {
			if _, rest, ok := strings.Cut(cfgErr.Cause.Error(), ":\n  - "); ok {
				return strings.Split(rest, "\n  - ")
			}
		}
		return []string{fmt.Sprintf("%s: %v", cfgErr.Error(), cfgErr.Cause)}
	}
	return []string{err.Error()}
}

// collectWarnings flags configurations the daemon will accept but an
// operator probably does not want on a machine that can be halted
// remotely.
func collectWarnings(path string, cfg *config.Config) []string {
	warnings := security.CheckConfigPermissions(path)

	if cfg.Daemon.Auth.Enabled && cfg.Daemon.Auth.TokenSecret == "" {
		warnings = append(warnings, "daemon.auth.enabled with no token_secret; the daemon generates one and stores it in the secret store on first start")
	}
	if cfg.Daemon.Listen.TCPAddr != "" && !cfg.Daemon.Auth.Enabled {
		warnings = append(warnings, fmt.Sprintf("daemon.listen.tcp_addr %s without daemon.auth.enabled; any process that can reach it may request a shutdown", cfg.Daemon.Listen.TCPAddr))
	}
	for i, dest := range cfg.Audit.Destinations {
		if dest.Type == "webhook" && strings.HasPrefix(dest.URL, "http://") {
			warnings = append(warnings, fmt.Sprintf("audit.destinations[%d].url uses plain http; audit events are readable in transit", i))
		}
	}

	return warnings
}

func writeResult(cmd *cobra.Command, result ValidationResult, strict, asJSON bool) error {
	if asJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
	} else {
		if result.Valid {
			cmd.Println(shared.RenderOK("Configuration is valid"))
		} else {
			cmd.Println(shared.RenderError("Configuration validation failed"))
		}
		cmd.Println()

		if len(result.Errors) > 0 {
			cmd.Println(shared.Header.Render("Errors:"))
			for _, msg := range result.Errors {
				cmd.Printf("  %s %s\n", shared.StatusError.Render(shared.SymbolError), msg)
			}
			cmd.Println()
		}

		if len(result.Warnings) > 0 {
			cmd.Println(shared.Header.Render("Warnings:"))
			for _, msg := range result.Warnings {
				cmd.Printf("  %s %s\n", shared.StatusWarn.Render(shared.SymbolWarn), msg)
			}
			cmd.Println()
		}

		if result.Valid && len(result.Warnings) == 0 {
			cmd.Println("No issues found.")
		}
	}

	if !result.Valid {
		return &shared.ExitError{Code: shared.ExitFailure}
	}
	if strict && len(result.Warnings) > 0 {
		if !asJSON {
			cmd.Println("Validation failed (strict mode: warnings treated as errors)")
		}
		return &shared.ExitError{Code: shared.ExitFailure}
	}
	return nil
}
