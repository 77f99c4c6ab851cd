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
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/powerd/internal/commands/shared"
	"github.com/tombee/powerd/internal/config"
)

// NewCommand creates the config command with subcommands
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and validate configuration",
		Long: `View and validate powerd configuration.

Subcommands:
  show     - Display the effective configuration
  path     - Show config file location
  validate - Check the configuration file before restarting the daemon`,
	}

	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newPathCommand())
	cmd.AddCommand(newValidateCommand())

	// Bare 'powerctl config' behaves like 'config show'
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runShow(cmd, resolvePath(), shared.GetJSON())
	}

	return cmd
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the configuration the daemon would run with: file values
merged with defaults and POWERD_* environment overrides.

The token secret is masked. Use --json for machine-readable output.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, resolvePath(), shared.GetJSON())
		},
	}
}

func newPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file location",
		Long:  `Display the path to the configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPath(cmd, resolvePath())
		},
	}
}

// resolvePath honors --config, falling back to the default location.
func resolvePath() string {
	if path := shared.GetConfigPath(); path != "" {
		return path
	}
	path, err := config.ConfigPath()
	if err != nil {
		return ""
	}
	return path
}

func runShow(cmd *cobra.Command, path string, asJSON bool) error {
	if path == "" {
		return fmt.Errorf("failed to determine config path")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if asJSON {
			cmd.Println("{}")
			return nil
		}
		return fmt.Errorf("no configuration file found at %s\nRun 'powerctl setup' to create one", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	masked := maskSensitive(cfg)

	if asJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(masked)
	}

	cmd.Printf("Configuration: %s\n", path)
	cmd.Println(strings.Repeat("=", 50))
	cmd.Println()

	encoder := yaml.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent(2)
	if err := encoder.Encode(masked); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return encoder.Close()
}

func runPath(cmd *cobra.Command, path string) error {
	if path == "" {
		return fmt.Errorf("failed to determine config path")
	}
	cmd.Println(path)
	return nil
}

// maskSensitive copies the config with secret material replaced. Secret
// references (secret://, keyring://) are pointers, not secrets, and
// stay readable.
func maskSensitive(cfg *config.Config) *config.Config {
	masked := *cfg
	masked.Daemon.Auth.TokenSecret = maskSecret(cfg.Daemon.Auth.TokenSecret)

	if len(cfg.Audit.Destinations) > 0 {
		dests := make([]config.AuditDestinationConfig, len(cfg.Audit.Destinations))
		copy(dests, cfg.Audit.Destinations)
		for i, dest := range dests {
			if len(dest.Headers) == 0 {
				continue
			}
			headers := make(map[string]string, len(dest.Headers))
			for name, value := range dest.Headers {
				if sensitiveHeader(name) {
					headers[name] = maskSecret(value)
				} else {
					headers[name] = value
				}
			}
			dests[i].Headers = headers
		}
		masked.Audit.Destinations = dests
	}

	return &masked
}

func sensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range []string{"authorization", "token", "secret", "key", "signature"} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// maskSecret masks a literal secret for display, keeping the first and
// last four characters of longer values.
func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "keyring://") {
		return value
	}
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}
