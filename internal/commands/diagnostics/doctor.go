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

// Package diagnostics implements the doctor command.
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/powerd/internal/client"
	"github.com/tombee/powerd/internal/commands/shared"
	"github.com/tombee/powerd/internal/config"
	"github.com/tombee/powerd/internal/services"
)

// DoctorResult contains the overall health check results.
type DoctorResult struct {
	ConfigPath      string         `json:"config_path"`
	ConfigExists    bool           `json:"config_exists"`
	ConfigValid     bool           `json:"config_valid"`
	ConfigError     string         `json:"config_error,omitempty"`
	Daemon          DaemonHealth   `json:"daemon"`
	Journal         JournalHealth  `json:"journal"`
	Services        ServicesHealth `json:"services"`
	Recommendations []string       `json:"recommendations"`
	OverallHealthy  bool           `json:"overall_healthy"`
}

// DaemonHealth reports whether the daemon answered on its socket.
type DaemonHealth struct {
	Reachable bool   `json:"reachable"`
	Status    string `json:"status,omitempty"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// JournalHealth reports the state of the daemon's data directory and
// transition journal.
type JournalHealth struct {
	DataDir       string `json:"data_dir"`
	DataDirExists bool   `json:"data_dir_exists"`
	Path          string `json:"path"`
	Exists        bool   `json:"exists"`
}

// ServicesHealth reports the state of the service unit directory.
type ServicesHealth struct {
	Dir       string   `json:"dir"`
	DirExists bool     `json:"dir_exists"`
	Units     int      `json:"units"`
	Errors    []string `json:"errors,omitempty"`
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Annotations: map[string]string{
			"group": "diagnostics",
		},
		Short: "Check powerd health and configuration",
		Long: `Perform a health check of the powerd configuration and daemon.

This command checks:
  - Config file exists and validates
  - The daemon answers on its socket
  - The data directory and transition journal are in place
  - Service unit files parse

Provides actionable recommendations for fixing any issues found.`,
		RunE: runDoctor,
	}

	return cmd
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := DoctorResult{
		Recommendations: []string{},
		OverallHealthy:  true,
	}

	cfg := checkConfig(&result)
	checkDaemon(ctx, &result)
	if cfg != nil {
		checkJournal(cfg, &result)
		checkServices(cfg, &result)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(doctorResponse{
			JSONResponse: shared.NewJSONResponse("doctor"),
			DoctorResult: result,
		})
	}
	return outputDoctorText(cmd, result)
}

// checkConfig locates, loads, and validates the config file. It returns
// the loaded config (defaults when no file exists) so the later checks
// know where the daemon keeps its state, or nil when the config is
// unusable.
func checkConfig(result *DoctorResult) *config.Config {
	cfgPath := shared.GetConfigPath()
	if cfgPath == "" {
		var err error
		cfgPath, err = config.ConfigPath()
		if err != nil {
			result.ConfigPath = "unknown"
			result.ConfigError = fmt.Sprintf("Failed to determine config path: %v", err)
			result.OverallHealthy = false
			return nil
		}
	}
	result.ConfigPath = cfgPath

	if _, err := os.Stat(cfgPath); err == nil {
		result.ConfigExists = true
	} else if os.IsNotExist(err) {
		// Not an error: the daemon runs fine on defaults, but setup is
		// the expected first step on a fresh machine.
		result.Recommendations = append(result.Recommendations,
			"No configuration file found. Run 'powerctl setup' to create one.")
		cfgPath = ""
	} else {
		result.ConfigError = fmt.Sprintf("Failed to check config file: %v", err)
		result.OverallHealthy = false
		return nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		result.ConfigValid = false
		result.ConfigError = err.Error()
		result.OverallHealthy = false
		result.Recommendations = append(result.Recommendations,
			"Fix configuration errors or run 'powerctl setup' to recreate the config.")
		return nil
	}

	result.ConfigValid = true
	return cfg
}

// checkDaemon pings the daemon and records its status and version. An
// unreachable daemon is a finding, not a command failure; the rest of
// the checks still run.
func checkDaemon(ctx context.Context, result *DoctorResult) {
	c, err := shared.NewClient()
	if err != nil {
		result.Daemon.Error = err.Error()
		result.OverallHealthy = false
		return
	}

	health, err := c.Health(ctx)
	if err != nil {
		result.Daemon.Error = err.Error()
		result.OverallHealthy = false
		if client.IsDaemonNotRunning(err) {
			result.Recommendations = append(result.Recommendations,
				"The powerd daemon is not running. Start it with 'powerd' or 'systemctl start powerd'.")
		}
		return
	}

	result.Daemon.Reachable = true
	result.Daemon.Status = health.Status

	if version, err := c.Version(ctx); err == nil {
		result.Daemon.Version = version.Version
	}
}

// checkJournal verifies the data directory and the transition journal
// file. A missing journal on a machine where the daemon has never run
// is normal, so only the data directory affects overall health.
func checkJournal(cfg *config.Config, result *DoctorResult) {
	result.Journal.DataDir = cfg.Daemon.DataDir
	result.Journal.Path = cfg.Journal.Path

	if _, err := os.Stat(cfg.Daemon.DataDir); err == nil {
		result.Journal.DataDirExists = true
	} else if result.Daemon.Reachable {
		// A running daemon without its data directory means the journal
		// and token store are not where the config says they are.
		result.OverallHealthy = false
		result.Recommendations = append(result.Recommendations,
			fmt.Sprintf("Data directory %s does not exist; check daemon.data_dir.", cfg.Daemon.DataDir))
	}

	if _, err := os.Stat(cfg.Journal.Path); err == nil {
		result.Journal.Exists = true
	}
}

// checkServices discovers and parses service unit files, collecting
// per-unit errors instead of stopping at the first bad file.
func checkServices(cfg *config.Config, result *DoctorResult) {
	result.Services.Dir = cfg.Services.Dir

	if _, err := os.Stat(cfg.Services.Dir); err != nil {
		if os.IsNotExist(err) {
			result.Recommendations = append(result.Recommendations,
				fmt.Sprintf("Service unit directory %s does not exist; the daemon supervises nothing.", cfg.Services.Dir))
		}
		return
	}
	result.Services.DirExists = true

	paths, err := services.Discover(cfg.Services.Dir, cfg.Services.Patterns)
	if err != nil {
		result.Services.Errors = append(result.Services.Errors, err.Error())
		result.OverallHealthy = false
		return
	}

	for _, path := range paths {
		if _, err := services.LoadUnit(path); err != nil {
			result.Services.Errors = append(result.Services.Errors, err.Error())
			continue
		}
		result.Services.Units++
	}

	if len(result.Services.Errors) > 0 {
		result.OverallHealthy = false
		result.Recommendations = append(result.Recommendations,
			"Fix the invalid service unit files; the daemon skips units that fail to parse.")
	}
}

// doctorResponse is the JSON envelope for doctor output.
type doctorResponse struct {
	shared.JSONResponse
	DoctorResult
}

// outputDoctorText outputs results in human-readable format.
func outputDoctorText(cmd *cobra.Command, result DoctorResult) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "powerd Health Check")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Path: %s\n", result.ConfigPath)
	if result.ConfigExists {
		fmt.Fprintln(out, "  Status: Found")
		fmt.Fprintf(out, "  Valid: %s\n", checkMark(result.ConfigValid))
	} else {
		fmt.Fprintln(out, "  Status: Not found (defaults in effect)")
	}
	if result.ConfigError != "" {
		fmt.Fprintf(out, "  Error: %s\n", result.ConfigError)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Daemon:")
	fmt.Fprintf(out, "  Reachable: %s\n", checkMark(result.Daemon.Reachable))
	if result.Daemon.Reachable {
		fmt.Fprintf(out, "  Status: %s\n", result.Daemon.Status)
		if result.Daemon.Version != "" {
			fmt.Fprintf(out, "  Version: %s\n", result.Daemon.Version)
		}
	} else if result.Daemon.Error != "" {
		fmt.Fprintf(out, "  Error: %s\n", result.Daemon.Error)
	}
	fmt.Fprintln(out)

	if result.Journal.DataDir != "" {
		fmt.Fprintln(out, "State:")
		fmt.Fprintf(out, "  Data Directory: %s (%s)\n", result.Journal.DataDir, foundMark(result.Journal.DataDirExists))
		fmt.Fprintf(out, "  Journal: %s (%s)\n", result.Journal.Path, foundMark(result.Journal.Exists))
		fmt.Fprintln(out)
	}

	if result.Services.Dir != "" {
		fmt.Fprintln(out, "Services:")
		fmt.Fprintf(out, "  Unit Directory: %s (%s)\n", result.Services.Dir, foundMark(result.Services.DirExists))
		if result.Services.DirExists {
			fmt.Fprintf(out, "  Units: %d\n", result.Services.Units)
		}
		for _, e := range result.Services.Errors {
			fmt.Fprintf(out, "  Error: %s\n", e)
		}
		fmt.Fprintln(out)
	}

	if len(result.Recommendations) > 0 {
		fmt.Fprintln(out, "Recommendations:")
		for _, rec := range result.Recommendations {
			fmt.Fprintf(out, "  - %s\n", rec)
		}
		fmt.Fprintln(out)
	}

	if result.OverallHealthy {
		fmt.Fprintln(out, "Overall Status: Healthy")
		return nil
	}
	fmt.Fprintln(out, "Overall Status: Issues Found")
	return fmt.Errorf("health check found issues")
}

func checkMark(ok bool) string {
	if ok {
		return "Yes"
	}
	return "No"
}

func foundMark(ok bool) string {
	if ok {
		return "found"
	}
	return "missing"
}
