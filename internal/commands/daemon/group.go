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

// Package daemon implements the daemon command group.
package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/powerd/internal/client"
	"github.com/tombee/powerd/internal/commands/shared"
)

// NewCommand creates the daemon command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the powerd daemon",
		Long: `Commands for managing the powerd daemon itself.

powerd runs as root, owns the power-state machinery, and answers on a Unix
socket (or TCP when remote access is configured). These commands start and
stop the daemon process and check that it is alive; 'powerctl status'
reports what it is actually doing.`,
	}

	cmd.AddCommand(newDaemonStartCommand())
	cmd.AddCommand(newDaemonStopCommand())
	cmd.AddCommand(newDaemonStatusCommand())
	cmd.AddCommand(newDaemonPingCommand())

	return cmd
}

func newDaemonStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and version",
		Long:  `Display the health and build information of the powerd daemon.`,
		RunE:  runDaemonStatus,
	}
}

func newDaemonPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check if the daemon is reachable",
		Long:  `Quickly check if the powerd daemon is running and reachable.`,
		RunE:  runDaemonPing,
	}
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := shared.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	// Get health and version in parallel
	type result struct {
		health  *client.HealthResponse
		version *client.VersionResponse
		err     error
	}

	healthCh := make(chan result, 1)
	versionCh := make(chan result, 1)

	go func() {
		health, err := c.Health(ctx)
		healthCh <- result{health: health, err: err}
	}()

	go func() {
		version, err := c.Version(ctx)
		versionCh <- result{version: version, err: err}
	}()

	healthResult := <-healthCh
	versionResult := <-versionCh

	// Check for connection errors
	if healthResult.err != nil {
		if client.IsDaemonNotRunning(healthResult.err) {
			shared.ExitDaemonNotRunning()
		}
		return fmt.Errorf("failed to get daemon health: %w", healthResult.err)
	}

	if versionResult.err != nil {
		return fmt.Errorf("failed to get daemon version: %w", versionResult.err)
	}

	health := healthResult.health
	version := versionResult.version

	if shared.GetJSON() {
		return shared.EmitJSON(daemonStatusResponse{
			JSONResponse: shared.NewJSONResponse("daemon status"),
			Status:       health.Status,
			Version:      version.Version,
			Commit:       version.Commit,
			BuildDate:    version.BuildDate,
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Status:     %s\n", health.Status)
	fmt.Fprintf(out, "Version:    %s\n", version.Version)
	fmt.Fprintf(out, "Commit:     %s\n", version.Commit)
	fmt.Fprintf(out, "Build Date: %s\n", version.BuildDate)

	return nil
}

func runDaemonPing(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := shared.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	start := time.Now()
	if err := c.Ping(ctx); err != nil {
		if client.IsDaemonNotRunning(err) {
			if !shared.GetQuiet() {
				fmt.Println("Daemon is not running")
			}
			os.Exit(1)
		}
		return fmt.Errorf("ping failed: %w", err)
	}

	latency := time.Since(start)

	if shared.GetJSON() {
		return shared.EmitJSON(pingResponse{
			JSONResponse: shared.NewJSONResponse("daemon ping"),
			LatencyMS:    latency.Milliseconds(),
		})
	}

	if !shared.GetQuiet() {
		fmt.Fprintf(cmd.OutOrStdout(), "Daemon is running (latency: %v)\n", latency.Round(time.Millisecond))
	}

	return nil
}

// daemonStatusResponse is the JSON envelope for daemon status.
type daemonStatusResponse struct {
	shared.JSONResponse
	Status    string `json:"status"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// pingResponse is the JSON envelope for daemon ping.
type pingResponse struct {
	shared.JSONResponse
	LatencyMS int64 `json:"latency_ms"`
}
