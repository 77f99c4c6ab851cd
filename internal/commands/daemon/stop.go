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

package daemon

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/powerd/internal/commands/shared"
	"github.com/tombee/powerd/internal/lifecycle"
)

func newDaemonStopCommand() *cobra.Command {
	var (
		timeout time.Duration
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the powerd daemon",
		Long: `Stop the powerd daemon gracefully.

Sends SIGTERM to the PID recorded in the PID file and waits for the
process to exit. With --force the stop escalates to SIGKILL once the
timeout passes. Stop is idempotent: a daemon that is not running counts
as stopped, and stale PID files are cleaned up.

Stopping the daemon does not power the machine down; that is what
'powerctl shutdown' is for.`,
		Example: `  # Stop the daemon gracefully
  powerctl daemon stop

  # Escalate to SIGKILL if it does not exit within a minute
  powerctl daemon stop --timeout 60s --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStop(cmd, stopOptions{
				timeout: timeout,
				force:   force,
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Graceful shutdown timeout")
	cmd.Flags().BoolVar(&force, "force", false, "Send SIGKILL if the timeout is exceeded")

	return cmd
}

type stopOptions struct {
	timeout time.Duration
	force   bool
}

func runDaemonStop(cmd *cobra.Command, opts stopOptions) error {
	cfg, _, err := loadDaemonConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pidPath := daemonPIDFilePath(cfg)
	out := cmd.OutOrStdout()

	mgr := lifecycle.NewPIDFileManager(pidPath)
	pid, err := mgr.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if shared.GetJSON() {
				return shared.EmitJSON(daemonStopResponse{
					JSONResponse: shared.NewJSONResponse("daemon stop"),
					Stopped:      false,
				})
			}
			fmt.Fprintln(out, "powerd is not running (no PID file)")
			return nil
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	if !lifecycle.IsProcessRunning(pid) {
		fmt.Fprintf(os.Stderr, "Warning: removing stale PID file (process %d is gone)\n", pid)
		if err := mgr.Remove(); err != nil {
			return fmt.Errorf("failed to remove stale PID file: %w", err)
		}
		if shared.GetJSON() {
			return shared.EmitJSON(daemonStopResponse{
				JSONResponse: shared.NewJSONResponse("daemon stop"),
				PID:          pid,
				Stopped:      false,
			})
		}
		fmt.Fprintln(out, "powerd is not running")
		return nil
	}

	// A reused PID must never be signalled.
	if !lifecycle.IsPowerdProcess(pid) {
		if info, err := lifecycle.GetProcessInfo(pid); err == nil && info.Command != "" {
			return fmt.Errorf("%w: PID %d runs %q, refusing to stop it", lifecycle.ErrNotPowerdProcess, pid, info.Command)
		}
		return fmt.Errorf("%w: PID %d, refusing to stop it", lifecycle.ErrNotPowerdProcess, pid)
	}

	if !shared.GetQuiet() && !shared.GetJSON() {
		fmt.Fprintf(out, "Stopping powerd (PID %d)...\n", pid)
	}

	if err := lifecycle.GracefulShutdown(pid, opts.timeout, opts.force); err != nil {
		return fmt.Errorf("failed to stop powerd: %w", err)
	}

	// The daemon removes its own PID file on a clean exit; anything it
	// left behind is cleaned up here.
	if err := mgr.Remove(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to remove PID file: %v\n", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(daemonStopResponse{
			JSONResponse: shared.NewJSONResponse("daemon stop"),
			PID:          pid,
			Stopped:      true,
		})
	}
	fmt.Fprintln(out, shared.RenderOK("powerd stopped"))
	return nil
}

// daemonStopResponse is the JSON envelope for daemon stop.
type daemonStopResponse struct {
	shared.JSONResponse
	PID     int  `json:"pid,omitempty"`
	Stopped bool `json:"stopped"`
}
