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
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/powerd/internal/client"
	"github.com/tombee/powerd/internal/commands/shared"
	"github.com/tombee/powerd/internal/config"
	"github.com/tombee/powerd/internal/lifecycle"
)

func newDaemonStartCommand() *cobra.Command {
	var (
		timeout     time.Duration
		socket      string
		tcpAddr     string
		allowRemote bool
		logFile     string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the powerd daemon in the background",
		Long: `Start the powerd daemon as a detached background process.

The daemon's stdout and stderr are appended to a log file, and the PID
file records the running instance. Start is idempotent: if a healthy
daemon is already running, nothing is started.`,
		Example: `  # Start the daemon in the background
  powerctl daemon start

  # Start with a custom socket path
  powerctl daemon start --socket /tmp/powerd.sock

  # Give a slow machine more time to come up
  powerctl daemon start --timeout 60s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStart(cmd, startOptions{
				timeout:     timeout,
				socket:      socket,
				tcpAddr:     tcpAddr,
				allowRemote: allowRemote,
				logFile:     logFile,
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Health check timeout")
	cmd.Flags().StringVar(&socket, "socket", "", "Unix socket path")
	cmd.Flags().StringVar(&tcpAddr, "tcp", "", "TCP address to listen on")
	cmd.Flags().BoolVar(&allowRemote, "allow-remote", false, "Allow non-localhost TCP connections")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Daemon log file (default: <data_dir>/powerd.log)")

	return cmd
}

type startOptions struct {
	timeout     time.Duration
	socket      string
	tcpAddr     string
	allowRemote bool
	logFile     string
}

func runDaemonStart(cmd *cobra.Command, opts startOptions) error {
	cfg, cfgPath, err := loadDaemonConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.socket != "" {
		cfg.Daemon.SocketPath = opts.socket
		cfg.Daemon.Listen.SocketPath = opts.socket
	}

	pidPath := daemonPIDFilePath(cfg)
	out := cmd.OutOrStdout()

	// A live, healthy daemon means there is nothing to do.
	mgr := lifecycle.NewPIDFileManager(pidPath)
	if pid, err := mgr.Read(); err == nil {
		if lifecycle.IsProcessRunning(pid) && lifecycle.IsPowerdProcess(pid) {
			checker := lifecycle.NewHealthChecker(healthProbe(cfg))
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			if checker.Check(ctx).Success {
				if shared.GetJSON() {
					return shared.EmitJSON(daemonStartResponse{
						JSONResponse:   shared.NewJSONResponse("daemon start"),
						PID:            pid,
						PIDFile:        pidPath,
						AlreadyRunning: true,
					})
				}
				fmt.Fprintf(out, "powerd is already running (PID %d)\n", pid)
				return nil
			}
			fmt.Fprintf(os.Stderr, "Warning: powerd process %d exists but is unhealthy, starting a new instance\n", pid)
		} else {
			fmt.Fprintf(os.Stderr, "Warning: removing stale PID file (process %d is gone)\n", pid)
			if err := mgr.Remove(); err != nil {
				return fmt.Errorf("failed to remove stale PID file: %w", err)
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to check for a running daemon: %w", err)
	}

	binary, err := locateDaemonBinary()
	if err != nil {
		return err
	}

	logPath := opts.logFile
	if logPath == "" {
		logPath = filepath.Join(cfg.Daemon.DataDir, "powerd.log")
	}

	// The daemon claims the PID file itself, so a crash between spawn
	// and health never leaves a file naming a dead process.
	daemonArgs := buildDaemonArgs(cfgPath, pidPath, opts)

	pid, err := lifecycle.NewSpawner().SpawnDetached(binary, daemonArgs, logPath)
	if err != nil {
		return fmt.Errorf("failed to spawn powerd: %w", err)
	}

	if !shared.GetQuiet() && !shared.GetJSON() {
		fmt.Fprintf(out, "Starting powerd (PID %d)...\n", pid)
	}

	checker := lifecycle.NewHealthChecker(healthProbe(cfg))
	if err := checker.WaitUntilHealthy(opts.timeout); err != nil {
		// The spawned daemon never answered; do not leave it lingering.
		_ = lifecycle.SendSignal(pid, syscall.SIGTERM)
		return fmt.Errorf("powerd did not become healthy within %v: %w\nsee %s for daemon output", opts.timeout, err, logPath)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(daemonStartResponse{
			JSONResponse: shared.NewJSONResponse("daemon start"),
			PID:          pid,
			PIDFile:      pidPath,
			LogFile:      logPath,
		})
	}
	fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("powerd started (PID %d)", pid)))
	return nil
}

// loadDaemonConfig loads the effective configuration, honoring --config
// and treating an absent default file as defaults. It returns the path
// actually loaded, empty when defaults were used.
func loadDaemonConfig() (*config.Config, string, error) {
	path := shared.GetConfigPath()
	if path == "" {
		if p, err := config.ConfigPath(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// daemonPIDFilePath returns the PID file start and stop agree on.
func daemonPIDFilePath(cfg *config.Config) string {
	if cfg.Daemon.PIDFile != "" {
		return cfg.Daemon.PIDFile
	}
	return filepath.Join(cfg.Daemon.DataDir, "powerd.pid")
}

// locateDaemonBinary finds the powerd binary: next to powerctl first,
// then on PATH.
func locateDaemonBinary() (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "powerd")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	path, err := exec.LookPath("powerd")
	if err != nil {
		return "", fmt.Errorf("powerd binary not found next to powerctl or on PATH: %w", err)
	}
	return path, nil
}

// buildDaemonArgs constructs the arguments for the spawned powerd
// process. Listener overrides travel as flags; everything else the
// daemon reads from the same config file.
func buildDaemonArgs(cfgPath, pidPath string, opts startOptions) []string {
	args := []string{"--pid-file", pidPath}

	if cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}
	if opts.socket != "" {
		args = append(args, "--socket", opts.socket)
	}
	if opts.tcpAddr != "" {
		args = append(args, "--tcp", opts.tcpAddr)
	}
	if opts.allowRemote {
		args = append(args, "--allow-remote")
	}

	return args
}

// healthProbe adapts the API client's health call for the lifecycle
// checker, preferring the configured socket when no --host or
// POWERD_HOST points elsewhere.
func healthProbe(cfg *config.Config) lifecycle.Probe {
	return func(ctx context.Context) error {
		c, err := daemonClient(cfg)
		if err != nil {
			return err
		}
		_, err = c.Health(ctx)
		return err
	}
}

func daemonClient(cfg *config.Config) (*client.Client, error) {
	if host := shared.GetHost(); host != "" {
		return client.FromHost(host)
	}
	if host := os.Getenv(client.HostEnv); host != "" {
		return client.FromHost(host)
	}
	if cfg.Daemon.SocketPath != "" {
		return client.FromHost("unix://" + cfg.Daemon.SocketPath)
	}
	return client.FromEnvironment()
}

// daemonStartResponse is the JSON envelope for daemon start.
type daemonStartResponse struct {
	shared.JSONResponse
	PID            int    `json:"pid"`
	PIDFile        string `json:"pid_file"`
	LogFile        string `json:"log_file,omitempty"`
	AlreadyRunning bool   `json:"already_running,omitempty"`
}
