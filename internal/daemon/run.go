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
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/powerd/internal/config"
	"github.com/tombee/powerd/internal/log"
)

// RunOptions configures daemon execution.
type RunOptions struct {
	Version   string
	Commit    string
	BuildDate string

	// Config overrides
	ConfigPath  string
	SocketPath  string
	TCPAddr     string
	AllowRemote bool
	TLSCert     string
	TLSKey      string
	PIDFile     string
	JournalPath string
	ServicesDir string
	ACPIMode    string
}

// Run starts the daemon and blocks until shutdown. This is the main
// entry point for daemon execution, used by the powerd binary.
func Run(opts RunOptions) error {
	// Initialize structured logging from environment
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	// Without an explicit config path an absent default file means
	// defaults, not an error.
	path := opts.ConfigPath
	if path == "" {
		if p, err := config.ConfigPath(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Apply overrides from options
	if opts.SocketPath != "" {
		cfg.Daemon.SocketPath = opts.SocketPath
		cfg.Daemon.Listen.SocketPath = opts.SocketPath
	}
	if opts.TCPAddr != "" {
		cfg.Daemon.Listen.TCPAddr = opts.TCPAddr
	}
	if opts.TLSCert != "" {
		cfg.Daemon.Listen.TLSCert = opts.TLSCert
	}
	if opts.TLSKey != "" {
		cfg.Daemon.Listen.TLSKey = opts.TLSKey
	}
	if opts.PIDFile != "" {
		cfg.Daemon.PIDFile = opts.PIDFile
	}
	if opts.JournalPath != "" {
		cfg.Journal.Path = opts.JournalPath
	}
	if opts.ServicesDir != "" {
		cfg.Services.Dir = opts.ServicesDir
	}
	if opts.ACPIMode != "" {
		cfg.Power.ACPI = opts.ACPIMode
	}
	if opts.AllowRemote {
		cfg.Daemon.Listen.AllowRemote = true
		logger.Warn("--allow-remote is enabled. The daemon will accept power commands from any network address. Ensure authentication and TLS are configured.")
	}

	// Overrides can invalidate a previously valid configuration
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", slog.Any("error", err))
		return err
	}

	// Create daemon instance
	d, err := New(cfg, Options{
		Version:   opts.Version,
		Commit:    opts.Commit,
		BuildDate: opts.BuildDate,
	})
	if err != nil {
		logger.Error("Failed to create daemon", slog.Any("error", err))
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	// Setup signal handling: SIGINT and SIGTERM shut down gracefully,
	// SIGHUP reloads the service units.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Start daemon
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	// Wait for shutdown signal or error
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, reloading service units")
				if err := d.Reload(); err != nil {
					logger.Error("Reload failed", slog.Any("error", err))
				}
				continue
			}
			fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
			cancel()
			if err := d.Shutdown(context.Background()); err != nil {
				logger.Error("Error during shutdown", slog.Any("error", err))
				return fmt.Errorf("shutdown error: %w", err)
			}
			return nil
		case err := <-errCh:
			if err != nil {
				logger.Error("Daemon error", slog.Any("error", err))
				return fmt.Errorf("daemon error: %w", err)
			}
			return nil
		}
	}
}
