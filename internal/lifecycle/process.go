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

package lifecycle

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/tombee/powerd/internal/proc"
)

var (
	// ErrProcessNotRunning is returned when the target process does not
	// exist. It is the same sentinel the proc package uses, so callers
	// holding errors from either package match it with errors.Is.
	ErrProcessNotRunning = proc.ErrProcessNotRunning

	// ErrNotPowerdProcess is returned when the PID belongs to something
	// other than a powerd daemon.
	ErrNotPowerdProcess = errors.New("process is not a powerd daemon")

	// ErrShutdownTimeout is returned when the process survives its
	// shutdown timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// ProcessInfo describes what currently holds a PID.
type ProcessInfo struct {
	PID     int
	Running bool
	Command string
}

// IsProcessRunning reports whether a process with the given PID exists.
func IsProcessRunning(pid int) bool {
	return proc.Running(pid)
}

// IsPowerdProcess reports whether the PID belongs to a powerd daemon.
// A stale PID file can name a PID the kernel has since handed to an
// unrelated process; that process must never be signalled.
func IsPowerdProcess(pid int) bool {
	return isPowerdProcess(pid)
}

// SendSignal delivers sig to the process.
func SendSignal(pid int, sig syscall.Signal) error {
	return proc.Signal(pid, sig)
}

// WaitForExit polls until the process disappears, returning
// ErrShutdownTimeout if it is still alive when the timeout elapses.
func WaitForExit(pid int, timeout time.Duration) error {
	if err := proc.WaitExit(pid, timeout); err != nil {
		return ErrShutdownTimeout
	}
	return nil
}

// GracefulShutdown sends SIGTERM and waits for the process to exit.
// Without force a survivor yields ErrShutdownTimeout; with force the
// stop escalates to SIGKILL once the timeout passes.
func GracefulShutdown(pid int, timeout time.Duration, force bool) error {
	if !IsProcessRunning(pid) {
		return ErrProcessNotRunning
	}

	if err := SendSignal(pid, syscall.SIGTERM); err != nil {
		// Exited between the check and the signal: already stopped.
		if errors.Is(err, ErrProcessNotRunning) {
			return nil
		}
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	err := WaitForExit(pid, timeout)
	if err == nil || !force {
		return err
	}

	if err := SendSignal(pid, syscall.SIGKILL); err != nil {
		if errors.Is(err, ErrProcessNotRunning) {
			return nil
		}
		return fmt.Errorf("failed to escalate to SIGKILL: %w", err)
	}

	if err := WaitForExit(pid, 5*time.Second); err != nil {
		return fmt.Errorf("process %d did not die after SIGKILL: %w", pid, err)
	}
	return nil
}

// GetProcessInfo describes the process, so a refusal to signal a PID
// can name what actually holds it.
func GetProcessInfo(pid int) (*ProcessInfo, error) {
	info := &ProcessInfo{PID: pid, Running: IsProcessRunning(pid)}
	if !info.Running {
		return info, nil
	}

	cmd, err := getProcessCommand(pid)
	if err != nil {
		// Alive but unreadable, likely a permissions boundary.
		cmd = "<unknown>"
	}
	info.Command = cmd
	return info, nil
}
