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

package proc

import (
	"errors"
	"fmt"
	"syscall"
	"time"
)

var (
	// ErrProcessNotRunning is returned when the target operating system
	// process does not exist.
	ErrProcessNotRunning = errors.New("process not running")

	// ErrStopTimeout is returned when a process survives its grace
	// period.
	ErrStopTimeout = errors.New("stop timeout exceeded")
)

// Running reports whether an operating system process with the given PID
// exists. It probes with signal 0, which checks existence without
// delivering anything. A negative PID probes the process group as a
// whole.
func Running(osPID int) bool {
	return syscall.Kill(osPID, syscall.Signal(0)) == nil
}

// Signal sends sig to the operating system process. A negative PID
// addresses the process group.
func Signal(osPID int, sig syscall.Signal) error {
	if err := syscall.Kill(osPID, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return ErrProcessNotRunning
		}
		return fmt.Errorf("failed to send signal %v to process %d: %w", sig, osPID, err)
	}
	return nil
}

// WaitExit polls until the process disappears or the timeout elapses.
func WaitExit(osPID int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	interval := 100 * time.Millisecond

	for time.Now().Before(deadline) {
		if !Running(osPID) {
			return nil
		}
		time.Sleep(interval)
	}
	return ErrStopTimeout
}

// Terminate sends SIGTERM and waits up to grace for the process to exit,
// escalating to SIGKILL if it does not. The target's group is addressed
// by passing a negative PID, which is how supervised services are
// stopped so their descendants go with them.
func Terminate(osPID int, grace time.Duration) error {
	if err := Signal(osPID, syscall.SIGTERM); err != nil {
		if errors.Is(err, ErrProcessNotRunning) {
			return nil
		}
		return err
	}

	if err := WaitExit(osPID, grace); err == nil {
		return nil
	}

	escalationsTotal.Inc()
	if err := Signal(osPID, syscall.SIGKILL); err != nil {
		if errors.Is(err, ErrProcessNotRunning) {
			return nil
		}
		return fmt.Errorf("failed to escalate to SIGKILL: %w", err)
	}

	if err := WaitExit(osPID, 5*time.Second); err != nil {
		return fmt.Errorf("process %d did not die after SIGKILL: %w", osPID, err)
	}
	return nil
}
