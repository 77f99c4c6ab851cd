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

//go:build linux

package platform

import (
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/tombee/powerd/internal/log"
	"github.com/tombee/powerd/pkg/errors"
)

// Mockable syscall functions for testing.
var (
	rebootFunc      = syscall.Reboot
	setpriorityFunc = syscall.Setpriority
	runCommand      = func(name string, args ...string) error {
		return exec.Command(name, args...).Run()
	}
	haltHold = func() { select {} }
)

var (
	acpiFirmwarePath = "/sys/firmware/acpi"
	sysrqTriggerPath = "/proc/sysrq-trigger"
)

func acpiSupported() bool {
	info, err := os.Stat(acpiFirmwarePath)
	return err == nil && info.IsDir()
}

// acpiReboot triggers an immediate kernel reset through the sysrq
// interface. Dirty state is already on disk by the time this runs, so
// the unsynced reset is safe.
func acpiReboot() error {
	if err := os.WriteFile(sysrqTriggerPath, []byte("b"), 0); err != nil {
		return &errors.MechanismError{Mechanism: "acpi", Action: "reboot", Cause: err}
	}
	return nil
}

func archReboot(logger *slog.Logger) error {
	err := rebootFunc(syscall.LINUX_REBOOT_CMD_RESTART)
	if err == nil {
		return nil
	}
	logger.Debug("reboot syscall refused", log.Error(err))

	if err := runCommand("systemctl", "reboot", "-i", "--force"); err == nil {
		return nil
	}
	if err := runCommand("shutdown", "-r", "now"); err != nil {
		return &errors.MechanismError{Mechanism: "architecture", Action: "reboot", Cause: err}
	}
	return nil
}

func archPowerOff(logger *slog.Logger) error {
	err := rebootFunc(syscall.LINUX_REBOOT_CMD_POWER_OFF)
	if err == nil {
		return nil
	}
	logger.Debug("power off syscall refused", log.Error(err))

	if err := runCommand("systemctl", "poweroff", "-i", "--force"); err == nil {
		return nil
	}
	if err := runCommand("shutdown", "-h", "now"); err != nil {
		return &errors.MechanismError{Mechanism: "architecture", Action: "power_off", Cause: err}
	}
	return nil
}

// archHalt issues the halt command and then holds the goroutine
// forever. The hold covers both a refused syscall and an in-flight
// fallback reboot racing us.
func archHalt(logger *slog.Logger) {
	if err := rebootFunc(syscall.LINUX_REBOOT_CMD_HALT); err != nil {
		logger.Debug("halt syscall refused", log.Error(err))
	}
	haltHold()
}

func elevatePriority(logger *slog.Logger) {
	if err := setpriorityFunc(syscall.PRIO_PROCESS, 0, -20); err != nil {
		logger.Debug("priority elevation failed", log.Error(err))
	}
}
