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

//go:build !linux

package platform

import (
	"fmt"
	"log/slog"

	"github.com/tombee/powerd/pkg/errors"
)

// Non-Linux hosts can build and exercise the daemon wiring but cannot
// drive real power mechanisms.

func acpiSupported() bool { return false }

func acpiReboot() error {
	return &errors.MechanismError{Mechanism: "acpi", Action: "reboot", Cause: errUnsupported("acpi reset")}
}

func archReboot(*slog.Logger) error {
	return &errors.MechanismError{Mechanism: "architecture", Action: "reboot", Cause: errUnsupported("reboot")}
}

func archPowerOff(*slog.Logger) error {
	return &errors.MechanismError{Mechanism: "architecture", Action: "power_off", Cause: errUnsupported("power off")}
}

func archHalt(logger *slog.Logger) {
	logger.Error("halt requested on an unsupported platform, holding forever")
	select {}
}

func elevatePriority(*slog.Logger) {}

func errUnsupported(what string) error {
	return fmt.Errorf("%s is only supported on linux", what)
}
