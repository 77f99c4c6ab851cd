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

package power

import (
	"fmt"
	"log/slog"
)

// dispatcher drives the platform power mechanisms in fallback order. A
// mechanism that works does not return control; reaching the end of a
// chain means every mechanism failed and the machine halts where it is.
type dispatcher struct {
	platform Platform
	logger   *slog.Logger
}

// reboot attempts ACPI reboot when available, then the architecture
// mechanism, then falls through to the terminal halt.
func (d *dispatcher) reboot() Outcome {
	if d.platform.ACPIEnabled() {
		d.logger.Info("attempting reboot via acpi")
		err := d.platform.ACPIReboot()
		recordMechanism("acpi", "reboot", err)
		if err != nil {
			d.logger.Warn("acpi reboot failed", "error", err)
		}
	}

	d.logger.Info("attempting reboot via architecture mechanism")
	err := d.platform.Reboot()
	recordMechanism("arch", "reboot", err)
	if err != nil {
		d.logger.Warn("architecture reboot failed", "error", err)
	}

	return d.halt("reboot")
}

// powerOff attempts the architecture power-off, then falls through to the
// terminal halt.
func (d *dispatcher) powerOff() Outcome {
	err := d.platform.PowerOff()
	recordMechanism("arch", "power_off", err)
	if err != nil {
		d.logger.Warn("architecture power-off failed", "error", err)
	}

	return d.halt("shutdown")
}

// halt is the terminal fallback once every mechanism has been tried. The
// operator is told the machine is safe to turn off by hand; on real
// hardware Halt does not return.
func (d *dispatcher) halt(action string) Outcome {
	d.logger.Warn(fmt.Sprintf("%s attempts failed, applications will stop responding", action))
	d.logger.Error(fmt.Sprintf("%s can't be completed, it's safe to turn off the computer manually", action))
	d.platform.Halt()
	return OutcomeHalted
}
