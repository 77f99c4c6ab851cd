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

// Package platform drives the host power mechanisms: firmware-assisted
// reset, the reboot syscall family, init-system fallbacks, and the
// terminal halt. Mechanisms are best-effort; a mechanism that returns
// has failed to take the machine down.
package platform

import (
	"log/slog"

	"github.com/tombee/powerd/internal/log"
)

// Machine is the production power platform.
type Machine struct {
	logger       *slog.Logger
	acpiOverride *bool
}

// Option configures a Machine.
type Option func(*Machine)

// WithACPIOverride forces the ACPI availability probe to the given
// value. Configuration uses this to disable firmware-assisted reboot on
// boards with broken ACPI tables.
func WithACPIOverride(enabled bool) Option {
	return func(m *Machine) { m.acpiOverride = &enabled }
}

// NewMachine creates the host power platform.
func NewMachine(logger *slog.Logger, opts ...Option) *Machine {
	m := &Machine{logger: log.WithComponent(logger, "platform")}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ACPIEnabled reports whether firmware-assisted reboot is available.
func (m *Machine) ACPIEnabled() bool {
	if m.acpiOverride != nil {
		return *m.acpiOverride
	}
	return acpiSupported()
}

// ACPIReboot requests an immediate firmware reset.
func (m *Machine) ACPIReboot() error {
	return acpiReboot()
}

// Reboot restarts the machine through the architecture mechanism, with
// init-system fallbacks when the raw syscall is refused.
func (m *Machine) Reboot() error {
	return archReboot(m.logger)
}

// PowerOff powers the machine down through the architecture mechanism,
// with init-system fallbacks when the raw syscall is refused.
func (m *Machine) PowerOff() error {
	return archPowerOff(m.logger)
}

// Halt stops the machine without powering it off. Halt does not return.
func (m *Machine) Halt() {
	archHalt(m.logger)
}

// ElevatePriority raises the calling thread's scheduling priority so
// the transition keeps running while everything else is torn down.
// Best-effort.
func (m *Machine) ElevatePriority() {
	elevatePriority(m.logger)
}
