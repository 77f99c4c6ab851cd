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
	"reflect"
	"strings"
	"testing"

	"github.com/tombee/powerd/pkg/errors"
)

func TestRebootTriesACPIThenArchThenHalts(t *testing.T) {
	platform := &fakePlatform{
		acpiEnabled: true,
		acpiErr:     errors.New("acpi request rejected"),
		rebootErr:   errors.New("reboot syscall failed"),
	}
	logger, buf := testLogger()
	d := &dispatcher{platform: platform, logger: logger}

	outcome := d.reboot()

	if outcome != OutcomeHalted {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeHalted)
	}

	want := []string{"acpi_reboot", "reboot", "halt"}
	if got := platform.callLog(); !reflect.DeepEqual(got, want) {
		t.Errorf("mechanism order = %v, want %v", got, want)
	}

	out := buf.String()
	if !strings.Contains(out, "safe to turn off the computer manually") {
		t.Errorf("expected the manual power-off notice, got:\n%s", out)
	}
}

func TestRebootSkipsACPIWhenDisabled(t *testing.T) {
	platform := &fakePlatform{
		acpiEnabled: false,
		rebootErr:   errors.New("reboot syscall failed"),
	}
	logger, _ := testLogger()
	d := &dispatcher{platform: platform, logger: logger}

	d.reboot()

	want := []string{"reboot", "halt"}
	if got := platform.callLog(); !reflect.DeepEqual(got, want) {
		t.Errorf("mechanism order = %v, want %v", got, want)
	}
}

func TestPowerOffFallsThroughToHalt(t *testing.T) {
	platform := &fakePlatform{
		powerOffErr: errors.New("power-off syscall failed"),
	}
	logger, buf := testLogger()
	d := &dispatcher{platform: platform, logger: logger}

	outcome := d.powerOff()

	if outcome != OutcomeHalted {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeHalted)
	}

	want := []string{"power_off", "halt"}
	if got := platform.callLog(); !reflect.DeepEqual(got, want) {
		t.Errorf("mechanism order = %v, want %v", got, want)
	}

	if !strings.Contains(buf.String(), "shutdown can't be completed") {
		t.Errorf("expected the shutdown failure notice, got:\n%s", buf.String())
	}
}

func TestHaltIsTheTerminalFallbackEvenWithoutErrors(t *testing.T) {
	// A mechanism returning nil still failed to take the machine down,
	// so the dispatcher proceeds to halt regardless.
	platform := &fakePlatform{}
	logger, _ := testLogger()
	d := &dispatcher{platform: platform, logger: logger}

	outcome := d.powerOff()

	if outcome != OutcomeHalted {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeHalted)
	}
	if !platform.wasHalted() {
		t.Error("platform should have been halted")
	}
}
