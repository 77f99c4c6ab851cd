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

// Phase identifies where a transition currently is in its sequence.
// Phases are reported to hooks in order; a transition never moves backwards.
type Phase string

const (
	// PhaseIdle is the state before any transition has been spawned.
	PhaseIdle Phase = "idle"

	// PhaseSpawned means the transition task has started but not yet
	// begun its first teardown step.
	PhaseSpawned Phase = "spawned"

	// PhaseTerminatingUsers means user services are being drained.
	PhaseTerminatingUsers Phase = "terminating_users"

	// PhaseTerminatingSystem means system tasks are being drained.
	// Entered only once every user service is gone.
	PhaseTerminatingSystem Phase = "terminating_system"

	// PhaseFinalizerTeardown means the finalizer itself is being
	// retired, after it has reaped everything else.
	PhaseFinalizerTeardown Phase = "finalizer_teardown"

	// PhaseQuiesce means filesystems are being locked and synced.
	// A shutdown passes through this phase twice.
	PhaseQuiesce Phase = "quiesce"

	// PhaseUnmountSweep means the managed mount table is being torn
	// down, newest mount first, repeating until no pass makes progress.
	PhaseUnmountSweep Phase = "unmount_sweep"

	// PhaseDispatch means the platform power mechanisms are being
	// attempted in fallback order.
	PhaseDispatch Phase = "dispatch"

	// PhaseHalted is terminal. On real hardware it is never observed
	// from inside the process; it exists for harnesses and the journal.
	PhaseHalted Phase = "halted"
)

// String returns the phase name.
func (p Phase) String() string {
	return string(p)
}

// ShutdownPhases returns the phase sequence of a full shutdown in order.
// Quiesce appears twice: once before the unmount sweep and once after it,
// so state dirtied by the sweep itself still reaches stable storage.
func ShutdownPhases() []Phase {
	return []Phase{
		PhaseSpawned,
		PhaseTerminatingUsers,
		PhaseTerminatingSystem,
		PhaseFinalizerTeardown,
		PhaseQuiesce,
		PhaseUnmountSweep,
		PhaseQuiesce,
		PhaseDispatch,
		PhaseHalted,
	}
}

// RebootPhases returns the phase sequence of a reboot in order. Reboot
// deliberately skips every termination phase.
func RebootPhases() []Phase {
	return []Phase{
		PhaseSpawned,
		PhaseQuiesce,
		PhaseDispatch,
		PhaseHalted,
	}
}

// Outcome is the terminal result of a transition task.
type Outcome string

const (
	// OutcomePending is the zero outcome of a transition still running.
	OutcomePending Outcome = ""

	// OutcomeHalted means the transition drove the machine to its halt
	// point. On real hardware control never returns past the halt; test
	// platforms return so the outcome can be observed.
	OutcomeHalted Outcome = "halted"
)
