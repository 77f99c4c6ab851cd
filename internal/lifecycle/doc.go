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

/*
Package lifecycle manages powerd process lifecycle operations.

This package provides secure PID file management, process validation,
health polling, and detached spawning. The daemon uses it to claim its
PID file at startup; powerctl uses it to start and stop a background
daemon without systemd.

# PID File Management

PID files are security-sensitive because they decide which process
receives shutdown signals. The manager uses exclusive file locking
(flock) and atomic creation (O_EXCL) to prevent race conditions and
symlink attacks:

	mgr := lifecycle.NewPIDFileManager("/run/powerd/powerd.pid")
	if err := mgr.Acquire(os.Getpid()); err != nil {
	    // Another powerd owns the file, or the location is unsafe.
	}
	defer mgr.Remove()

Acquire replaces files left behind by dead or foreign processes; a file
naming a live powerd fails with ErrAlreadyRunning.

# Process Operations

Signals are sent only to processes that are verifiably powerd, so a
stale PID file can never kill an unrelated process that reused the PID:

	pid, err := mgr.Read()
	if err == nil && lifecycle.IsPowerdProcess(pid) {
	    err = lifecycle.GracefulShutdown(pid, 30*time.Second, false)
	}

# Health Polling

After spawning a daemon, WaitUntilHealthy polls a probe with
exponential backoff until the daemon answers or the timeout expires.
The probe is typically the API client's Health call, so the poll works
over whatever transport the daemon is configured with.

# Spawning

SpawnDetached starts a binary in its own session with output redirected
to a log file, for running powerd in the background from powerctl.
*/
package lifecycle
