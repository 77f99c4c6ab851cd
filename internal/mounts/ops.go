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

package mounts

// Ops performs the real filesystem operations behind the managed mount
// table. Production uses the Linux syscalls; tests inject a recorder.
type Ops interface {
	// Probe reports whether path is currently a mount point.
	Probe(path string) (bool, error)

	// RemountReadOnly remounts path read-only, stopping new mutations.
	RemountReadOnly(path string) error

	// Sync flushes all dirty pages system-wide.
	Sync()

	// SyncFS flushes dirty pages belonging to the filesystem mounted at
	// path.
	SyncFS(path string) error

	// Unmount detaches the filesystem mounted at path. Busy mounts
	// return an error.
	Unmount(path string) error
}
