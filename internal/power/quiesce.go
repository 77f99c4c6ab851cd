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
	"log/slog"

	"github.com/tombee/powerd/internal/log"
)

// quiescer brings the filesystem layer to rest: lock, sync, and tear down
// the managed mount table.
type quiescer struct {
	fs     Filesystems
	logger *slog.Logger
}

// quiesce locks every filesystem against new mutations and flushes
// pending writes to stable storage.
func (q *quiescer) quiesce() {
	q.logger.Info("locking all filesystems")
	q.fs.LockAll()
	q.logger.Info("syncing mounted filesystems")
	q.fs.Sync()
}

// unmountSweep tears down the mount table to a fixpoint. Each pass takes a
// fresh snapshot and walks it newest mount first, so children detach
// before the mounts they sit on. A mount that fails is left for the next
// pass; the sweep ends when a whole pass makes no progress. Unmount
// failures never abort the transition.
func (q *quiescer) unmountSweep() {
	q.logger.Info("unmounting all filesystems")

	progress := true
	for progress {
		progress = false

		mounts := q.fs.Mounts()
		unmountPasses.Inc()
		if len(mounts) == 0 {
			break
		}
		remaining := len(mounts)

		for i := len(mounts) - 1; i >= 0; i-- {
			m := mounts[i]
			q.fs.Flush(m)

			err := q.fs.Unmount(m)
			recordUnmount(err)
			if err != nil {
				q.logger.Warn("unmount failed", log.MountKey, m.Path, "error", err)
				// The root filesystem tends to stay busy to the very
				// end. With one mount left the failure is accepted and
				// the shutdown proceeds without it.
				if remaining <= 1 {
					q.logger.Warn("one mount remaining; the root filesystem may not be unmountable at all",
						log.MountKey, m.Path)
				}
			} else {
				progress = true
			}
		}
	}
}
