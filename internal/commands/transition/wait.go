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

package transition

import (
	"context"
	"fmt"
	"time"

	"github.com/tombee/powerd/internal/client"
	"github.com/tombee/powerd/internal/commands/shared"
)

// pollInterval is how often the active transition is re-read while waiting.
const pollInterval = 500 * time.Millisecond

// followTransition polls the daemon and reports phase changes until the
// transition ends. A daemon that stops answering is the normal end of a
// shutdown: the halt finally landed.
func followTransition(ctx context.Context, c *client.Client, tr *client.Transition, quiet bool) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lastPhase := tr.Phase
	if !quiet && lastPhase != "" {
		fmt.Printf("  phase: %s\n", lastPhase)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			active, err := c.Active(ctx)
			if err != nil {
				if client.IsDaemonNotRunning(err) {
					if !quiet {
						fmt.Println("Connection to powerd closed. The machine is going down.")
					}
					return nil
				}
				return shared.NewFailureError("lost track of the transition", err)
			}

			if active == nil || active.ID != tr.ID {
				// Sealed while the daemon is still up: the dispatch
				// failed or something cut the transition short. The
				// journal has the final word.
				return reportSealed(ctx, c, tr.ID, quiet)
			}

			if active.Phase != lastPhase {
				lastPhase = active.Phase
				if !quiet {
					fmt.Printf("  phase: %s\n", lastPhase)
				}
			}
		}
	}
}

// reportSealed fetches the journal entry for a finished transition and
// turns its outcome into an exit status.
func reportSealed(ctx context.Context, c *client.Client, id string, quiet bool) error {
	entry, err := c.GetTransition(ctx, id)
	if err != nil {
		return shared.NewFailureError("transition ended but the journal entry could not be read", err)
	}

	switch entry.Outcome {
	case "committed":
		if !quiet {
			fmt.Println(shared.RenderOK("Transition committed."))
		}
		return nil
	default:
		return shared.NewFailureError(
			fmt.Sprintf("transition %s ended with outcome %q (see 'powerctl journal show %s')", id, entry.Outcome, id), nil)
	}
}
