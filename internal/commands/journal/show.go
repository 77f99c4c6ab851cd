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

package journal

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/powerd/internal/cli/timeline"
	"github.com/tombee/powerd/internal/client"
	"github.com/tombee/powerd/internal/commands/completion"
	"github.com/tombee/powerd/internal/commands/shared"
)

func newShowCmd() *cobra.Command {
	var jqExpr string

	cmd := &cobra.Command{
		Use:   "show <transition-id>",
		Short: "Show one transition with its phase timeline",
		Long: `Show prints a single journal entry: who asked for it, why, how it
ended, and a timeline of the phases it went through. Phase durations make
slow teardowns visible, like a service that ate most of its stop grace or
an unmount sweep stuck behind a busy filesystem.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteTransitionIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, args[0], jqExpr)
		},
	}

	cmd.Flags().StringVar(&jqExpr, "jq", "", "Filter the entry with a jq expression")

	return cmd
}

func runShow(cmd *cobra.Command, id, jqExpr string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	c, err := shared.NewClient()
	if err != nil {
		return shared.NewFailureError("failed to create daemon client", err)
	}

	entry, err := c.GetTransition(ctx, id)
	if err != nil {
		if client.IsDaemonNotRunning(err) {
			shared.ExitDaemonNotRunning()
		}
		return shared.NewBadRequestError(fmt.Sprintf("failed to fetch transition %s", id), err)
	}

	if jqExpr != "" {
		rendered, err := shared.ApplyJQ(ctx, jqExpr, entry)
		if err != nil {
			return shared.NewBadRequestError("jq filter failed", err)
		}
		fmt.Fprintln(out, rendered)
		return nil
	}

	if shared.GetJSON() {
		return shared.EmitJSON(showResponse{
			JSONResponse: shared.NewJSONResponse("journal show"),
			Entry:        entry,
		})
	}

	printEntry(out, entry)
	return nil
}

func printEntry(out io.Writer, entry *client.JournalEntry) {
	fmt.Fprintf(out, "Transition %s\n", entry.ID)
	fmt.Fprintf(out, "  Command:   %s\n", entry.Command)
	if entry.Requester != "" {
		fmt.Fprintf(out, "  Requester: %s\n", entry.Requester)
	}
	if entry.Reason != "" {
		fmt.Fprintf(out, "  Reason:    %s\n", entry.Reason)
	}
	fmt.Fprintf(out, "  Outcome:   %s\n", shared.RenderOutcome(entry.Outcome))
	fmt.Fprintf(out, "  Started:   %s\n", entry.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if entry.SealedAt != nil {
		total := entry.SealedAt.Sub(entry.StartedAt).Round(100 * time.Millisecond)
		fmt.Fprintf(out, "  Sealed:    %s (%s)\n", entry.SealedAt.Local().Format("2006-01-02 15:04:05"), total)
	}
	fmt.Fprintln(out)

	if len(entry.Phases) == 0 {
		fmt.Fprintln(out, "No phases recorded.")
		return
	}

	rendered, err := renderTimeline(entry)
	if err != nil {
		// Narrow terminals get the plain phase list instead.
		printPhases(out, entry.Phases)
		return
	}
	fmt.Fprintln(out, rendered)
}

func renderTimeline(entry *client.JournalEntry) (string, error) {
	r, err := timeline.NewRenderer()
	if err != nil {
		return "", err
	}

	phases := make([]timeline.Phase, len(entry.Phases))
	for i, p := range entry.Phases {
		phases[i] = timeline.Phase{Name: p.Phase, EnteredAt: p.EnteredAt}
	}

	return r.Render(timeline.Entry{
		ID:        entry.ID,
		Command:   entry.Command,
		Outcome:   entry.Outcome,
		StartedAt: entry.StartedAt,
		SealedAt:  entry.SealedAt,
		Phases:    phases,
	})
}

func printPhases(out io.Writer, phases []client.PhaseRecord) {
	fmt.Fprintln(out, "Phases:")
	for _, p := range phases {
		fmt.Fprintf(out, "  %-20s %s\n", p.Phase, p.EnteredAt.Local().Format("15:04:05.000"))
	}
}

// showResponse is the JSON envelope for a single journal entry.
type showResponse struct {
	shared.JSONResponse
	Entry *client.JournalEntry `json:"entry"`
}
