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

// Package journal implements the journal command group.
package journal

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/powerd/internal/cli/format"
	"github.com/tombee/powerd/internal/client"
	"github.com/tombee/powerd/internal/commands/completion"
	"github.com/tombee/powerd/internal/commands/shared"
)

// defaultLimit bounds a listing when --limit is not given.
const defaultLimit = 20

// NewCommand creates the journal command group. Without a subcommand it
// lists recent transitions, newest first.
func NewCommand() *cobra.Command {
	var (
		limit   int
		command string
		outcome string
		since   string
		jqExpr  string
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List journaled power transitions",
		Long: `Journal lists the power transitions powerd has recorded, newest first.
Every attempt is journaled, including ones that never reached dispatch; an
entry whose outcome is still pending after a boot belongs to a transition
that was cut off mid-flight.

The --jq flag filters the entry list before printing:

  powerctl journal --jq '.[0].phases'
  powerctl journal --jq 'map(select(.outcome == "interrupted")) | length'

Examples:
  powerctl journal                         Last 20 transitions
  powerctl journal --outcome interrupted   Only transitions that were cut short
  powerctl journal --command reboot        Only reboots
  powerctl journal --since 48h             Transitions of the last two days
  powerctl journal show 0b2f9c1a           One transition with its phase timeline`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, listFlags{
				limit:   limit,
				command: command,
				outcome: outcome,
				since:   since,
				jq:      jqExpr,
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", defaultLimit, "Maximum number of entries")
	cmd.Flags().StringVar(&command, "command", "", "Only shutdown or reboot entries")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Only entries with this outcome (pending, committed, interrupted)")
	cmd.Flags().StringVar(&since, "since", "", "Only entries newer than a duration (48h) or date (2026-08-23)")
	cmd.Flags().StringVar(&jqExpr, "jq", "", "Filter the entry list with a jq expression")

	cmd.RegisterFlagCompletionFunc("command", completion.CompletePowerCommands)
	cmd.RegisterFlagCompletionFunc("outcome", completion.CompleteOutcomes)

	cmd.AddCommand(newShowCmd())

	return cmd
}

type listFlags struct {
	limit   int
	command string
	outcome string
	since   string
	jq      string
}

func runList(cmd *cobra.Command, flags listFlags) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var cutoff time.Time
	if flags.since != "" {
		var err error
		cutoff, err = parseSince(flags.since, time.Now())
		if err != nil {
			return shared.NewBadRequestError("invalid --since value", err)
		}
	}

	c, err := shared.NewClient()
	if err != nil {
		return shared.NewFailureError("failed to create daemon client", err)
	}

	entries, err := c.ListTransitions(ctx, client.ListOptions{
		Command: flags.command,
		Outcome: flags.outcome,
		Limit:   flags.limit,
	})
	if err != nil {
		if client.IsDaemonNotRunning(err) {
			shared.ExitDaemonNotRunning()
		}
		return shared.NewFailureError("failed to list transitions", err)
	}

	if !cutoff.IsZero() {
		entries = filterSince(entries, cutoff)
	}

	if flags.jq != "" {
		rendered, err := shared.ApplyJQ(ctx, flags.jq, entries)
		if err != nil {
			return shared.NewBadRequestError("jq filter failed", err)
		}
		fmt.Fprintln(out, rendered)
		return nil
	}

	if shared.GetJSON() {
		return shared.EmitJSON(journalResponse{
			JSONResponse: shared.NewJSONResponse("journal"),
			Entries:      entries,
		})
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No journaled transitions.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOMMAND\tOUTCOME\tSTARTED\tREASON")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Command, e.Outcome, format.Ago(int64(time.Since(e.StartedAt).Seconds())), e.Reason)
	}
	w.Flush()

	return nil
}

// parseSince turns a --since value into a cutoff time. Durations count
// back from now; dates are taken as local midnight.
func parseSince(value string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(value); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", value, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%q is not a duration (48h), date (2026-08-23), or RFC 3339 timestamp", value)
}

func filterSince(entries []client.JournalEntry, cutoff time.Time) []client.JournalEntry {
	kept := make([]client.JournalEntry, 0, len(entries))
	for _, e := range entries {
		if !e.StartedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

// journalResponse is the JSON envelope for a journal listing.
type journalResponse struct {
	shared.JSONResponse
	Entries []client.JournalEntry `json:"entries"`
}
