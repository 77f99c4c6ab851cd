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

// Package transition implements the shutdown and reboot commands.
package transition

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/tombee/powerd/internal/cli/prompt"
	"github.com/tombee/powerd/internal/client"
	"github.com/tombee/powerd/internal/commands/shared"
)

// powerCommand describes one of the two power transition commands.
// Shutdown and reboot share everything except the dispatched command
// and the words shown to the operator.
type powerCommand struct {
	use     string
	short   string
	long    string
	command string // command name on the wire
	confirm string // confirmation prompt
	title   string // leading word for human output
}

// options carries the parsed flags for a transition request.
type options struct {
	command string
	title   string
	confirm string
	reason  string
	now     bool
	wait    bool
}

// NewShutdownCommand creates the shutdown command
func NewShutdownCommand() *cobra.Command {
	return newPowerCommand(powerCommand{
		use:   "shutdown",
		short: "Power the machine off",
		long: `Shutdown asks powerd to take the machine down in order: supervised
services stop first, user processes are terminated before system processes,
managed filesystems are quiesced and unmounted, and the final power-off is
dispatched through ACPI. Every phase lands in the transition journal.

The daemon runs one transition at a time. If one is already in flight the
request is rejected; watch it with 'powerctl status'.

Examples:
  powerctl shutdown                                Confirm, then shut down
  powerctl shutdown --now                          No confirmation prompt
  powerctl shutdown --now --reason "disk swap"     Record a reason in the journal
  powerctl shutdown --now --wait                   Follow phases until the halt`,
		command: "shutdown",
		confirm: "Shut down the machine?",
		title:   "Shutdown",
	})
}

// NewRebootCommand creates the reboot command
func NewRebootCommand() *cobra.Command {
	return newPowerCommand(powerCommand{
		use:   "reboot",
		short: "Restart the machine",
		long: `Reboot runs the same orderly teardown as shutdown and then dispatches
a restart instead of a power-off: services stop, user processes drain before
system processes, managed filesystems are quiesced and unmounted, and every
phase lands in the transition journal.

Examples:
  powerctl reboot                                  Confirm, then reboot
  powerctl reboot --now --reason "kernel upgrade"
  powerctl reboot --now --wait                     Follow phases until the restart`,
		command: "reboot",
		confirm: "Reboot the machine?",
		title:   "Reboot",
	})
}

func newPowerCommand(pc powerCommand) *cobra.Command {
	var (
		reason string
		now    bool
		wait   bool
	)

	cmd := &cobra.Command{
		Use:   pc.use,
		Short: pc.short,
		Long:  pc.long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompter := prompt.NewSurveyPrompter(!shared.IsNonInteractive())
			return runTransition(cmd, prompter, options{
				command: pc.command,
				title:   pc.title,
				confirm: pc.confirm,
				reason:  reason,
				now:     now,
				wait:    wait,
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the transition journal")
	cmd.Flags().BoolVar(&now, "now", false, "Skip the confirmation prompt")
	cmd.Flags().BoolVar(&wait, "wait", false, "Follow the transition phases until the machine goes down")

	return cmd
}

// runTransition confirms, submits, and optionally follows a transition.
// The prompter is passed in so tests can script the confirmation.
func runTransition(cmd *cobra.Command, prompter prompt.Prompter, opts options) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if !opts.now {
		if !prompter.IsInteractive() {
			return shared.NewFailureError(
				fmt.Sprintf("refusing to %s without confirmation in non-interactive mode (pass --now)", opts.command), nil)
		}
		confirmed, err := prompter.Confirm(ctx, opts.confirm, false)
		if err != nil {
			return shared.NewFailureError("confirmation failed", err)
		}
		if !confirmed {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	c, err := shared.NewClient()
	if err != nil {
		return shared.NewFailureError("failed to create daemon client", err)
	}

	tr, err := c.Start(ctx, opts.command, opts.reason)
	if err != nil {
		if client.IsDaemonNotRunning(err) {
			shared.ExitDaemonNotRunning()
		}
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode == http.StatusConflict {
				return shared.NewBadRequestError("a power transition is already in flight", err)
			}
			return shared.NewBadRequestError(fmt.Sprintf("daemon rejected the %s request", opts.command), err)
		}
		return shared.NewFailureError(fmt.Sprintf("failed to request %s", opts.command), err)
	}

	if shared.GetJSON() {
		resp := transitionResponse{
			JSONResponse: shared.NewJSONResponse(opts.command),
			Transition:   tr,
		}
		if err := shared.EmitJSON(resp); err != nil {
			return err
		}
		if opts.wait {
			// Progress stays off stdout so the envelope above remains
			// the command's only JSON output.
			return followTransition(ctx, c, tr, true)
		}
		return nil
	}

	fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("%s started (transition %s)", opts.title, tr.ID)))

	if opts.wait {
		return followTransition(ctx, c, tr, false)
	}

	fmt.Fprintln(out, "Follow it with 'powerctl status', or rerun with --wait.")
	return nil
}

// transitionResponse is the JSON envelope for a submitted transition.
type transitionResponse struct {
	shared.JSONResponse
	Transition *client.Transition `json:"transition"`
}
