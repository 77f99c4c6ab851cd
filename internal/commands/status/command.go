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

// Package status implements the status command.
package status

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/powerd/internal/cli/format"
	"github.com/tombee/powerd/internal/client"
	"github.com/tombee/powerd/internal/commands/shared"
)

// NewCommand creates the status command
func NewCommand() *cobra.Command {
	var jqExpr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and transition status",
		Long: `Status reports the daemon build, its supervised services and managed
mounts, and the transition in flight if there is one.

The --jq flag filters the status document before printing, with the same
expression language as 'powerctl journal --jq':

  powerctl status --jq .services.running
  powerctl status --jq .transition.phase`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, jqExpr)
		},
	}

	cmd.Flags().StringVar(&jqExpr, "jq", "", "Filter the status document with a jq expression")

	return cmd
}

func runStatus(cmd *cobra.Command, jqExpr string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	c, err := shared.NewClient()
	if err != nil {
		return shared.NewFailureError("failed to create daemon client", err)
	}

	st, err := c.Status(ctx)
	if err != nil {
		if client.IsDaemonNotRunning(err) {
			shared.ExitDaemonNotRunning()
		}
		return shared.NewFailureError("failed to read daemon status", err)
	}

	if jqExpr != "" {
		rendered, err := shared.ApplyJQ(ctx, jqExpr, st)
		if err != nil {
			return shared.NewBadRequestError("jq filter failed", err)
		}
		fmt.Fprintln(out, rendered)
		return nil
	}

	if shared.GetJSON() {
		return shared.EmitJSON(statusResponse{
			JSONResponse: shared.NewJSONResponse("status"),
			Status:       st,
		})
	}

	printStatus(out, st)
	return nil
}

func printStatus(out io.Writer, st *client.Status) {
	fmt.Fprintf(out, "Daemon:          %s %s\n", st.Name, st.Version)
	fmt.Fprintf(out, "Uptime:          %s\n", format.Ago(st.UptimeSeconds))
	fmt.Fprintf(out, "Services:        %d/%d running\n", st.Services.Running, st.Services.Total)
	fmt.Fprintf(out, "Mounts:          %d managed\n", st.Mounts)

	// Once armed, system process records may be terminated; that never
	// resets within a daemon lifetime.
	if st.ShutdownAuthorized {
		fmt.Fprintf(out, "Shutdown armed:  %s\n", shared.StatusWarn.Render("yes"))
	} else {
		fmt.Fprintf(out, "Shutdown armed:  no\n")
	}

	if st.Transition == nil {
		fmt.Fprintf(out, "Transition:      none\n")
		return
	}

	tr := st.Transition
	fmt.Fprintf(out, "Transition:      %s (%s)\n", tr.Command, tr.ID)
	fmt.Fprintf(out, "  Phase:         %s\n", tr.Phase)
	if tr.Requester != "" {
		fmt.Fprintf(out, "  Requester:     %s\n", tr.Requester)
	}
	fmt.Fprintf(out, "  Started:       %s ago\n", format.Ago(int64(time.Since(tr.StartedAt).Seconds())))
}

// statusResponse is the JSON envelope for the status command.
type statusResponse struct {
	shared.JSONResponse
	Status *client.Status `json:"status"`
}
