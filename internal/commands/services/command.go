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

// Package services implements the services command group.
package services

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/powerd/internal/cli/format"
	"github.com/tombee/powerd/internal/client"
	"github.com/tombee/powerd/internal/commands/shared"
)

// NewCommand creates the services command group. Without a subcommand it
// lists the supervised services.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "List supervised services",
		Long: `Services lists the processes powerd supervises from its unit files.
User services are stopped first during a shutdown; system services live
until the system drain. Protected services (marked with !) refuse to stop
until a shutdown transition authorizes it.

Examples:
  powerctl services            List services and their states
  powerctl services reload     Re-read unit files from the services directory`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd)
		},
	}

	cmd.AddCommand(newReloadCmd())

	return cmd
}

func runList(cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	c, err := shared.NewClient()
	if err != nil {
		return shared.NewFailureError("failed to create daemon client", err)
	}

	svcs, err := c.Services(ctx)
	if err != nil {
		if client.IsDaemonNotRunning(err) {
			shared.ExitDaemonNotRunning()
		}
		return shared.NewFailureError("failed to list services", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(servicesResponse{
			JSONResponse: shared.NewJSONResponse("services"),
			Services:     svcs,
		})
	}

	if len(svcs) == 0 {
		fmt.Fprintln(out, "No supervised services.")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Drop unit files into the services directory and run 'powerctl services reload'.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tSTATE\tPID\tRESTARTS\tSINCE")
	running := 0
	for _, s := range svcs {
		if s.State == "running" {
			running++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", s.Name, formatKind(s), s.State, formatPID(s.OSPID), s.Restarts, formatSince(s.Since))
	}
	w.Flush()

	fmt.Fprintln(out)
	summary := fmt.Sprintf("%d/%d running", running, len(svcs))
	if running == len(svcs) {
		fmt.Fprintln(out, shared.RenderOK(summary))
	} else {
		fmt.Fprintln(out, shared.RenderWarn(summary))
	}

	return nil
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-read service unit files",
		Long: `Reload re-reads the unit files from the services directory. New units
are started, removed units are stopped, and changed units are restarted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			c, err := shared.NewClient()
			if err != nil {
				return shared.NewFailureError("failed to create daemon client", err)
			}

			if err := c.ReloadServices(ctx); err != nil {
				if client.IsDaemonNotRunning(err) {
					shared.ExitDaemonNotRunning()
				}
				return shared.NewFailureError("failed to reload services", err)
			}

			if shared.GetJSON() {
				return shared.EmitJSON(shared.NewJSONResponse("services reload"))
			}

			fmt.Fprintln(out, shared.RenderOK("Service definitions reloaded."))
			return nil
		},
	}
}

func formatPID(pid int) string {
	if pid == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", pid)
}

func formatKind(s client.Service) string {
	kind := s.Kind
	if kind == "" {
		kind = "user"
	}
	if s.Protected {
		kind += "!"
	}
	return kind
}

func formatSince(since time.Time) string {
	if since.IsZero() {
		return "-"
	}
	return format.Ago(int64(time.Since(since).Seconds()))
}

// servicesResponse is the JSON envelope for the services listing.
type servicesResponse struct {
	shared.JSONResponse
	Services []client.Service `json:"services"`
}
