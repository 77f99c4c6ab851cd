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

package shared

import (
	"fmt"
	"os"

	"github.com/tombee/powerd/internal/client"
)

// NewClient creates a daemon client honoring the --host flag, falling
// back to POWERD_HOST and the default socket.
func NewClient() (*client.Client, error) {
	if host := GetHost(); host != "" {
		return client.FromHost(host)
	}
	return client.FromEnvironment()
}

// ExitDaemonNotRunning prints connection guidance and exits with the
// daemon-unavailable code. Commands call it after client.IsDaemonNotRunning
// matches so scripts get a stable exit status.
func ExitDaemonNotRunning() {
	dnr := &client.DaemonNotRunningError{}
	fmt.Fprintln(os.Stderr, dnr.Guidance())
	os.Exit(ExitDaemonUnavailable)
}
