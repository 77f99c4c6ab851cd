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

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tombee/powerd/internal/daemon"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configPath  = flag.String("config", "", "Path to config file")
		socketPath  = flag.String("socket", "", "Unix socket path")
		tcpAddr     = flag.String("tcp", "", "TCP address to listen on")
		tlsCert     = flag.String("tls-cert", "", "Path to TLS certificate file")
		tlsKey      = flag.String("tls-key", "", "Path to TLS private key file")
		allowRemote = flag.Bool("allow-remote", false, "Allow binding to non-localhost addresses (SECURITY WARNING)")
		journalPath = flag.String("journal", "", "Path to the transition journal database")
		servicesDir = flag.String("services-dir", "", "Directory for service unit files")
		acpiMode    = flag.String("acpi", "", "ACPI reboot path: auto, on, or off")
		pidFile     = flag.String("pid-file", "", "Path to PID file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("powerd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	err := daemon.Run(daemon.RunOptions{
		Version:     version,
		Commit:      commit,
		BuildDate:   buildDate,
		ConfigPath:  *configPath,
		SocketPath:  *socketPath,
		TCPAddr:     *tcpAddr,
		AllowRemote: *allowRemote,
		TLSCert:     *tlsCert,
		TLSKey:      *tlsKey,
		PIDFile:     *pidFile,
		JournalPath: *journalPath,
		ServicesDir: *servicesDir,
		ACPIMode:    *acpiMode,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "powerd: %v\n", err)
		os.Exit(1)
	}
}
