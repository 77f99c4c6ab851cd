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

/*
Package client provides an HTTP client for the powerd daemon API.

This package lets powerctl and other tools talk to the daemon over its
REST API. It supports both Unix socket and TCP connections.

# Basic Usage

Create a client and make requests:

	c, err := client.New()
	if err != nil {
	    log.Fatal(err)
	}

	// Request a shutdown
	tr, err := c.Start(ctx, "shutdown", "scheduled maintenance")

	// Watch the daemon status
	status, err := c.Status(ctx)

	// Read the transition journal
	entries, err := c.ListTransitions(ctx, client.ListOptions{
	    Outcome: "interrupted",
	})

# Connection Options

Configure the client with options:

	// Use bearer token authentication
	c, _ := client.New(client.WithToken("my-token"))

	// Use custom transport (e.g., for testing)
	c, _ := client.New(client.WithTransport(customTransport))

	// Use custom HTTP client
	c, _ := client.New(client.WithHTTPClient(httpClient))

# Transport

The default transport connects via Unix socket:

	/run/powerd/powerd.sock            (running as root)
	$XDG_RUNTIME_DIR/powerd/powerd.sock
	~/.powerd/powerd.sock              (fallback)

Override with the POWERD_HOST environment variable:

	export POWERD_HOST=tcp://node7:9030

For remote daemons the bearer token resolves through the secret
backends: POWERD_TOKEN, the keyring, or the encrypted file store under
the key "token/<addr>".

# API Methods

The client provides methods matching the daemon's REST API:

  - Start: Request a power transition
  - Active: Get the running transition, if any
  - GetTransition: Get a journal entry by ID
  - ListTransitions: List journal entries with optional filtering
  - Status: Get the daemon status report
  - Services: List supervised services
  - ReloadServices: Reconcile services against the unit directory
  - Health: Check daemon health
  - Version: Get daemon version info
*/
package client
