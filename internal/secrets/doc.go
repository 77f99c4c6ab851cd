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
Package secrets stores the credentials powerd and powerctl need for the
remote API: the daemon's JWT signing secret and per-host bearer tokens.

Secrets resolve through a priority-ordered chain of backends:

	env      - Environment variables (POWERD_SECRET_*), read-only
	keychain - OS keychain (macOS Keychain, Linux Secret Service)
	file     - AES-256-GCM encrypted file (headless hosts)

Create a resolver and fetch a token:

	resolver := secrets.NewResolver(
	    secrets.NewEnvBackend(),
	    secrets.NewKeychainBackend(),
	    fileBackend,
	)
	token, err := resolver.Get(ctx, "token/node-7")

The env backend is checked first so CI and containers can override
stored values:

	export POWERD_SECRET_JWT_SECRET=...
	export POWERD_TOKEN=...          # alias for token keys

The file backend encrypts with a key derived via Argon2id from a master
key, resolved from POWERD_MASTER_KEY or ~/.config/powerd/master.key.
On hosts without a keychain service the keychain backend reports itself
unavailable and the chain falls through to the file backend.
*/
package secrets
