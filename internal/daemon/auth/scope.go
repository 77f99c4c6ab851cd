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

package auth

import "strings"

// MatchesScope checks if a user's scopes allow the named power command.
// Returns true if the user has access, false otherwise.
//
// Matching rules:
//   - Empty user scopes (admin tokens): every command is allowed
//   - Exact match: scope "reboot" matches command "reboot"
//   - Wildcard suffix: scope "re*" matches commands "reboot", "reset", etc.
func MatchesScope(userScopes []string, command string) bool {
	// Empty scopes means full access (admin token)
	if len(userScopes) == 0 {
		return true
	}

	// Check each user scope for a match
	for _, scope := range userScopes {
		if matchesScopePattern(scope, command) {
			return true
		}
	}

	return false
}

// matchesScopePattern checks if a single scope pattern matches a command name.
func matchesScopePattern(pattern, name string) bool {
	// Exact match
	if pattern == name {
		return true
	}

	// Wildcard suffix match (e.g., "re*" matches "reboot")
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(name, prefix)
	}

	return false
}
