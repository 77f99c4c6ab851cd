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

package completion

import (
	"context"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/powerd/internal/client"
	"github.com/tombee/powerd/internal/commands/shared"
)

const (
	transitionCacheTTL = 2 * time.Second
	daemonTimeout      = 500 * time.Millisecond
	transitionLimit    = 25
)

// transitionCacheEntry holds cached transition completions with expiry.
type transitionCacheEntry struct {
	transitions []transitionInfo
	expiresAt   time.Time
}

// transitionInfo represents a transition ID with a display description.
type transitionInfo struct {
	id          string
	description string
}

var (
	transitionCache   *transitionCacheEntry
	transitionCacheMu sync.RWMutex
)

// CompleteTransitionIDs provides dynamic completion for journal entry IDs.
// Queries the daemon for recent transitions and caches results for 2
// seconds so repeated tab presses stay cheap. Returns IDs with the
// command and outcome as descriptions.
func CompleteTransitionIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		transitions, err := getTransitionCompletions()
		if err != nil || len(transitions) == 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		completions := make([]string, 0, len(transitions))
		for _, tr := range transitions {
			// Format: "id\tcommand (outcome)"
			completions = append(completions, tr.id+"\t"+tr.description)
		}

		return completions, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompletePowerCommands completes the two power commands.
func CompletePowerCommands(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{"shutdown", "reboot"}, cobra.ShellCompDirectiveNoFileComp
}

// CompleteOutcomes completes journal outcomes.
func CompleteOutcomes(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{
		"pending\tstill in flight, or cut off by a crash",
		"committed\treached dispatch",
		"interrupted\tended before dispatch",
	}, cobra.ShellCompDirectiveNoFileComp
}

// getTransitionCompletions fetches journal completions from the daemon with caching.
func getTransitionCompletions() ([]transitionInfo, error) {
	// Check cache first
	transitionCacheMu.RLock()
	if transitionCache != nil && time.Now().Before(transitionCache.expiresAt) {
		cached := transitionCache.transitions
		transitionCacheMu.RUnlock()
		return cached, nil
	}
	transitionCacheMu.RUnlock()

	// Cache miss - fetch from the daemon
	transitions, err := fetchTransitionsFromDaemon()
	if err != nil {
		return nil, err
	}

	// Update cache
	transitionCacheMu.Lock()
	transitionCache = &transitionCacheEntry{
		transitions: transitions,
		expiresAt:   time.Now().Add(transitionCacheTTL),
	}
	transitionCacheMu.Unlock()

	return transitions, nil
}

// fetchTransitionsFromDaemon queries the daemon for recent journal entries with a timeout.
func fetchTransitionsFromDaemon() ([]transitionInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), daemonTimeout)
	defer cancel()

	c, err := shared.NewClient()
	if err != nil {
		return nil, err
	}

	entries, err := c.ListTransitions(ctx, client.ListOptions{Limit: transitionLimit})
	if err != nil {
		return nil, err
	}

	completions := make([]transitionInfo, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			continue
		}

		description := e.Command
		if e.Outcome != "" {
			if description != "" {
				description += " (" + e.Outcome + ")"
			} else {
				description = e.Outcome
			}
		}

		completions = append(completions, transitionInfo{
			id:          e.ID,
			description: description,
		})
	}

	return completions, nil
}
