// Copyright 2025 Mortem Authors
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
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	histdb "github.com/mortem-dev/mortem/internal/history"
)

const (
	runCacheTTL       = 2 * time.Second
	storeTimeout      = 500 * time.Millisecond
	maxCompletionRuns = 50
)

// runCacheEntry holds cached run completions with expiry.
type runCacheEntry struct {
	runs      []runInfo
	expiresAt time.Time
}

// runInfo represents a run ID with its description.
type runInfo struct {
	id          string
	description string
}

var (
	runCache   *runCacheEntry
	runCacheMu sync.RWMutex
)

// CompleteRunIDs provides dynamic completion for recorded run IDs.
// Reads recent runs from the history database and caches results for
// 2 seconds so repeated keystrokes don't reopen the database.
// Returns run IDs with the target command line as description.
func CompleteRunIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		runs, err := getRunCompletions()
		if err != nil || len(runs) == 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		completions := make([]string, 0, len(runs))
		for _, r := range runs {
			// Format: "runID\ttarget (outcome)"
			completions = append(completions, r.id+"\t"+r.description)
		}

		return completions, cobra.ShellCompDirectiveNoFileComp
	})
}

// getRunCompletions fetches run completions from the history database with caching.
func getRunCompletions() ([]runInfo, error) {
	// Check cache first
	runCacheMu.RLock()
	if runCache != nil && time.Now().Before(runCache.expiresAt) {
		cached := runCache.runs
		runCacheMu.RUnlock()
		return cached, nil
	}
	runCacheMu.RUnlock()

	// Cache miss - read from the history database
	runs, err := fetchRunsFromStore()
	if err != nil {
		return nil, err
	}

	// Update cache
	runCacheMu.Lock()
	runCache = &runCacheEntry{
		runs:      runs,
		expiresAt: time.Now().Add(runCacheTTL),
	}
	runCacheMu.Unlock()

	return runs, nil
}

// fetchRunsFromStore reads recent runs from the history database with a timeout.
func fetchRunsFromStore() ([]runInfo, error) {
	cfg, err := LoadConfigForCompletion()
	if err != nil || cfg == nil {
		return nil, err
	}

	// Completion must never create the database file as a side effect.
	if _, err := os.Stat(cfg.History.Path); err != nil {
		return nil, nil
	}

	store, err := histdb.Open(cfg.History)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	runs, err := store.ListRuns(ctx, maxCompletionRuns)
	if err != nil {
		return nil, err
	}

	completions := make([]runInfo, 0, len(runs))
	for _, r := range runs {
		if r.ID == "" {
			continue
		}
		completions = append(completions, runInfo{
			id:          r.ID,
			description: describeRun(r),
		})
	}

	return completions, nil
}

// describeRun builds the "target (outcome)" text shown next to each run ID.
func describeRun(r *histdb.Run) string {
	outcome := r.Outcome
	if outcome == "" {
		outcome = "running"
	}

	description := r.Target
	if description != "" {
		return description + " (" + outcome + ")"
	}
	return outcome
}
