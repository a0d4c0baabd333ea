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
	"os"

	"github.com/spf13/cobra"

	"github.com/mortem-dev/mortem/internal/cli"
	"github.com/mortem-dev/mortem/internal/config"
)

// CheckFilePermissions verifies that a file has secure permissions (mode <= 0600).
// Returns true if permissions are acceptable, false if too permissive.
func CheckFilePermissions(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		// If file doesn't exist or can't be accessed, consider it secure
		// (completion will fail gracefully anyway)
		return true
	}

	// Check if file mode is more permissive than 0600
	// We only care about the permission bits (last 9 bits)
	mode := info.Mode().Perm()
	return mode <= 0600
}

// LoadConfigForCompletion loads the mortem configuration with permission validation.
// Returns nil config and nil error when completion should silently skip.
// A fresh install with no config file yields the built-in defaults, which
// still point at the default history database.
func LoadConfigForCompletion() (*config.Config, error) {
	configPath := cli.ConfigFlag()
	if configPath == "" {
		configPath = os.Getenv("MORTEM_CONFIG")
	}
	if configPath == "" {
		// Use default config path
		var err error
		configPath, err = config.ConfigPath()
		if err != nil {
			return nil, err
		}
	}

	if _, err := os.Stat(configPath); err != nil {
		return config.Default(), nil
	}

	// Validate permissions before loading
	if !CheckFilePermissions(configPath) {
		// Silent failure - return nil to indicate completion should be skipped
		return nil, nil
	}

	return config.Load(configPath)
}

// SafeCompletionWrapper wraps a completion function with panic recovery.
// Returns empty completion list on panic or error.
func SafeCompletionWrapper(fn func() ([]string, cobra.ShellCompDirective)) (results []string, directive cobra.ShellCompDirective) {
	// Set defaults for panic recovery
	results = []string{}
	directive = cobra.ShellCompDirectiveNoFileComp

	defer func() {
		if r := recover(); r != nil {
			// Panic recovery - return empty completion (already set above)
			results = []string{}
			directive = cobra.ShellCompDirectiveNoFileComp
		}
	}()

	// Execute the completion function
	results, directive = fn()
	if results == nil {
		return []string{}, cobra.ShellCompDirectiveNoFileComp
	}
	return results, directive
}
