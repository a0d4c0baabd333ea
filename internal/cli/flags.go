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

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mortem-dev/mortem/internal/config"
)

// Global flag values - set by the root command.
var (
	verboseFlag   bool
	quietFlag     bool
	logFormatFlag string
	configFlag    string

	// Build-time version information
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug output")
	cmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Log output format (text, json)")
	cmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to config file (default: ~/.config/mortem/config.yaml)")
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

// GetVersion returns version information.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// GetVerbose returns the verbose flag value.
func GetVerbose() bool {
	return verboseFlag
}

// GetQuiet returns the quiet flag value.
func GetQuiet() bool {
	return quietFlag
}

// ConfigFlag returns the raw --config flag value, empty when unset.
func ConfigFlag() string {
	return configFlag
}

// ResolveConfigPath picks the config file for this invocation: the
// --config flag, then MORTEM_CONFIG, then the default location. The
// default is returned only when the file exists, so a fresh install
// runs on built-in defaults instead of failing on a missing file.
func ResolveConfigPath() (string, error) {
	if configFlag != "" {
		return configFlag, nil
	}
	if path := os.Getenv("MORTEM_CONFIG"); path != "" {
		return path, nil
	}

	path, err := config.ConfigPath()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		return "", nil
	}
	return path, nil
}

// SetConfigPathForTest sets the config flag for testing purposes.
func SetConfigPathForTest(path string) {
	configFlag = path
}
