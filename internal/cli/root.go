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

// Package cli holds the root Cobra command, the global flags shared by
// every subcommand, and the exit-code plumbing that maps run outcomes
// to shell-visible codes.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mortem-dev/mortem/internal/log"
)

// NewRootCommand creates the root Cobra command for mortem.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mortem",
		Short: "Mortem - automated post-mortem debugging of memory errors",
		Long: `Mortem runs a target program under a memory checker, catches each
reported memory error, and drives a debugger session against the
stopped process to capture the stack, locals, and surrounding state.
Each error becomes a rendered post-mortem report.

Run 'mortem setup' to write a starter configuration.
Run 'mortem run -- <target> [args...]' to debug a program.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return configureLogging()
		},
	}

	addGlobalFlags(cmd)

	return cmd
}

// configureLogging builds the default logger from the environment and
// the global flags. Flags win over the MORTEM_LOG_* variables.
func configureLogging() error {
	cfg := log.FromEnv()

	if verboseFlag {
		cfg.Level = "debug"
	}
	if quietFlag {
		cfg.Level = "error"
	}

	switch log.Format(logFormatFlag) {
	case "":
		// Keep whatever the environment selected.
	case log.FormatText, log.FormatJSON:
		cfg.Format = log.Format(logFormatFlag)
	default:
		return NewConfigError(fmt.Sprintf("invalid log format %q (expected text or json)", logFormatFlag), nil)
	}

	slog.SetDefault(log.New(cfg))
	return nil
}
