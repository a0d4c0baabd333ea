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

// Package run implements `mortem run`: launch the target under the
// memory checker, debug each reported error, and render post-mortem
// reports.
package run

import (
	"github.com/spf13/cobra"

	"github.com/mortem-dev/mortem/internal/commands/completion"
)

// options carries the run flags.
type options struct {
	first       int
	timeout     int
	interactive bool
	outputs     []string
	setupCmds   []string
	filter      string
	suppress    []string
	watch       bool
	metricsAddr string
	noHistory   bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "run [flags] -- <target> [args...]",
		Short: "Debug a program's memory errors as they happen",
		Long: `Run launches the target under the configured memory checker and pauses
it at each reported memory error. A debugger session is opened against
the paused process to capture the stack frame by frame, with local
variables and the source lines around each call site. Every error
becomes a rendered report.

Reports go to stdout; --output adds further destinations.

Modes:
  --interactive  Open a debugger shell at each error instead of the
                 automatic stack walk.
  --watch        Stay resident and re-run the target every time its
                 binary is rebuilt. Ctrl-C exits.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd.Context(), opts, args)
		},
	}

	// Flag parsing stops at the first positional argument, so target
	// flags pass through without quoting.
	cmd.Flags().SetInterspersed(false)

	cmd.Flags().IntVar(&opts.first, "first", 0, "Start debugging at the Nth detected error (1-based, overrides config)")
	cmd.Flags().IntVar(&opts.timeout, "timeout", 0, "Abort the run after this many seconds")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "Open an interactive debugger shell at each error")
	cmd.Flags().StringArrayVarP(&opts.outputs, "output", "o", nil, "Additional report destination: a file path, 'stdout', or 'stderr' (repeatable)")
	cmd.Flags().StringArrayVar(&opts.setupCmds, "setup-cmd", nil, "Debugger command to run after each attach (repeatable)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Only report errors matching this expression (fields: message, index)")
	cmd.Flags().StringArrayVar(&opts.suppress, "suppress", nil, "Suppress errors whose source frames all match this glob (repeatable)")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Re-run the target whenever its binary is rebuilt")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address for the duration of the run")
	cmd.Flags().BoolVar(&opts.noHistory, "no-history", false, "Don't record this run in the history database")

	cmd.RegisterFlagCompletionFunc("output", completion.CompleteReportDestinations)

	return cmd
}
