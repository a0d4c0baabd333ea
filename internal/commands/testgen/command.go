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

// Package testgen implements `mortem testgen`, a driver that reruns an
// external test generator until the coverage it reports stops growing.
package testgen

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mortem-dev/mortem/internal/cli"
	"github.com/mortem-dev/mortem/internal/log"
)

// options carries the testgen flags.
type options struct {
	tool      string
	coverFile string
	maxIter   int
}

// NewTestgenCommand creates the testgen command.
func NewTestgenCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "testgen --tool <command> --cover-file <path>",
		Short: "Iterate an external test generator until coverage stops growing",
		Long: `Testgen runs an external, typically model-based, test generation tool
in a loop. After each round the coverage file is compared against the
previous round; the loop stops when a round no longer changes it, or
when the round limit is reached.

The tool is run through the shell, so arguments and pipes work:

  mortem testgen --tool 'modeltest --seed corpus/' --cover-file cover.out`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTestgen(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.tool, "tool", "", "Test generation command, run through the shell each round")
	cmd.Flags().StringVar(&opts.coverFile, "cover-file", "", "Coverage file the tool updates")
	cmd.Flags().IntVar(&opts.maxIter, "max-iter", 10, "Round limit")
	cmd.MarkFlagRequired("tool")
	cmd.MarkFlagRequired("cover-file")

	return cmd
}

func runTestgen(cmd *cobra.Command, opts options) error {
	if opts.maxIter < 1 {
		return cli.NewConfigError(fmt.Sprintf("invalid --max-iter %d: must be 1 or higher", opts.maxIter), nil)
	}

	logger := log.WithComponent(slog.Default(), "testgen")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := iterate(ctx, opts, runTool, logger)
	if err != nil {
		return cli.NewRunError("test generation failed", err)
	}

	if res.Converged {
		cmd.Printf("Coverage stable after %d round(s).\n", res.Rounds)
	} else {
		cmd.Printf("Round limit reached after %d round(s); coverage still growing.\n", res.Rounds)
	}
	return nil
}
