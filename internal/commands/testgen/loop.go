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

package testgen

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/mortem-dev/mortem/internal/log"
)

// result summarizes a finished generation loop.
type result struct {
	// Rounds is how many times the tool ran.
	Rounds int
	// Converged reports whether a round left the cover file unchanged.
	Converged bool
	// CoverSize is the cover file size after the last round.
	CoverSize int
}

// iterate drives the tool until the cover file stops changing. The tool
// invocation is injected so tests can script rounds. A cover file that
// doesn't exist yet counts as an empty baseline.
func iterate(ctx context.Context, opts options, run func(ctx context.Context, tool string) error, logger *slog.Logger) (result, error) {
	prev, _ := os.ReadFile(opts.coverFile)

	var res result
	for round := 1; round <= opts.maxIter; round++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		logger.Info("generation round started", log.Int("round", round))
		if err := run(ctx, opts.tool); err != nil {
			return res, fmt.Errorf("round %d: %w", round, err)
		}
		res.Rounds = round

		cur, err := os.ReadFile(opts.coverFile)
		if err != nil {
			return res, fmt.Errorf("round %d: reading cover file: %w", round, err)
		}
		res.CoverSize = len(cur)

		if bytes.Equal(cur, prev) {
			res.Converged = true
			logger.Info("coverage unchanged, stopping", log.Int("rounds", round))
			return res, nil
		}

		logger.Info("coverage changed", log.Int("round", round), log.Int("cover_bytes", len(cur)))
		prev = cur
	}
	return res, nil
}

// runTool invokes the generator through the shell so quoting and pipes
// behave like an interactive invocation.
func runTool(ctx context.Context, tool string) error {
	c := exec.CommandContext(ctx, "sh", "-c", tool)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}
