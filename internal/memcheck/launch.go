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

package memcheck

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/mortem-dev/mortem/internal/config"
	"github.com/mortem-dev/mortem/internal/stream"
	"github.com/mortem-dev/mortem/pkg/errors"
)

// Process is a running target under the analysis tool. Its stderr carries
// the diagnostic stream and is drained by a background reader so the target
// never blocks on a full pipe.
type Process struct {
	cmd    *exec.Cmd
	stderr *stream.Reader
	logger *slog.Logger
}

// Launch starts the analysis tool around the target command with the
// debugger server enabled. The tool pauses the target at the configured
// first error and at every error after it; the error limit is lifted so
// long runs keep reporting.
func Launch(ctx context.Context, cfg config.MemcheckConfig, target []string) (*Process, error) {
	if len(target) == 0 {
		return nil, &errors.ValidationError{
			Field:      "target",
			Message:    "no target command given",
			Suggestion: "Pass the program to analyze after the flags, e.g. `mortem run -- ./prog args`.",
		}
	}

	cmd := exec.CommandContext(ctx, cfg.Binary, buildArgs(cfg, target)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout

	pipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "creating diagnostic pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, &errors.LaunchError{Tool: "memcheck", Path: cfg.Binary, Cause: err}
	}

	logger := slog.Default().With(
		slog.String("component", "memcheck"),
		slog.Int("pid", cmd.Process.Pid))
	logger.Info("analysis tool started",
		"binary", cfg.Binary,
		"target", strings.Join(target, " "),
		"first_error", cfg.FirstError)

	return &Process{
		cmd:    cmd,
		stderr: stream.NewReader(pipe, stream.WithLogger(logger)),
		logger: logger,
	}, nil
}

func buildArgs(cfg config.MemcheckConfig, target []string) []string {
	args := []string{
		"--vgdb=yes",
		fmt.Sprintf("--vgdb-error=%d", cfg.FirstError),
		"--error-limit=no",
	}
	args = append(args, cfg.ExtraArgs...)
	return append(args, target...)
}

// Stderr returns the reader draining the diagnostic stream.
func (p *Process) Stderr() *stream.Reader {
	return p.stderr
}

// PID returns the process id of the analysis tool, which is also the id the
// debugger's remote helper attaches to.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Kill terminates the process unconditionally. Safe to call after exit; the
// resulting error is reported to the caller but is harmless then.
func (p *Process) Kill() error {
	err := p.cmd.Process.Kill()
	if err != nil {
		p.logger.Debug("kill after exit", "error", err)
	} else {
		p.logger.Info("analysis tool killed")
	}
	return err
}

// Wait reaps the process and returns its exit error, if any.
func (p *Process) Wait() error {
	return p.cmd.Wait()
}
