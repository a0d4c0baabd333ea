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

// Package shell is the interactive debugging REPL. Anything the user types
// passes through to the debugger unchanged; a few local commands render the
// crash report or end the session.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"

	"github.com/mortem-dev/mortem/internal/config"
	"github.com/mortem-dev/mortem/internal/gdb"
	"github.com/mortem-dev/mortem/internal/inspect"
	"github.com/mortem-dev/mortem/internal/log"
	"github.com/mortem-dev/mortem/internal/memcheck"
	"github.com/mortem-dev/mortem/internal/report"
	"github.com/mortem-dev/mortem/internal/session"
	mortemerrors "github.com/mortem-dev/mortem/pkg/errors"
)

const replPrompt = "(mortem) "

// Shell hands each paused error to the user. It satisfies
// session.InteractiveHandler.
type Shell struct {
	cfg      *config.Config
	reporter *report.Reporter
	input    io.Reader
	output   io.Writer
	confirm  func(message string) bool
	logger   *slog.Logger
}

// Option configures a Shell.
type Option func(*Shell)

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(s *Shell) {
		s.input = in
		s.output = out
	}
}

// WithConfirm replaces the survey-backed confirmation prompt.
func WithConfirm(confirm func(message string) bool) Option {
	return func(s *Shell) { s.confirm = confirm }
}

// New builds a shell. Reports requested with the report command are written
// to the shell's output and deduplicated across errors like in automatic
// mode.
func New(cfg *config.Config, opts ...Option) *Shell {
	s := &Shell{
		cfg:     cfg,
		input:   os.Stdin,
		output:  os.Stdout,
		confirm: askConfirm,
		logger:  log.WithComponent(slog.Default(), "shell"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reporter = report.NewReporter(cfg.Report, s.output)
	return s
}

// Debug runs the prompt loop for one paused error. It returns when the user
// quits or input ends; the controller tears the debugger down afterwards,
// which resumes the target.
func (s *Shell) Debug(ctx context.Context, sess session.DebugSession, rep *memcheck.ErrorReport, errIndex int) error {
	fmt.Fprintf(s.output, "\nerror %d: %s\n", errIndex, rep.Message)
	fmt.Fprintln(s.output, "target paused, debugger attached. Local commands: report, quit, help.")
	fmt.Fprintln(s.output)

	reported := false
	scanner := bufio.NewScanner(s.input)
	for {
		fmt.Fprint(s.output, replPrompt)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return mortemerrors.Wrap(err, "reading shell input")
			}
			fmt.Fprintln(s.output)
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "quit", "q", "exit":
			if !reported && !s.confirm(fmt.Sprintf("No report rendered for error %d yet. Resume anyway?", errIndex)) {
				continue
			}
			return nil
		case "report":
			if s.renderReport(ctx, sess, rep, errIndex) {
				reported = true
			}
			continue
		case "help", "h", "?":
			s.showHelp()
			continue
		}

		lines, err := sess.SendAndWait(ctx, line, sess.DefaultTimeout())
		s.print(lines)
		if err != nil {
			if isLost(err) {
				fmt.Fprintln(s.output, "debugger connection lost")
				return err
			}
			fmt.Fprintf(s.output, "(%v)\n", err)
		}
	}
}

// renderReport walks the stack and renders the crash report, then moves the
// debugger back to the innermost frame so the user's context is unchanged.
// Returns whether frames were collected.
func (s *Shell) renderReport(ctx context.Context, sess session.DebugSession, rep *memcheck.ErrorReport, errIndex int) bool {
	insp := inspect.NewInspector(sess, s.cfg.Debugger.DisplayWidth)
	frames, err := insp.WalkStack(ctx)
	if err != nil {
		s.logger.Warn("stack walk incomplete", log.Error(err))
	}
	if len(frames) == 0 {
		fmt.Fprintln(s.output, "no stack frames collected")
		return false
	}
	if !s.reporter.Emit(rep, frames, errIndex) {
		fmt.Fprintln(s.output, "report suppressed (duplicate or path filter)")
	}
	if _, err := sess.SendAndWait(ctx, "frame 0", sess.DefaultTimeout()); isLost(err) {
		fmt.Fprintln(s.output, "debugger connection lost")
	}
	return true
}

// print shows a debugger response with the ready marker stripped.
func (s *Shell) print(lines []string) {
	for _, ln := range lines {
		ln = strings.TrimSuffix(ln, gdb.Prompt)
		if ln == "" {
			continue
		}
		fmt.Fprintln(s.output, ln)
	}
}

func (s *Shell) showHelp() {
	fmt.Fprint(s.output, `
Anything you type goes to the debugger unchanged (bt, info locals, print x).

Local commands:
  report      walk the stack and render the crash report
  quit, q     resume the target and wait for the next error
  help, h, ?  show this message
`)
}

// askConfirm is the survey-backed confirmation used outside tests.
func askConfirm(message string) bool {
	confirmed := false
	prompt := &survey.Confirm{
		Message: message,
		Default: false,
	}
	if err := survey.AskOne(prompt, &confirmed); err != nil {
		return false
	}
	return confirmed
}

func isLost(err error) bool {
	var lost *mortemerrors.ConnectionLostError
	return mortemerrors.As(err, &lost)
}
