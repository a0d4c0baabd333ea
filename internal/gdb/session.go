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

// Package gdb drives an interactive debugger process over its text
// channels. The only framing is the trailing prompt string, so responses
// are delimited by prompt detection with an idle timeout as backstop.
package gdb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mortem-dev/mortem/internal/config"
	"github.com/mortem-dev/mortem/internal/log"
	"github.com/mortem-dev/mortem/pkg/errors"
)

// Prompt is the debugger's ready marker. A complete response ends with it;
// no newline follows.
const Prompt = "(gdb) "

const (
	// paginationMarker appears when the debugger's pager wants a keypress.
	// The pager is answered with a bare newline, bounded by maxPagerRounds
	// so a pathological stream cannot loop forever.
	paginationMarker = "---Type <return> to continue"
	maxPagerRounds   = 32

	quitTimeout = 2 * time.Second
)

// remoteHelper is the analysis tool's attach relay, resolved via PATH by
// the debugger's pipe-exec.
const remoteHelper = "vgdb"

// Session is one spawned debugger process. Two background readers feed raw
// chunks from stdout and stderr into channels that close on EOF; all framing
// happens in SendAndWait. Only one command is ever in flight, so Session is
// not safe for concurrent SendAndWait calls.
type Session struct {
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	stdout       <-chan []byte
	stderr       <-chan []byte
	stderrClosed atomic.Bool
	lost         atomic.Bool
	cfg          config.DebuggerConfig
	logger       *slog.Logger
}

// Launch spawns the debugger. targetBinary, when non-empty, is passed so the
// debugger loads symbols before attach. The startup greeting is drained up
// to the first prompt so later responses frame cleanly.
func Launch(ctx context.Context, cfg config.DebuggerConfig, targetBinary string) (*Session, error) {
	args := []string{"-q"}
	if targetBinary != "" {
		args = append(args, targetBinary)
	}
	cmd := exec.CommandContext(ctx, cfg.Binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "creating debugger stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "creating debugger stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "creating debugger stderr pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, &errors.LaunchError{Tool: "debugger", Path: cfg.Binary, Cause: err}
	}

	logger := slog.Default().With(
		slog.String("component", "gdb"),
		slog.Int("pid", cmd.Process.Pid))
	s := newSession(cmd, stdin, stdout, stderr, cfg, logger)
	logger.Info("debugger started", "binary", cfg.Binary, "target", targetBinary)

	s.drainGreeting(ctx)
	return s, nil
}

// newSession wires a Session from raw pipes. Split from Launch so tests can
// substitute scripted streams for a real process.
func newSession(cmd *exec.Cmd, stdin io.WriteCloser, stdout, stderr io.Reader, cfg config.DebuggerConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "gdb"))
	}
	return &Session{
		cmd:    cmd,
		stdin:  stdin,
		stdout: readChunks(stdout),
		stderr: readChunks(stderr),
		cfg:    cfg,
		logger: logger,
	}
}

// readChunks pumps reads into a channel that closes on EOF. A modest buffer
// absorbs bursts; pipe backpressure is acceptable beyond that because no
// command output is expected while no command is in flight.
func readChunks(r io.Reader) <-chan []byte {
	ch := make(chan []byte, 16)
	go func() {
		defer close(ch)
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				ch <- chunk
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

// drainGreeting consumes the startup banner through the first prompt.
// Without this the first command's response would terminate at the banner's
// prompt and every later exchange would be off by one. Nothing is written
// unless the banner paginates; an unsolicited command here would earn an
// extra prompt and desync framing the other way.
func (s *Session) drainGreeting(ctx context.Context) {
	acc := newAccum(s.cfg.MaxResponseLines)
	for rounds := 0; ; rounds++ {
		reason := s.collect(ctx, acc, s.cfg.CommandTimeout)
		if reason == readPager && rounds < maxPagerRounds {
			if err := s.write(""); err != nil {
				return
			}
			continue
		}
		if reason == readEOF {
			s.lost.Store(true)
		}
		log.Trace(s.logger, "greeting drained",
			log.String("reason", reason.String()),
			log.Int("lines", len(acc.lines())))
		return
	}
}

// SendAndWait writes command and accumulates the response until the prompt
// suffix arrives, the idle timeout passes with no new data, or the line
// limit is hit. Pagination prompts are answered and stripped, so callers
// never see the marker. The returned lines include the final prompt-bearing
// line when one was read.
//
// On timeout or truncation the gathered lines come back with a
// *errors.ProtocolError; callers decide whether a partial response is fatal.
// A closed output channel returns *errors.ConnectionLostError.
func (s *Session) SendAndWait(ctx context.Context, command string, timeout time.Duration) ([]string, error) {
	if s.lost.Load() {
		return nil, &errors.ConnectionLostError{}
	}

	log.LogCommandSent(s.logger, command)
	start := time.Now()
	acc := newAccum(s.cfg.MaxResponseLines)

	lines, err := s.exchange(ctx, acc, command, timeout)
	log.LogCommandResult(s.logger, &log.Exchange{
		Command:    command,
		Lines:      len(lines),
		DurationMs: time.Since(start).Milliseconds(),
		TimedOut:   isIdleTimeout(err),
	}, err)
	return lines, err
}

func (s *Session) exchange(ctx context.Context, acc *accum, command string, timeout time.Duration) ([]string, error) {
	if err := s.write(command); err != nil {
		return acc.lines(), err
	}

	for rounds := 0; ; {
		switch reason := s.collect(ctx, acc, timeout); reason {
		case readPrompt:
			return acc.lines(), nil
		case readPager:
			rounds++
			if rounds > maxPagerRounds {
				return acc.lines(), &errors.ProtocolError{
					Command: command,
					Partial: len(acc.lines()),
					Cause:   fmt.Errorf("pager did not settle after %d rounds", maxPagerRounds),
				}
			}
			// A bare newline advances the pager one page.
			if err := s.write(""); err != nil {
				return acc.lines(), err
			}
		case readTimeout:
			return acc.lines(), &errors.ProtocolError{
				Command: command,
				Partial: len(acc.lines()),
				Cause:   errIdle,
			}
		case readTruncated:
			return acc.lines(), &errors.ProtocolError{
				Command: command,
				Partial: len(acc.lines()),
				Cause:   fmt.Errorf("response exceeded %d lines", s.cfg.MaxResponseLines),
			}
		case readEOF:
			s.lost.Store(true)
			return acc.lines(), &errors.ConnectionLostError{}
		case readCanceled:
			return acc.lines(), errors.Wrap(ctx.Err(), "waiting for debugger response")
		}
	}
}

func (s *Session) write(command string) error {
	if _, err := io.WriteString(s.stdin, command+"\n"); err != nil {
		s.lost.Store(true)
		return &errors.ConnectionLostError{}
	}
	return nil
}

var errIdle = errors.New("no data before idle timeout")

// isIdleTimeout reports whether err is the idle-timeout protocol failure.
func isIdleTimeout(err error) bool {
	var perr *errors.ProtocolError
	return errors.As(err, &perr) && errors.Is(perr.Cause, errIdle)
}

type readReason int

const (
	readPrompt readReason = iota
	readPager
	readTimeout
	readTruncated
	readEOF
	readCanceled
)

func (r readReason) String() string {
	switch r {
	case readPrompt:
		return "prompt"
	case readPager:
		return "pager"
	case readTimeout:
		return "timeout"
	case readTruncated:
		return "truncated"
	case readEOF:
		return "eof"
	default:
		return "canceled"
	}
}

// collect appends stdout chunks to acc until a framing condition fires. The
// timeout is an idle window, reset on every arrival. One stderr chunk is
// drained ahead of each wait so the debugger's own error stream can never
// fill its pipe and stall it.
func (s *Session) collect(ctx context.Context, acc *accum, timeout time.Duration) readReason {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		stderrCh := s.stderr
		if s.stderrClosed.Load() {
			stderrCh = nil
		}
		if stderrCh != nil {
			select {
			case chunk, ok := <-stderrCh:
				s.noteStderr(chunk, ok)
			default:
			}
			if s.stderrClosed.Load() {
				stderrCh = nil
			}
		}

		select {
		case <-ctx.Done():
			return readCanceled
		case <-timer.C:
			return readTimeout
		case chunk, ok := <-stderrCh:
			s.noteStderr(chunk, ok)
		case chunk, ok := <-s.stdout:
			if !ok {
				return readEOF
			}
			acc.add(chunk)
			if acc.endsWithPrompt() {
				return readPrompt
			}
			if acc.tailHasPager() {
				acc.dropTailLine()
				return readPager
			}
			if acc.truncated() {
				return readTruncated
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(timeout)
		}
	}
}

func (s *Session) noteStderr(chunk []byte, ok bool) {
	if !ok {
		s.stderrClosed.Store(true)
		return
	}
	log.Trace(s.logger, "debugger stderr",
		log.String("text", strings.TrimRight(string(chunk), "\n")))
}

// Configure puts the debugger into the mode the exchange protocol relies
// on: confirmations off, all-stop execution, pagination on with a bounded
// page height so the pager marker actually fires, unlimited line width so
// value renderings stay on one line. User setup commands run last.
func (s *Session) Configure(ctx context.Context) error {
	setup := []string{
		"set confirm off",
		"set non-stop off",
		"set pagination on",
		fmt.Sprintf("set height %d", s.cfg.PageHeight),
		"set width 0",
	}
	setup = append(setup, s.cfg.SetupCommands...)

	for _, command := range setup {
		if _, err := s.SendAndWait(ctx, command, s.cfg.CommandTimeout); err != nil {
			return errors.Wrapf(err, "configuring debugger (%s)", command)
		}
	}
	return nil
}

// AttachRemote connects the debugger to the paused target through the
// analysis tool's relay. An empty response within the timeout means nothing
// is listening for us, which is fatal for the run.
func (s *Session) AttachRemote(ctx context.Context, pid int) error {
	command := fmt.Sprintf("target remote | %s --pid=%d", remoteHelper, pid)
	lines, err := s.SendAndWait(ctx, command, s.cfg.CommandTimeout)

	var lostErr *errors.ConnectionLostError
	if errors.As(err, &lostErr) {
		return errors.Wrapf(err, "attaching to pid %d", pid)
	}
	if !hasContent(lines) {
		return &errors.AttachError{PID: pid, Timeout: s.cfg.CommandTimeout}
	}
	s.logger.Info("attached to target", "target_pid", pid)
	return nil
}

// hasContent reports whether lines carry anything beyond blanks and the
// prompt itself.
func hasContent(lines []string) bool {
	for _, l := range lines {
		trimmed := strings.TrimSpace(strings.TrimSuffix(l, Prompt))
		if trimmed != "" {
			return true
		}
	}
	return false
}

// Quit tears the session down: a best-effort quit command, then an
// unconditional kill. Safe to call whatever state the session is in.
func (s *Session) Quit(ctx context.Context) {
	if !s.lost.Load() {
		_, _ = s.SendAndWait(ctx, "quit", quitTimeout)
	}
	_ = s.stdin.Close()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.logger.Info("debugger torn down")
}

// Lost reports whether the debugger's output channel has closed or its
// stdin has broken. A lost session cannot be reused; the controller
// launches a fresh one on the next trigger.
func (s *Session) Lost() bool {
	return s.lost.Load()
}

// DefaultTimeout returns the configured per-command timeout.
func (s *Session) DefaultTimeout() time.Duration {
	return s.cfg.CommandTimeout
}

// PID returns the debugger process id, or zero for a pipe-backed session.
func (s *Session) PID() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// accum gathers raw response bytes and answers the framing questions the
// collect loop asks after every chunk.
type accum struct {
	buf      []byte
	newlines int
	max      int
}

func newAccum(maxLines int) *accum {
	return &accum{max: maxLines}
}

func (a *accum) add(chunk []byte) {
	a.buf = append(a.buf, chunk...)
	a.newlines += bytes.Count(chunk, []byte{'\n'})
}

func (a *accum) endsWithPrompt() bool {
	return bytes.HasSuffix(a.buf, []byte(Prompt))
}

// tailHasPager reports whether the unfinished final line is a pagination
// prompt. The pager writes its marker without a newline and then waits.
func (a *accum) tailHasPager() bool {
	tail := a.buf
	if i := bytes.LastIndexByte(a.buf, '\n'); i >= 0 {
		tail = a.buf[i+1:]
	}
	return bytes.Contains(tail, []byte(paginationMarker))
}

// dropTailLine truncates the unfinished final line.
func (a *accum) dropTailLine() {
	if i := bytes.LastIndexByte(a.buf, '\n'); i >= 0 {
		a.buf = a.buf[:i+1]
	} else {
		a.buf = a.buf[:0]
	}
}

func (a *accum) truncated() bool {
	return a.max > 0 && a.newlines >= a.max
}

// lines splits the accumulated text. The trailing empty fragment after a
// final newline is dropped; any fully received pager line is filtered so
// the marker never reaches a caller.
func (a *accum) lines() []string {
	if len(a.buf) == 0 {
		return nil
	}
	raw := strings.Split(string(a.buf), "\n")
	if raw[len(raw)-1] == "" {
		raw = raw[:len(raw)-1]
	}
	out := raw[:0]
	for _, l := range raw {
		if strings.Contains(l, paginationMarker) {
			continue
		}
		out = append(out, l)
	}
	return out
}
