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

// Package session drives one analysis run: wait for the analysis tool to
// pause the target at an error, attach the debugger, inspect, report, tear
// the debugger down, and repeat until the tool exits.
package session

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mortem-dev/mortem/internal/config"
	"github.com/mortem-dev/mortem/internal/gdb"
	"github.com/mortem-dev/mortem/internal/inspect"
	"github.com/mortem-dev/mortem/internal/log"
	"github.com/mortem-dev/mortem/internal/memcheck"
	"github.com/mortem-dev/mortem/internal/report"
	"github.com/mortem-dev/mortem/internal/stream"
	mortemerrors "github.com/mortem-dev/mortem/pkg/errors"
)

// State is a phase of the controller loop.
type State int

const (
	StateWaiting State = iota
	StateDebugging
	StateInteractive
	StateAutodebug
	StateTeardown
	StateExited
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting_for_trigger"
	case StateDebugging:
		return "debugging"
	case StateInteractive:
		return "interactive"
	case StateAutodebug:
		return "autodebug"
	case StateTeardown:
		return "teardown"
	case StateExited:
		return "exited"
	}
	return "unknown"
}

// AnalysisProcess is the running analysis tool. *memcheck.Process
// implements it.
type AnalysisProcess interface {
	Stderr() *stream.Reader
	PID() int
	Kill() error
	Wait() error
}

// DebugSession is a configured, attachable debugger. *gdb.Session
// implements it. The first two methods satisfy inspect.Driver, so a
// DebugSession can be handed straight to an Inspector.
type DebugSession interface {
	SendAndWait(ctx context.Context, command string, timeout time.Duration) ([]string, error)
	DefaultTimeout() time.Duration
	Configure(ctx context.Context) error
	AttachRemote(ctx context.Context, pid int) error
	Quit(ctx context.Context)
	Lost() bool
}

// InteractiveHandler takes over a connected session for one error instead
// of the automatic stack walk. internal/shell implements it.
type InteractiveHandler interface {
	Debug(ctx context.Context, sess DebugSession, rep *memcheck.ErrorReport, errIndex int) error
}

// Recorder archives emitted report text. internal/history implements it.
type Recorder interface {
	RecordReport(ctx context.Context, errIndex int, message, rendered string) error
}

// Meter counts run events. internal/tracing provides the OTel-backed
// implementation.
type Meter interface {
	ErrorSeen(ctx context.Context)
	SessionStarted(ctx context.Context)
	ReportEmitted(ctx context.Context)
	ReportSuppressed(ctx context.Context)
}

// Stats summarizes one run.
type Stats struct {
	// ErrorsSeen counts attach triggers handled, i.e. errors at or past
	// the configured start index.
	ErrorsSeen int
	// Sessions counts debugger sessions launched.
	Sessions int
	// ReportsEmitted counts reports written to the destinations.
	ReportsEmitted int
	// ReportsSuppressed counts errors withheld as duplicates, by
	// suppression globs, or by the report filter.
	ReportsSuppressed int
	// LinesDropped counts diagnostic lines lost to queue overflow.
	LinesDropped int
}

// Option configures a Controller.
type Option func(*Controller)

// WithInteractive routes each debugged error to h instead of the automatic
// stack walk.
func WithInteractive(h InteractiveHandler) Option {
	return func(c *Controller) { c.interactive = h }
}

// WithRecorder archives every emitted report.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithMeter records run metrics.
func WithMeter(m Meter) Option {
	return func(c *Controller) { c.meter = m }
}

// WithDestinations replaces the default stdout report destination.
func WithDestinations(w ...io.Writer) Option {
	return func(c *Controller) { c.dests = w }
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// Controller owns the analysis process and at most one debugger session at
// a time. Everything runs on the calling goroutine; the only concurrency is
// inside the stream reader and the debugger pipes, so the signature set and
// counters need no locking.
type Controller struct {
	cfg    *config.Config
	target []string

	parser   *memcheck.Parser
	reporter *report.Reporter
	filter   *report.Filter
	capture  *bytes.Buffer
	dests    []io.Writer

	interactive InteractiveHandler
	recorder    Recorder
	meter       Meter
	tracer      trace.Tracer
	logger      *slog.Logger

	launchTool     func(ctx context.Context, cfg config.MemcheckConfig, target []string) (AnalysisProcess, error)
	launchDebugger func(ctx context.Context, cfg config.DebuggerConfig, targetBinary string) (DebugSession, error)

	proc    AnalysisProcess
	sess    DebugSession
	pending []string
	errNum  int
	state   State
	stats   Stats
}

// NewController wires a controller for one run of target (binary plus
// arguments). The report filter is compiled here so an invalid expression
// fails before anything is launched.
func NewController(cfg *config.Config, target []string, opts ...Option) (*Controller, error) {
	filter, err := report.CompileFilter(cfg.Report.Filter)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:     cfg,
		target:  target,
		parser:  memcheck.NewParser(nil),
		filter:  filter,
		capture: &bytes.Buffer{},
		tracer:  otel.Tracer("mortem/session"),
		logger:  log.WithComponent(slog.Default(), "session"),
		errNum:  cfg.Memcheck.FirstError - 1,
		state:   StateWaiting,
		launchTool: func(ctx context.Context, mc config.MemcheckConfig, target []string) (AnalysisProcess, error) {
			return memcheck.Launch(ctx, mc, target)
		},
		launchDebugger: func(ctx context.Context, dc config.DebuggerConfig, bin string) (DebugSession, error) {
			return gdb.Launch(ctx, dc, bin)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.dests) == 0 {
		c.dests = []io.Writer{os.Stdout}
	}
	// The capture buffer rides along as an extra destination so emitted
	// text can be archived per error.
	c.reporter = report.NewReporter(cfg.Report, append(c.dests, c.capture)...)
	return c, nil
}

// State returns the controller's current phase.
func (c *Controller) State() State { return c.state }

// Run launches the analysis tool and drives the state machine until the
// tool's diagnostic stream ends or ctx is canceled. The returned Stats are
// valid even when err is non-nil.
func (c *Controller) Run(ctx context.Context) (Stats, error) {
	proc, err := c.launchTool(ctx, c.cfg.Memcheck, c.target)
	if err != nil {
		return c.stats, err
	}
	c.proc = proc
	c.logger.Info("analysis tool started",
		log.Int("pid", proc.PID()),
		log.String("target", strings.Join(c.target, " ")))

	defer c.shutdown()

	ticker := time.NewTicker(c.cfg.Memcheck.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.stats, mortemerrors.Wrap(ctx.Err(), "run interrupted")
		case <-ticker.C:
		}

		for c.drainToTrigger() {
			if err := c.handleTrigger(ctx); err != nil {
				return c.stats, err
			}
		}
		if c.proc.Stderr().EOF() {
			c.state = StateExited
			return c.stats, nil
		}
	}
}

// drainToTrigger moves available diagnostic lines into the pending window,
// stopping after a line that asks for a debugger attach. Lines past the
// trigger stay queued; they belong to the next error.
func (c *Controller) drainToTrigger() bool {
	for {
		line, ok := c.proc.Stderr().TryNext()
		if !ok {
			return false
		}
		c.pending = append(c.pending, line)
		if memcheck.IsAttachTrigger(line) {
			return true
		}
	}
}

// handleTrigger runs one error through debugging and teardown. Only launch
// and attach failures abort the run; a debugger lost mid-session is logged
// and the next trigger starts fresh.
func (c *Controller) handleTrigger(ctx context.Context) error {
	c.state = StateDebugging
	c.errNum++
	c.stats.ErrorsSeen++
	if c.meter != nil {
		c.meter.ErrorSeen(ctx)
	}

	rep := c.nextReport()
	if rep == nil {
		c.logger.Warn("attach requested but no parseable error block", log.Int("error", c.errNum))
		c.state = StateWaiting
		return nil
	}
	c.logger.Info("error detected",
		log.Int("error", c.errNum),
		log.String("message", rep.Message),
		log.Int("stack_depth", len(rep.Stack)))

	keep, err := c.filter.Match(rep.Message, c.errNum)
	if err != nil {
		c.logger.Warn("filter evaluation failed, error skipped", log.Error(err))
	}
	if !keep {
		c.stats.ReportsSuppressed++
		if c.meter != nil {
			c.meter.ReportSuppressed(ctx)
		}
		c.logger.Info("report suppressed (filter)", log.Int("error", c.errNum))
		c.state = StateWaiting
		return nil
	}

	if err := c.attach(ctx); err != nil {
		return err
	}
	c.debug(ctx, rep)
	c.teardown(ctx)
	c.state = StateWaiting
	return nil
}

// nextReport parses pending lines down to the error the target is paused
// at. Earlier complete blocks in the window are errors below the start
// index; the tool reported them without pausing, so they are discarded
// here.
func (c *Controller) nextReport() *memcheck.ErrorReport {
	var rep *memcheck.ErrorReport
	for len(c.pending) > 0 {
		r, consumed := c.parser.Parse(c.pending)
		c.pending = trimConsumed(c.pending, consumed)
		if r == nil {
			break
		}
		if rep != nil {
			c.logger.Debug("earlier error block discarded",
				log.String("message", rep.Message))
		}
		rep = r
		if consumed == 0 {
			break
		}
	}
	return rep
}

// attach launches and connects a fresh debugger session. The previous
// session, if any, was torn down after the previous error.
func (c *Controller) attach(ctx context.Context) error {
	sessionID := uuid.NewString()
	logger := log.WithSessionContext(c.logger, sessionID, c.proc.PID())

	sess, err := c.launchDebugger(ctx, c.cfg.Debugger, c.target[0])
	if err != nil {
		return err
	}
	c.sess = sess
	c.stats.Sessions++
	if c.meter != nil {
		c.meter.SessionStarted(ctx)
	}

	if err := sess.Configure(ctx); err != nil {
		logger.Error("debugger configuration failed", log.Error(err))
		c.teardown(ctx)
		return nil
	}
	if err := sess.AttachRemote(ctx, c.proc.PID()); err != nil {
		c.teardown(ctx)
		var attachErr *mortemerrors.AttachError
		if mortemerrors.As(err, &attachErr) {
			// The target never answered the probe. Nothing later in
			// this run would fare better.
			return err
		}
		logger.Error("debugger attach failed", log.Error(err))
		return nil
	}
	logger.Info("debug session established")
	return nil
}

// debug inspects the paused target for one error. In interactive mode the
// handler owns the session until it returns; otherwise the stack is walked
// and the report emitted.
func (c *Controller) debug(ctx context.Context, rep *memcheck.ErrorReport) {
	if c.sess == nil {
		return
	}
	if c.interactive != nil {
		c.state = StateInteractive
		if err := c.interactive.Debug(ctx, c.sess, rep, c.errNum); err != nil {
			c.logger.Error("interactive session failed", log.Error(err))
		}
		return
	}

	c.state = StateAutodebug
	ctx, span := c.tracer.Start(ctx, "session.autodebug", trace.WithAttributes(
		attribute.Int("error.index", c.errNum),
		attribute.String("error.message", rep.Message),
	))
	defer span.End()

	insp := inspect.NewInspector(c.sess, c.cfg.Debugger.DisplayWidth)
	frames, err := insp.WalkStack(ctx)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("stack walk incomplete",
			log.Int("frames", len(frames)),
			log.Error(err))
	}
	if len(frames) == 0 {
		span.SetStatus(codes.Error, "no frames collected")
		c.logger.Error("no stack frames collected, report skipped", log.Int("error", c.errNum))
		return
	}
	span.SetAttributes(attribute.Int("frames", len(frames)))

	c.capture.Reset()
	if c.reporter.Emit(rep, frames, c.errNum) {
		c.stats.ReportsEmitted++
		if c.meter != nil {
			c.meter.ReportEmitted(ctx)
		}
		if c.recorder != nil {
			if err := c.recorder.RecordReport(ctx, c.errNum, rep.Message, c.capture.String()); err != nil {
				c.logger.Warn("recording report failed", log.Error(err))
			}
		}
	} else {
		c.stats.ReportsSuppressed++
		if c.meter != nil {
			c.meter.ReportSuppressed(ctx)
		}
	}
}

// teardown quits and forgets the debugger session. The target resumes when
// the debugger detaches; the next trigger launches a fresh session.
func (c *Controller) teardown(ctx context.Context) {
	if c.sess == nil {
		return
	}
	c.state = StateTeardown
	c.sess.Quit(ctx)
	c.sess = nil
}

// shutdown kills the analysis process unconditionally and logs the run
// summary. Runs on every exit path, including cancelation.
func (c *Controller) shutdown() {
	ctx := context.Background()
	c.teardown(ctx)
	if err := c.proc.Kill(); err != nil {
		c.logger.Debug("killing analysis process", log.Error(err))
	}
	if err := c.proc.Wait(); err != nil {
		// The tool exits nonzero when it found errors; that is not a
		// run failure.
		c.logger.Debug("analysis process wait", log.Error(err))
	}
	c.stats.LinesDropped = c.proc.Stderr().Dropped()

	c.logger.Info("run finished",
		log.String("state", c.state.String()),
		log.Int("errors_seen", c.stats.ErrorsSeen),
		log.Int("sessions", c.stats.Sessions),
		log.Int("reports_emitted", c.stats.ReportsEmitted),
		log.Int("reports_suppressed", c.stats.ReportsSuppressed),
		log.Int("lines_dropped", c.stats.LinesDropped))
}

func trimConsumed(lines []string, n int) []string {
	if n <= 0 {
		return lines
	}
	if n >= len(lines) {
		return nil
	}
	rest := make([]string, len(lines)-n)
	copy(rest, lines[n:])
	return rest
}
