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

// Package inspect walks a live debugger's call stack and extracts per-frame
// debug context: arguments, locals, the surrounding source window, and live
// values for the variable-like tokens found in it.
package inspect

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mortem-dev/mortem/internal/log"
	"github.com/mortem-dev/mortem/pkg/errors"
)

// Driver is the debugger surface the inspector needs. *gdb.Session
// implements it.
type Driver interface {
	SendAndWait(ctx context.Context, command string, timeout time.Duration) ([]string, error)
	DefaultTimeout() time.Duration
}

// FrameInfo is the debug context of one stack frame. Depth is 0 for the
// innermost frame and increases walking outward. Line is -1 when the
// debugger reported no source location. SourceLine is set only when
// HasSource is true; frames without source contribute nothing to report
// signatures.
type FrameInfo struct {
	Depth      int
	File       string
	Line       int
	HasSource  bool
	SourceLine string
	Function   string
	Args       []string
	Locals     []string
	NearbyCode []string
	NearbyVars []string
}

var (
	frameHeadRe  = regexp.MustCompile(`^#(\d+)\s`)
	addrFnRe     = regexp.MustCompile(`0x[0-9A-Fa-f]+ in ([^ (]+) \(`)
	bareFnRe     = regexp.MustCompile(`^#\d+\s+([^ (]+) \(`)
	atFileRe     = regexp.MustCompile(` at ([^ :]+):(\d+)`)
	sourceEchoRe = regexp.MustCompile(`^(\d+)\t(.*)$`)
	printValueRe = regexp.MustCompile(`^\$\d+ = (.*)$`)
)

// Inspector extracts FrameInfo records from an attached debugger session.
type Inspector struct {
	dbg    Driver
	width  int
	logger *slog.Logger
}

// NewInspector returns an Inspector. displayWidth bounds rendered
// name-value pairs; zero or negative disables clipping.
func NewInspector(dbg Driver, displayWidth int) *Inspector {
	return &Inspector{
		dbg:    dbg,
		width:  displayWidth,
		logger: slog.Default().With(slog.String("component", "inspect")),
	}
}

// WalkStack collects the current frame, moves one frame outward, and
// repeats. The debugger clamps at the outermost frame, so the walk stops
// the first time the reported depth fails to increase; the clamped repeat
// is discarded. Frames gathered before a connection loss are returned with
// the error.
func (ins *Inspector) WalkStack(ctx context.Context) ([]FrameInfo, error) {
	var frames []FrameInfo
	last := -1
	for {
		info, err := ins.CollectFrame(ctx)
		if err != nil {
			return frames, err
		}
		if info.Depth <= last {
			break
		}
		frames = append(frames, info)
		last = info.Depth

		if _, err := ins.send(ctx, "up"); isLost(err) {
			return frames, err
		}
	}
	ins.logger.Debug("stack walk finished", "frames", len(frames))
	return frames, nil
}

// CollectFrame produces the FrameInfo for the debugger's current frame.
// Per-command timeouts and truncations leave the affected fields unset and
// collection continues; only a lost connection returns an error.
func (ins *Inspector) CollectFrame(ctx context.Context) (FrameInfo, error) {
	info := FrameInfo{Depth: -1, Line: -1}

	args, err := ins.send(ctx, "info args")
	if isLost(err) {
		return info, err
	}
	info.Args = topLevelPairs(args)

	desc, err := ins.send(ctx, "frame")
	if isLost(err) {
		return info, err
	}
	parseDescription(desc, &info)

	if info.HasSource {
		if err := ins.collectSource(ctx, &info); err != nil {
			return info, err
		}
	}

	log.Trace(ins.logger, "frame collected",
		log.Int("depth", info.Depth),
		log.String("function", info.Function),
		log.Bool("has_source", info.HasSource))
	return info, nil
}

// parseDescription fills depth, function, location and the current source
// line from a `frame` response. The head line carries `#<depth>`, the
// function (preferring the `0x<addr> in <fn> (` form over the bare
// `#<n> <fn> (` form) and an `at <file>:<line>` suffix. A trailing
// `<lineno>\t<text>` echo carries the source text; when the echo is missing
// or its text is just the file name again, only the location is known and
// the frame counts as source-less.
func parseDescription(lines []string, info *FrameInfo) {
	echoText := ""
	echoSeen := false

	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		if info.Depth < 0 && strings.HasPrefix(line, "#") {
			if m := frameHeadRe.FindStringSubmatch(line); m != nil {
				info.Depth, _ = strconv.Atoi(m[1])
			}
			if m := addrFnRe.FindStringSubmatch(line); m != nil {
				info.Function = m[1]
			} else if m := bareFnRe.FindStringSubmatch(line); m != nil {
				info.Function = m[1]
			}
			if m := atFileRe.FindStringSubmatch(line); m != nil {
				info.File = m[1]
				info.Line, _ = strconv.Atoi(m[2])
			}
			continue
		}
		if m := sourceEchoRe.FindStringSubmatch(line); m != nil {
			echoText = m[2]
			echoSeen = true
		}
	}

	if echoSeen && echoText != info.File && echoText != "in "+info.File {
		info.HasSource = true
		info.SourceLine = echoText
	}
}

// collectSource gathers locals, the surrounding source window, and live
// values for the tokens found in that window.
func (ins *Inspector) collectSource(ctx context.Context, info *FrameInfo) error {
	locals, err := ins.send(ctx, "info locals")
	if isLost(err) {
		return err
	}
	info.Locals = dedup(topLevelPairs(locals))

	listing, err := ins.send(ctx, "list")
	if isLost(err) {
		return err
	}
	for _, l := range listing {
		if sourceEchoRe.MatchString(l) {
			info.NearbyCode = append(info.NearbyCode, l)
		}
	}

	hasThis := hasThisArg(info.Args)
	for _, tok := range Tokenize(info.NearbyCode) {
		name := tok
		value, ok, err := ins.evaluate(ctx, tok)
		if err != nil {
			return err
		}
		if !ok && hasThis {
			name = "this->" + tok
			value, ok, err = ins.evaluate(ctx, name)
			if err != nil {
				return err
			}
		}
		if ok {
			info.NearbyVars = append(info.NearbyVars, clip(name+" = "+value, ins.width))
		}
	}
	return nil
}

// evaluate prints expr in the debugger and returns the rendered value. A
// failed evaluation (no `$N = value` line in the response) is not an error;
// only a lost connection is.
func (ins *Inspector) evaluate(ctx context.Context, expr string) (string, bool, error) {
	lines, err := ins.send(ctx, "print "+expr)
	if isLost(err) {
		return "", false, err
	}
	for _, l := range lines {
		if m := printValueRe.FindStringSubmatch(l); m != nil {
			return m[1], true, nil
		}
	}
	return "", false, nil
}

func (ins *Inspector) send(ctx context.Context, command string) ([]string, error) {
	return ins.dbg.SendAndWait(ctx, command, ins.dbg.DefaultTimeout())
}

func isLost(err error) bool {
	var lost *errors.ConnectionLostError
	return errors.As(err, &lost)
}

// topLevelPairs keeps the `name = value` lines, dropping indented
// continuations of multi-line values and any informational text.
func topLevelPairs(lines []string) []string {
	var pairs []string
	for _, l := range lines {
		if strings.HasPrefix(l, " ") || strings.HasPrefix(l, "\t") {
			continue
		}
		if strings.Contains(l, " = ") {
			pairs = append(pairs, l)
		}
	}
	return pairs
}

// hasThisArg reports whether the frame has an argument literally named
// "this", meaning failed evaluations may succeed as member accesses.
func hasThisArg(args []string) bool {
	for _, a := range args {
		if name, _, ok := strings.Cut(a, " = "); ok && name == "this" {
			return true
		}
	}
	return false
}

func dedup(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, item := range items {
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func clip(s string, width int) string {
	if width <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width])
}
