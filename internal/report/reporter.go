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

// Package report renders crash reports and suppresses duplicates within a
// run. Two errors are duplicates when their walked stacks produce the same
// signature, regardless of the diagnostic message.
package report

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mortem-dev/mortem/internal/config"
	"github.com/mortem-dev/mortem/internal/inspect"
	"github.com/mortem-dev/mortem/internal/log"
	"github.com/mortem-dev/mortem/internal/memcheck"
)

const ruleWidth = 72

// Reporter writes rendered crash reports to its destinations, once per
// distinct stack signature. Not safe for concurrent use.
type Reporter struct {
	emitted      map[string]struct{}
	suppress     []string
	dests        []io.Writer
	pal          palette
	contextLines int
	logger       *slog.Logger
}

// NewReporter builds a Reporter from config. Every report goes to every
// destination writer.
func NewReporter(cfg config.ReportConfig, dests ...io.Writer) *Reporter {
	return &Reporter{
		emitted:      make(map[string]struct{}),
		suppress:     cfg.SuppressPaths,
		dests:        dests,
		pal:          palette{enabled: colorEnabled(cfg.Color)},
		contextLines: cfg.ContextLines,
		logger:       slog.Default().With(slog.String("component", "reporter")),
	}
}

// Emit renders the report for error n unless it duplicates an already
// emitted stack or every source frame matches a suppression pattern.
// Returns whether the report was written. Suppressed errors still count
// toward the session's error numbering; that bookkeeping is the caller's.
func (r *Reporter) Emit(rep *memcheck.ErrorReport, frames []inspect.FrameInfo, n int) bool {
	sig := Signature(frames)
	if _, dup := r.emitted[sig]; dup {
		r.logger.Info("report suppressed (duplicate)", log.Int("error", n))
		return false
	}
	if r.suppressedByPath(frames) {
		r.logger.Info("report suppressed (path filter)", log.Int("error", n))
		return false
	}

	out := r.render(rep, frames, n)
	for _, w := range r.dests {
		if _, err := io.WriteString(w, out); err != nil {
			r.logger.Warn("writing report", log.Error(err))
		}
	}
	r.emitted[sig] = struct{}{}
	r.logger.Debug("report emitted",
		log.Int("error", n),
		log.Int("frames", len(frames)))
	return true
}

// Emitted returns how many distinct reports have been written.
func (r *Reporter) Emitted() int {
	return len(r.emitted)
}

// suppressedByPath reports whether the configured globs match the file of
// every source frame. Stacks with no source frames are never
// path-suppressed; there is nothing to match the patterns against.
func (r *Reporter) suppressedByPath(frames []inspect.FrameInfo) bool {
	if len(r.suppress) == 0 {
		return false
	}
	matched := 0
	for _, f := range frames {
		if !f.HasSource {
			continue
		}
		if !r.matchesAny(f.File) {
			return false
		}
		matched++
	}
	return matched > 0
}

func (r *Reporter) matchesAny(path string) bool {
	for _, pattern := range r.suppress {
		ok, err := doublestar.Match(pattern, path)
		if err != nil {
			r.logger.Warn("bad suppression pattern",
				log.String("pattern", pattern),
				log.Error(err))
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

func (r *Reporter) render(rep *memcheck.ErrorReport, frames []inspect.FrameInfo, n int) string {
	var b strings.Builder
	b.WriteString(r.pal.apply(styleRule, strings.Repeat("-", ruleWidth)))
	b.WriteByte('\n')
	b.WriteString(r.pal.apply(styleError, fmt.Sprintf("error %d: %s", n, rep.Message)))
	b.WriteByte('\n')

	for i, f := range frames {
		b.WriteByte('\n')
		r.renderFrame(&b, f, i == 0)
	}
	b.WriteByte('\n')
	return b.String()
}

func (r *Reporter) renderFrame(b *strings.Builder, f inspect.FrameInfo, innermost bool) {
	head := "called from"
	if innermost {
		head = "error in"
	}
	b.WriteString(head)
	b.WriteByte(' ')
	b.WriteString(r.pal.apply(styleFrame, functionName(f)))
	if loc := location(f); loc != "" {
		b.WriteByte(' ')
		b.WriteString(r.pal.apply(styleLocation, "("+loc+")"))
	}
	b.WriteByte('\n')

	r.renderSection(b, "arguments", f.Args)
	r.renderSection(b, "locals", f.Locals)
	if f.HasSource {
		fmt.Fprintf(b, "  %s %s\n",
			r.pal.apply(styleLabel, fmt.Sprintf("line %d:", f.Line)),
			r.pal.apply(styleSource, f.SourceLine))
	}
	r.renderSection(b, "nearby code", capped(f.NearbyCode, r.contextLines))
	r.renderSection(b, "nearby values", f.NearbyVars)
}

func (r *Reporter) renderSection(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("  ")
	b.WriteString(r.pal.apply(styleLabel, label+":"))
	b.WriteByte('\n')
	for _, item := range items {
		b.WriteString("    ")
		b.WriteString(item)
		b.WriteByte('\n')
	}
}

func functionName(f inspect.FrameInfo) string {
	if f.Function == "" {
		return "??"
	}
	return f.Function
}

func location(f inspect.FrameInfo) string {
	if f.File == "" {
		return ""
	}
	if f.Line < 0 {
		return f.File
	}
	return fmt.Sprintf("%s:%d", f.File, f.Line)
}

func capped(items []string, max int) []string {
	if max > 0 && len(items) > max {
		return items[:max]
	}
	return items
}
