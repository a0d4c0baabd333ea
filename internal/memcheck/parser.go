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

// Package memcheck launches the memory analysis tool and parses its
// diagnostic stream into structured error reports.
package memcheck

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/mortem-dev/mortem/internal/log"
)

// Diagnostic phrases recognized by substring match. Each banner discards a
// fixed number of the lines that follow it, instruction text included.
const (
	attachBanner     = "TO DEBUG THIS PROCESS USING GDB"
	attachBannerSkip = 5

	toolBanner     = "Memcheck, a memory error detector"
	toolBannerSkip = 5

	errorFloodPrefix = "More than"
	errorFloodSuffix = "errors detected"
	errorFloodSkip   = 1

	continuingMarker = "Continuing ..."

	leakCheckSuggestion = "Rerun with --leak-check=full"
	attachSuggestion    = "vgdb me"
)

var (
	threadHeaderRe = regexp.MustCompile(`^==\d+== Thread \d+:$`)
	stackFrameRe   = regexp.MustCompile(`^==\d+==\s+(?:at|by) 0x[0-9A-Fa-f]+: (.+) \((.+):(\d+)\)$`)
	errorMessageRe = regexp.MustCompile(`^==\d+== (\S.*)$`)
)

// IsAttachTrigger reports whether line is the analysis tool's signal that it
// has paused the target and is waiting for a debugger to connect.
func IsAttachTrigger(line string) bool {
	return strings.Contains(line, attachSuggestion)
}

// Parser turns a window of diagnostic lines into error reports. The zero
// value is not usable; construct with NewParser.
type Parser struct {
	logger *slog.Logger
}

// NewParser returns a Parser. A nil logger falls back to slog.Default.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger.With(slog.String("component", "memcheck-parser"))}
}

// Parse scans window in order and returns the first complete error report
// plus the number of lines consumed.
//
// Line rules are evaluated in a fixed priority order: banner skips, the
// "Continuing ..." marker, the two stop phrases, the thread header, stack
// frames, error messages. A line matching no rule is ignored. Parsing stops
// at a stop phrase (the stop line is consumed), or at a second error message
// while a report is open (the message line is left for the next call), or at
// the end of the window. The return is (nil, consumed) when no error message
// was seen.
func (p *Parser) Parse(window []string) (*ErrorReport, int) {
	var report *ErrorReport
	skip := 0

	for i, raw := range window {
		if skip > 0 {
			skip--
			continue
		}
		line := strings.TrimRight(raw, " \t\r")

		switch {
		case strings.Contains(line, attachBanner):
			skip = attachBannerSkip
		case strings.Contains(line, toolBanner):
			skip = toolBannerSkip
		case strings.Contains(line, errorFloodPrefix) && strings.Contains(line, errorFloodSuffix):
			skip = errorFloodSkip
		case strings.Contains(line, continuingMarker):
			// resumption notice, never part of a report
		case strings.Contains(line, leakCheckSuggestion), strings.Contains(line, attachSuggestion):
			return report, i + 1
		case threadHeaderRe.MatchString(line):
			// thread context header
		default:
			if m := stackFrameRe.FindStringSubmatch(line); m != nil {
				if report == nil {
					p.logger.Debug("stack frame before any error message, dropped",
						"line", line)
					continue
				}
				n, err := strconv.Atoi(m[3])
				if err != nil {
					continue
				}
				report.Stack = append(report.Stack, StackEntry{
					Function: m[1],
					File:     m[2],
					Line:     n,
				})
				continue
			}
			if m := errorMessageRe.FindStringSubmatch(line); m != nil && !strings.HasSuffix(m[1], ":") {
				if report != nil {
					// A fresh message means the open report is
					// complete. Leave the message for the next call.
					return report, i
				}
				report = &ErrorReport{Message: m[1]}
				continue
			}
			log.Trace(p.logger, "unparsed diagnostic line", log.String("line", line))
		}
	}
	return report, len(window)
}
