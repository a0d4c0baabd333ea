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

package report

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Report style colors using lipgloss.
var (
	styleRule     = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	styleError    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")) // red
	styleFrame    = lipgloss.NewStyle().Bold(true)
	styleLocation = lipgloss.NewStyle().Foreground(lipgloss.Color("39")) // blue
	styleLabel    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	styleSource   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
)

// palette applies styles only when color is on, so reports written to files
// or pipes stay plain UTF-8 text.
type palette struct {
	enabled bool
}

func (p palette) apply(st lipgloss.Style, s string) string {
	if !p.enabled {
		return s
	}
	return st.Render(s)
}

// colorEnabled resolves the color mode: "always", "never", or "auto" which
// follows TTY detection.
func colorEnabled(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	return isTTY()
}

// isTTY reports whether stdout should use terminal formatting. False when
// stdout is piped, NO_COLOR is set, or TERM is "dumb" or empty.
func isTTY() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	termEnv := os.Getenv("TERM")
	if termEnv == "dumb" || termEnv == "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
