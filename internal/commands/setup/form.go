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

package setup

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/mortem-dev/mortem/internal/config"
)

// collectSettings runs the configuration form, editing cfg in place.
func collectSettings(cfg *config.Config, accessible bool) error {
	memcheckBinary := cfg.Memcheck.Binary
	debuggerBinary := cfg.Debugger.Binary
	commandTimeout := strconv.Itoa(int(cfg.Debugger.CommandTimeout / time.Second))
	firstError := strconv.Itoa(cfg.Memcheck.FirstError)
	color := cfg.Report.Color
	historyOn := cfg.History.Enabled

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("mortem setup").
				Description("Configure the analysis toolchain. Current values are pre-filled."),
			huh.NewInput().
				Title("Memory checker binary").
				Description("Runs the target and reports memory errors").
				Value(&memcheckBinary).
				Validate(required("memory checker binary")),
			huh.NewInput().
				Title("Debugger binary").
				Description("Driven against the paused target at each error").
				Value(&debuggerBinary).
				Validate(required("debugger binary")),
			huh.NewInput().
				Title("Debugger command timeout (seconds)").
				Value(&commandTimeout).
				Validate(positiveInt("timeout")),
			huh.NewInput().
				Title("First error to debug (1-based)").
				Description("Earlier errors are reported by the tool but not debugged").
				Value(&firstError).
				Validate(positiveInt("first error")),
			huh.NewSelect[string]().
				Title("Report colors").
				Options(
					huh.NewOption("auto (on when stdout is a terminal)", "auto"),
					huh.NewOption("always", "always"),
					huh.NewOption("never", "never"),
				).
				Value(&color),
			huh.NewConfirm().
				Title("Record runs in the history database?").
				Value(&historyOn),
		),
	).WithAccessible(accessible)

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Memcheck.Binary = strings.TrimSpace(memcheckBinary)
	cfg.Debugger.Binary = strings.TrimSpace(debuggerBinary)

	// Both fields passed the numeric validators.
	seconds, _ := strconv.Atoi(strings.TrimSpace(commandTimeout))
	cfg.Debugger.CommandTimeout = time.Duration(seconds) * time.Second
	first, _ := strconv.Atoi(strings.TrimSpace(firstError))
	cfg.Memcheck.FirstError = first

	cfg.Report.Color = color
	cfg.History.Enabled = historyOn
	return nil
}

// required rejects empty input.
func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
		return nil
	}
}

// positiveInt rejects non-numeric and non-positive input.
func positiveInt(name string) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("%s must be a number", name)
		}
		if n < 1 {
			return fmt.Errorf("%s must be 1 or higher", name)
		}
		return nil
	}
}
