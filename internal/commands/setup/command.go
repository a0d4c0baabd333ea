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

// Package setup implements `mortem setup`, the interactive bootstrap
// that writes a starter configuration file.
package setup

import (
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mortem-dev/mortem/internal/cli"
	"github.com/mortem-dev/mortem/internal/config"
)

// NewSetupCommand creates the setup command.
func NewSetupCommand() *cobra.Command {
	var accessible bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive wizard to write a mortem configuration",
		Long: `Launch the interactive form to configure:
  - the memory checker and debugger binaries
  - the per-command debugger timeout
  - which detected error debugging starts at
  - report colors and run history

Existing settings are pre-filled and the file is replaced only after
confirmation. Use --accessible for simple text prompts if the TUI
doesn't work in your terminal; MORTEM_ACCESSIBLE=1 does the same.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd, accessible)
		},
	}

	cmd.Flags().BoolVar(&accessible, "accessible", false, "Use accessible mode (simple text prompts instead of TUI)")

	return cmd
}

// confirmOverwrite asks before replacing an existing config file.
// Swapped out in tests.
var confirmOverwrite = func(path string) bool {
	confirmed := false
	prompt := &survey.Confirm{
		Message: fmt.Sprintf("Overwrite existing configuration at %s?", path),
		Default: false,
	}
	if err := survey.AskOne(prompt, &confirmed); err != nil {
		return false
	}
	return confirmed
}

func runSetup(cmd *cobra.Command, accessible bool) error {
	file, err := config.NewFile(cli.ConfigFlag())
	if err != nil {
		return cli.NewConfigError("failed to resolve config path", err)
	}

	// Pre-fill the form from the existing file, or from defaults on a
	// fresh install.
	cfg, err := file.Load()
	if err != nil {
		return cli.NewConfigError("failed to load existing configuration", err)
	}

	if err := collectSettings(cfg, shouldUseAccessibleMode(accessible)); err != nil {
		if err == huh.ErrUserAborted {
			cmd.Println("Setup canceled.")
			return nil
		}
		return cli.NewRunError("setup failed", err)
	}

	if file.Exists() && !confirmOverwrite(file.Path()) {
		cmd.Println("Existing configuration left untouched.")
		return nil
	}

	if err := file.WithLock(func() error { return file.Save(cfg) }); err != nil {
		return cli.NewRunError("failed to write configuration", err)
	}

	cmd.Printf("Configuration written to %s\n", file.Path())
	return nil
}

// shouldUseAccessibleMode determines if accessible mode should be used.
// Returns true if:
// - --accessible flag is set
// - MORTEM_ACCESSIBLE=1 environment variable is set
// - stdin is not a terminal (e.g., piped input)
func shouldUseAccessibleMode(flagValue bool) bool {
	if flagValue {
		return true
	}

	if os.Getenv("MORTEM_ACCESSIBLE") == "1" {
		return true
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return true
	}

	return false
}
