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

package main

import (
	"github.com/mortem-dev/mortem/internal/cli"
	"github.com/mortem-dev/mortem/internal/commands/completion"
	"github.com/mortem-dev/mortem/internal/commands/diagnostics"
	historycmd "github.com/mortem-dev/mortem/internal/commands/history"
	"github.com/mortem-dev/mortem/internal/commands/run"
	"github.com/mortem-dev/mortem/internal/commands/setup"
	"github.com/mortem-dev/mortem/internal/commands/testgen"
	versioncmd "github.com/mortem-dev/mortem/internal/commands/version"
)

// Version information set by build flags
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Set version information from build-time ldflags
	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()

	rootCmd.AddCommand(run.NewRunCommand())
	rootCmd.AddCommand(historycmd.NewHistoryCommand())
	rootCmd.AddCommand(setup.NewSetupCommand())
	rootCmd.AddCommand(testgen.NewTestgenCommand())
	rootCmd.AddCommand(diagnostics.NewDoctorCommand())
	rootCmd.AddCommand(completion.NewCommand())
	rootCmd.AddCommand(versioncmd.NewVersionCommand())

	// The --log-format flag lives on the root command, so its completion
	// has to be registered here to avoid an import cycle with the cli package.
	rootCmd.RegisterFlagCompletionFunc("log-format", completion.CompleteLogFormats)

	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
