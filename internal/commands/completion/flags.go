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

package completion

import (
	"github.com/spf13/cobra"
)

// CompleteLogFormats provides completion for --log-format flag values.
func CompleteLogFormats(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		formats := []string{
			"text\tHuman-readable log lines",
			"json\tStructured JSON log lines",
		}
		return formats, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteReportDestinations provides completion for --output flag values.
// Suggests the writer names and falls back to file completion for paths.
func CompleteReportDestinations(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	names := []string{
		"stdout\tStandard output (always included)",
		"stderr\tStandard error",
	}
	return names, cobra.ShellCompDirectiveDefault
}
