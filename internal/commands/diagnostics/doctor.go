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

// Package diagnostics implements `mortem doctor`, a health check for
// the configuration and the external debugging toolchain.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mortem-dev/mortem/internal/cli"
	"github.com/mortem-dev/mortem/internal/config"
)

// doctorTimeout bounds the whole check, including the version probes.
const doctorTimeout = 30 * time.Second

// DoctorResult contains the overall health check results.
type DoctorResult struct {
	ConfigPath      string       `json:"config_path"`
	ConfigExists    bool         `json:"config_exists"`
	ConfigValid     bool         `json:"config_valid"`
	ConfigError     string       `json:"config_error,omitempty"`
	Tools           []ToolHealth `json:"tools"`
	HistoryEnabled  bool         `json:"history_enabled"`
	HistoryPath     string       `json:"history_path,omitempty"`
	Recommendations []string     `json:"recommendations"`
	OverallHealthy  bool         `json:"overall_healthy"`
}

// ToolHealth contains health check results for one external tool.
type ToolHealth struct {
	Name      string `json:"name"`
	Binary    string `json:"binary"`
	Installed bool   `json:"installed"`
	Working   bool   `json:"working"`
	Healthy   bool   `json:"healthy"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration and debugging toolchain",
		Long: `Perform a health check of the mortem configuration and the external
tools it drives.

This command checks:
  - Config file is valid (a missing file is fine; defaults apply)
  - The memory checker binary is installed and answers --version
  - The debugger binary is installed and answers --version
  - Where run history will be recorded

Provides actionable recommendations for fixing any issues found.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func runDoctor(cmd *cobra.Command, jsonOutput bool) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), doctorTimeout)
	defer cancel()

	result := DoctorResult{
		Recommendations: []string{},
		OverallHealthy:  true,
	}

	// Step 1: locate the config file.
	cfgPath := cli.ConfigFlag()
	if cfgPath == "" {
		cfgPath = os.Getenv("MORTEM_CONFIG")
	}
	if cfgPath == "" {
		var err error
		cfgPath, err = config.ConfigPath()
		if err != nil {
			result.ConfigPath = "unknown"
			result.ConfigError = fmt.Sprintf("Failed to determine config path: %v", err)
			result.OverallHealthy = false
		}
	}
	result.ConfigPath = cfgPath

	if _, err := os.Stat(cfgPath); err == nil {
		result.ConfigExists = true
	} else if os.IsNotExist(err) {
		// Built-in defaults still work; suggest setup rather than failing.
		result.ConfigExists = false
		result.Recommendations = append(result.Recommendations,
			"No configuration file found. Run 'mortem setup' to create one.")
	} else {
		result.ConfigError = fmt.Sprintf("Failed to check config file: %v", err)
		result.OverallHealthy = false
	}

	// Step 2: load and validate, falling back to defaults without a file.
	cfg := config.Default()
	if result.ConfigExists {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			result.ConfigValid = false
			result.ConfigError = fmt.Sprintf("Config validation failed: %v", err)
			result.OverallHealthy = false
			result.Recommendations = append(result.Recommendations,
				"Fix configuration errors or run 'mortem setup' to recreate the file.")
		} else {
			result.ConfigValid = true
			cfg = loaded
		}
	}

	// Step 3: probe the external tools the run command drives.
	checks := []struct {
		name   string
		binary string
		key    string
	}{
		{"memory checker", cfg.Memcheck.Binary, "memcheck.binary"},
		{"debugger", cfg.Debugger.Binary, "debugger.binary"},
	}

	for _, check := range checks {
		health := checkTool(ctx, check.name, check.binary)
		result.Tools = append(result.Tools, health)

		if !health.Healthy {
			result.OverallHealthy = false
			result.Recommendations = append(result.Recommendations,
				fmt.Sprintf("%s %q is not usable. Install it or point %s at a working binary.",
					check.name, check.binary, check.key))
		}
	}

	// Step 4: report where history will be recorded.
	result.HistoryEnabled = cfg.History.Enabled
	if cfg.History.Enabled {
		result.HistoryPath = cfg.History.Path
	}

	if jsonOutput {
		return outputDoctorJSON(cmd, result)
	}
	return outputDoctorText(cmd, result)
}

// checkTool verifies a tool is on PATH and answers a --version probe.
func checkTool(ctx context.Context, name, binary string) ToolHealth {
	health := ToolHealth{
		Name:   name,
		Binary: binary,
	}

	if binary == "" {
		health.Error = "no binary configured"
		return health
	}

	if _, err := exec.LookPath(binary); err != nil {
		health.Error = err.Error()
		return health
	}
	health.Installed = true

	out, err := exec.CommandContext(ctx, binary, "--version").Output()
	if err != nil {
		health.Error = fmt.Sprintf("--version probe failed: %v", err)
		return health
	}
	health.Working = true
	health.Healthy = true

	// The first output line identifies the build, e.g. "valgrind-3.22.0".
	if line, _, _ := strings.Cut(string(out), "\n"); line != "" {
		health.Version = strings.TrimSpace(line)
	}

	return health
}

// outputDoctorJSON outputs results in JSON format.
func outputDoctorJSON(cmd *cobra.Command, result DoctorResult) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return err
	}
	if !result.OverallHealthy {
		return fmt.Errorf("health check found issues")
	}
	return nil
}

// outputDoctorText outputs results in human-readable format.
func outputDoctorText(cmd *cobra.Command, result DoctorResult) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Mortem Health Check")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	// Config status
	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Path: %s\n", result.ConfigPath)

	if result.ConfigExists {
		fmt.Fprintln(out, "  Status: Found")
		if result.ConfigValid {
			fmt.Fprintln(out, "  Valid: Yes")
		} else {
			fmt.Fprintln(out, "  Valid: No")
			if result.ConfigError != "" {
				fmt.Fprintf(out, "  Error: %s\n", result.ConfigError)
			}
		}
	} else {
		fmt.Fprintln(out, "  Status: Not found (using defaults)")
	}
	fmt.Fprintln(out)

	// Toolchain health
	fmt.Fprintln(out, "Toolchain:")
	for _, tool := range result.Tools {
		status := "OK"
		if !tool.Healthy {
			status = "FAILED"
		}

		fmt.Fprintf(out, "  %s (%s): [%s]\n", tool.Name, tool.Binary, status)
		fmt.Fprintf(out, "    Installed: %s\n", yesNo(tool.Installed))
		fmt.Fprintf(out, "    Working: %s\n", yesNo(tool.Working))

		if tool.Version != "" {
			fmt.Fprintf(out, "    Version: %s\n", tool.Version)
		}
		if tool.Error != "" {
			fmt.Fprintf(out, "    Error: %s\n", tool.Error)
		}
	}
	fmt.Fprintln(out)

	// History destination
	fmt.Fprintln(out, "History:")
	if result.HistoryEnabled {
		fmt.Fprintln(out, "  Enabled: yes")
		fmt.Fprintf(out, "  Database: %s\n", result.HistoryPath)
	} else {
		fmt.Fprintln(out, "  Enabled: no")
	}
	fmt.Fprintln(out)

	// Recommendations
	if len(result.Recommendations) > 0 {
		fmt.Fprintln(out, "Recommendations:")
		for _, rec := range result.Recommendations {
			fmt.Fprintf(out, "  - %s\n", rec)
		}
		fmt.Fprintln(out)
	}

	// Overall status
	if result.OverallHealthy {
		fmt.Fprintln(out, "Overall Status: Healthy")
		return nil
	}
	fmt.Fprintln(out, "Overall Status: Issues Found")
	return fmt.Errorf("health check found issues")
}

func yesNo(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}
