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

package run

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mortem-dev/mortem/internal/cli"
	"github.com/mortem-dev/mortem/internal/config"
)

func TestNewRunCommand(t *testing.T) {
	cmd := NewRunCommand()

	if !strings.HasPrefix(cmd.Use, "run") {
		t.Errorf("expected use to start with 'run', got %q", cmd.Use)
	}

	expectedFlags := []string{
		"first", "timeout", "interactive", "output", "setup-cmd",
		"filter", "suppress", "watch", "metrics-addr", "no-history",
	}
	for _, flag := range expectedFlags {
		if cmd.Flags().Lookup(flag) == nil {
			t.Errorf("--%s flag not defined", flag)
		}
	}
}

func TestRunCommandRequiresTarget(t *testing.T) {
	cmd := NewRunCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	if err == nil {
		t.Error("expected error when target argument is missing")
	}
}

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name    string
		opts    options
		wantErr bool
	}{
		{"defaults", options{}, false},
		{"valid", options{first: 3, timeout: 60}, false},
		{"negative first", options{first: -1}, true},
		{"negative timeout", options{timeout: -5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFlags(tt.opts)
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr {
				var exitErr *cli.ExitError
				if !errors.As(err, &exitErr) {
					t.Fatalf("expected ExitError, got %T", err)
				}
				if exitErr.Code != cli.ExitInvalidConfig {
					t.Errorf("expected exit code %d, got %d", cli.ExitInvalidConfig, exitErr.Code)
				}
			}
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Debugger.SetupCommands = []string{"set print pretty on"}
	cfg.Report.SuppressPaths = []string{"/usr/include/**"}

	applyOverrides(cfg, options{
		first:       4,
		setupCmds:   []string{"break main"},
		outputs:     []string{"report.txt"},
		filter:      `message contains "Invalid"`,
		suppress:    []string{"vendor/**"},
		metricsAddr: "127.0.0.1:9431",
		noHistory:   true,
	})

	if cfg.Memcheck.FirstError != 4 {
		t.Errorf("FirstError = %d, want 4", cfg.Memcheck.FirstError)
	}
	if len(cfg.Debugger.SetupCommands) != 2 || cfg.Debugger.SetupCommands[1] != "break main" {
		t.Errorf("setup commands not appended: %v", cfg.Debugger.SetupCommands)
	}
	if len(cfg.Report.Destinations) != 1 || cfg.Report.Destinations[0] != "report.txt" {
		t.Errorf("destinations not applied: %v", cfg.Report.Destinations)
	}
	if cfg.Report.Filter != `message contains "Invalid"` {
		t.Errorf("filter not applied: %q", cfg.Report.Filter)
	}
	if len(cfg.Report.SuppressPaths) != 2 || cfg.Report.SuppressPaths[1] != "vendor/**" {
		t.Errorf("suppress globs not appended: %v", cfg.Report.SuppressPaths)
	}
	if cfg.Metrics.ListenAddr != "127.0.0.1:9431" {
		t.Errorf("metrics addr not applied: %q", cfg.Metrics.ListenAddr)
	}
	if cfg.History.Enabled {
		t.Error("history not disabled")
	}
}

func TestApplyOverridesKeepsConfigDefaults(t *testing.T) {
	cfg := config.Default()
	before := cfg.Memcheck.FirstError

	applyOverrides(cfg, options{})

	if cfg.Memcheck.FirstError != before {
		t.Errorf("FirstError changed to %d with no flags set", cfg.Memcheck.FirstError)
	}
	if !cfg.History.Enabled {
		t.Error("history disabled with no flags set")
	}
}

func TestRunTimeout(t *testing.T) {
	if got := runTimeout(options{timeout: 90}); got != 90*time.Second {
		t.Errorf("runTimeout = %v, want 90s", got)
	}
	if got := runTimeout(options{}); got != 0 {
		t.Errorf("runTimeout = %v, want 0", got)
	}
}

func TestOpenDestinations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports.txt")

	writers, cleanup, err := openDestinations([]string{"stdout", "stderr", path, path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cleanup()

	// stdout is implicit and the duplicate file is collapsed, leaving
	// stderr plus one file.
	if len(writers) != 2 {
		t.Fatalf("expected 2 writers, got %d", len(writers))
	}
	if writers[0] != os.Stderr {
		t.Error("expected first writer to be stderr")
	}

	if _, err := writers[1].Write([]byte("hello\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello\n" {
		t.Errorf("file content = %q", data)
	}
}

func TestOpenDestinationsBadPath(t *testing.T) {
	_, _, err := openDestinations([]string{filepath.Join(t.TempDir(), "missing", "reports.txt")})
	if err == nil {
		t.Error("expected error for unwritable destination")
	}
}
