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

package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	if cmd.Use != "mortem" {
		t.Errorf("expected use 'mortem', got %q", cmd.Use)
	}

	if cmd.Short == "" {
		t.Error("expected short description to be set")
	}

	if cmd.Long == "" {
		t.Error("expected long description to be set")
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"verbose", "quiet", "log-format", "config"} {
		if cmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("%s flag not registered", name)
		}
	}
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2025-12-22")

	v, c, b := GetVersion()
	if v != "1.2.3" {
		t.Errorf("expected version '1.2.3', got %q", v)
	}
	if c != "abc123" {
		t.Errorf("expected commit 'abc123', got %q", c)
	}
	if b != "2025-12-22" {
		t.Errorf("expected build date '2025-12-22', got %q", b)
	}
}

func TestConfigureLoggingRejectsUnknownFormat(t *testing.T) {
	orig := logFormatFlag
	defer func() { logFormatFlag = orig }()

	logFormatFlag = "yaml"
	err := configureLogging()
	if err == nil {
		t.Fatal("expected error for unknown log format")
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %T", err)
	}
	if exitErr.Code != ExitInvalidConfig {
		t.Errorf("expected exit code %d, got %d", ExitInvalidConfig, exitErr.Code)
	}
}

func TestConfigureLoggingAcceptsKnownFormats(t *testing.T) {
	orig := logFormatFlag
	defer func() { logFormatFlag = orig }()

	for _, format := range []string{"", "text", "json"} {
		logFormatFlag = format
		if err := configureLogging(); err != nil {
			t.Errorf("format %q: unexpected error: %v", format, err)
		}
	}
}

func TestResolveConfigPathPrefersFlag(t *testing.T) {
	orig := configFlag
	defer func() { configFlag = orig }()

	SetConfigPathForTest("/tmp/explicit.yaml")
	path, err := ResolveConfigPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/tmp/explicit.yaml" {
		t.Errorf("expected flag path, got %q", path)
	}
}

func TestResolveConfigPathUsesEnv(t *testing.T) {
	orig := configFlag
	defer func() { configFlag = orig }()

	SetConfigPathForTest("")
	t.Setenv("MORTEM_CONFIG", "/tmp/env.yaml")

	path, err := ResolveConfigPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/tmp/env.yaml" {
		t.Errorf("expected env path, got %q", path)
	}
}

func TestResolveConfigPathSkipsMissingDefault(t *testing.T) {
	orig := configFlag
	defer func() { configFlag = orig }()

	SetConfigPathForTest("")
	t.Setenv("MORTEM_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := ResolveConfigPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path for missing default config, got %q", path)
	}
}

func TestResolveConfigPathFindsDefault(t *testing.T) {
	orig := configFlag
	defer func() { configFlag = orig }()

	SetConfigPathForTest("")
	t.Setenv("MORTEM_CONFIG", "")

	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)

	want := filepath.Join(base, "mortem", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(want), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(want, []byte("memcheck:\n  binary: valgrind\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	path, err := ResolveConfigPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != want {
		t.Errorf("expected %q, got %q", want, path)
	}
}
