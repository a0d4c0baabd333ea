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

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %q", cfg.Level)
	}

	if cfg.Format != FormatJSON {
		t.Errorf("expected default format 'json', got %q", cfg.Format)
	}

	if cfg.Output != os.Stderr {
		t.Errorf("expected default output to be os.Stderr")
	}

	if cfg.AddSource {
		t.Errorf("expected default AddSource to be false")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected *Config
	}{
		{
			name:    "defaults when no env vars",
			envVars: map[string]string{},
			expected: &Config{
				Level:     "info",
				Format:    FormatJSON,
				Output:    os.Stderr,
				AddSource: false,
			},
		},
		{
			name: "LOG_LEVEL=debug",
			envVars: map[string]string{
				"LOG_LEVEL": "debug",
			},
			expected: &Config{
				Level:     "debug",
				Format:    FormatJSON,
				Output:    os.Stderr,
				AddSource: false,
			},
		},
		{
			name: "MORTEM_LOG_LEVEL wins over LOG_LEVEL",
			envVars: map[string]string{
				"MORTEM_LOG_LEVEL": "trace",
				"LOG_LEVEL":        "error",
			},
			expected: &Config{
				Level:     "trace",
				Format:    FormatJSON,
				Output:    os.Stderr,
				AddSource: false,
			},
		},
		{
			name: "MORTEM_DEBUG enables debug and source",
			envVars: map[string]string{
				"MORTEM_DEBUG": "1",
			},
			expected: &Config{
				Level:     "debug",
				Format:    FormatJSON,
				Output:    os.Stderr,
				AddSource: true,
			},
		},
		{
			name: "MORTEM_DEBUG wins over MORTEM_LOG_LEVEL",
			envVars: map[string]string{
				"MORTEM_DEBUG":     "true",
				"MORTEM_LOG_LEVEL": "error",
			},
			expected: &Config{
				Level:     "debug",
				Format:    FormatJSON,
				Output:    os.Stderr,
				AddSource: true,
			},
		},
		{
			name: "LOG_FORMAT=text",
			envVars: map[string]string{
				"LOG_FORMAT": "text",
			},
			expected: &Config{
				Level:     "info",
				Format:    FormatText,
				Output:    os.Stderr,
				AddSource: false,
			},
		},
		{
			name: "LOG_SOURCE=1",
			envVars: map[string]string{
				"LOG_SOURCE": "1",
			},
			expected: &Config{
				Level:     "info",
				Format:    FormatJSON,
				Output:    os.Stderr,
				AddSource: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Set environment variables
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}
			defer func() {
				// Clean up
				for k := range tt.envVars {
					os.Unsetenv(k)
				}
			}()

			cfg := FromEnv()

			if cfg.Level != tt.expected.Level {
				t.Errorf("expected level %q, got %q", tt.expected.Level, cfg.Level)
			}
			if cfg.Format != tt.expected.Format {
				t.Errorf("expected format %q, got %q", tt.expected.Format, cfg.Format)
			}
			if cfg.AddSource != tt.expected.AddSource {
				t.Errorf("expected AddSource %v, got %v", tt.expected.AddSource, cfg.AddSource)
			}
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{
		Level:     "debug",
		Format:    FormatJSON,
		Output:    &buf,
		AddSource: false,
	}

	logger := New(cfg)
	logger.Info("test message", "key", "value")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("expected output to contain 'test message', got: %s", output)
	}

	// Verify it's valid JSON
	var logEntry map[string]interface{}
	if err := json.Unmarshal([]byte(output), &logEntry); err != nil {
		t.Errorf("expected valid JSON output, got error: %v", err)
	}

	// Check for expected fields
	if logEntry["msg"] != "test message" {
		t.Errorf("expected msg field to be 'test message', got: %v", logEntry["msg"])
	}

	if logEntry["key"] != "value" {
		t.Errorf("expected key field to be 'value', got: %v", logEntry["key"])
	}

	if logEntry["level"] != "INFO" {
		t.Errorf("expected level field to be 'INFO', got: %v", logEntry["level"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{
		Level:     "info",
		Format:    FormatText,
		Output:    &buf,
		AddSource: false,
	}

	logger := New(cfg)
	logger.Info("test message", "key", "value")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("expected output to contain 'test message', got: %s", output)
	}

	if !strings.Contains(output, "key=value") {
		t.Errorf("expected output to contain 'key=value', got: %s", output)
	}
}

func TestNew_NilConfig(t *testing.T) {
	logger := New(nil)
	if logger == nil {
		t.Fatal("New(nil) should return a usable logger")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{
		Level:  "warn",
		Format: FormatJSON,
		Output: &buf,
	})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()

	if strings.Contains(output, "debug message") {
		t.Error("debug message should be filtered at warn level")
	}
	if strings.Contains(output, "info message") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("warn message should pass at warn level")
	}
	if !strings.Contains(output, "error message") {
		t.Error("error message should pass at warn level")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	logger = WithComponent(logger, "gdb")
	logger.Info("attached")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}

	if logEntry["component"] != "gdb" {
		t.Errorf("expected component field 'gdb', got: %v", logEntry["component"])
	}
}

func TestWithRunID(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	logger = WithRunID(logger, "run-123")
	logger.Info("starting")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}

	if logEntry["run_id"] != "run-123" {
		t.Errorf("expected run_id field 'run-123', got: %v", logEntry["run_id"])
	}
}

func TestWithSessionContext(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	logger = WithSessionContext(logger, "sess-7", 4242)
	logger.Info("attach complete")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}

	if logEntry["session_id"] != "sess-7" {
		t.Errorf("expected session_id field 'sess-7', got: %v", logEntry["session_id"])
	}

	// JSON numbers decode as float64
	if pid, ok := logEntry["pid"].(float64); !ok || int(pid) != 4242 {
		t.Errorf("expected pid field 4242, got: %v", logEntry["pid"])
	}
}

func TestTrace(t *testing.T) {
	t.Run("emitted at trace level", func(t *testing.T) {
		var buf bytes.Buffer

		logger := New(&Config{Level: "trace", Format: FormatJSON, Output: &buf})
		Trace(logger, "raw line", String("line", "(gdb) "))

		output := buf.String()
		if !strings.Contains(output, "raw line") {
			t.Errorf("expected trace output, got: %s", output)
		}
		if !strings.Contains(output, "(gdb) ") {
			t.Errorf("expected line attribute in output, got: %s", output)
		}
	})

	t.Run("suppressed at debug level", func(t *testing.T) {
		var buf bytes.Buffer

		logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})
		Trace(logger, "raw line", String("line", "data"))

		if buf.Len() != 0 {
			t.Errorf("trace output should be suppressed at debug level, got: %s", buf.String())
		}
	})
}

func TestAttrHelpers(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	logger.LogAttrs(nil, slog.LevelInfo, "attrs",
		String("s", "v"),
		Int("i", 7),
		Int64("i64", 8),
		Bool("b", true),
		Duration("elapsed", 1500),
		Error(errors.New("boom")),
	)

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}

	if logEntry["s"] != "v" {
		t.Errorf("String attr = %v, want v", logEntry["s"])
	}
	if v, ok := logEntry["i"].(float64); !ok || int(v) != 7 {
		t.Errorf("Int attr = %v, want 7", logEntry["i"])
	}
	if v, ok := logEntry["i64"].(float64); !ok || int64(v) != 8 {
		t.Errorf("Int64 attr = %v, want 8", logEntry["i64"])
	}
	if logEntry["b"] != true {
		t.Errorf("Bool attr = %v, want true", logEntry["b"])
	}
	if v, ok := logEntry["elapsed_ms"].(float64); !ok || int64(v) != 1500 {
		t.Errorf("Duration attr = %v, want 1500 under elapsed_ms", logEntry["elapsed_ms"])
	}
	if logEntry["error"] != "boom" {
		t.Errorf("Error attr = %v, want boom", logEntry["error"])
	}
}
