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
	"log/slog"
)

// Exchange records a single debugger command exchange for logging purposes.
type Exchange struct {
	// Command is the debugger command that was sent.
	Command string

	// Lines is the number of response lines received.
	Lines int

	// DurationMs is the duration of the exchange in milliseconds.
	DurationMs int64

	// TimedOut indicates the deadline passed before a prompt arrived.
	TimedOut bool
}

// LogCommandSent logs an outgoing debugger command at trace level.
func LogCommandSent(logger *slog.Logger, command string) {
	Trace(logger, "command sent",
		slog.String("event", "command_sent"),
		slog.String("command", command),
	)
}

// LogCommandResult logs a completed debugger command exchange. Successful
// exchanges log at debug level, failed ones at error level.
func LogCommandResult(logger *slog.Logger, ex *Exchange, err error) {
	attrs := []any{
		"event", "command_result",
		"command", ex.Command,
		"lines", ex.Lines,
		"duration_ms", ex.DurationMs,
	}

	if ex.TimedOut {
		attrs = append(attrs, "timed_out", true)
	}

	level := slog.LevelDebug
	message := "command completed"

	if err != nil {
		attrs = append(attrs, "error", err.Error())
		level = slog.LevelError
		message = "command failed"
	}

	logger.Log(nil, level, message, attrs...)
}
