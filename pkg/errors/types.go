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

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid flags, malformed expressions, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType implements ErrorClassifier.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable implements ErrorClassifier. Bad input stays bad.
func (e *ValidationError) IsRetryable() bool { return false }

// LaunchError represents a failure to start one of the external tools.
// Use this when the analysis tool or the debugger cannot be spawned.
type LaunchError struct {
	// Tool names the process that failed to start (e.g., "memcheck", "debugger")
	Tool string

	// Path is the binary that was invoked
	Path string

	// Cause is the underlying error from the OS
	Cause error
}

// Error implements the error interface.
func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("failed to launch %s", e.Tool)

	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}

	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}

	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *LaunchError) Unwrap() error {
	return e.Cause
}

// IsUserVisible implements UserVisibleError. Launch failures are always
// shown to users.
func (e *LaunchError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *LaunchError) UserMessage() string {
	return fmt.Sprintf("could not start the %s tool", e.Tool)
}

// Suggestion implements UserVisibleError.
func (e *LaunchError) Suggestion() string {
	return fmt.Sprintf("Check that %q is installed and on your PATH, or set an explicit binary path in the config file.", e.Path)
}

// ErrorType implements ErrorClassifier.
func (e *LaunchError) ErrorType() string { return "launch" }

// IsRetryable implements ErrorClassifier. A missing binary will still be
// missing on the next attempt.
func (e *LaunchError) IsRetryable() bool { return false }

// AttachError represents a failed remote attach to the analyzed process.
// The attach probe produced no output within the allowed window, which
// means the debugger never reached the remote target.
type AttachError struct {
	// PID is the analyzed process the debugger tried to attach to
	PID int

	// Timeout is how long the attach probe waited for a response
	Timeout time.Duration
}

// Error implements the error interface.
func (e *AttachError) Error() string {
	return fmt.Sprintf("debugger attach to pid %d produced no response within %v", e.PID, e.Timeout)
}

// IsUserVisible implements UserVisibleError.
func (e *AttachError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *AttachError) UserMessage() string {
	return fmt.Sprintf("the debugger could not attach to process %d", e.PID)
}

// Suggestion implements UserVisibleError.
func (e *AttachError) Suggestion() string {
	return "Verify that the vgdb helper shipped with the analysis tool is installed and on your PATH."
}

// ErrorType implements ErrorClassifier.
func (e *AttachError) ErrorType() string { return "attach" }

// IsRetryable implements ErrorClassifier. An attach that produced nothing
// indicates a broken toolchain, not a transient condition.
func (e *AttachError) IsRetryable() bool { return false }

// ProtocolError represents a debugger command whose response never
// completed: no prompt arrived before the deadline or the response
// exceeded the line cap.
type ProtocolError struct {
	// Command is the debugger command that was sent
	Command string

	// Partial is the number of response lines read before giving up
	Partial int

	// Cause is the underlying error, if any
	Cause error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("debugger command %q did not complete", e.Command)

	if e.Partial > 0 {
		msg = fmt.Sprintf("%s (%d lines read)", msg, e.Partial)
	}

	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}

	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ProtocolError) ErrorType() string { return "protocol" }

// IsRetryable implements ErrorClassifier. The session is torn down after
// every error, so the next trigger starts from a clean debugger.
func (e *ProtocolError) IsRetryable() bool { return true }

// ConnectionLostError represents the debugger closing its output stream
// mid-session, usually because the debugger process died or the analyzed
// process went away underneath it.
type ConnectionLostError struct{}

// Error implements the error interface.
func (e *ConnectionLostError) Error() string {
	return "debugger connection lost"
}

// ErrorType implements ErrorClassifier.
func (e *ConnectionLostError) ErrorType() string { return "connection_lost" }

// IsRetryable implements ErrorClassifier. The next trigger relaunches the
// debugger from scratch.
func (e *ConnectionLostError) IsRetryable() bool { return true }

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "debugger.timeout")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// IsUserVisible implements UserVisibleError.
func (e *ConfigError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *ConfigError) UserMessage() string {
	return e.Error()
}

// Suggestion implements UserVisibleError.
func (e *ConfigError) Suggestion() string {
	if e.Key == "" {
		return ""
	}
	return fmt.Sprintf("Fix the %s setting in your config file, or run `mortem setup` to regenerate it.", e.Key)
}

// ErrorType implements ErrorClassifier.
func (e *ConfigError) ErrorType() string { return "config" }

// IsRetryable implements ErrorClassifier.
func (e *ConfigError) IsRetryable() bool { return false }
