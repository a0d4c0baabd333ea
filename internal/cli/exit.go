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
	"fmt"
	"os"

	pkgerrors "github.com/mortem-dev/mortem/pkg/errors"
)

// Exit codes for the mortem CLI.
const (
	ExitSuccess       = 0
	ExitRunFailed     = 1 // The run or a debug session failed partway
	ExitInvalidConfig = 2 // Bad configuration or command usage
	ExitLaunchFailed  = 4 // The target or a tool could not be started or attached
)

// ExitError is an error that carries an exit code.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewRunError creates an error for run and session failures.
func NewRunError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitRunFailed,
		Message: msg,
		Cause:   cause,
	}
}

// NewConfigError creates an error for invalid configuration or usage.
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitInvalidConfig,
		Message: msg,
		Cause:   cause,
	}
}

// NewLaunchError creates an error for launch and attach failures.
func NewLaunchError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitLaunchFailed,
		Message: msg,
		Cause:   cause,
	}
}

// WrapError wraps an error in an ExitError carrying the exit code its
// cause calls for.
func WrapError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitCodeFor(cause),
		Message: msg,
		Cause:   cause,
	}
}

// ExitCodeFor maps an error to the exit code it should terminate with.
// Launch and attach failures are distinguished from ordinary run
// failures so scripts can tell "could not start" from "target crashed
// mid-run".
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var launchErr *pkgerrors.LaunchError
	if errors.As(err, &launchErr) {
		return ExitLaunchFailed
	}
	var attachErr *pkgerrors.AttachError
	if errors.As(err, &attachErr) {
		return ExitLaunchFailed
	}
	var configErr *pkgerrors.ConfigError
	if errors.As(err, &configErr) {
		return ExitInvalidConfig
	}
	var validationErr *pkgerrors.ValidationError
	if errors.As(err, &validationErr) {
		return ExitInvalidConfig
	}
	return ExitRunFailed
}

// HandleExitError checks if an error is an ExitError and exits with the
// appropriate code.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		msg := exitErr.Error()
		if len(msg) > 0 {
			fmt.Fprintln(os.Stderr, "Error:", msg)
		}

		printUserVisibleSuggestion(err)

		os.Exit(exitErr.Code)
	}

	// Errors that never got classified still fail the run.
	fmt.Fprintln(os.Stderr, "Error:", err.Error())

	printUserVisibleSuggestion(err)

	os.Exit(ExitRunFailed)
}

// printUserVisibleSuggestion checks if an error in the chain implements
// UserVisibleError and prints its suggestion if available.
func printUserVisibleSuggestion(err error) {
	for err != nil {
		if userErr, ok := err.(pkgerrors.UserVisibleError); ok {
			if userErr.IsUserVisible() {
				suggestion := userErr.Suggestion()
				if suggestion != "" {
					fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", suggestion)
				}
			}
			return
		}

		err = errors.Unwrap(err)
	}
}
