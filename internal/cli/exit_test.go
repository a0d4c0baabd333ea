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
	"testing"
	"time"

	pkgerrors "github.com/mortem-dev/mortem/pkg/errors"
)

func TestExitErrorMessage(t *testing.T) {
	err := &ExitError{Code: ExitRunFailed, Message: "run failed"}
	if err.Error() != "run failed" {
		t.Errorf("unexpected message: %q", err.Error())
	}

	withCause := &ExitError{Code: ExitRunFailed, Message: "run failed", Cause: errors.New("boom")}
	if withCause.Error() != "run failed: boom" {
		t.Errorf("unexpected message: %q", withCause.Error())
	}
}

func TestExitErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := NewRunError("run failed", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestConstructorCodes(t *testing.T) {
	if got := NewRunError("x", nil).Code; got != ExitRunFailed {
		t.Errorf("NewRunError code = %d, want %d", got, ExitRunFailed)
	}
	if got := NewConfigError("x", nil).Code; got != ExitInvalidConfig {
		t.Errorf("NewConfigError code = %d, want %d", got, ExitInvalidConfig)
	}
	if got := NewLaunchError("x", nil).Code; got != ExitLaunchFailed {
		t.Errorf("NewLaunchError code = %d, want %d", got, ExitLaunchFailed)
	}
}

func TestExitCodeFor(t *testing.T) {
	launchErr := &pkgerrors.LaunchError{Tool: "memcheck", Path: "/usr/bin/valgrind"}
	attachErr := &pkgerrors.AttachError{PID: 4321, Timeout: 2 * time.Second}
	configErr := &pkgerrors.ConfigError{Key: "memcheck.binary", Reason: "empty"}
	validationErr := &pkgerrors.ValidationError{Field: "filter", Message: "bad expression"}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"launch", launchErr, ExitLaunchFailed},
		{"attach", attachErr, ExitLaunchFailed},
		{"wrapped launch", fmt.Errorf("run failed: %w", launchErr), ExitLaunchFailed},
		{"config", configErr, ExitInvalidConfig},
		{"validation", validationErr, ExitInvalidConfig},
		{"plain", errors.New("boom"), ExitRunFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCodeFor(tt.err); got != tt.want {
				t.Errorf("ExitCodeFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWrapErrorClassifies(t *testing.T) {
	launchErr := &pkgerrors.LaunchError{Tool: "debugger", Path: "gdb"}

	err := WrapError("debugging run failed", launchErr)
	if err.Code != ExitLaunchFailed {
		t.Errorf("expected launch exit code, got %d", err.Code)
	}
	if !errors.Is(err, launchErr) {
		t.Error("expected the cause to survive wrapping")
	}
}
