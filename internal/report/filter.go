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

package report

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	mortemerrors "github.com/mortem-dev/mortem/pkg/errors"
)

// Filter is a compiled predicate over parsed errors. The expression sees
// two variables: message (the diagnostic text) and index (the 1-based error
// number). A nil *Filter accepts everything.
type Filter struct {
	src     string
	program *vm.Program
}

// CompileFilter compiles the expression once at startup. Empty source means
// no filtering.
func CompileFilter(src string) (*Filter, error) {
	if src == "" {
		return nil, nil
	}
	program, err := expr.Compile(src,
		expr.Env(filterEnv("", 0)),
		expr.AsBool(),
	)
	if err != nil {
		return nil, &mortemerrors.ValidationError{
			Field:      "report.filter",
			Message:    fmt.Sprintf("invalid filter expression %q: %s", src, err),
			Suggestion: `filters see "message" and "index", e.g. message contains "Invalid read" and index > 2`,
		}
	}
	return &Filter{src: src, program: program}, nil
}

// Match reports whether the error passes the filter. A runtime evaluation
// failure rejects the error and returns the cause for logging.
func (f *Filter) Match(message string, index int) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, err := expr.Run(f.program, filterEnv(message, index))
	if err != nil {
		return false, mortemerrors.Wrapf(err, "evaluating filter %q", f.src)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// String returns the filter source, or "" for the accept-all filter.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.src
}

func filterEnv(message string, index int) map[string]any {
	return map[string]any{
		"message": message,
		"index":   index,
	}
}
