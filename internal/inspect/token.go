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

package inspect

import (
	"sort"
	"strings"
)

// Tokenize returns every distinct variable-like token found in the source
// lines, sorted. Tokens come from two passes: a strip-and-split that keeps
// only identifier characters and square brackets, and the bracketed index
// sub-expressions from IndexExprs. Purely numeric tokens are dropped; they
// are source line numbers and literals, not variables.
func Tokenize(lines []string) []string {
	set := make(map[string]struct{})
	for _, line := range lines {
		for _, tok := range strings.Fields(strings.Map(keepTokenChar, line)) {
			if !isNumeric(tok) {
				set[tok] = struct{}{}
			}
		}
		for _, expr := range IndexExprs(line) {
			if !isNumeric(expr) {
				set[expr] = struct{}{}
			}
		}
	}

	tokens := make([]string, 0, len(set))
	for tok := range set {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	return tokens
}

// IndexExprs extracts the content of every balanced bracket pair in line,
// innermost pairs included. From `a[b[1+1]-2-c[x]]` it yields
// `b[1+1]-2-c[x]`, `1+1` and `x`. Unbalanced brackets contribute nothing.
func IndexExprs(line string) []string {
	var exprs []string
	var stack []int
	for i, r := range line {
		switch r {
		case '[':
			stack = append(stack, i)
		case ']':
			if len(stack) == 0 {
				continue
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if inner := line[open+1 : i]; inner != "" {
				exprs = append(exprs, inner)
			}
		}
	}
	return exprs
}

func keepTokenChar(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z',
		r >= 'A' && r <= 'Z',
		r >= '0' && r <= '9',
		r == '_', r == '[', r == ']':
		return r
	}
	return ' '
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
