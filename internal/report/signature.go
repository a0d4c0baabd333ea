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
	"strings"

	"github.com/mortem-dev/mortem/internal/inspect"
)

// Signature derives the dedup key for a walked stack: the concatenation of
// "file:line\nsource_line" over the frames with source. Frames without
// source contribute nothing, so two crashes differing only in source-less
// frames share a signature. A stack with no source frames at all signs as
// the empty string.
func Signature(frames []inspect.FrameInfo) string {
	var b strings.Builder
	for _, f := range frames {
		if !f.HasSource {
			continue
		}
		fmt.Fprintf(&b, "%s:%d\n%s", f.File, f.Line, f.SourceLine)
	}
	return b.String()
}
