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

package memcheck

// StackEntry is one call-stack frame as printed by the analysis tool,
// before any live debugging.
type StackEntry struct {
	Function string
	File     string
	Line     int
}

// ErrorReport is one memory error parsed from the diagnostic stream.
// Stack is in call order, innermost frame first. Reports are not modified
// after Parse returns them.
type ErrorReport struct {
	Message string
	Stack   []StackEntry
}
