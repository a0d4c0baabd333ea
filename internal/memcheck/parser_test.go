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

import (
	"reflect"
	"testing"
)

func TestParseSingleError(t *testing.T) {
	window := []string{
		"==4242== Invalid read of size 4",
		"==4242==    at 0x4005F4: main (overflow.c:12)",
		"==4242==    by 0x4E0B82F: (below main) (libc-start.c:308)",
		"==4242== ",
		"==4242== (action on error) vgdb me ... ",
	}
	p := NewParser(nil)
	report, consumed := p.Parse(window)

	if report == nil {
		t.Fatal("Parse() returned nil report")
	}
	if report.Message != "Invalid read of size 4" {
		t.Errorf("Message = %q, want %q", report.Message, "Invalid read of size 4")
	}
	if consumed != len(window) {
		t.Errorf("consumed = %d, want %d", consumed, len(window))
	}
	wantStack := []StackEntry{
		{Function: "main", File: "overflow.c", Line: 12},
		{Function: "(below main)", File: "libc-start.c", Line: 308},
	}
	if !reflect.DeepEqual(report.Stack, wantStack) {
		t.Errorf("Stack = %+v, want %+v", report.Stack, wantStack)
	}
}

func TestParseBannerSkipCounts(t *testing.T) {
	// Each decoy would start a report if it were not inside the skipped
	// region, so the test fails loudly when a skip count is off by one.
	decoys := func(n int) []string {
		lines := make([]string, n)
		for i := range lines {
			lines[i] = "==1== Decoy error that must be skipped"
		}
		return lines
	}

	tests := []struct {
		name   string
		banner string
		skip   int
	}{
		{"attach banner", "==1== TO DEBUG THIS PROCESS USING GDB: start GDB like this", 5},
		{"tool banner", "==1== Memcheck, a memory error detector", 5},
		{"error flood banner", "==1== More than 100 errors detected.  Subsequent errors", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window := []string{tt.banner}
			window = append(window, decoys(tt.skip)...)
			window = append(window,
				"==1== Invalid write of size 8",
				"==1==    at 0x400600: store (store.c:44)",
				"==1== (action on error) vgdb me ... ",
			)
			report, consumed := NewParser(nil).Parse(window)

			if report == nil {
				t.Fatal("Parse() returned nil report")
			}
			if report.Message != "Invalid write of size 8" {
				t.Errorf("Message = %q, want the post-banner error", report.Message)
			}
			if len(report.Stack) != 1 {
				t.Errorf("len(Stack) = %d, want 1", len(report.Stack))
			}
			if consumed != len(window) {
				t.Errorf("consumed = %d, want %d", consumed, len(window))
			}
		})
	}
}

func TestParseSkipConsumesBannerInstructionLines(t *testing.T) {
	// The banner's "--pid is optional" line would otherwise match the
	// error-message rule and open a bogus report.
	window := []string{
		"==7== TO DEBUG THIS PROCESS USING GDB: start GDB like this",
		"==7==   /path/to/gdb ./prog",
		"==7==   and then give GDB the following command",
		"==7==   target remote | vgdb --pid=7",
		"==7== --pid is optional if only one valgrind process is running",
		"==7== ",
		"==7== Invalid read of size 1",
		"==7==    at 0x1000: peek (peek.c:3)",
		"==7== Rerun with --leak-check=full to see details of leaked memory",
	}
	report, consumed := NewParser(nil).Parse(window)

	if report == nil {
		t.Fatal("Parse() returned nil report")
	}
	if report.Message != "Invalid read of size 1" {
		t.Errorf("Message = %q, want %q", report.Message, "Invalid read of size 1")
	}
	if consumed != len(window) {
		t.Errorf("consumed = %d, want %d", consumed, len(window))
	}
}

func TestParseIdempotent(t *testing.T) {
	window := []string{
		"==99== Thread 2:",
		"==99== Use of uninitialised value of size 8",
		"==99==    at 0x4006A1: decide (branch.c:21)",
		"==99==    by 0x4006F0: main (branch.c:40)",
		"==99== (action on error) vgdb me ... ",
	}
	p := NewParser(nil)

	first, firstN := p.Parse(window)
	for i := 0; i < 3; i++ {
		again, againN := p.Parse(window)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("pass %d: report %+v != %+v", i, again, first)
		}
		if againN != firstN {
			t.Fatalf("pass %d: consumed %d != %d", i, againN, firstN)
		}
	}
}

func TestParseFrameWithoutMessageDropped(t *testing.T) {
	window := []string{
		"==5== Continuing ...",
		"==5==    at 0x400500: orphan (orphan.c:9)",
		"==5== (action on error) vgdb me ... ",
	}
	report, consumed := NewParser(nil).Parse(window)

	if report != nil {
		t.Errorf("report = %+v, want nil", report)
	}
	if consumed != 3 {
		t.Errorf("consumed = %d, want 3", consumed)
	}
}

func TestParseStopPhraseBeforeAnyError(t *testing.T) {
	window := []string{
		"==5== Rerun with --leak-check=full to see details of leaked memory",
		"==5== Invalid read of size 4",
	}
	report, consumed := NewParser(nil).Parse(window)

	if report != nil {
		t.Errorf("report = %+v, want nil", report)
	}
	if consumed != 1 {
		t.Errorf("consumed = %d, want 1: lines after the stop phrase belong to the next window", consumed)
	}
}

func TestParseSecondMessageCompletesFirstReport(t *testing.T) {
	window := []string{
		"==12== Invalid read of size 4",
		"==12==    at 0x4005F4: main (first.c:10)",
		"==12== ",
		"==12== Invalid write of size 8",
		"==12==    at 0x400700: main (second.c:20)",
		"==12== (action on error) vgdb me ... ",
	}
	p := NewParser(nil)

	first, n := p.Parse(window)
	if first == nil || first.Message != "Invalid read of size 4" {
		t.Fatalf("first report = %+v", first)
	}
	if n != 3 {
		t.Fatalf("consumed = %d, want 3: the second message line stays in the window", n)
	}

	second, n2 := p.Parse(window[n:])
	if second == nil || second.Message != "Invalid write of size 8" {
		t.Fatalf("second report = %+v", second)
	}
	if n2 != len(window)-n {
		t.Errorf("second consumed = %d, want %d", n2, len(window)-n)
	}
}

func TestParseIgnoredLines(t *testing.T) {
	window := []string{
		"target program wrote this to stderr",
		"==33== ",
		"==33==",
		"==33== Process terminating with default action of signal 11 (SIGSEGV):",
		"==33== Invalid read of size 4",
		"==33==  Address 0x5204044 is 0 bytes after a block of size 40 alloc'd",
		"==33==    at 0x4C2FB0F: malloc (vg_replace_malloc.c:299)",
		"==33== (action on error) vgdb me ... ",
	}
	report, consumed := NewParser(nil).Parse(window)

	if report == nil {
		t.Fatal("Parse() returned nil report")
	}
	if report.Message != "Invalid read of size 4" {
		t.Errorf("Message = %q: colon-terminated and indented lines must not start a report", report.Message)
	}
	// The alloc'd frame attaches to the open report.
	if len(report.Stack) != 1 || report.Stack[0].Function != "malloc" {
		t.Errorf("Stack = %+v, want the single malloc frame", report.Stack)
	}
	if consumed != len(window) {
		t.Errorf("consumed = %d, want %d", consumed, len(window))
	}
}

func TestParseFunctionNamesWithParentheses(t *testing.T) {
	window := []string{
		"==8== Mismatched free() / delete / delete []",
		"==8==    at 0x4C30D3B: operator delete(void*) (vg_replace_malloc.c:576)",
		"==8==    by 0x400812: Widget::~Widget() (widget.cc:31)",
		"==8== (action on error) vgdb me ... ",
	}
	report, _ := NewParser(nil).Parse(window)

	if report == nil {
		t.Fatal("Parse() returned nil report")
	}
	wantStack := []StackEntry{
		{Function: "operator delete(void*)", File: "vg_replace_malloc.c", Line: 576},
		{Function: "Widget::~Widget()", File: "widget.cc", Line: 31},
	}
	if !reflect.DeepEqual(report.Stack, wantStack) {
		t.Errorf("Stack = %+v, want %+v", report.Stack, wantStack)
	}
}

func TestParseEmptyWindow(t *testing.T) {
	report, consumed := NewParser(nil).Parse(nil)
	if report != nil || consumed != 0 {
		t.Errorf("Parse(nil) = %+v, %d; want nil, 0", report, consumed)
	}
}

func TestIsAttachTrigger(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"==123== (action on error) vgdb me ... ", true},
		{"==123== (action at startup) vgdb me ... ", true},
		{"==123==   target remote | vgdb --pid=123", false},
		{"==123== Invalid read of size 4", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsAttachTrigger(tt.line); got != tt.want {
			t.Errorf("IsAttachTrigger(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}
