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
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mortem-dev/mortem/pkg/errors"
)

// fakeFrame is the canned debugger state at one stack position.
type fakeFrame struct {
	args      []string
	frameDesc []string
	locals    []string
	listing   []string
	values    map[string]string // print expr -> rendered value
}

type fakeReply struct {
	lines []string
	err   error
}

// fakeDriver serves scripted responses for the frame the walk is currently
// on; "up" advances until the last frame, then clamps like the real
// debugger does.
type fakeDriver struct {
	frames []fakeFrame
	pos    int
	calls  []string
	// lostFrom fails every command once this many calls have been made.
	lostFrom int
	// override replaces the response for a specific command.
	override map[string]fakeReply
}

func (d *fakeDriver) SendAndWait(_ context.Context, cmd string, _ time.Duration) ([]string, error) {
	d.calls = append(d.calls, cmd)
	if d.lostFrom > 0 && len(d.calls) >= d.lostFrom {
		return nil, &errors.ConnectionLostError{}
	}
	if r, ok := d.override[cmd]; ok {
		return r.lines, r.err
	}

	f := &d.frames[d.pos]
	switch {
	case cmd == "info args":
		return withPrompt(f.args), nil
	case cmd == "frame":
		return withPrompt(f.frameDesc), nil
	case cmd == "info locals":
		return withPrompt(f.locals), nil
	case cmd == "list":
		return withPrompt(f.listing), nil
	case cmd == "up":
		if d.pos < len(d.frames)-1 {
			d.pos++
		}
		return withPrompt(nil), nil
	case strings.HasPrefix(cmd, "print "):
		expr := strings.TrimPrefix(cmd, "print ")
		if v, ok := f.values[expr]; ok {
			return withPrompt([]string{"$1 = " + v}), nil
		}
		return withPrompt([]string{`No symbol "` + expr + `" in current context.`}), nil
	}
	return withPrompt(nil), nil
}

func (d *fakeDriver) DefaultTimeout() time.Duration { return time.Second }

func withPrompt(lines []string) []string {
	return append(append([]string{}, lines...), "(gdb) ")
}

func (d *fakeDriver) sent(cmd string) int {
	n := 0
	for _, c := range d.calls {
		if c == cmd {
			n++
		}
	}
	return n
}

func TestCollectFrameWithSource(t *testing.T) {
	d := &fakeDriver{frames: []fakeFrame{{
		args: []string{"p = 0x0"},
		frameDesc: []string{
			"#0  crash (p=0x0) at demo.c:12",
			"12\t  *p = total;",
		},
		locals: []string{
			"total = 42",
			"total = 42",
			"  nested = {a = 1}",
		},
		listing: []string{
			"10\tint crash(int *p) {",
			"11\t  int total = val;",
			"12\t  *p = total;",
		},
		values: map[string]string{
			"p":     "(int *) 0x0",
			"total": "42",
			"val":   "7",
		},
	}}}

	info, err := NewInspector(d, 80).CollectFrame(context.Background())
	if err != nil {
		t.Fatalf("CollectFrame() error: %v", err)
	}

	if info.Depth != 0 {
		t.Errorf("Depth = %d, want 0", info.Depth)
	}
	if info.Function != "crash" {
		t.Errorf("Function = %q, want %q", info.Function, "crash")
	}
	if info.File != "demo.c" || info.Line != 12 {
		t.Errorf("location = %s:%d, want demo.c:12", info.File, info.Line)
	}
	if !info.HasSource {
		t.Fatal("HasSource = false, want true")
	}
	if info.SourceLine != "  *p = total;" {
		t.Errorf("SourceLine = %q", info.SourceLine)
	}
	if want := []string{"p = 0x0"}; !reflect.DeepEqual(info.Args, want) {
		t.Errorf("Args = %v, want %v", info.Args, want)
	}
	// Duplicates collapse, indented continuations drop.
	if want := []string{"total = 42"}; !reflect.DeepEqual(info.Locals, want) {
		t.Errorf("Locals = %v, want %v", info.Locals, want)
	}
	if len(info.NearbyCode) != 3 {
		t.Errorf("len(NearbyCode) = %d, want 3", len(info.NearbyCode))
	}
	// Tokens evaluate in sorted order; unresolvable ones drop out.
	wantVars := []string{"p = (int *) 0x0", "total = 42", "val = 7"}
	if !reflect.DeepEqual(info.NearbyVars, wantVars) {
		t.Errorf("NearbyVars = %v, want %v", info.NearbyVars, wantVars)
	}
}

func TestCollectFrameNoSource(t *testing.T) {
	d := &fakeDriver{frames: []fakeFrame{{
		frameDesc: []string{
			"#2  0x00007f8a4c29d830 in __libc_start_main () from /lib/x86_64-linux-gnu/libc.so.6",
		},
	}}}

	info, err := NewInspector(d, 80).CollectFrame(context.Background())
	if err != nil {
		t.Fatalf("CollectFrame() error: %v", err)
	}

	if info.Depth != 2 {
		t.Errorf("Depth = %d, want 2", info.Depth)
	}
	if info.Function != "__libc_start_main" {
		t.Errorf("Function = %q", info.Function)
	}
	if info.HasSource {
		t.Error("HasSource = true for a frame without source")
	}
	if info.Line != -1 {
		t.Errorf("Line = %d, want -1", info.Line)
	}
	// No source means no locals, listing or evaluation traffic.
	for _, cmd := range []string{"info locals", "list"} {
		if d.sent(cmd) != 0 {
			t.Errorf("command %q sent %d times, want 0", cmd, d.sent(cmd))
		}
	}
}

func TestCollectFrameFilenameEchoMeansNoSource(t *testing.T) {
	d := &fakeDriver{frames: []fakeFrame{{
		frameDesc: []string{
			"#1  0x0000000000400700 in main (argc=1, argv=0x7ffd44e3c0a8) at demo.c:25",
			"25\tin demo.c",
		},
	}}}

	info, err := NewInspector(d, 80).CollectFrame(context.Background())
	if err != nil {
		t.Fatalf("CollectFrame() error: %v", err)
	}

	if info.Function != "main" {
		t.Errorf("Function = %q, want %q (address form preferred)", info.Function, "main")
	}
	if info.File != "demo.c" || info.Line != 25 {
		t.Errorf("location = %s:%d, want demo.c:25", info.File, info.Line)
	}
	if info.HasSource {
		t.Error("HasSource = true when the echo only repeats the file name")
	}
	if info.SourceLine != "" {
		t.Errorf("SourceLine = %q, want empty", info.SourceLine)
	}
}

func TestCollectFrameThisReceiverRetry(t *testing.T) {
	d := &fakeDriver{frames: []fakeFrame{{
		args: []string{"this = 0x55e8c2a41f60", "i = 3"},
		frameDesc: []string{
			"#0  Widget::poke (this=0x55e8c2a41f60, i=3) at widget.cc:31",
			"31\t  field_a += i;",
		},
		listing: []string{"31\t  field_a += i;"},
		values: map[string]string{
			"i":             "3",
			"this->field_a": "40",
		},
	}}}

	info, err := NewInspector(d, 80).CollectFrame(context.Background())
	if err != nil {
		t.Fatalf("CollectFrame() error: %v", err)
	}

	found := false
	for _, v := range info.NearbyVars {
		if v == "this->field_a = 40" {
			found = true
		}
		if strings.HasPrefix(v, "field_a =") {
			t.Errorf("bare member evaluation should have failed, got %q", v)
		}
	}
	if !found {
		t.Errorf("NearbyVars = %v, missing member-access retry result", info.NearbyVars)
	}
	if d.sent("print field_a") != 1 || d.sent("print this->field_a") != 1 {
		t.Errorf("retry order wrong: calls = %v", d.calls)
	}
}

func TestCollectFramePartialResponsesTolerated(t *testing.T) {
	d := &fakeDriver{frames: []fakeFrame{{
		args: []string{"p = 0x0"},
		frameDesc: []string{
			"#0  crash (p=0x0) at demo.c:12",
			"12\t  *p = 1;",
		},
		listing: []string{"12\t  *p = 1;"},
	}}}
	d.override = map[string]fakeReply{
		"info locals": {
			lines: []string{"x = 1"},
			err:   &errors.ProtocolError{Command: "info locals", Partial: 1},
		},
	}

	info, err := NewInspector(d, 80).CollectFrame(context.Background())
	if err != nil {
		t.Fatalf("CollectFrame() error: %v", err)
	}
	// The timed-out command still contributed its partial lines.
	if want := []string{"x = 1"}; !reflect.DeepEqual(info.Locals, want) {
		t.Errorf("Locals = %v, want %v", info.Locals, want)
	}
	if len(info.NearbyCode) != 1 {
		t.Errorf("collection stopped early: NearbyCode = %v", info.NearbyCode)
	}
}

func TestWalkStackStopsWhenDepthRepeats(t *testing.T) {
	frame := func(depth string) fakeFrame {
		return fakeFrame{frameDesc: []string{"#" + depth + "  0x0000000000400000 in fn" + depth + " ()"}}
	}
	d := &fakeDriver{frames: []fakeFrame{frame("0"), frame("1"), frame("2")}}

	frames, err := NewInspector(d, 80).WalkStack(context.Background())
	if err != nil {
		t.Fatalf("WalkStack() error: %v", err)
	}

	// The clamped fourth collection repeats depth 2 and is discarded.
	if len(frames) != 3 {
		t.Fatalf("len(frames) = %d, want 3", len(frames))
	}
	for i, f := range frames {
		if f.Depth != i {
			t.Errorf("frames[%d].Depth = %d, want %d", i, f.Depth, i)
		}
	}
	if got := d.sent("up"); got != 3 {
		t.Errorf("up sent %d times, want 3", got)
	}
}

func TestWalkStackConnectionLost(t *testing.T) {
	frame := func(depth string) fakeFrame {
		return fakeFrame{frameDesc: []string{"#" + depth + "  0x0000000000400000 in fn ()"}}
	}
	// Frame 0 takes calls 1-3 (info args, frame, up); fail from call 4.
	d := &fakeDriver{frames: []fakeFrame{frame("0"), frame("1")}, lostFrom: 4}

	frames, err := NewInspector(d, 80).WalkStack(context.Background())
	var lost *errors.ConnectionLostError
	if !errors.As(err, &lost) {
		t.Fatalf("error = %v, want *ConnectionLostError", err)
	}
	if len(frames) != 1 {
		t.Errorf("len(frames) = %d, want the 1 frame collected before the loss", len(frames))
	}
}

func TestTopLevelPairs(t *testing.T) {
	lines := []string{
		"x = 1",
		"  y = 2",
		"\tz = 3",
		"No locals.",
		"big = {a = 1,",
		"(gdb) ",
	}
	want := []string{"x = 1", "big = {a = 1,"}
	if got := topLevelPairs(lines); !reflect.DeepEqual(got, want) {
		t.Errorf("topLevelPairs() = %v, want %v", got, want)
	}
}

func TestHasThisArg(t *testing.T) {
	if hasThisArg([]string{"thistle = 1"}) {
		t.Error("prefix match accepted, want exact name match")
	}
	if !hasThisArg([]string{"i = 3", "this = 0x55e8"}) {
		t.Error("this argument not detected")
	}
	if hasThisArg(nil) {
		t.Error("empty args reported a receiver")
	}
}

func TestClip(t *testing.T) {
	tests := []struct {
		s     string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 7, "this is"},
		{"unbounded", 0, "unbounded"},
	}
	for _, tt := range tests {
		if got := clip(tt.s, tt.width); got != tt.want {
			t.Errorf("clip(%q, %d) = %q, want %q", tt.s, tt.width, got, tt.want)
		}
	}
}
