// Copyright 2018 The gVisor Authors.
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
	"fmt"
	"strings"
	"testing"
	"time"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	expected := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if len(tw.lines) != len(expected) {
		t.Fatalf("Writer should have logged %d lines, got: %q, expected: %q", len(expected), tw.lines, expected)
	}
	for i, l := range tw.lines {
		if l != expected[i] {
			t.Errorf("line %d doesn't match, got: %q, expected: %q", i, l, expected[i])
		}
	}
}

func TestWriterAppendsNewline(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("no newline")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}
	if got := strings.Join(tw.lines, ""); got != "no newline\n" {
		t.Errorf("Write got %q, want %q", got, "no newline\n")
	}
}

func TestParseLevel(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "warning", want: Warning},
		{in: "WARN", want: Warning},
		{in: "info", want: Info},
		{in: "", want: Info},
		{in: "Debug", want: Debug},
		{in: "trace", want: Info, wantErr: true},
	} {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q) got err %v, wantErr %t", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) got %v, want %v", tc.in, got, tc.want)
		}
	}
}

type recordingLogger struct {
	level Level
	lines []string
}

func (r *recordingLogger) Debugf(format string, v ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, v...))
}

func (r *recordingLogger) Infof(format string, v ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, v...))
}

func (r *recordingLogger) Warningf(format string, v ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, v...))
}

func (r *recordingLogger) IsLogging(level Level) bool {
	return r.level >= level
}

func TestRateLimitedSuppression(t *testing.T) {
	rec := &recordingLogger{level: Debug}
	rl := RateLimitedLogger(rec, time.Hour)

	rl.Warningf("trap %d", 1)
	rl.Warningf("trap %d", 2)
	rl.Warningf("trap %d", 3)

	if len(rec.lines) != 1 {
		t.Fatalf("Unexpected logged lines, got %q, want exactly one", rec.lines)
	}
	if rec.lines[0] != "trap 1" {
		t.Errorf("Unexpected first line, got %q, want %q", rec.lines[0], "trap 1")
	}
	if got := rl.Suppressed(); got != 2 {
		t.Errorf("Unexpected suppressed count, got %d, want 2", got)
	}
	if !rl.IsLogging(Debug) {
		t.Errorf("IsLogging(Debug) got false, want true")
	}
}

func TestRateLimitedReportsSuppressed(t *testing.T) {
	rec := &recordingLogger{level: Debug}
	rl := RateLimitedLogger(rec, time.Nanosecond)
	rl.suppressed.Store(4)

	// Let the limiter refill.
	time.Sleep(time.Millisecond)
	rl.Infof("trap %d", 7)

	if len(rec.lines) != 1 {
		t.Fatalf("Unexpected logged lines, got %q, want exactly one", rec.lines)
	}
	if want := "(4 similar messages suppressed) trap 7"; rec.lines[0] != want {
		t.Errorf("Unexpected line, got %q, want %q", rec.lines[0], want)
	}
	if got := rl.Suppressed(); got != 0 {
		t.Errorf("Unexpected suppressed count, got %d, want 0", got)
	}
}

func TestBasicLoggerLevels(t *testing.T) {
	tw := &testWriter{}
	l := &BasicLogger{Level: Info, Emitter: &Writer{Next: tw}}

	l.Debugf("hidden")
	l.Infof("shown %d", 1)
	l.Warningf("shown %d", 2)
	if got, want := strings.Join(tw.lines, ""), "shown 1\nshown 2\n"; got != want {
		t.Errorf("Unexpected output, got %q, want %q", got, want)
	}

	l.SetLevel(Debug)
	if !l.IsLogging(Debug) {
		t.Errorf("IsLogging(Debug) after SetLevel got false, want true")
	}
}

func TestGoogleEmitterFormat(t *testing.T) {
	tw := &testWriter{}
	e := GoogleEmitter{&Writer{Next: tw}}
	ts := time.Date(2024, time.May, 7, 13, 4, 5, 6000, time.UTC)
	e.Emit(0, Warning, ts, "fault at %#x", 0x1000)

	got := strings.Join(tw.lines, "")
	if !strings.HasPrefix(got, "W0507 13:04:05.000006 ") {
		t.Errorf("Unexpected header, got %q", got)
	}
	if !strings.Contains(got, "log_test.go:") {
		t.Errorf("Missing caller in %q", got)
	}
	if !strings.HasSuffix(got, "] fault at 0x1000\n") {
		t.Errorf("Unexpected message, got %q", got)
	}
}

func TestNewEmitter(t *testing.T) {
	w := &Writer{Next: &testWriter{}}
	for _, tc := range []struct {
		format  string
		wantErr bool
	}{
		{format: ""},
		{format: "text"},
		{format: "json"},
		{format: "json-k8s"},
		{format: "xml", wantErr: true},
	} {
		e, err := NewEmitter(tc.format, w)
		if (err != nil) != tc.wantErr {
			t.Errorf("NewEmitter(%q) got err %v, wantErr %t", tc.format, err, tc.wantErr)
		}
		if err == nil && e == nil {
			t.Errorf("NewEmitter(%q) returned nil emitter", tc.format)
		}
	}
}

func TestPatternOpts(t *testing.T) {
	opts := PatternOpts{PID: 42, Timestamp: time.Date(2024, time.January, 2, 3, 4, 5, 0, time.UTC)}
	got := opts.Build("/tmp/trap-%PID%-%TIMESTAMP%.log")
	if want := "/tmp/trap-42-20240102-030405.000000.log"; got != want {
		t.Errorf("Build got %q, want %q", got, want)
	}
}
