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

package linux

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestForEachSignal(t *testing.T) {
	set := MakeSignalSet(SIGSEGV, SIGILL, SIGINT, Signal(64))
	var got []Signal
	ForEachSignal(set, func(sig Signal) {
		got = append(got, sig)
	})
	want := []Signal{SIGINT, SIGILL, SIGSEGV, Signal(64)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ForEachSignal mismatch (-want +got):\n%s", diff)
	}
}

func TestSignalSetOf(t *testing.T) {
	if got, want := SignalSetOf(SIGSEGV), SignalSet(1<<10); got != want {
		t.Errorf("SignalSetOf(SIGSEGV) got %#x, want %#x", got, want)
	}
}

func TestParseSignal(t *testing.T) {
	for _, name := range []string{"SIGFPE", "FPE"} {
		sig, err := ParseSignal(name)
		if err != nil {
			t.Fatalf("ParseSignal(%q) failed: %v", name, err)
		}
		if sig != SIGFPE {
			t.Errorf("ParseSignal(%q) got %v, want %v", name, sig, SIGFPE)
		}
	}
	if _, err := ParseSignal("SIGNOPE"); err == nil {
		t.Errorf("ParseSignal(SIGNOPE) succeeded, want error")
	}
	if got := Signal(40).String(); got != "signal 40" {
		t.Errorf("Signal(40).String() got %q", got)
	}
}

func TestSignalInfoAddr(t *testing.T) {
	var info SignalInfo
	info.SetAddr(0xdeadbeef000)
	if got := info.Addr(); got != 0xdeadbeef000 {
		t.Errorf("Addr got %#x, want %#x", got, 0xdeadbeef000)
	}
	info.Code = 0x30001
	info.FixSignalCodeForUser()
	if info.Code != 1 {
		t.Errorf("FixSignalCodeForUser got %#x, want 1", info.Code)
	}
}
