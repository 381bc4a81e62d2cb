// Copyright 2024 The gVisor Authors.
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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/trapshim/pkg/abi/linux"
	"gvisor.dev/trapshim/pkg/log"
	"gvisor.dev/trapshim/pkg/trap/arch"
	"gvisor.dev/trapshim/pkg/trap/sighandling"
)

func TestDefault(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Default().Validate() failed: %v", err)
	}
	sigs, err := c.Signals()
	if err != nil {
		t.Fatalf("Signals failed: %v", err)
	}
	if diff := cmp.Diff(sighandling.FaultClasses, sigs); diff != "" {
		t.Errorf("default Signals mismatch (-want +got):\n%s", diff)
	}
	if lvl, _ := c.LogLevel(); lvl != log.Info {
		t.Errorf("default LogLevel got %v, want %v", lvl, log.Info)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trap.toml")
	data := `
arch = "ppc"
fault_classes = ["segv", "SIGILL"]
alt_stack_size = 32768
preserve_fp = true

[log]
level = "debug"
format = "json"
file = "/tmp/trap-%PID%.log"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := &Config{
		Arch:         "ppc",
		FaultClasses: []string{"segv", "SIGILL"},
		AltStackSize: 32768,
		PreserveFP:   true,
		Log: Log{
			Level:  "debug",
			Format: "json",
			File:   "/tmp/trap-%PID%.log",
		},
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}
	if a, _ := c.Architecture(); a != arch.PPC32 {
		t.Errorf("Architecture got %v, want %v", a, arch.PPC32)
	}
	sigs, _ := c.Signals()
	if diff := cmp.Diff([]linux.Signal{linux.SIGSEGV, linux.SIGILL}, sigs); diff != "" {
		t.Errorf("Signals mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load got %v, want %v", err, os.ErrNotExist)
	}
}

func TestParseKeepsDefaults(t *testing.T) {
	c, err := Parse(`preserve_fp = true`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := Default()
	want.PreserveFP = true
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		data string
		want string
	}{
		{"syntax", `arch = `, "decoding config"},
		{"unknown key", "arch = \"amd64\"\nbogus = 1\n[log]\ncolor = true", "unknown keys: bogus, log.color"},
		{"arch", `arch = "mips"`, "unknown architecture"},
		{"signal", `fault_classes = ["SIGFOO"]`, "unknown signal"},
		{"class", `fault_classes = ["SIGCHLD"]`, "not a fault class"},
		{"repeated class", `fault_classes = ["SIGSEGV", "segv"]`, "listed twice"},
		{"no classes", `fault_classes = []`, "no fault classes"},
		{"stack", `alt_stack_size = 1024`, "below the minimum"},
		{"level", "[log]\nlevel = \"loud\"", "unknown log level"},
		{"format", "[log]\nformat = \"xml\"", "invalid log format"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.data)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Parse(%q) got error %v, want one containing %q", tc.data, err, tc.want)
			}
		})
	}
}

func TestUnsupportedClassIsMatchable(t *testing.T) {
	c := Default()
	c.FaultClasses = []string{"SIGUSR1"}
	if _, err := c.Signals(); !errors.Is(err, sighandling.ErrUnsupportedClass) {
		t.Errorf("Signals got %v, want %v", err, sighandling.ErrUnsupportedClass)
	}
}
