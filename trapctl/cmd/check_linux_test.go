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

//go:build linux && (amd64 || arm64)
// +build linux
// +build amd64 arm64

package cmd

import (
	"bytes"
	"testing"

	"gvisor.dev/trapshim/pkg/abi/linux"
	"gvisor.dev/trapshim/pkg/trap/config"
	"gvisor.dev/trapshim/pkg/trap/sighandling"
)

func TestCheck(t *testing.T) {
	conf := config.Default()
	conf.FaultClasses = []string{"SIGSEGV", "SIGBUS"}
	var buf bytes.Buffer
	if err := check(&buf, conf); err != nil {
		t.Fatalf("check failed: %v", err)
	}
	checkOutput(t, buf.String(),
		"SIGSEGV:     handler 0x",
		"SIGBUS:      handler 0x",
		"alt stack:   0x",
		"signal mask: ok\n",
		"handlers:    not installed\n")

	r := sighandling.Current()
	if r == nil {
		t.Fatalf("check did not create a registry")
	}
	if got := r.Installed(); len(got) != 0 {
		t.Errorf("check installed handlers for %v", got)
	}
	act, err := r.Action(linux.SIGSEGV)
	if err != nil {
		t.Fatalf("Action failed: %v", err)
	}
	if act.Handler == linux.SIG_DFL {
		t.Errorf("SIGSEGV lost the runtime's handler")
	}
}
