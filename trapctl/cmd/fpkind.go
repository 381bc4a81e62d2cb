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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/trapshim/pkg/trap/arch"
	"gvisor.dev/trapshim/pkg/trap/fpu"
)

// FPKind implements subcommands.Command for the "fpkind" command.
type FPKind struct {
	arch string
}

// Name implements subcommands.Command.Name.
func (*FPKind) Name() string {
	return "fpkind"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*FPKind) Synopsis() string {
	return "Derive the floating point fault kind from a status and control word."
}

// Usage implements subcommands.Command.Usage.
func (*FPKind) Usage() string {
	return `fpkind [flags] <status> <control> - print the fault kind and the status after clearing.

The words are the x87 status and control words on x86, FPSCR (as both) on
PowerPC and FSR (as both) on SPARC.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (k *FPKind) SetFlags(f *flag.FlagSet) {
	f.StringVar(&k.arch, "arch", "", "architecture. Defaults to the configured one.")
}

// Execute implements subcommands.Command.Execute.
func (k *FPKind) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a, err := archOf(k.arch, confFromArgs(args))
	if err != nil {
		Fatalf("%v", err)
	}
	status, err := parseUint(f.Arg(0), 32)
	if err != nil {
		Fatalf("status: %v", err)
	}
	control, err := parseUint(f.Arg(1), 32)
	if err != nil {
		Fatalf("control: %v", err)
	}
	if err := fpKind(os.Stdout, a, uint32(status), uint32(control)); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

func fpKind(w io.Writer, a arch.Arch, status, control uint32) error {
	kind, err := fpu.Kind(a, status, control)
	if err != nil {
		return err
	}
	cleared, err := fpu.Cleared(a, status, control)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "kind:    %v (%v)\n", kind, kind.Code())
	fmt.Fprintf(w, "cleared: %#x\n", cleared)
	return nil
}
