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
	"gvisor.dev/trapshim/pkg/trap/classify"
)

// Decode implements subcommands.Command for the "decode" command.
type Decode struct {
	arch   string
	signal string
	code   int
	addr   string
}

// Name implements subcommands.Command.Name.
func (*Decode) Name() string {
	return "decode"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Decode) Synopsis() string {
	return "Print the registers held in a saved trap context."
}

// Usage implements subcommands.Command.Usage.
func (*Decode) Usage() string {
	return `decode [flags] <context-file> - print the registers of a raw trap context.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Decode) SetFlags(f *flag.FlagSet) {
	f.StringVar(&d.arch, "arch", "", "architecture of the context. Defaults to the configured one.")
	f.StringVar(&d.signal, "signal", "SIGSEGV", "signal the context was delivered with.")
	f.IntVar(&d.code, "code", 0, "si_code the context was delivered with.")
	f.StringVar(&d.addr, "addr", "0", "si_addr the context was delivered with.")
}

// Execute implements subcommands.Command.Execute.
func (d *Decode) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a, err := archOf(d.arch, confFromArgs(args))
	if err != nil {
		Fatalf("%v", err)
	}
	sig, err := parseSignal(d.signal)
	if err != nil {
		Fatalf("%v", err)
	}
	addr, err := parseUint(d.addr, 64)
	if err != nil {
		Fatalf("addr: %v", err)
	}
	ctx, err := os.ReadFile(f.Arg(0))
	if err != nil {
		Fatalf("reading context: %v", err)
	}
	if err := decode(os.Stdout, a, newRawTrap(sig, int32(d.code), addr, ctx)); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// decode prints what the trap layer reads out of raw.
func decode(w io.Writer, a arch.Arch, raw *arch.RawTrap) error {
	l, err := arch.Lookup(a)
	if err != nil {
		return err
	}
	regs, err := l.Capture(raw)
	if err != nil {
		return err
	}
	id, sub := l.TrapCode(raw)
	res := classify.For(a).Classify(id, sub)
	fmt.Fprintf(w, "%v context, %d of %d bytes, %v\n", a, len(raw.Context), l.Size, raw.Signo)
	fmt.Fprintf(w, "trap %#x/%#x: %v\n", uint32(id), uint32(sub), res.Kind)
	if addr, at, ok := l.FaultAddress(raw); ok {
		fmt.Fprintf(w, "access violation: %v at %v\n", at, addr)
	}
	regs.DumpTo(w)
	return nil
}
