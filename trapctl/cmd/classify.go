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
	"text/tabwriter"

	"github.com/google/subcommands"
	"gvisor.dev/trapshim/pkg/trap/arch"
	"gvisor.dev/trapshim/pkg/trap/classify"
)

// Classify implements subcommands.Command for the "classify" command.
type Classify struct {
	arch string
	all  bool
}

// Name implements subcommands.Command.Name.
func (*Classify) Name() string {
	return "classify"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Classify) Synopsis() string {
	return "Classify a raw trap id and sub-code."
}

// Usage implements subcommands.Command.Usage.
func (*Classify) Usage() string {
	return `classify [flags] <trap-id> <sub-code> - print the fault kind of a trap.
classify -all [flags] - print the classification table.

On x86 the trap id is the trap number and the sub-code the error code. Other
architectures use the signal number and si_code.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Classify) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.arch, "arch", "", "architecture (i386, amd64, ppc32, sparc32). Defaults to the configured one.")
	f.BoolVar(&c.all, "all", false, "print the whole classification table.")
}

// Execute implements subcommands.Command.Execute.
func (c *Classify) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	a, err := archOf(c.arch, confFromArgs(args))
	if err != nil {
		Fatalf("%v", err)
	}
	table := classify.For(a)

	if c.all {
		if f.NArg() != 0 {
			f.Usage()
			return subcommands.ExitUsageError
		}
		if err := printTable(os.Stdout, table); err != nil {
			Fatalf("writing table: %v", err)
		}
		return subcommands.ExitSuccess
	}

	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	id, err := parseUint(f.Arg(0), 32)
	if err != nil {
		Fatalf("trap id: %v", err)
	}
	sub, err := parseInt(f.Arg(1), 32)
	if err != nil {
		Fatalf("sub-code: %v", err)
	}
	printResult(os.Stdout, table.Classify(arch.TrapID(id), arch.SubCode(sub)))
	return subcommands.ExitSuccess
}

func printResult(w io.Writer, res classify.Result) {
	fmt.Fprintf(w, "kind:    %v\n", res.Kind)
	fmt.Fprintf(w, "code:    %v\n", res.Kind.Code())
	fmt.Fprintf(w, "float:   %t\n", res.Float)
	fmt.Fprintf(w, "emulate: %t\n", res.Emulate)
	fmt.Fprintf(w, "mapped:  %t\n", res.Mapped)
}

func printTable(w io.Writer, table *classify.Table) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tSUB\tKIND\tCODE\tFLAGS\n")
	for _, e := range table.Entries() {
		sub := fmt.Sprintf("%d", e.Sub)
		if e.AnySub {
			sub = "*"
		}
		var flags string
		if e.Result.Float {
			flags += "float "
		}
		if e.Result.Emulate {
			flags += "emulate"
		}
		fmt.Fprintf(tw, "%#x\t%s\t%v\t%v\t%s\n", uint32(e.ID), sub, e.Result.Kind, e.Result.Kind.Code(), flags)
	}
	return tw.Flush()
}
