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
	"gvisor.dev/trapshim/pkg/hostarch"
	"gvisor.dev/trapshim/pkg/log"
	"gvisor.dev/trapshim/pkg/trap"
	"gvisor.dev/trapshim/pkg/trap/arch"
	"gvisor.dev/trapshim/pkg/trap/fault"
)

// Replay implements subcommands.Command for the "replay" command.
type Replay struct {
	arch      string
	signal    string
	code      int
	addr      string
	resolve   bool
	terminate bool
	out       string
}

// Name implements subcommands.Command.Name.
func (*Replay) Name() string {
	return "replay"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Replay) Synopsis() string {
	return "Run a recorded trap through the trap layer."
}

// Usage implements subcommands.Command.Usage.
func (*Replay) Usage() string {
	return `replay [flags] <context-file> [fp-file] - run a recorded trap through a driver.

The dispatch chain is replaced by one that prints the exception record and
resumes, unless -terminate is given. The registers the thread would resume
with are printed, and written to -o if set.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Replay) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.arch, "arch", "", "architecture of the context. Defaults to the configured one.")
	f.StringVar(&r.signal, "signal", "SIGSEGV", "signal the trap was delivered with.")
	f.IntVar(&r.code, "code", 0, "si_code the trap was delivered with.")
	f.StringVar(&r.addr, "addr", "0", "si_addr the trap was delivered with.")
	f.BoolVar(&r.resolve, "resolve", false, "resolve access violations in the pager.")
	f.BoolVar(&r.terminate, "terminate", false, "have the dispatch chain terminate instead of resume.")
	f.StringVar(&r.out, "o", "", "file to write the resulting context to.")
}

// Execute implements subcommands.Command.Execute.
func (r *Replay) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 || f.NArg() > 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := confFromArgs(args)
	a, err := archOf(r.arch, conf)
	if err != nil {
		Fatalf("%v", err)
	}
	sig, err := parseSignal(r.signal)
	if err != nil {
		Fatalf("%v", err)
	}
	addr, err := parseUint(r.addr, 64)
	if err != nil {
		Fatalf("addr: %v", err)
	}
	ctx, err := os.ReadFile(f.Arg(0))
	if err != nil {
		Fatalf("reading context: %v", err)
	}
	var fp []byte
	if f.NArg() == 2 {
		if fp, err = os.ReadFile(f.Arg(1)); err != nil {
			Fatalf("reading FP state: %v", err)
		}
	}

	raw := newRawTrap(sig, int32(r.code), addr, ctx)
	disp := fault.Resume
	if r.terminate {
		disp = fault.Terminate
	}
	res, err := replay(os.Stdout, a, raw, fp, replayOpts{
		resolve:     r.resolve,
		disposition: disp,
		preserveFP:  conf.PreserveFP,
	})
	if err != nil {
		Fatalf("%v", err)
	}
	if res == fault.Terminate {
		return subcommands.ExitFailure
	}
	if r.out != "" {
		if err := os.WriteFile(r.out, raw.Context, 0644); err != nil {
			Fatalf("writing context: %v", err)
		}
	}
	return subcommands.ExitSuccess
}

type replayOpts struct {
	resolve     bool
	disposition fault.Disposition
	preserveFP  bool
}

// printingDispatcher is a dispatch chain that prints every record.
type printingDispatcher struct {
	w           io.Writer
	disposition fault.Disposition
}

// Dispatch implements trap.Dispatcher.Dispatch.
func (p *printingDispatcher) Dispatch(rec *fault.Record, regs *arch.Registers) fault.Disposition {
	fmt.Fprintf(p.w, "exception: %v\n", rec)
	return p.disposition
}

// resolvingPager resolves every access violation.
type resolvingPager struct {
	w io.Writer
}

// HandleAccessFault implements trap.Pager.HandleAccessFault.
func (p resolvingPager) HandleAccessFault(addr hostarch.Addr, at hostarch.AccessType) bool {
	fmt.Fprintf(p.w, "pager: resolved %v access at %v\n", at, addr)
	return true
}

// terminated is raised by recordingTerminator in place of exiting.
type terminated struct {
	rec fault.Record
}

type recordingTerminator struct{}

// Terminate implements trap.Terminator.Terminate.
func (recordingTerminator) Terminate(rec *fault.Record) {
	panic(terminated{rec: *rec})
}

// imageRegisters stands in for the FP registers of architectures that do not
// deliver FP state with the trap.
type imageRegisters struct {
	image []byte
}

// SaveFP implements fpu.RegisterSet.SaveFP.
func (r *imageRegisters) SaveFP(image []byte) error {
	if len(r.image) < len(image) {
		return fmt.Errorf("FP image has %d bytes, need %d", len(r.image), len(image))
	}
	copy(image, r.image)
	return nil
}

// RestoreFP implements fpu.RegisterSet.RestoreFP.
func (r *imageRegisters) RestoreFP(image []byte) error {
	copy(r.image, image)
	return nil
}

// replay runs raw through a driver for a and prints what happened. fp is the
// FP state delivered with the trap or held in the FP registers.
func replay(w io.Writer, a arch.Arch, raw *arch.RawTrap, fp []byte, opts replayOpts) (disp fault.Disposition, err error) {
	dopts := trap.Options{
		Dispatcher:    &printingDispatcher{w: w, disposition: opts.disposition},
		Terminator:    recordingTerminator{},
		PreserveFP:    opts.preserveFP,
		UnknownLogger: log.Log(),
	}
	if opts.resolve {
		dopts.Pager = resolvingPager{w: w}
	}
	if fp != nil {
		if a == arch.SPARC32 {
			dopts.FPRegs = &imageRegisters{image: fp}
		} else {
			raw.FP = fp
		}
	}
	d, err := trap.New(a, dopts)
	if err != nil {
		return 0, err
	}

	defer func() {
		if r := recover(); r != nil {
			t, ok := r.(terminated)
			if !ok {
				panic(r)
			}
			fmt.Fprintf(w, "terminated: %v\n", &t.rec)
			disp, err = fault.Terminate, nil
		}
	}()
	disp = d.HandleTrap(raw)
	fmt.Fprintf(w, "disposition: %v\n", disp)

	regs, err := arch.MustLookup(a).Capture(raw)
	if err != nil {
		return 0, err
	}
	regs.DumpTo(w)
	return disp, nil
}
