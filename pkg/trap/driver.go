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

// Package trap turns hardware traps delivered to an emulated thread into
// portable exception records, runs them through the exception dispatch chain
// and resumes or terminates the thread as the chain decides.
//
// A trap takes the following path through a Driver:
//
//  1. Access violations are first offered to the Pager. If it resolves the
//     fault, the faulting instruction is restarted and nothing else happens.
//  2. The registers are captured into a portable snapshot.
//  3. The trap is classified. Traps that instruction emulation may handle are
//     offered to the Emulator; floating point traps are refined from the FP
//     status.
//  4. A fault.Record is built.
//  5. The trap's own signal is unblocked so that the dispatch chain may fault
//     the same way again.
//  6. The Dispatcher decides what to do.
//  7. The thread is resumed from the possibly modified snapshot, or the
//     process is terminated.
//
// Anything going wrong in steps 2 to 4 terminates the process.
package trap

import (
	"fmt"
	"sync/atomic"
	"time"

	"gvisor.dev/trapshim/pkg/abi/linux"
	"gvisor.dev/trapshim/pkg/hostarch"
	"gvisor.dev/trapshim/pkg/log"
	"gvisor.dev/trapshim/pkg/trap/arch"
	"gvisor.dev/trapshim/pkg/trap/classify"
	"gvisor.dev/trapshim/pkg/trap/fault"
	"gvisor.dev/trapshim/pkg/trap/fpu"
)

// Dispatcher is the exception dispatch chain.
type Dispatcher interface {
	// Dispatch walks the installed exception handlers. They may change regs
	// to redirect the thread. rec and regs must not be retained.
	Dispatch(rec *fault.Record, regs *arch.Registers) fault.Disposition
}

// Terminator ends the process.
type Terminator interface {
	// Terminate must not return.
	Terminate(rec *fault.Record)
}

// Emulator emulates the faulting instruction of traps classified as
// emulatable, such as privileged instructions.
type Emulator interface {
	// Emulate returns true if it handled the instruction. It advances regs
	// past the instruction itself.
	Emulate(kind fault.Kind, regs *arch.Registers) bool
}

// Masker changes the signal mask of the current thread.
type Masker interface {
	// Unblock unblocks sig and returns the previous mask.
	Unblock(sig linux.Signal) (linux.SignalSet, error)

	// SetMask restores a mask returned by Unblock.
	SetMask(mask linux.SignalSet) error
}

// StackGuard reports whether an address is in the guard area below a thread
// stack.
type StackGuard interface {
	InStackGuard(addr hostarch.Addr) bool
}

// Options configures a Driver.
type Options struct {
	// Dispatcher and Terminator are required.
	Dispatcher Dispatcher
	Terminator Terminator

	// Pager enables the access violation fast path.
	Pager Pager

	// Emulator enables instruction emulation.
	Emulator Emulator

	// Masker unblocks the trap's signal around dispatch. Without it the
	// mask is left alone.
	Masker Masker

	// StackGuard turns access violations in a stack guard into stack
	// overflows.
	StackGuard StackGuard

	// FPRegs saves the FP state on architectures that do not deliver it
	// with the trap.
	FPRegs fpu.RegisterSet

	// PreserveFP saves and restores the FP state around every dispatch, not
	// only around floating point traps.
	PreserveFP bool

	// UnknownLogger reports unclassified traps. It defaults to a logger
	// rate limited to one message per second.
	UnknownLogger log.Logger
}

// Stats counts what a Driver did.
type Stats struct {
	FastPath   uint64
	Emulated   uint64
	Dispatched uint64
	Unknown    uint64
	Terminated uint64
}

// Driver handles the traps of one architecture.
type Driver struct {
	layout *arch.Layout
	table  *classify.Table
	fp     *fpu.Transfer
	opts   Options

	fastPathHits atomic.Uint64
	emulated     atomic.Uint64
	dispatched   atomic.Uint64
	unknown      atomic.Uint64
	terminated   atomic.Uint64
}

// New returns a driver for traps of a.
func New(a arch.Arch, opts Options) (*Driver, error) {
	if opts.Dispatcher == nil || opts.Terminator == nil {
		return nil, fmt.Errorf("a dispatcher and a terminator are required")
	}
	layout, err := arch.Lookup(a)
	if err != nil {
		return nil, err
	}
	fp, err := fpu.For(a, opts.FPRegs)
	if err != nil {
		return nil, err
	}
	if opts.UnknownLogger == nil {
		opts.UnknownLogger = log.BasicRateLimitedLogger(time.Second)
	}
	return &Driver{
		layout: layout,
		table:  classify.For(a),
		fp:     fp,
		opts:   opts,
	}, nil
}

// Arch returns the architecture of the driver.
func (d *Driver) Arch() arch.Arch {
	return d.layout.Arch
}

// Stats returns the counters of d.
func (d *Driver) Stats() Stats {
	return Stats{
		FastPath:   d.fastPathHits.Load(),
		Emulated:   d.emulated.Load(),
		Dispatched: d.dispatched.Load(),
		Unknown:    d.unknown.Load(),
		Terminated: d.terminated.Load(),
	}
}

// frame is the state of one trap. It lives on the stack of HandleTrap.
type frame struct {
	raw     *arch.RawTrap
	regs    arch.Registers
	rec     fault.Record
	fp      fpu.State
	fpSaved bool
}

// HandleTrap services one trap. It returns the disposition that was applied:
// Resolved or Resume mean the thread may return from the trap; Terminate is
// never returned since the Terminator does not return.
//
// HandleTrap may be called concurrently from any number of threads, and
// re-entered from the Dispatcher.
func (d *Driver) HandleTrap(raw *arch.RawTrap) fault.Disposition {
	if d.fastPath(raw) {
		d.fastPathHits.Add(1)
		return fault.Resolved
	}

	f := frame{raw: raw}
	resolved, err := d.prepare(&f)
	if err != nil {
		d.fatal(&f, err)
	}
	if resolved {
		d.emulated.Add(1)
		return fault.Resolved
	}

	disp := d.dispatch(&f)
	if disp == fault.Resume && !f.rec.Continuable() {
		log.Warningf("Dispatch chain resumed noncontinuable %v", &f.rec)
		disp = fault.Terminate
	}
	switch disp {
	case fault.Resume, fault.Resolved:
		if err := d.resume(&f); err != nil {
			d.fatal(&f, err)
		}
		return fault.Resume
	default:
		d.terminate(&f)
		panic("unreachable")
	}
}

// prepare captures, classifies and describes the trap. Panics are turned
// into errors, since they mean the trap context cannot be trusted.
func (d *Driver) prepare(f *frame) (resolved bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while translating trap: %v", r)
		}
	}()

	f.regs, err = d.layout.Capture(f.raw)
	if err != nil {
		return false, fmt.Errorf("capturing registers: %w", err)
	}

	id, sub := d.layout.TrapCode(f.raw)
	res := d.table.Classify(id, sub)

	if res.Emulate && d.opts.Emulator != nil && d.opts.Emulator.Emulate(res.Kind, &f.regs) {
		if err := d.layout.Restore(&f.regs, f.raw); err != nil {
			return false, fmt.Errorf("restoring emulated registers: %w", err)
		}
		return true, nil
	}

	kind := res.Kind
	if res.Float || d.opts.PreserveFP {
		f.fpSaved, err = d.fp.Save(&f.fp, f.raw)
		if err != nil {
			return false, fmt.Errorf("saving FP state: %w", err)
		}
		if res.Float && f.fpSaved {
			kind = f.fp.DeriveKind()
		}
	}

	d.describe(f, kind, id, sub)
	return false, nil
}

// describe fills in the record of f.
func (d *Driver) describe(f *frame, kind fault.Kind, id arch.TrapID, sub arch.SubCode) {
	rec := &f.rec
	rec.Signo = int32(f.raw.Signo)
	rec.TrapID = uint32(id)
	rec.SubCode = int32(sub)
	rec.Address = f.regs.PC()

	switch kind {
	case fault.AccessViolation:
		addr, at, ok := d.layout.FaultAddress(f.raw)
		if ok && d.opts.StackGuard != nil && d.opts.StackGuard.InStackGuard(addr) {
			kind = fault.StackOverflow
		}
		if ok {
			rec.AddParam(fault.AccessParam(at))
			rec.AddParam(uint64(addr))
		} else {
			rec.Flags |= fault.AddressUnavailable
			rec.AddParam(fault.AccessRead)
			rec.AddParam(^uint64(0))
		}
	case fault.Unknown:
		rec.AddParam(uint64(id))
		rec.AddParam(uint64(uint32(sub)))
		d.unknown.Add(1)
		d.opts.UnknownLogger.Warningf("Unclassified %v trap: signal %v, trap %#x, code %#x, pc %#x", d.layout.Arch, f.raw.Signo, uint32(id), uint32(sub), rec.Address)
	}

	rec.Kind = kind
	rec.Code = kind.Code()
	if kind.Fatal() {
		rec.Flags |= fault.Noncontinuable
	}
}

// dispatch runs the dispatch chain with the trap's signal unblocked.
func (d *Driver) dispatch(f *frame) fault.Disposition {
	d.dispatched.Add(1)
	if log.IsLogging(log.Debug) {
		log.Debugf("Dispatching %v", &f.rec)
	}
	if m := d.opts.Masker; m != nil {
		old, err := m.Unblock(f.raw.Signo)
		if err != nil {
			log.Warningf("Unable to unblock %v for dispatch: %v", f.raw.Signo, err)
		} else {
			defer func() {
				if err := m.SetMask(old); err != nil {
					log.Warningf("Unable to restore signal mask %#x: %v", old, err)
				}
			}()
		}
	}
	return d.opts.Dispatcher.Dispatch(&f.rec, &f.regs)
}

// resume writes the FP state and the registers back into the trap context.
func (d *Driver) resume(f *frame) error {
	if f.fpSaved {
		if err := d.fp.Restore(&f.fp, f.raw); err != nil {
			return fmt.Errorf("restoring FP state: %w", err)
		}
	}
	if err := d.layout.Restore(&f.regs, f.raw); err != nil {
		return fmt.Errorf("restoring registers: %w", err)
	}
	return nil
}

// fatal terminates the process after an inconsistency in the trap itself.
func (d *Driver) fatal(f *frame, err error) {
	log.Warningf("Fatal error handling %v on %v: %v", f.raw.Signo, d.layout.Arch, err)
	f.rec.Flags |= fault.Noncontinuable
	if f.rec.Code == 0 {
		f.rec.Kind = fault.Unknown
		f.rec.Code = fault.Unknown.Code()
		f.rec.Signo = int32(f.raw.Signo)
	}
	d.terminate(f)
}

func (d *Driver) terminate(f *frame) {
	d.terminated.Add(1)
	log.Warningf("Terminating on %v", &f.rec)
	d.opts.Terminator.Terminate(&f.rec)
	panic(fmt.Sprintf("Terminator returned for %v", &f.rec))
}
