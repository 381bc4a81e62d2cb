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

package classify

import (
	"gvisor.dev/trapshim/pkg/abi/linux"
	"gvisor.dev/trapshim/pkg/trap/arch"
	"gvisor.dev/trapshim/pkg/trap/fault"
)

func wildcard(id arch.TrapID, r Result) Entry {
	return Entry{ID: id, AnySub: true, Result: r}
}

func exact(id arch.TrapID, sub arch.SubCode, r Result) Entry {
	return Entry{ID: id, Sub: sub, Result: r}
}

func kind(k fault.Kind) Result {
	return Result{Kind: k}
}

func fp(k fault.Kind) Result {
	return Result{Kind: k, Float: true}
}

func emulated(k fault.Kind) Result {
	return Result{Kind: k, Emulate: true}
}

// x86 tables are keyed on the hardware trap number and error code. NMI,
// double fault and invalid TSS never reach user mode and stay unmapped.
var x86Entries = []Entry{
	wildcard(arch.TrapDivide, kind(fault.IntDivideByZero)),
	wildcard(arch.TrapDebug, kind(fault.SingleStep)),
	wildcard(arch.TrapBreakpoint, kind(fault.Breakpoint)),
	wildcard(arch.TrapOverflow, kind(fault.IntOverflow)),
	wildcard(arch.TrapBound, kind(fault.ArrayBounds)),
	wildcard(arch.TrapInvalidOpcode, emulated(fault.IllegalInstruction)),
	wildcard(arch.TrapNoDevice, fp(fault.FloatInvalid)),
	wildcard(arch.TrapSegNotPresent, emulated(fault.AccessViolation)),
	wildcard(arch.TrapStackFault, kind(fault.StackOverflow)),
	// A general protection fault without a selector error code is raised by
	// privileged instructions.
	exact(arch.TrapProtection, 0, emulated(fault.PrivilegedInstruction)),
	wildcard(arch.TrapProtection, emulated(fault.AccessViolation)),
	wildcard(arch.TrapPageFault, kind(fault.AccessViolation)),
	wildcard(arch.TrapX87, fp(fault.FloatInvalid)),
	wildcard(arch.TrapAlignment, kind(fault.Misalignment)),
	wildcard(arch.TrapMachineCheck, kind(fault.MachineCheck)),
	wildcard(arch.TrapSIMD, fp(fault.FloatInvalid)),
	wildcard(arch.TrapIDSignalBase+arch.TrapID(linux.SIGINT), kind(fault.ExternalInterrupt)),
}

func sig(s linux.Signal) arch.TrapID {
	return arch.TrapID(s)
}

// Signal based tables are keyed on the signal and its si_code. SIGILL and
// SIGFPE have no wildcard: an si_code the kernel never documented is Unknown.
var signalEntries = []Entry{
	wildcard(sig(linux.SIGSEGV), kind(fault.AccessViolation)),

	exact(sig(linux.SIGBUS), linux.BUS_ADRALN, kind(fault.Misalignment)),
	exact(sig(linux.SIGBUS), linux.BUS_MCEERR_AR, kind(fault.MachineCheck)),
	wildcard(sig(linux.SIGBUS), kind(fault.AccessViolation)),

	exact(sig(linux.SIGILL), linux.ILL_ILLOPC, emulated(fault.IllegalInstruction)),
	exact(sig(linux.SIGILL), linux.ILL_ILLOPN, emulated(fault.IllegalInstruction)),
	exact(sig(linux.SIGILL), linux.ILL_ILLADR, emulated(fault.IllegalInstruction)),
	exact(sig(linux.SIGILL), linux.ILL_ILLTRP, emulated(fault.IllegalInstruction)),
	exact(sig(linux.SIGILL), linux.ILL_COPROC, emulated(fault.IllegalInstruction)),
	exact(sig(linux.SIGILL), linux.ILL_PRVOPC, emulated(fault.PrivilegedInstruction)),
	exact(sig(linux.SIGILL), linux.ILL_PRVREG, emulated(fault.PrivilegedInstruction)),
	exact(sig(linux.SIGILL), linux.ILL_BADSTK, kind(fault.StackOverflow)),

	exact(sig(linux.SIGFPE), linux.FPE_INTDIV, kind(fault.IntDivideByZero)),
	exact(sig(linux.SIGFPE), linux.FPE_INTOVF, kind(fault.IntOverflow)),
	exact(sig(linux.SIGFPE), linux.FPE_FLTDIV, fp(fault.FloatDivideByZero)),
	exact(sig(linux.SIGFPE), linux.FPE_FLTOVF, fp(fault.FloatOverflow)),
	exact(sig(linux.SIGFPE), linux.FPE_FLTUND, fp(fault.FloatUnderflow)),
	exact(sig(linux.SIGFPE), linux.FPE_FLTRES, fp(fault.FloatInexact)),
	exact(sig(linux.SIGFPE), linux.FPE_FLTINV, fp(fault.FloatInvalid)),
	exact(sig(linux.SIGFPE), linux.FPE_FLTSUB, kind(fault.ArrayBounds)),

	exact(sig(linux.SIGTRAP), linux.TRAP_BRKPT, kind(fault.Breakpoint)),
	exact(sig(linux.SIGTRAP), linux.TRAP_TRACE, kind(fault.SingleStep)),
	exact(sig(linux.SIGTRAP), linux.TRAP_BRANCH, kind(fault.SingleStep)),
	exact(sig(linux.SIGTRAP), linux.TRAP_HWBKPT, kind(fault.SingleStep)),

	wildcard(sig(linux.SIGINT), kind(fault.ExternalInterrupt)),
}

func init() {
	tables[arch.I386] = NewTable(arch.I386, x86Entries)
	tables[arch.AMD64] = NewTable(arch.AMD64, x86Entries)
	tables[arch.PPC32] = NewTable(arch.PPC32, signalEntries)
	tables[arch.SPARC32] = NewTable(arch.SPARC32, signalEntries)
}
