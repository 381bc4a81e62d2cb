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

package arch

import (
	"encoding/binary"

	"gvisor.dev/trapshim/pkg/abi/linux"
	"gvisor.dev/trapshim/pkg/hostarch"
)

// x86 trap numbers.
const (
	TrapDivide        = 0
	TrapDebug         = 1
	TrapNMI           = 2
	TrapBreakpoint    = 3
	TrapOverflow      = 4
	TrapBound         = 5
	TrapInvalidOpcode = 6
	TrapNoDevice      = 7
	TrapDoubleFault   = 8
	TrapInvalidTSS    = 10
	TrapSegNotPresent = 11
	TrapStackFault    = 12
	TrapProtection    = 13
	TrapPageFault     = 14
	TrapX87           = 16
	TrapAlignment     = 17
	TrapMachineCheck  = 18
	TrapSIMD          = 19
)

// Page fault error code bits.
const (
	pfErrWrite = 1 << 1
	pfErrFetch = 1 << 4
)

// i386 struct sigcontext, from arch/x86/include/uapi/asm/sigcontext.h.
var i386Layout = &Layout{
	Arch:    I386,
	Order:   binary.LittleEndian,
	Size:    88,
	MinSize: 76,
	PCField: FieldPC,
	SPField: RSP,
	Slots: []Slot{
		{Field: FieldGS, Name: "gs", Offset: 0, Width: 2},
		{Field: FieldFS, Name: "fs", Offset: 4, Width: 2},
		{Field: FieldES, Name: "es", Offset: 8, Width: 2},
		{Field: FieldDS, Name: "ds", Offset: 12, Width: 2},
		{Field: RDI, Name: "edi", Offset: 16, Width: 4},
		{Field: RSI, Name: "esi", Offset: 20, Width: 4},
		{Field: RBP, Name: "ebp", Offset: 24, Width: 4},
		{Field: RSP, Name: "esp", Offset: 28, Width: 4},
		{Field: RBX, Name: "ebx", Offset: 32, Width: 4},
		{Field: RDX, Name: "edx", Offset: 36, Width: 4},
		{Field: RCX, Name: "ecx", Offset: 40, Width: 4},
		{Field: RAX, Name: "eax", Offset: 44, Width: 4},
		{Field: FieldTrapNo, Name: "trapno", Offset: 48, Width: 4},
		{Field: FieldErr, Name: "err", Offset: 52, Width: 4},
		{Field: FieldPC, Name: "eip", Offset: 56, Width: 4},
		{Field: FieldCS, Name: "cs", Offset: 60, Width: 2},
		{Field: FieldFlags, Name: "eflags", Offset: 64, Width: 4},
		{Field: FieldSPAtSignal, Name: "esp_at_signal", Offset: 68, Width: 4},
		{Field: FieldSS, Name: "ss", Offset: 72, Width: 2},
		{Field: FieldFPState, Name: "fpstate", Offset: 76, Width: 4, ReadOnly: true},
		{Field: FieldOldMask, Name: "oldmask", Offset: 80, Width: 4},
		{Field: FieldFaultAddr, Name: "cr2", Offset: 84, Width: 4},
	},
	trapCode:     x86TrapCode,
	faultAddress: x86FaultAddress,
}

// amd64 struct sigcontext. The kernel restores fs and gs through
// arch_prctl, never from the signal frame.
var amd64Layout = &Layout{
	Arch:    AMD64,
	Order:   binary.LittleEndian,
	Size:    256,
	MinSize: 152,
	PCField: FieldPC,
	SPField: RSP,
	Slots: []Slot{
		{Field: R8, Name: "r8", Offset: 0, Width: 8},
		{Field: R9, Name: "r9", Offset: 8, Width: 8},
		{Field: R10, Name: "r10", Offset: 16, Width: 8},
		{Field: R11, Name: "r11", Offset: 24, Width: 8},
		{Field: R12, Name: "r12", Offset: 32, Width: 8},
		{Field: R13, Name: "r13", Offset: 40, Width: 8},
		{Field: R14, Name: "r14", Offset: 48, Width: 8},
		{Field: R15, Name: "r15", Offset: 56, Width: 8},
		{Field: RDI, Name: "rdi", Offset: 64, Width: 8},
		{Field: RSI, Name: "rsi", Offset: 72, Width: 8},
		{Field: RBP, Name: "rbp", Offset: 80, Width: 8},
		{Field: RBX, Name: "rbx", Offset: 88, Width: 8},
		{Field: RDX, Name: "rdx", Offset: 96, Width: 8},
		{Field: RAX, Name: "rax", Offset: 104, Width: 8},
		{Field: RCX, Name: "rcx", Offset: 112, Width: 8},
		{Field: RSP, Name: "rsp", Offset: 120, Width: 8},
		{Field: FieldPC, Name: "rip", Offset: 128, Width: 8},
		{Field: FieldFlags, Name: "eflags", Offset: 136, Width: 8},
		{Field: FieldCS, Name: "cs", Offset: 144, Width: 2},
		{Field: FieldGS, Name: "gs", Offset: 146, Width: 2, ReadOnly: true},
		{Field: FieldFS, Name: "fs", Offset: 148, Width: 2, ReadOnly: true},
		{Field: FieldSS, Name: "ss", Offset: 150, Width: 2},
		{Field: FieldErr, Name: "err", Offset: 152, Width: 8},
		{Field: FieldTrapNo, Name: "trapno", Offset: 160, Width: 8},
		{Field: FieldOldMask, Name: "oldmask", Offset: 168, Width: 8},
		{Field: FieldFaultAddr, Name: "cr2", Offset: 176, Width: 8},
		{Field: FieldFPState, Name: "fpstate", Offset: 184, Width: 8, ReadOnly: true},
	},
	trapCode:     x86TrapCode,
	faultAddress: x86FaultAddress,
}

// isProcessorSignal returns true for signals the kernel raises from a
// processor exception, which carry a meaningful trapno.
func isProcessorSignal(sig linux.Signal) bool {
	switch sig {
	case linux.SIGSEGV, linux.SIGBUS, linux.SIGILL, linux.SIGFPE, linux.SIGTRAP:
		return true
	}
	return false
}

func x86TrapCode(l *Layout, raw *RawTrap) (TrapID, SubCode) {
	if !isProcessorSignal(raw.Signo) {
		return TrapIDSignalBase + TrapID(raw.Signo), SubCode(raw.Info.Code)
	}
	trapno, ok := l.Get(raw.Context, FieldTrapNo)
	if !ok {
		return NoTrapID, SubCode(raw.Info.Code)
	}
	errCode, _ := l.Get(raw.Context, FieldErr)
	return TrapID(trapno), SubCode(errCode)
}

// x86FaultAddress trusts cr2 only for page faults, since other traps leave
// the previous fault's address in it.
func x86FaultAddress(l *Layout, raw *RawTrap) (hostarch.Addr, hostarch.AccessType, bool) {
	if trapno, ok := l.Get(raw.Context, FieldTrapNo); !ok || trapno != TrapPageFault {
		if raw.Signo == linux.SIGBUS {
			return hostarch.Addr(raw.Info.Addr()), hostarch.Read, true
		}
		return 0, hostarch.NoAccess, false
	}
	addr, ok := l.Get(raw.Context, FieldFaultAddr)
	if !ok {
		addr = raw.Info.Addr()
	}
	errCode, _ := l.Get(raw.Context, FieldErr)
	at := hostarch.Read
	switch {
	case errCode&pfErrFetch != 0:
		at = hostarch.AccessType{Read: true, Execute: true}
	case errCode&pfErrWrite != 0:
		at = hostarch.Write
	}
	return hostarch.Addr(addr), at, true
}

func init() {
	register(i386Layout)
	register(amd64Layout)
}
