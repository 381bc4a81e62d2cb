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
	"gvisor.dev/trapshim/pkg/hostarch"
)

// SignalInfoSize is the size of struct siginfo.
const SignalInfoSize = 128

// SignalInfo represents information about a signal being delivered, and is
// equivalent to struct siginfo in linux kernel(linux/include/uapi/asm-generic/siginfo.h).
//
// Only the _sigfault member of the _sifields union is interpreted here.
type SignalInfo struct {
	Signo int32 // Signal number
	Errno int32 // Errno value
	Code  int32 // Signal code
	_     uint32

	// struct {
	// 	void *_addr; /* faulting insn/memory ref. */
	// 	short _addr_lsb; /* LSB of the reported address */
	// } _sigfault;
	Fields [SignalInfoSize - 16]byte
}

// Addr returns the si_addr field.
func (s *SignalInfo) Addr() uint64 {
	return hostarch.ByteOrder.Uint64(s.Fields[0:8])
}

// SetAddr sets the si_addr field.
func (s *SignalInfo) SetAddr(val uint64) {
	hostarch.ByteOrder.PutUint64(s.Fields[0:8], val)
}

// FixSignalCodeForUser fixes up si_code.
//
// The si_code we get from Linux may contain the kernel-specific code in the
// top 16 bits if it's positive (e.g., from ptrace). Linux's
// copy_siginfo_to_user does
//
//	err |= __put_user((short)from->si_code, &to->si_code);
//
// to mask out those bits and we need to do the same.
func (s *SignalInfo) FixSignalCodeForUser() {
	if s.Code > 0 {
		s.Code &= 0x0000ffff
	}
}

// si_code values sent from userspace.
const (
	SI_USER    = 0
	SI_KERNEL  = 0x80
	SI_QUEUE   = -1
	SI_TIMER   = -2
	SI_MESGQ   = -3
	SI_ASYNCIO = -4
	SI_TKILL   = -6
)

// SIGILL si_codes.
const (
	ILL_ILLOPC = 1 // illegal opcode
	ILL_ILLOPN = 2 // illegal operand
	ILL_ILLADR = 3 // illegal addressing mode
	ILL_ILLTRP = 4 // illegal trap
	ILL_PRVOPC = 5 // privileged opcode
	ILL_PRVREG = 6 // privileged register
	ILL_COPROC = 7 // coprocessor error
	ILL_BADSTK = 8 // internal stack error
)

// SIGFPE si_codes.
const (
	FPE_INTDIV = 1 // integer divide by zero
	FPE_INTOVF = 2 // integer overflow
	FPE_FLTDIV = 3 // floating point divide by zero
	FPE_FLTOVF = 4 // floating point overflow
	FPE_FLTUND = 5 // floating point underflow
	FPE_FLTRES = 6 // floating point inexact result
	FPE_FLTINV = 7 // floating point invalid operation
	FPE_FLTSUB = 8 // subscript out of range
)

// SIGSEGV si_codes.
const (
	SEGV_MAPERR = 1 // address not mapped to object
	SEGV_ACCERR = 2 // invalid permissions for mapped object
	SEGV_BNDERR = 3 // failed address bound checks
	SEGV_PKUERR = 4 // failed protection key checks
)

// SIGBUS si_codes.
const (
	BUS_ADRALN    = 1 // invalid address alignment
	BUS_ADRERR    = 2 // non-existent physical address
	BUS_OBJERR    = 3 // object specific hardware error
	BUS_MCEERR_AR = 4 // hardware memory error consumed on a machine check
	BUS_MCEERR_AO = 5 // hardware memory error detected in process but not consumed
)

// SIGTRAP si_codes.
const (
	TRAP_BRKPT  = 1 // process breakpoint
	TRAP_TRACE  = 2 // process trace trap
	TRAP_BRANCH = 3 // process taken branch trap
	TRAP_HWBKPT = 4 // hardware breakpoint/watchpoint
)
