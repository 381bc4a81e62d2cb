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

// Package linux contains the constants and types needed to interface with a
// Linux kernel's signal delivery.
package linux

import (
	"fmt"
	"math/bits"
)

const (
	// SignalMaximum is the highest valid signal number.
	SignalMaximum = 64

	// FirstStdSignal is the lowest standard signal number.
	FirstStdSignal = 1

	// LastStdSignal is the highest standard signal number.
	LastStdSignal = 31
)

// Signal is a signal number.
type Signal int

// IsValid returns true if s is a valid standard or realtime signal. (0 is not
// considered valid; interfaces special-casing signal number 0 should check for
// 0 first before asserting validity.)
func (s Signal) IsValid() bool {
	return s > 0 && s <= SignalMaximum
}

// Index returns the index for signal s into arrays of both standard and
// realtime signals (e.g. signal masks).
//
// Preconditions: s.IsValid().
func (s Signal) Index() int {
	return int(s - 1)
}

// Signals.
const (
	SIGABRT   = Signal(6)
	SIGALRM   = Signal(14)
	SIGBUS    = Signal(7)
	SIGCHLD   = Signal(17)
	SIGCONT   = Signal(18)
	SIGFPE    = Signal(8)
	SIGHUP    = Signal(1)
	SIGILL    = Signal(4)
	SIGINT    = Signal(2)
	SIGIO     = Signal(29)
	SIGKILL   = Signal(9)
	SIGPIPE   = Signal(13)
	SIGPROF   = Signal(27)
	SIGPWR    = Signal(30)
	SIGQUIT   = Signal(3)
	SIGSEGV   = Signal(11)
	SIGSTKFLT = Signal(16)
	SIGSTOP   = Signal(19)
	SIGSYS    = Signal(31)
	SIGTERM   = Signal(15)
	SIGTRAP   = Signal(5)
	SIGTSTP   = Signal(20)
	SIGTTIN   = Signal(21)
	SIGTTOU   = Signal(22)
	SIGURG    = Signal(23)
	SIGUSR1   = Signal(10)
	SIGUSR2   = Signal(12)
	SIGVTALRM = Signal(26)
	SIGWINCH  = Signal(28)
	SIGXCPU   = Signal(24)
	SIGXFSZ   = Signal(25)
)

var signalNames = map[Signal]string{
	SIGABRT:   "SIGABRT",
	SIGALRM:   "SIGALRM",
	SIGBUS:    "SIGBUS",
	SIGCHLD:   "SIGCHLD",
	SIGCONT:   "SIGCONT",
	SIGFPE:    "SIGFPE",
	SIGHUP:    "SIGHUP",
	SIGILL:    "SIGILL",
	SIGINT:    "SIGINT",
	SIGIO:     "SIGIO",
	SIGKILL:   "SIGKILL",
	SIGPIPE:   "SIGPIPE",
	SIGPROF:   "SIGPROF",
	SIGPWR:    "SIGPWR",
	SIGQUIT:   "SIGQUIT",
	SIGSEGV:   "SIGSEGV",
	SIGSTKFLT: "SIGSTKFLT",
	SIGSTOP:   "SIGSTOP",
	SIGSYS:    "SIGSYS",
	SIGTERM:   "SIGTERM",
	SIGTRAP:   "SIGTRAP",
	SIGTSTP:   "SIGTSTP",
	SIGTTIN:   "SIGTTIN",
	SIGTTOU:   "SIGTTOU",
	SIGURG:    "SIGURG",
	SIGUSR1:   "SIGUSR1",
	SIGUSR2:   "SIGUSR2",
	SIGVTALRM: "SIGVTALRM",
	SIGWINCH:  "SIGWINCH",
	SIGXCPU:   "SIGXCPU",
	SIGXFSZ:   "SIGXFSZ",
}

// String implements fmt.Stringer.String.
func (s Signal) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return fmt.Sprintf("signal %d", int(s))
}

// ParseSignal returns the signal with the given name, with or without the
// "SIG" prefix.
func ParseSignal(name string) (Signal, error) {
	for sig, n := range signalNames {
		if n == name || n[3:] == name {
			return sig, nil
		}
	}
	return 0, fmt.Errorf("unknown signal %q", name)
}

// SignalSet is a signal mask with a bit corresponding to each signal.
type SignalSet uint64

// SignalSetSize is the size in bytes of a SignalSet.
const SignalSetSize = 8

// MakeSignalSet returns SignalSet with the bit corresponding to each of the
// given signals set.
func MakeSignalSet(sigs ...Signal) SignalSet {
	var set SignalSet
	for _, sig := range sigs {
		set |= SignalSetOf(sig)
	}
	return set
}

// SignalSetOf returns a SignalSet with a single signal set.
func SignalSetOf(sig Signal) SignalSet {
	return SignalSet(1) << uint(sig.Index())
}

// ForEachSignal invokes f for each signal set in the given mask.
func ForEachSignal(mask SignalSet, f func(sig Signal)) {
	for m := uint64(mask); m != 0; m &= m - 1 {
		f(Signal(bits.TrailingZeros64(m) + 1))
	}
}

// 'how' values for rt_sigprocmask(2).
const (
	// SIG_BLOCK blocks the signals in the set.
	SIG_BLOCK = 0

	// SIG_UNBLOCK unblocks the signals in the set.
	SIG_UNBLOCK = 1

	// SIG_SETMASK sets the signal mask to set.
	SIG_SETMASK = 2
)

// Signal actions for rt_sigaction(2), from uapi/asm-generic/signal-defs.h.
const (
	// SIG_DFL performs the default action.
	SIG_DFL = 0

	// SIG_IGN ignores the signal.
	SIG_IGN = 1
)

// Signal action flags for rt_sigaction(2), from uapi/asm-generic/signal.h
const (
	SA_NOCLDSTOP = 0x00000001
	SA_NOCLDWAIT = 0x00000002
	SA_SIGINFO   = 0x00000004
	SA_RESTORER  = 0x04000000
	SA_ONSTACK   = 0x08000000
	SA_RESTART   = 0x10000000
	SA_NODEFER   = 0x40000000
	SA_RESETHAND = 0x80000000
)

// SigAction represents struct sigaction as passed to rt_sigaction(2).
type SigAction struct {
	Handler  uint64
	Flags    uint64
	Restorer uint64
	Mask     SignalSet
}

// Flags for SignalStack.Flags, from include/uapi/linux/signal.h.
const (
	SS_ONSTACK = 1
	SS_DISABLE = 2
)

// SignalStack represents information about a user stack, and is equivalent to
// stack_t.
type SignalStack struct {
	Addr  uint64
	Flags uint32
	_     uint32
	Size  uint64
}

// Contains checks if the stack pointer is within this stack.
func (s *SignalStack) Contains(sp uint64) bool {
	return s.Addr < sp && sp <= s.Addr+s.Size
}

// Top returns the stack's top address.
func (s *SignalStack) Top() uint64 {
	return s.Addr + s.Size
}

// IsEnabled returns true iff this signal stack is marked as enabled.
func (s *SignalStack) IsEnabled() bool {
	return s.Flags&SS_DISABLE == 0
}
