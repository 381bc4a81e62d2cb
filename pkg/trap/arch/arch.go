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

// Package arch maps the machine context delivered with a hardware trap to and
// from a portable register snapshot.
//
// Each supported architecture is described by a Layout: a table of register
// slots within the native signal context, read and written one slot at a time
// through bounds-checked accessors. The context bytes themselves are never
// copied.
package arch

import (
	"fmt"
	"strings"

	"gvisor.dev/trapshim/pkg/abi/linux"
)

// Arch describes an architecture.
type Arch int

const (
	// I386 is the 32-bit x86 architecture.
	I386 Arch = iota
	// AMD64 is the x86-64 architecture.
	AMD64
	// PPC32 is the 32-bit PowerPC architecture.
	PPC32
	// SPARC32 is the 32-bit SPARC architecture.
	SPARC32

	numArchs
)

// String implements fmt.Stringer.
func (a Arch) String() string {
	switch a {
	case I386:
		return "i386"
	case AMD64:
		return "amd64"
	case PPC32:
		return "ppc32"
	case SPARC32:
		return "sparc32"
	default:
		return fmt.Sprintf("Arch(%d)", a)
	}
}

// ParseArch returns the architecture with the given name.
func ParseArch(name string) (Arch, error) {
	switch strings.ToLower(name) {
	case "i386", "386", "x86":
		return I386, nil
	case "amd64", "x86_64", "x86-64":
		return AMD64, nil
	case "ppc32", "ppc", "powerpc":
		return PPC32, nil
	case "sparc32", "sparc":
		return SPARC32, nil
	default:
		return 0, fmt.Errorf("unknown architecture %q", name)
	}
}

// Archs returns all supported architectures.
func Archs() []Arch {
	return []Arch{I386, AMD64, PPC32, SPARC32}
}

// TrapID is the raw identifier of a trap. On x86 it is the hardware trap
// number; elsewhere it is the signal number.
type TrapID uint32

// SubCode qualifies a TrapID. On x86 it is the hardware error code; elsewhere
// it is the si_code of the signal.
type SubCode int32

// TrapIDSignalBase is added to the signal number to form the TrapID of an
// x86 trap that was not raised by the processor, such as SIGINT.
const TrapIDSignalBase TrapID = 0x100

// NoTrapID is the TrapID of a context that does not carry a trap number.
const NoTrapID TrapID = 0xffffffff

// RawTrap is a trap as delivered by the host kernel.
//
// Context and FP alias the memory the kernel delivered the trap in. Only the
// register slots the ABI allows a handler to rewrite are ever written.
type RawTrap struct {
	// Signo is the delivered signal.
	Signo linux.Signal

	// Info is the siginfo that came with the signal.
	Info linux.SignalInfo

	// Context is the native machine context, laid out as described by the
	// architecture's Layout.
	Context []byte

	// FP is the floating point area delivered with the context, or nil if
	// the kernel does not deliver one.
	FP []byte
}

// ContextError is returned when a machine context cannot hold the mandatory
// part of a layout.
type ContextError struct {
	Arch Arch
	Len  int
	Need int
}

// Error implements error.Error.
func (e *ContextError) Error() string {
	return fmt.Sprintf("%v context is %d bytes, need at least %d", e.Arch, e.Len, e.Need)
}

// ArchMismatchError is returned when registers captured for one architecture
// are restored with the layout of another.
type ArchMismatchError struct {
	Layout    Arch
	Registers Arch
}

// Error implements error.Error.
func (e *ArchMismatchError) Error() string {
	return fmt.Sprintf("cannot restore %v registers into a %v context", e.Registers, e.Layout)
}
