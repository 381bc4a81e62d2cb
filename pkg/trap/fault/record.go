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

package fault

import (
	"fmt"
	"strings"

	"gvisor.dev/trapshim/pkg/hostarch"
)

// Flags describe a Record.
type Flags uint32

const (
	// Noncontinuable marks a record whose thread must not be resumed,
	// whatever the dispatch chain decides.
	Noncontinuable Flags = 1 << iota

	// AddressUnavailable marks a record whose faulting address could not
	// be read from the trap context.
	AddressUnavailable
)

// String implements fmt.Stringer.String.
func (f Flags) String() string {
	var parts []string
	if f&Noncontinuable != 0 {
		parts = append(parts, "noncontinuable")
	}
	if f&AddressUnavailable != 0 {
		parts = append(parts, "address-unavailable")
	}
	if rest := f &^ (Noncontinuable | AddressUnavailable); rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint32(rest)))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// MaxParams is the capacity of Record.Params.
const MaxParams = 4

// Access types reported as the first parameter of an access violation.
const (
	AccessRead    = 0
	AccessWrite   = 1
	AccessExecute = 8
)

// AccessParam returns the access violation parameter for at.
func AccessParam(at hostarch.AccessType) uint64 {
	switch {
	case at.Execute:
		return AccessExecute
	case at.Write:
		return AccessWrite
	default:
		return AccessRead
	}
}

// Record is the portable exception descriptor handed to the dispatch chain.
//
// A Record is built on the stack of the trap handler and must not be retained
// after Dispatch returns.
type Record struct {
	Kind  Kind
	Code  Code
	Flags Flags

	// Address is the program counter at the time of the fault.
	Address uint64

	// Params holds NumParams kind-specific values. Access violations carry
	// the access type and the faulting address. Unknown records carry the
	// raw trap id and sub-code.
	Params    [MaxParams]uint64
	NumParams int

	// Raw diagnostics.
	Signo   int32
	TrapID  uint32
	SubCode int32
}

// AddParam appends v to the parameter list. It panics if the list is full.
func (r *Record) AddParam(v uint64) {
	if r.NumParams >= MaxParams {
		panic(fmt.Sprintf("too many exception parameters for %v", r.Kind))
	}
	r.Params[r.NumParams] = v
	r.NumParams++
}

// ParamList returns the used parameters.
func (r *Record) ParamList() []uint64 {
	return r.Params[:r.NumParams]
}

// Continuable returns true if the thread may be resumed after dispatch.
func (r *Record) Continuable() bool {
	return r.Flags&Noncontinuable == 0
}

// String implements fmt.Stringer.String.
func (r *Record) String() string {
	return fmt.Sprintf("%v (code %v) at %#x flags=%v params=%#x signo=%d trap=%d/%d",
		r.Kind, r.Code, r.Address, r.Flags, r.ParamList(), r.Signo, r.TrapID, r.SubCode)
}

// Disposition is the decision taken for a trap.
type Disposition int

const (
	// Resume continues the thread with the possibly modified registers.
	Resume Disposition = iota

	// Terminate tears down the process.
	Terminate

	// Resolved means the trap was handled before reaching the dispatch
	// chain, by the page fault fast path or by instruction emulation.
	Resolved
)

// String implements fmt.Stringer.String.
func (d Disposition) String() string {
	switch d {
	case Resume:
		return "Resume"
	case Terminate:
		return "Terminate"
	case Resolved:
		return "Resolved"
	default:
		return fmt.Sprintf("Disposition(%d)", int(d))
	}
}
