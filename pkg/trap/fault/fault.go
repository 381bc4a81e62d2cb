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

// Package fault defines the portable description of a hardware trap that is
// handed to the exception dispatch chain.
package fault

import (
	"fmt"
)

// Kind is a portable fault category.
type Kind uint8

// Fault kinds. The zero value is Unknown.
const (
	Unknown Kind = iota
	AccessViolation
	IllegalInstruction
	PrivilegedInstruction
	StackOverflow
	Misalignment
	IntDivideByZero
	IntOverflow
	ArrayBounds
	FloatInvalid
	FloatDenormal
	FloatDivideByZero
	FloatOverflow
	FloatUnderflow
	FloatInexact
	FloatStackCheck
	Breakpoint
	SingleStep
	ExternalInterrupt

	// MachineCheck is an unrecoverable hardware error. Records of this kind
	// are always noncontinuable.
	MachineCheck

	// NumKinds is the number of fault kinds.
	NumKinds
)

// Code is a 32-bit exception code in the structured exception model of the
// emulated OS.
type Code uint32

// Exception codes.
const (
	CodeUnknown               Code = 0xC0000001
	CodeAccessViolation       Code = 0xC0000005
	CodeIllegalInstruction    Code = 0xC000001D
	CodePrivilegedInstruction Code = 0xC0000096
	CodeStackOverflow         Code = 0xC00000FD
	CodeMisalignment          Code = 0x80000002
	CodeIntDivideByZero       Code = 0xC0000094
	CodeIntOverflow           Code = 0xC0000095
	CodeArrayBounds           Code = 0xC000008C
	CodeFloatDenormal         Code = 0xC000008D
	CodeFloatDivideByZero     Code = 0xC000008E
	CodeFloatInexact          Code = 0xC000008F
	CodeFloatInvalid          Code = 0xC0000090
	CodeFloatOverflow         Code = 0xC0000091
	CodeFloatStackCheck       Code = 0xC0000092
	CodeFloatUnderflow        Code = 0xC0000093
	CodeBreakpoint            Code = 0x80000003
	CodeSingleStep            Code = 0x80000004
	CodeExternalInterrupt     Code = 0xC000013A
	CodeMachineCheck          Code = 0xC0000420
)

type kindInfo struct {
	name string
	code Code
}

var kinds = [NumKinds]kindInfo{
	Unknown:               {"Unknown", CodeUnknown},
	AccessViolation:       {"AccessViolation", CodeAccessViolation},
	IllegalInstruction:    {"IllegalInstruction", CodeIllegalInstruction},
	PrivilegedInstruction: {"PrivilegedInstruction", CodePrivilegedInstruction},
	StackOverflow:         {"StackOverflow", CodeStackOverflow},
	Misalignment:          {"Misalignment", CodeMisalignment},
	IntDivideByZero:       {"IntDivideByZero", CodeIntDivideByZero},
	IntOverflow:           {"IntOverflow", CodeIntOverflow},
	ArrayBounds:           {"ArrayBounds", CodeArrayBounds},
	FloatInvalid:          {"FloatInvalid", CodeFloatInvalid},
	FloatDenormal:         {"FloatDenormal", CodeFloatDenormal},
	FloatDivideByZero:     {"FloatDivideByZero", CodeFloatDivideByZero},
	FloatOverflow:         {"FloatOverflow", CodeFloatOverflow},
	FloatUnderflow:        {"FloatUnderflow", CodeFloatUnderflow},
	FloatInexact:          {"FloatInexact", CodeFloatInexact},
	FloatStackCheck:       {"FloatStackCheck", CodeFloatStackCheck},
	Breakpoint:            {"Breakpoint", CodeBreakpoint},
	SingleStep:            {"SingleStep", CodeSingleStep},
	ExternalInterrupt:     {"ExternalInterrupt", CodeExternalInterrupt},
	MachineCheck:          {"MachineCheck", CodeMachineCheck},
}

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	if k < NumKinds {
		return kinds[k].name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Code returns the exception code reported for k.
func (k Kind) Code() Code {
	if k < NumKinds {
		return kinds[k].code
	}
	return CodeUnknown
}

// IsFloat returns true if k is one of the floating point kinds.
func (k Kind) IsFloat() bool {
	return k >= FloatInvalid && k <= FloatStackCheck
}

// Fatal returns true if records of kind k can never be continued.
func (k Kind) Fatal() bool {
	return k == MachineCheck
}

// ParseKind returns the kind with the given name.
func ParseKind(name string) (Kind, error) {
	for k := Kind(0); k < NumKinds; k++ {
		if kinds[k].name == name {
			return k, nil
		}
	}
	return Unknown, fmt.Errorf("unknown fault kind %q", name)
}

// String implements fmt.Stringer.String.
func (c Code) String() string {
	return fmt.Sprintf("%#08x", uint32(c))
}
