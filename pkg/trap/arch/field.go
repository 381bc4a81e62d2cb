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
	"fmt"
	"math/bits"
)

// Field identifies a register in a portable snapshot.
type Field uint8

// Number of general purpose register fields.
const NumGPRs = 32

// FieldGPR0 is the first general purpose register. General purpose registers
// are GPR(0) through GPR(NumGPRs-1); the remaining fields follow them.
const FieldGPR0 Field = 0

// Non general purpose fields.
const (
	// FieldPC is the program counter.
	FieldPC Field = NumGPRs + iota
	// FieldNPC is the next program counter (SPARC).
	FieldNPC
	// FieldFlags is the flags or machine state register.
	FieldFlags
	// FieldTrapNo is the hardware trap number.
	FieldTrapNo
	// FieldErr is the hardware error code.
	FieldErr
	// FieldFaultAddr is the hardware fault address register.
	FieldFaultAddr
	FieldCS
	FieldDS
	FieldES
	FieldFS
	FieldGS
	FieldSS
	// FieldSPAtSignal is the i386 stack pointer saved by the kernel.
	FieldSPAtSignal
	// FieldOldMask is the signal mask the kernel restores on return.
	FieldOldMask
	// FieldFPState is the address of the FP area in the context.
	FieldFPState
	FieldLR
	FieldCTR
	FieldXER
	FieldCR
	FieldMQ
	FieldY
	FieldDSISR
	FieldOrigGPR3
	FieldResult

	// NumFields is the number of fields.
	NumFields
)

// x86 general purpose registers, by instruction encoding.
const (
	RAX = FieldGPR0 + iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// SPARC window registers as delivered in u_regs: globals then outs.
const (
	G0 = FieldGPR0 + iota
	G1
	G2
	G3
	G4
	G5
	G6
	G7
	O0
	O1
	O2
	O3
	O4
	O5
	O6
	O7
)

// GPR returns the field of general purpose register i.
func GPR(i int) Field {
	if i < 0 || i >= NumGPRs {
		panic(fmt.Sprintf("invalid GPR index %d", i))
	}
	return FieldGPR0 + Field(i)
}

var fieldNames = [NumFields - NumGPRs]string{
	FieldPC - NumGPRs:         "pc",
	FieldNPC - NumGPRs:        "npc",
	FieldFlags - NumGPRs:      "flags",
	FieldTrapNo - NumGPRs:     "trapno",
	FieldErr - NumGPRs:        "err",
	FieldFaultAddr - NumGPRs:  "faultaddr",
	FieldCS - NumGPRs:         "cs",
	FieldDS - NumGPRs:         "ds",
	FieldES - NumGPRs:         "es",
	FieldFS - NumGPRs:         "fs",
	FieldGS - NumGPRs:         "gs",
	FieldSS - NumGPRs:         "ss",
	FieldSPAtSignal - NumGPRs: "sp_at_signal",
	FieldOldMask - NumGPRs:    "oldmask",
	FieldFPState - NumGPRs:    "fpstate",
	FieldLR - NumGPRs:         "lr",
	FieldCTR - NumGPRs:        "ctr",
	FieldXER - NumGPRs:        "xer",
	FieldCR - NumGPRs:         "cr",
	FieldMQ - NumGPRs:         "mq",
	FieldY - NumGPRs:          "y",
	FieldDSISR - NumGPRs:      "dsisr",
	FieldOrigGPR3 - NumGPRs:   "orig_gpr3",
	FieldResult - NumGPRs:     "result",
}

// String implements fmt.Stringer. Layouts carry the native register names;
// this is the architecture neutral one.
func (f Field) String() string {
	switch {
	case f < NumGPRs:
		return fmt.Sprintf("gpr%d", f)
	case f < NumFields:
		return fieldNames[f-NumGPRs]
	default:
		return fmt.Sprintf("Field(%d)", f)
	}
}

// fieldSet is a set of fields.
type fieldSet uint64

func (s fieldSet) has(f Field) bool {
	return s&(1<<f) != 0
}

func (s *fieldSet) add(f Field) {
	*s |= 1 << f
}

func (s fieldSet) len() int {
	return bits.OnesCount64(uint64(s))
}
