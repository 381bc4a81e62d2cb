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

package fpu

import (
	"encoding/binary"

	"gvisor.dev/trapshim/pkg/trap/arch"
	"gvisor.dev/trapshim/pkg/trap/fault"
)

// FSR current exception (cexc) bits. The trap enable mask (TEM) holds the
// same bits shifted by fsrTEMShift.
const (
	fsrNX = 0x01
	fsrDZ = 0x02
	fsrUF = 0x04
	fsrOF = 0x08
	fsrNV = 0x10

	fsrCexc     = 0x1f
	fsrTEMShift = 23

	// fsrFTT is the floating point trap type field.
	fsrFTT = 0x7 << 14
)

var sparcExceptions = [...]struct {
	bit  uint32
	kind fault.Kind
}{
	{fsrNV, fault.FloatInvalid},
	{fsrDZ, fault.FloatDivideByZero},
	{fsrOF, fault.FloatOverflow},
	{fsrUF, fault.FloatUnderflow},
	{fsrNX, fault.FloatInexact},
}

func sparcTrapping(fsr uint32) uint32 {
	return fsr & (fsr >> fsrTEMShift) & fsrCexc
}

func sparcKind(fsr uint32) fault.Kind {
	trapping := sparcTrapping(fsr)
	for _, e := range sparcExceptions {
		if trapping&e.bit != 0 {
			return e.kind
		}
	}
	return fault.FloatInvalid
}

func sparcClear(fsr uint32) uint32 {
	return fsr &^ (sparcTrapping(fsr) | fsrFTT)
}

// sparc32 does not deliver FP state with the trap. The image is the 32
// single precision registers followed by the FSR, as stored by STF and STFSR.
var sparcFormat = &format{
	arch:         arch.SPARC32,
	size:         32*4 + 4,
	order:        binary.BigEndian,
	embedded:     false,
	controlOff:   32 * 4,
	controlWidth: 4,
	statusOff:    32 * 4,
	statusWidth:  4,
	kind: func(s *State) fault.Kind {
		return sparcKind(s.Status())
	},
	clear: func(s *State) {
		s.SetStatus(sparcClear(s.Status()))
	},
}

func init() {
	register(sparcFormat)
}
