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

// FPSCR bits.
const (
	fpscrFX  = 0x80000000 // exception summary
	fpscrFEX = 0x40000000 // enabled exception summary
	fpscrVX  = 0x20000000 // invalid operation summary
	fpscrOX  = 0x10000000
	fpscrUX  = 0x08000000
	fpscrZX  = 0x04000000
	fpscrXX  = 0x02000000

	// fpscrVXDetail are the sticky invalid operation causes summarized by
	// VX: SNAN, ISI, IDI, ZDZ, IMZ, VC, SOFT, SQRT and CVI.
	fpscrVXDetail = 0x01f80700

	fpscrVE = 0x80
	fpscrOE = 0x40
	fpscrUE = 0x20
	fpscrZE = 0x10
	fpscrXE = 0x08
)

// ppcExceptions pairs each FPSCR exception with its enable bit, in reporting
// priority order. PowerPC has no denormal exception.
var ppcExceptions = [...]struct {
	flag, enable uint32
	kind         fault.Kind
}{
	{fpscrVX, fpscrVE, fault.FloatInvalid},
	{fpscrZX, fpscrZE, fault.FloatDivideByZero},
	{fpscrOX, fpscrOE, fault.FloatOverflow},
	{fpscrUX, fpscrUE, fault.FloatUnderflow},
	{fpscrXX, fpscrXE, fault.FloatInexact},
}

func ppcKind(fpscr uint32) fault.Kind {
	for _, e := range ppcExceptions {
		if fpscr&e.flag != 0 && fpscr&e.enable != 0 {
			return e.kind
		}
	}
	return fault.FloatInvalid
}

func ppcClear(fpscr uint32) uint32 {
	for _, e := range ppcExceptions {
		if fpscr&e.enable != 0 {
			fpscr &^= e.flag
		}
	}
	if fpscr&fpscrVE != 0 {
		fpscr &^= fpscrVXDetail
	}
	return fpscr &^ (fpscrFX | fpscrFEX)
}

// ppc32 delivers the 32 FP registers followed by the FPSCR, stored as the
// low word of a double.
var ppcFormat = &format{
	arch:         arch.PPC32,
	size:         33 * 8,
	order:        binary.BigEndian,
	embedded:     true,
	controlOff:   32*8 + 4,
	controlWidth: 4,
	statusOff:    32*8 + 4,
	statusWidth:  4,
	kind: func(s *State) fault.Kind {
		return ppcKind(s.Status())
	},
	clear: func(s *State) {
		s.SetStatus(ppcClear(s.Status()))
	},
}

func init() {
	register(ppcFormat)
}
