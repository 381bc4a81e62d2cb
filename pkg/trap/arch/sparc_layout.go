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
	"fmt"

	"gvisor.dev/trapshim/pkg/hostarch"
)

func sparcSlots() []Slot {
	slots := []Slot{
		{Field: FieldFlags, Name: "psr", Offset: 0, Width: 4},
		{Field: FieldPC, Name: "pc", Offset: 4, Width: 4},
		{Field: FieldNPC, Name: "npc", Offset: 8, Width: 4},
		{Field: FieldY, Name: "y", Offset: 12, Width: 4},
	}
	for i := 0; i < 16; i++ {
		name := fmt.Sprintf("g%d", i)
		if i >= 8 {
			name = fmt.Sprintf("o%d", i-8)
		}
		slots = append(slots, Slot{Field: G0 + Field(i), Name: name, Offset: 16 + 4*i, Width: 4})
	}
	return append(slots, Slot{Field: FieldOldMask, Name: "si_mask", Offset: 80, Width: 4})
}

// sparc32 struct sigcontext. There is no fault address register: the
// faulting address is only reported in si_addr.
var sparcLayout = &Layout{
	Arch:         SPARC32,
	Order:        binary.BigEndian,
	Size:         84,
	MinSize:      80,
	PCField:      FieldPC,
	SPField:      O6,
	Slots:        sparcSlots(),
	trapCode:     signalTrapCode,
	faultAddress: sparcFaultAddress,
}

// The kernel does not report the access type of a SPARC fault, so it is
// reported as a read.
func sparcFaultAddress(_ *Layout, raw *RawTrap) (hostarch.Addr, hostarch.AccessType, bool) {
	return hostarch.Addr(raw.Info.Addr()), hostarch.Read, true
}

func init() {
	register(sparcLayout)
}
