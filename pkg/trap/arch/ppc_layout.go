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

// PowerPC exception vectors reported in pt_regs.trap.
const (
	PPCTrapDSI = 0x300
	PPCTrapISI = 0x400
)

// dsisrStore is set in DSISR when the faulting access was a store.
const dsisrStore = 0x02000000

func ppcSlots() []Slot {
	slots := make([]Slot, 0, NumGPRs+12)
	for i := 0; i < NumGPRs; i++ {
		slots = append(slots, Slot{Field: GPR(i), Name: fmt.Sprintf("r%d", i), Offset: 4 * i, Width: 4})
	}
	return append(slots,
		Slot{Field: FieldPC, Name: "nip", Offset: 128, Width: 4},
		Slot{Field: FieldFlags, Name: "msr", Offset: 132, Width: 4},
		Slot{Field: FieldOrigGPR3, Name: "orig_gpr3", Offset: 136, Width: 4},
		Slot{Field: FieldCTR, Name: "ctr", Offset: 140, Width: 4},
		Slot{Field: FieldLR, Name: "link", Offset: 144, Width: 4},
		Slot{Field: FieldXER, Name: "xer", Offset: 148, Width: 4},
		Slot{Field: FieldCR, Name: "ccr", Offset: 152, Width: 4},
		Slot{Field: FieldMQ, Name: "mq", Offset: 156, Width: 4},
		Slot{Field: FieldTrapNo, Name: "trap", Offset: 160, Width: 4},
		Slot{Field: FieldFaultAddr, Name: "dar", Offset: 164, Width: 4},
		Slot{Field: FieldDSISR, Name: "dsisr", Offset: 168, Width: 4},
		Slot{Field: FieldResult, Name: "result", Offset: 172, Width: 4},
	)
}

// ppc32 struct pt_regs, from arch/powerpc/include/uapi/asm/ptrace.h. It has
// no segment selectors.
var ppcLayout = &Layout{
	Arch:         PPC32,
	Order:        binary.BigEndian,
	Size:         176,
	MinSize:      156,
	PCField:      FieldPC,
	SPField:      GPR(1),
	Slots:        ppcSlots(),
	trapCode:     signalTrapCode,
	faultAddress: ppcFaultAddress,
}

func ppcFaultAddress(l *Layout, raw *RawTrap) (hostarch.Addr, hostarch.AccessType, bool) {
	addr, ok := l.Get(raw.Context, FieldFaultAddr)
	if !ok {
		addr = raw.Info.Addr()
	}
	at := hostarch.Read
	if trap, _ := l.Get(raw.Context, FieldTrapNo); trap == PPCTrapISI {
		at = hostarch.AccessType{Read: true, Execute: true}
	} else if dsisr, _ := l.Get(raw.Context, FieldDSISR); dsisr&dsisrStore != 0 {
		at = hostarch.Write
	}
	return hostarch.Addr(addr), at, true
}

func init() {
	register(ppcLayout)
}
