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

	"gvisor.dev/trapshim/pkg/abi/linux"
	"gvisor.dev/trapshim/pkg/hostarch"
)

// Slot places a register within a native machine context.
type Slot struct {
	Field Field

	// Name is the native register name.
	Name string

	// Offset and Width locate the register in the context, in bytes.
	// Width is 2, 4 or 8.
	Offset int
	Width  int

	// ReadOnly registers are captured but never written back, because the
	// kernel does not restore them from the signal frame.
	ReadOnly bool
}

func (s *Slot) end() int {
	return s.Offset + s.Width
}

func (s *Slot) mask() uint64 {
	if s.Width >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*uint(s.Width)) - 1
}

// Layout describes the machine context of one architecture.
type Layout struct {
	Arch Arch

	// Order is the byte order of the context.
	Order binary.ByteOrder

	// Size is the size of the complete context.
	Size int

	// MinSize is the size of the mandatory prefix of the context. Slots
	// beyond a shorter context are unavailable.
	MinSize int

	// Slots lists the registers of the context in offset order.
	Slots []Slot

	// PCField and SPField name the program counter and the stack pointer.
	PCField Field
	SPField Field

	// trapCode extracts the raw trap identifier.
	trapCode func(l *Layout, raw *RawTrap) (TrapID, SubCode)

	// faultAddress extracts the address and access type of a SIGSEGV or
	// SIGBUS, if the context reports one.
	faultAddress func(l *Layout, raw *RawTrap) (hostarch.Addr, hostarch.AccessType, bool)

	// index maps a field to its slot index plus one.
	index [NumFields]uint8
}

func (l *Layout) init() *Layout {
	for i := range l.Slots {
		s := &l.Slots[i]
		if l.index[s.Field] != 0 {
			panic(fmt.Sprintf("%v: field %v placed twice", l.Arch, s.Field))
		}
		if s.Width != 2 && s.Width != 4 && s.Width != 8 {
			panic(fmt.Sprintf("%v: slot %s has width %d", l.Arch, s.Name, s.Width))
		}
		if s.end() > l.Size {
			panic(fmt.Sprintf("%v: slot %s ends at %d past size %d", l.Arch, s.Name, s.end(), l.Size))
		}
		l.index[s.Field] = uint8(i + 1)
	}
	if l.slot(l.PCField) == nil || l.slot(l.SPField) == nil {
		panic(fmt.Sprintf("%v: layout lacks pc or sp", l.Arch))
	}
	return l
}

func (l *Layout) slot(f Field) *Slot {
	if f >= NumFields {
		return nil
	}
	i := l.index[f]
	if i == 0 {
		return nil
	}
	return &l.Slots[i-1]
}

// Slot returns the slot holding f, if the architecture has one.
func (l *Layout) Slot(f Field) (Slot, bool) {
	if s := l.slot(f); s != nil {
		return *s, true
	}
	return Slot{}, false
}

// Has returns true if the architecture has a slot for f.
func (l *Layout) Has(f Field) bool {
	return l.slot(f) != nil
}

// Get reads f from the context ctx. ok is false if the architecture has no
// such field or ctx is too short to hold it.
func (l *Layout) Get(ctx []byte, f Field) (v uint64, ok bool) {
	s := l.slot(f)
	if s == nil || s.end() > len(ctx) {
		return 0, false
	}
	return l.read(ctx, s), true
}

func (l *Layout) read(ctx []byte, s *Slot) uint64 {
	b := ctx[s.Offset:s.end()]
	switch s.Width {
	case 2:
		return uint64(l.Order.Uint16(b))
	case 4:
		return uint64(l.Order.Uint32(b))
	default:
		return l.Order.Uint64(b)
	}
}

func (l *Layout) write(ctx []byte, s *Slot, v uint64) {
	b := ctx[s.Offset:s.end()]
	switch s.Width {
	case 2:
		l.Order.PutUint16(b, uint16(v))
	case 4:
		l.Order.PutUint32(b, uint32(v))
	default:
		l.Order.PutUint64(b, v)
	}
}

func (l *Layout) check(ctx []byte) error {
	if len(ctx) < l.MinSize {
		return &ContextError{Arch: l.Arch, Len: len(ctx), Need: l.MinSize}
	}
	return nil
}

// Capture reads every register present in raw's context into a snapshot.
func (l *Layout) Capture(raw *RawTrap) (Registers, error) {
	regs := Registers{Arch: l.Arch, layout: l}
	if err := l.check(raw.Context); err != nil {
		return regs, err
	}
	for i := range l.Slots {
		s := &l.Slots[i]
		if s.end() > len(raw.Context) {
			continue
		}
		regs.vals[s.Field] = l.read(raw.Context, s)
		regs.avail.add(s.Field)
	}
	return regs, nil
}

// Restore writes regs back into raw's context. Only fields available in regs
// are written, and read-only slots are skipped.
func (l *Layout) Restore(regs *Registers, raw *RawTrap) error {
	if regs.Arch != l.Arch {
		return &ArchMismatchError{Layout: l.Arch, Registers: regs.Arch}
	}
	if err := l.check(raw.Context); err != nil {
		return err
	}
	for i := range l.Slots {
		s := &l.Slots[i]
		if s.ReadOnly || !regs.avail.has(s.Field) || s.end() > len(raw.Context) {
			continue
		}
		l.write(raw.Context, s, regs.vals[s.Field])
	}
	return nil
}

// TrapCode returns the raw trap identifier of raw. It does not capture the
// context.
func (l *Layout) TrapCode(raw *RawTrap) (TrapID, SubCode) {
	return l.trapCode(l, raw)
}

// PageFault returns the faulting address and access type when raw is a
// SIGSEGV page fault, the only kind a pager can resolve. It does not capture
// the context.
func (l *Layout) PageFault(raw *RawTrap) (hostarch.Addr, hostarch.AccessType, bool) {
	if raw.Signo != linux.SIGSEGV {
		return 0, hostarch.NoAccess, false
	}
	return l.faultAddress(l, raw)
}

// FaultAddress returns the faulting address and access type of an access
// violation raised as SIGSEGV or SIGBUS.
func (l *Layout) FaultAddress(raw *RawTrap) (hostarch.Addr, hostarch.AccessType, bool) {
	if raw.Signo != linux.SIGSEGV && raw.Signo != linux.SIGBUS {
		return 0, hostarch.NoAccess, false
	}
	return l.faultAddress(l, raw)
}

// signalTrapCode keys traps on the signal and its si_code.
func signalTrapCode(_ *Layout, raw *RawTrap) (TrapID, SubCode) {
	return TrapID(raw.Signo), SubCode(raw.Info.Code)
}

var layouts [numArchs]*Layout

// Lookup returns the layout for a.
func Lookup(a Arch) (*Layout, error) {
	if a < 0 || a >= numArchs || layouts[a] == nil {
		return nil, fmt.Errorf("no context layout for %v", a)
	}
	return layouts[a], nil
}

// MustLookup is like Lookup, but panics on error.
func MustLookup(a Arch) *Layout {
	l, err := Lookup(a)
	if err != nil {
		panic(err)
	}
	return l
}

func register(l *Layout) {
	layouts[l.Arch] = l.init()
}
