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
	"io"
)

// Registers is a portable snapshot of the registers of a trapped thread.
//
// Fields the architecture does not have, or that the delivered context was
// too short to hold, are unavailable: Get reports them with ok == false and
// Restore leaves them alone.
type Registers struct {
	Arch Arch

	layout *Layout
	vals   [NumFields]uint64
	avail  fieldSet
}

// Layout returns the layout the registers were captured with.
func (r *Registers) Layout() *Layout {
	return r.layout
}

// Has returns true if f is available.
func (r *Registers) Has(f Field) bool {
	return f < NumFields && r.avail.has(f)
}

// Get returns the value of f.
func (r *Registers) Get(f Field) (uint64, bool) {
	if !r.Has(f) {
		return 0, false
	}
	return r.vals[f], true
}

// Set changes the value of f. It returns false, changing nothing, if f is
// unavailable or cannot be written back. v is truncated to the width of the
// native register.
func (r *Registers) Set(f Field, v uint64) bool {
	if !r.Has(f) {
		return false
	}
	s := r.layout.slot(f)
	if s.ReadOnly {
		return false
	}
	r.vals[f] = v & s.mask()
	return true
}

// PC returns the program counter.
func (r *Registers) PC() uint64 {
	return r.vals[r.layout.PCField]
}

// SetPC redirects the thread to pc. On architectures with a next program
// counter, it is moved to the following instruction.
func (r *Registers) SetPC(pc uint64) {
	r.Set(r.layout.PCField, pc)
	if r.Has(FieldNPC) {
		r.Set(FieldNPC, pc+4)
	}
}

// SP returns the stack pointer.
func (r *Registers) SP() uint64 {
	return r.vals[r.layout.SPField]
}

// SetSP changes the stack pointer.
func (r *Registers) SetSP(sp uint64) {
	r.Set(r.layout.SPField, sp)
}

// Fields returns the available fields in context order.
func (r *Registers) Fields() []Field {
	fs := make([]Field, 0, r.avail.len())
	for i := range r.layout.Slots {
		if f := r.layout.Slots[i].Field; r.avail.has(f) {
			fs = append(fs, f)
		}
	}
	return fs
}

// Name returns the native name of f.
func (r *Registers) Name(f Field) string {
	if s := r.layout.slot(f); s != nil {
		return s.Name
	}
	return f.String()
}

// DumpTo outputs the available registers to w, two per line.
func (r *Registers) DumpTo(w io.Writer) {
	width := 8
	if r.Arch == AMD64 {
		width = 16
	}
	fs := r.Fields()
	for i, f := range fs {
		sep := " "
		if i%2 == 1 || i == len(fs)-1 {
			sep = "\n"
		}
		fmt.Fprintf(w, "%-9s = %0*x%s", r.Name(f), width, r.vals[f], sep)
	}
}
