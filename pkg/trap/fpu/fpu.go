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

// Package fpu saves and restores the floating point state of a trapped
// thread, and derives the fault kind of a floating point exception from it.
package fpu

import (
	"encoding/binary"
	"fmt"

	"gvisor.dev/trapshim/pkg/trap/arch"
	"gvisor.dev/trapshim/pkg/trap/fault"
)

// RegisterSet reads and writes the FP register file of the current thread
// when the kernel does not deliver it with the trap.
type RegisterSet interface {
	// SaveFP stores the FP register file into image.
	SaveFP(image []byte) error

	// RestoreFP loads the FP register file from image.
	RestoreFP(image []byte) error
}

// format describes the FP image of an architecture.
type format struct {
	arch  arch.Arch
	size  int
	order binary.ByteOrder

	// embedded is true when the kernel delivers the image with the trap.
	embedded bool

	// extSize is the size of the image with its optional extension, which
	// is used when the delivered area is large enough.
	extSize int

	statusOff, statusWidth   int
	controlOff, controlWidth int

	// kind derives the fault kind from the image.
	kind func(s *State) fault.Kind

	// clear drops reported exceptions from the image.
	clear func(s *State)
}

// maxExplicitSize bounds the images saved through a RegisterSet.
const maxExplicitSize = 256

// ErrShortImage is returned when a delivered FP area is smaller than the
// architecture's image.
type ErrShortImage struct {
	Arch arch.Arch
	Len  int
	Need int
}

// Error implements error.Error.
func (e *ErrShortImage) Error() string {
	return fmt.Sprintf("%v floating point area is %d bytes, need %d", e.Arch, e.Len, e.Need)
}

// State is the floating point state of one trap.
//
// When the kernel delivers the state with the trap, State aliases it.
// Otherwise it holds its own copy, saved through a RegisterSet, and must not
// be copied after Save.
type State struct {
	f     *format
	data  []byte
	local [maxExplicitSize]byte
}

// Arch returns the architecture of the state.
func (s *State) Arch() arch.Arch {
	return s.f.arch
}

// Bytes returns the native image.
func (s *State) Bytes() []byte {
	return s.data
}

func (s *State) get(off, width int) uint32 {
	if width == 2 {
		return uint32(s.f.order.Uint16(s.data[off:]))
	}
	return s.f.order.Uint32(s.data[off:])
}

func (s *State) put(off, width int, v uint32) {
	if width == 2 {
		s.f.order.PutUint16(s.data[off:], uint16(v))
		return
	}
	s.f.order.PutUint32(s.data[off:], v)
}

// Status returns the FP status word.
func (s *State) Status() uint32 {
	return s.get(s.f.statusOff, s.f.statusWidth)
}

// SetStatus changes the FP status word.
func (s *State) SetStatus(v uint32) {
	s.put(s.f.statusOff, s.f.statusWidth, v)
}

// Control returns the FP control word. On PowerPC and SPARC it is the same
// register as the status word.
func (s *State) Control() uint32 {
	return s.get(s.f.controlOff, s.f.controlWidth)
}

// SetControl changes the FP control word.
func (s *State) SetControl(v uint32) {
	s.put(s.f.controlOff, s.f.controlWidth, v)
}

// DeriveKind returns the fault kind reported by the unmasked exception flags
// of the state, in priority order: invalid operation (or x87 stack check),
// denormal, divide by zero, overflow, underflow, inexact. With no unmasked
// flag set the kind is FloatInvalid.
func (s *State) DeriveKind() fault.Kind {
	return s.f.kind(s)
}

// ClearReported drops the exception flags that would re-raise the trap as
// soon as the state is loaded again.
func (s *State) ClearReported() {
	s.f.clear(s)
}

// Transfer saves and restores the FP state of one architecture.
type Transfer struct {
	f *format

	// Regs is used on architectures whose FP state is not delivered with
	// the trap. Without it, their FP state is unavailable.
	Regs RegisterSet
}

var formats = map[arch.Arch]*format{}

func register(f *format) {
	if !f.embedded && f.size > maxExplicitSize {
		panic(fmt.Sprintf("%v: FP image of %d bytes exceeds %d", f.arch, f.size, maxExplicitSize))
	}
	formats[f.arch] = f
}

// For returns the transfer for a.
func For(a arch.Arch, regs RegisterSet) (*Transfer, error) {
	f, ok := formats[a]
	if !ok {
		return nil, fmt.Errorf("no floating point format for %v", a)
	}
	return &Transfer{f: f, Regs: regs}, nil
}

// Embedded returns true if the kernel delivers the FP state with the trap.
func (t *Transfer) Embedded() bool {
	return t.f.embedded
}

// Size returns the size of the FP image.
func (t *Transfer) Size() int {
	return t.f.size
}

// Save captures the FP state of raw into s. ok is false if the state is not
// available: no FP area was delivered and there is no RegisterSet.
func (t *Transfer) Save(s *State, raw *arch.RawTrap) (ok bool, err error) {
	s.f = t.f
	if t.f.embedded {
		if raw.FP == nil {
			return false, nil
		}
		if len(raw.FP) < t.f.size {
			return false, &ErrShortImage{Arch: t.f.arch, Len: len(raw.FP), Need: t.f.size}
		}
		n := t.f.size
		if t.f.extSize > n && len(raw.FP) >= t.f.extSize {
			n = t.f.extSize
		}
		s.data = raw.FP[:n]
		return true, nil
	}
	if t.Regs == nil {
		return false, nil
	}
	s.data = s.local[:t.f.size]
	if err := t.Regs.SaveFP(s.data); err != nil {
		return false, fmt.Errorf("saving %v FP registers: %w", t.f.arch, err)
	}
	return true, nil
}

// Restore clears the reported exceptions of s and loads it back, into raw's
// FP area or through the RegisterSet.
func (t *Transfer) Restore(s *State, raw *arch.RawTrap) error {
	if s.f != t.f {
		return fmt.Errorf("cannot restore %v FP state with the %v transfer", s.Arch(), t.f.arch)
	}
	s.ClearReported()
	if t.f.embedded {
		if len(raw.FP) < len(s.data) {
			return &ErrShortImage{Arch: t.f.arch, Len: len(raw.FP), Need: len(s.data)}
		}
		copy(raw.FP, s.data)
		return nil
	}
	if t.Regs == nil {
		return fmt.Errorf("no register set to restore %v FP state", t.f.arch)
	}
	if err := t.Regs.RestoreFP(s.data); err != nil {
		return fmt.Errorf("restoring %v FP registers: %w", t.f.arch, err)
	}
	return nil
}

// Kind derives the fault kind from a raw status and control word pair.
func Kind(a arch.Arch, status, control uint32) (fault.Kind, error) {
	s, err := scratch(a, status, control)
	if err != nil {
		return fault.Unknown, err
	}
	return s.DeriveKind(), nil
}

// Cleared returns status with the reported exceptions dropped.
func Cleared(a arch.Arch, status, control uint32) (uint32, error) {
	s, err := scratch(a, status, control)
	if err != nil {
		return 0, err
	}
	s.ClearReported()
	return s.Status(), nil
}

// scratch returns a zeroed state of a holding the given words. Where status
// and control share a register, status wins.
func scratch(a arch.Arch, status, control uint32) (*State, error) {
	f, ok := formats[a]
	if !ok {
		return nil, fmt.Errorf("no floating point format for %v", a)
	}
	s := &State{f: f, data: make([]byte, f.size)}
	s.SetControl(control)
	s.SetStatus(status)
	if a == arch.AMD64 {
		// Mask every SSE exception so that only the x87 words count.
		s.SetMXCSR(mxcsrDefault)
	}
	return s, nil
}
