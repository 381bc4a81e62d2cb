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

// x87 status word exception flags. The control word masks the same bits.
const (
	x87IE = 0x01 // invalid operation
	x87DE = 0x02 // denormal operand
	x87ZE = 0x04 // zero divide
	x87OE = 0x08 // overflow
	x87UE = 0x10 // underflow
	x87PE = 0x20 // precision
	x87SF = 0x40 // stack fault
	x87ES = 0x80 // error summary
	x87B  = 0x8000

	x87Exceptions = 0x3f
)

// MXCSR layout.
const (
	mxcsrOffset     = 24
	mxcsrMaskOffset = 28
	mxcsrMaskShift  = 7

	// mxcsrDefault is the MXCSR value after reset: all exceptions masked.
	mxcsrDefault = 0x1f80

	// mxcsrDefaultMask is used when the image reports a zero MXCSR_MASK.
	// "If the value of the MXCSR_MASK field is 00000000H, then the
	// MXCSR_MASK value is the default value of 0000FFBFH." - Intel SDM
	// Vol. 1, Section 11.6.6.
	mxcsrDefaultMask = 0xffbf
)

// priority lists the exception flags shared by x87 and SSE from the highest
// reporting priority down.
var priority = [...]struct {
	bit  uint32
	kind fault.Kind
}{
	{x87IE, fault.FloatInvalid},
	{x87DE, fault.FloatDenormal},
	{x87ZE, fault.FloatDivideByZero},
	{x87OE, fault.FloatOverflow},
	{x87UE, fault.FloatUnderflow},
	{x87PE, fault.FloatInexact},
}

// pending returns the highest priority kind among the unmasked flags.
func pending(unmasked uint32) (fault.Kind, bool) {
	for _, p := range priority {
		if unmasked&p.bit != 0 {
			return p.kind, true
		}
	}
	return fault.FloatInvalid, false
}

func x87Kind(sw, cw uint32) (fault.Kind, bool) {
	k, ok := pending(sw &^ cw & x87Exceptions)
	if k == fault.FloatInvalid && ok && sw&x87SF != 0 {
		return fault.FloatStackCheck, true
	}
	return k, ok
}

// x87Clear drops the unmasked exception flags from sw. With nothing left
// pending, the error summary and busy bits go too.
func x87Clear(sw, cw uint32) uint32 {
	sw &= cw | 0xff80
	if sw&^cw&x87Exceptions == 0 {
		sw &^= x87ES | x87B
	}
	return sw
}

func mxcsrKind(mxcsr uint32) (fault.Kind, bool) {
	return pending(mxcsr &^ (mxcsr >> mxcsrMaskShift) & x87Exceptions)
}

func mxcsrClear(mxcsr uint32) uint32 {
	return mxcsr &^ (mxcsr &^ (mxcsr >> mxcsrMaskShift) & x87Exceptions)
}

// The i386 frame follows the FSAVE image with the status word and a magic
// word. A magic of X86_FXSR_MAGIC means the FXSAVE image comes next.
const (
	i386MagicOffset = 110
	i386FXSROffset  = 112
	i386FXSRMagic   = 0x0000

	// i386FXSRSize covers the FXSAVE image up to MXCSR_MASK.
	i386FXSRSize = i386FXSROffset + mxcsrMaskOffset + 4
)

// fxsave returns the offset of the FXSAVE image within s.
func fxsave(s *State) (int, bool) {
	if s.f.arch == arch.AMD64 {
		return 0, true
	}
	if len(s.data) < i386FXSRSize || s.f.order.Uint16(s.data[i386MagicOffset:]) != i386FXSRMagic {
		return 0, false
	}
	return i386FXSROffset, true
}

// MXCSR returns the SSE control and status register. ok is false for i386
// state delivered without the FXSAVE image.
func (s *State) MXCSR() (mxcsr uint32, ok bool) {
	off, ok := fxsave(s)
	if !ok {
		return 0, false
	}
	return s.f.order.Uint32(s.data[off+mxcsrOffset:]), true
}

// SetMXCSR sets the MXCSR control/status register in the state, if it has
// one.
func (s *State) SetMXCSR(mxcsr uint32) {
	if off, ok := fxsave(s); ok {
		s.f.order.PutUint32(s.data[off+mxcsrOffset:], mxcsr)
	}
}

func sseKind(s *State) (fault.Kind, bool) {
	mxcsr, ok := s.MXCSR()
	if !ok {
		return fault.FloatInvalid, false
	}
	return mxcsrKind(mxcsr)
}

// clearSSE drops the reported SSE exceptions and coerces reserved bits in
// MXCSR to 0. ("FXRSTOR generates general-protection faults (#GP) in
// response to attempts to set any of the reserved bits of the MXCSR
// register." - Intel SDM Vol. 1, Section 10.5.1.2 "SSE State")
func clearSSE(s *State) {
	off, ok := fxsave(s)
	if !ok {
		return
	}
	mask := s.f.order.Uint32(s.data[off+mxcsrMaskOffset:])
	if mask == 0 {
		mask = mxcsrDefaultMask
	}
	mxcsr := s.f.order.Uint32(s.data[off+mxcsrOffset:])
	s.f.order.PutUint32(s.data[off+mxcsrOffset:], mxcsrClear(mxcsr)&mask)
}

// x86Kind checks the x87 flags first, then MXCSR.
func x86Kind(s *State) fault.Kind {
	if k, ok := x87Kind(s.Status(), s.Control()); ok {
		return k
	}
	k, _ := sseKind(s)
	return k
}

func x86Clear(s *State) {
	s.SetStatus(x87Clear(s.Status(), s.Control()))
	clearSSE(s)
}

// i386 delivers the FSAVE image (struct _fpstate_32 up to the x87
// registers), followed by the FXSAVE image on FXSR capable hosts.
var i386Format = &format{
	arch:         arch.I386,
	size:         108,
	extSize:      i386FXSRSize,
	order:        binary.LittleEndian,
	embedded:     true,
	controlOff:   0,
	controlWidth: 2,
	statusOff:    4,
	statusWidth:  2,
	kind:         x86Kind,
	clear:        x86Clear,
}

// amd64 delivers the FXSAVE image.
var amd64Format = &format{
	arch:         arch.AMD64,
	size:         512,
	order:        binary.LittleEndian,
	embedded:     true,
	controlOff:   0,
	controlWidth: 2,
	statusOff:    2,
	statusWidth:  2,
	kind:         x86Kind,
	clear:        x86Clear,
}

func init() {
	register(i386Format)
	register(amd64Format)
}
