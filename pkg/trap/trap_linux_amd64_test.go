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

//go:build linux && amd64
// +build linux,amd64

package trap

import (
	"encoding/binary"
	"runtime"
	"testing"
	"unsafe"

	"gvisor.dev/trapshim/pkg/abi/linux"
	"gvisor.dev/trapshim/pkg/trap/arch"
	"gvisor.dev/trapshim/pkg/trap/fault"
)

// ucontext is a kernel style ucontext with its FP area.
type ucontext struct {
	buf []byte
	fp  []byte
}

// newUContext lays the machine context of raw out as the kernel does.
func newUContext(raw *arch.RawTrap) *ucontext {
	uc := &ucontext{
		buf: make([]byte, ucontextMcontextOffset+sigcontextSize),
		fp:  make([]byte, fxsaveSize),
	}
	copy(uc.buf[ucontextMcontextOffset:], raw.Context)
	binary.LittleEndian.PutUint64(uc.buf[ucontextMcontextOffset+sigcontextFPStateOffset:], uint64(uintptr(unsafe.Pointer(&uc.fp[0]))))
	return uc
}

func (uc *ucontext) mcontext() []byte {
	return uc.buf[ucontextMcontextOffset:]
}

func TestRawTrapFromUContext(t *testing.T) {
	uc := newUContext(pageFault(t))
	info := linux.SignalInfo{Signo: int32(linux.SIGSEGV), Code: linux.SEGV_MAPERR}

	var raw arch.RawTrap
	RawTrapFromUContext(&raw, linux.SIGSEGV, &info, unsafe.Pointer(&uc.buf[0]))
	if raw.Signo != linux.SIGSEGV || raw.Info.Code != linux.SEGV_MAPERR {
		t.Errorf("RawTrapFromUContext got signal %v code %d", raw.Signo, raw.Info.Code)
	}
	if len(raw.Context) != sigcontextSize || &raw.Context[0] != &uc.buf[ucontextMcontextOffset] {
		t.Errorf("Context does not alias the machine context")
	}
	if len(raw.FP) != fxsaveSize || &raw.FP[0] != &uc.fp[0] {
		t.Errorf("FP does not alias the FP area")
	}

	// No FP area.
	binary.LittleEndian.PutUint64(uc.buf[ucontextMcontextOffset+sigcontextFPStateOffset:], 0)
	RawTrapFromUContext(&raw, linux.SIGSEGV, &info, unsafe.Pointer(&uc.buf[0]))
	if raw.FP != nil {
		t.Errorf("FP got %d bytes without an FP area", len(raw.FP))
	}
	runtime.KeepAlive(uc)
}

func TestHandleSignal(t *testing.T) {
	pager := &fakePager{resolve: true}
	d, disp, _ := newDriver(t, arch.AMD64, Options{Pager: pager})
	uc := newUContext(pageFault(t))
	info := linux.SignalInfo{Signo: int32(linux.SIGSEGV), Code: linux.SEGV_MAPERR}
	if got := d.HandleSignal(int32(linux.SIGSEGV), &info, unsafe.Pointer(&uc.buf[0])); got != fault.Resolved {
		t.Errorf("HandleSignal got %v, want %v", got, fault.Resolved)
	}
	if pager.addr != faultAddr || disp.calls() != 0 {
		t.Errorf("fast path not taken: pager saw %v, %d dispatches", pager.addr, disp.calls())
	}

	// The dispatcher's changes land in the ucontext the thread resumes from.
	disp.fn = func(rec *fault.Record, regs *arch.Registers) fault.Disposition {
		regs.SetPC(0x402000)
		return fault.Resume
	}
	pager.resolve = false
	if got := d.HandleSignal(int32(linux.SIGSEGV), &info, unsafe.Pointer(&uc.buf[0])); got != fault.Resume {
		t.Errorf("HandleSignal got %v, want %v", got, fault.Resume)
	}
	regs, err := arch.MustLookup(arch.AMD64).Capture(&arch.RawTrap{Context: uc.mcontext()})
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if regs.PC() != 0x402000 {
		t.Errorf("resumed at %#x, want 0x402000", regs.PC())
	}
	runtime.KeepAlive(uc)
}

func TestHandleSignalFloat(t *testing.T) {
	d, disp, _ := newDriver(t, arch.AMD64, Options{})
	uc := newUContext(newTrap(t, arch.AMD64, linux.SIGFPE, linux.FPE_FLTDIV, map[arch.Field]uint64{
		arch.FieldTrapNo: arch.TrapX87,
	}))
	binary.LittleEndian.PutUint16(uc.fp[0:], 0x37f&^0x04) // zero divide unmasked
	binary.LittleEndian.PutUint16(uc.fp[2:], 0x80|0x04)
	info := linux.SignalInfo{Signo: int32(linux.SIGFPE), Code: linux.FPE_FLTDIV}

	d.HandleSignal(int32(linux.SIGFPE), &info, unsafe.Pointer(&uc.buf[0]))
	if k := disp.records[0].Kind; k != fault.FloatDivideByZero {
		t.Errorf("Dispatched kind %v, want %v", k, fault.FloatDivideByZero)
	}
	if sw := binary.LittleEndian.Uint16(uc.fp[2:]); sw&0x04 != 0 {
		t.Errorf("status word %#x in the FP area still reports the exception", sw)
	}
	runtime.KeepAlive(uc)
}

func TestHandleSignalWrongArch(t *testing.T) {
	d, _, _ := newDriver(t, arch.PPC32, Options{})
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("HandleSignal on a PPC32 driver did not panic")
		}
	}()
	uc := newUContext(pageFault(t))
	d.HandleSignal(int32(linux.SIGSEGV), &linux.SignalInfo{}, unsafe.Pointer(&uc.buf[0]))
}
