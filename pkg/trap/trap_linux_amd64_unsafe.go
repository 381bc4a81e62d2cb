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
	"fmt"
	"unsafe"

	"gvisor.dev/trapshim/pkg/abi/linux"
	"gvisor.dev/trapshim/pkg/trap/arch"
	"gvisor.dev/trapshim/pkg/trap/fault"
)

const (
	// ucontextMcontextOffset is the offset of uc_mcontext in struct ucontext:
	// uc_flags, uc_link and the 24 byte uc_stack precede it.
	ucontextMcontextOffset = 40

	// sigcontextFPStateOffset is the offset of the fpstate pointer in
	// struct sigcontext.
	sigcontextFPStateOffset = 184

	sigcontextSize = 256
	fxsaveSize     = 512
)

// RawTrapFromUContext points raw at the machine context and FP area of the
// kernel supplied ucontext uc. Nothing is copied: raw aliases uc and the
// memory it points to, and is only valid until the signal handler returns.
func RawTrapFromUContext(raw *arch.RawTrap, signo linux.Signal, info *linux.SignalInfo, uc unsafe.Pointer) {
	raw.Signo = signo
	raw.Info = *info
	raw.Context = unsafe.Slice((*byte)(unsafe.Add(uc, ucontextMcontextOffset)), sigcontextSize)
	raw.FP = nil
	if fpstate := *(*uintptr)(unsafe.Add(uc, ucontextMcontextOffset+sigcontextFPStateOffset)); fpstate != 0 {
		raw.FP = unsafe.Slice((*byte)(unsafe.Pointer(fpstate)), fxsaveSize)
	}
}

// HandleSignal is called by the signal entry stub with the arguments of an
// SA_SIGINFO handler. The thread resumes from uc when it returns.
func (d *Driver) HandleSignal(signo int32, info *linux.SignalInfo, uc unsafe.Pointer) fault.Disposition {
	if d.layout.Arch != arch.AMD64 {
		panic(fmt.Sprintf("HandleSignal on a %v driver", d.layout.Arch))
	}
	var raw arch.RawTrap
	RawTrapFromUContext(&raw, linux.Signal(signo), info, uc)
	return d.HandleTrap(&raw)
}
