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

//go:build linux
// +build linux

package sighandling

import (
	"unsafe"

	"golang.org/x/sys/unix"
	"gvisor.dev/trapshim/pkg/abi/linux"
	"gvisor.dev/trapshim/pkg/hostarch"
)

// UnixHost implements Host with raw Linux system calls. They bypass the Go
// runtime's own signal handling.
type UnixHost struct{}

// SigAction implements Host.SigAction.
func (UnixHost) SigAction(sig linux.Signal, act, old *linux.SigAction) error {
	if _, _, e := unix.RawSyscall6(unix.SYS_RT_SIGACTION, uintptr(sig), uintptr(unsafe.Pointer(act)), uintptr(unsafe.Pointer(old)), linux.SignalSetSize, 0, 0); e != 0 {
		return e
	}
	return nil
}

// SigAltStack implements Host.SigAltStack.
func (UnixHost) SigAltStack(ss, old *linux.SignalStack) error {
	if _, _, e := unix.RawSyscall(unix.SYS_SIGALTSTACK, uintptr(unsafe.Pointer(ss)), uintptr(unsafe.Pointer(old)), 0); e != 0 {
		return e
	}
	return nil
}

// Map implements Host.Map.
func (UnixHost) Map(size uint64) (hostarch.Addr, error) {
	addr, _, e := unix.RawSyscall6(
		unix.SYS_MMAP,
		0,
		uintptr(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE,
		^uintptr(0), // fd = -1
		0)
	if e != 0 {
		return 0, e
	}
	return hostarch.Addr(addr), nil
}

// ProtectNone implements Host.ProtectNone.
func (UnixHost) ProtectNone(addr hostarch.Addr, size uint64) error {
	if _, _, e := unix.RawSyscall(unix.SYS_MPROTECT, uintptr(addr), uintptr(size), unix.PROT_NONE); e != 0 {
		return e
	}
	return nil
}

// Unmap implements Host.Unmap.
func (UnixHost) Unmap(addr hostarch.Addr, size uint64) error {
	if _, _, e := unix.RawSyscall(unix.SYS_MUNMAP, uintptr(addr), uintptr(size), 0); e != 0 {
		return e
	}
	return nil
}

// Exit implements Host.Exit.
func (UnixHost) Exit(status int) {
	unix.Exit(status)
}

// UnixMasker changes the signal mask of the calling thread with
// rt_sigprocmask(2). The goroutine must be locked to its thread.
type UnixMasker struct{}

// Unblock implements trap.Masker.Unblock.
func (UnixMasker) Unblock(sig linux.Signal) (linux.SignalSet, error) {
	set := linux.SignalSetOf(sig)
	var old linux.SignalSet
	if _, _, e := unix.RawSyscall6(unix.SYS_RT_SIGPROCMASK, linux.SIG_UNBLOCK, uintptr(unsafe.Pointer(&set)), uintptr(unsafe.Pointer(&old)), linux.SignalSetSize, 0, 0); e != 0 {
		return 0, e
	}
	return old, nil
}

// SetMask implements trap.Masker.SetMask.
func (UnixMasker) SetMask(mask linux.SignalSet) error {
	if _, _, e := unix.RawSyscall6(unix.SYS_RT_SIGPROCMASK, linux.SIG_SETMASK, uintptr(unsafe.Pointer(&mask)), 0, linux.SignalSetSize, 0, 0); e != 0 {
		return e
	}
	return nil
}

// Gettid returns the thread id of the calling thread.
func Gettid() int32 {
	return int32(unix.Gettid())
}
