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

package sighandling

import (
	"fmt"

	"gvisor.dev/trapshim/pkg/abi/linux"
	"gvisor.dev/trapshim/pkg/hostarch"
	"gvisor.dev/trapshim/pkg/log"
)

// AltStack is an alternate signal stack with a guard page below it.
//
// The mapping is laid out as:
//
//	Base              Base+Guard                      Base+Guard+Stack.Size
//	| guard (no access) | stack                        |
type AltStack struct {
	Base  hostarch.Addr
	Guard uint64
	Stack linux.SignalStack

	// Previous is the stack the thread had before, restored on release.
	Previous linux.SignalStack
}

// Size returns the size of the whole mapping.
func (s *AltStack) Size() uint64 {
	return s.Guard + s.Stack.Size
}

// InGuard returns true if addr falls in the guard page.
func (s *AltStack) InGuard(addr hostarch.Addr) bool {
	return addr >= s.Base && uint64(addr-s.Base) < s.Guard
}

func altStackLess(a, b AltStack) bool {
	return a.Base < b.Base
}

// ConfigureThreadStack maps and registers the alternate stack of thread tid.
// It must be called on that thread, with the goroutine locked to it.
func (r *Registry) ConfigureThreadStack(tid int32) (AltStack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.stacks[tid]; ok {
		return AltStack{}, fmt.Errorf("thread %d: %w", tid, ErrStackConfigured)
	}

	s := AltStack{Guard: hostarch.PageSize}
	base, err := r.host.Map(s.Guard + r.opts.AltStackSize)
	if err != nil {
		return AltStack{}, fmt.Errorf("mapping alternate stack for thread %d: %w", tid, err)
	}
	s.Base = base
	s.Stack = linux.SignalStack{
		Addr: uint64(base) + s.Guard,
		Size: r.opts.AltStackSize,
	}
	if err := r.host.ProtectNone(base, s.Guard); err != nil {
		r.unmap(&s)
		return AltStack{}, fmt.Errorf("protecting guard page for thread %d: %w", tid, err)
	}
	if err := r.host.SigAltStack(&s.Stack, &s.Previous); err != nil {
		r.unmap(&s)
		return AltStack{}, fmt.Errorf("registering alternate stack for thread %d: %w", tid, err)
	}
	r.stacks[tid] = s
	r.byBase.ReplaceOrInsert(s)
	log.Debugf("Thread %d alternate stack at %#x-%#x", tid, s.Stack.Addr, s.Stack.Top())
	return s, nil
}

// ReleaseThreadStack puts back the previous alternate stack of thread tid and
// unmaps the one configured by ConfigureThreadStack. It must be called on
// that thread.
func (r *Registry) ReleaseThreadStack(tid int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stacks[tid]
	if !ok {
		return fmt.Errorf("thread %d: %w", tid, ErrStackNotConfigured)
	}
	prev := s.Previous
	if err := r.host.SigAltStack(&prev, nil); err != nil {
		return fmt.Errorf("restoring alternate stack for thread %d: %w", tid, err)
	}
	delete(r.stacks, tid)
	r.byBase.Delete(s)
	if err := r.host.Unmap(s.Base, s.Size()); err != nil {
		return fmt.Errorf("unmapping alternate stack for thread %d: %w", tid, err)
	}
	return nil
}

// ThreadStack returns the alternate stack of thread tid.
func (r *Registry) ThreadStack(tid int32) (AltStack, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stacks[tid]
	return s, ok
}

// InStackGuard returns true if addr is in the guard page of any configured
// alternate stack.
func (r *Registry) InStackGuard(addr hostarch.Addr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Mappings are disjoint, so only the closest stack at or below addr
	// can contain it.
	found := false
	r.byBase.DescendLessOrEqual(AltStack{Base: addr}, func(s AltStack) bool {
		found = s.InGuard(addr)
		return false
	})
	return found
}

// +checklocks:r.mu
func (r *Registry) unmap(s *AltStack) {
	if err := r.host.Unmap(s.Base, s.Size()); err != nil {
		log.Warningf("Unable to unmap alternate stack at %v: %v", s.Base, err)
	}
}
