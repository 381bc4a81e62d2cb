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

package trap

import (
	"gvisor.dev/trapshim/pkg/hostarch"
	"gvisor.dev/trapshim/pkg/trap/arch"
)

// Pager backs demand paged memory.
type Pager interface {
	// HandleAccessFault makes addr accessible for at, returning true if the
	// faulting instruction can simply be restarted.
	//
	// It is called with the faulting signal still blocked, on the signal
	// stack, before anything else looks at the trap. It must not block and
	// must not fault.
	HandleAccessFault(addr hostarch.Addr, at hostarch.AccessType) bool
}

// fastPath tries to resolve raw through the pager. It reads only the fault
// address and access type out of the context and changes nothing.
func (d *Driver) fastPath(raw *arch.RawTrap) bool {
	if d.opts.Pager == nil {
		return false
	}
	addr, at, ok := d.layout.PageFault(raw)
	if !ok {
		return false
	}
	return d.opts.Pager.HandleAccessFault(addr, at)
}
