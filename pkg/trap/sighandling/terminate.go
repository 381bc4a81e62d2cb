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
	"os"

	"gvisor.dev/trapshim/pkg/abi/linux"
	"gvisor.dev/trapshim/pkg/log"
	"gvisor.dev/trapshim/pkg/trap/fault"
)

// HostTerminator ends the process for records the dispatch chain did not
// handle.
type HostTerminator struct {
	// Registry is reset before exiting. If nil, the registry created by
	// Init is used.
	Registry *Registry
}

// exit is used when there is no registry to exit through.
var exit = os.Exit

// ExitStatus returns the status the process exits with for rec: 128 plus the
// signal number, as a shell reports death by that signal, or 1 if the record
// carries no signal.
func ExitStatus(rec *fault.Record) int {
	if !linux.Signal(rec.Signo).IsValid() {
		return 1
	}
	return 128 + int(rec.Signo)
}

// Terminate implements trap.Terminator.Terminate.
func (t HostTerminator) Terminate(rec *fault.Record) {
	log.Warningf("Unhandled exception %v, terminating", rec)
	r := t.Registry
	if r == nil {
		r = Current()
	}
	if r == nil {
		exit(ExitStatus(rec))
		return
	}
	if err := r.ResetToDefault(); err != nil {
		log.Warningf("Resetting trap handlers: %v", err)
	}
	r.host.Exit(ExitStatus(rec))
}
