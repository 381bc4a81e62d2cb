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

// Package sighandling registers the process-wide trap handlers with the host
// and manages the per-thread alternate signal stacks they run on.
package sighandling

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/google/btree"
	"gvisor.dev/trapshim/pkg/abi/linux"
	"gvisor.dev/trapshim/pkg/hostarch"
	"gvisor.dev/trapshim/pkg/log"
	"gvisor.dev/trapshim/pkg/sync"
)

// Host is the operating system interface used by the registry.
type Host interface {
	// SigAction installs act for sig, storing the previous action in old.
	// Either may be nil.
	SigAction(sig linux.Signal, act, old *linux.SigAction) error

	// SigAltStack sets the alternate signal stack of the calling thread,
	// storing the previous one in old. Either may be nil.
	SigAltStack(ss, old *linux.SignalStack) error

	// Map maps size bytes of anonymous read/write memory.
	Map(size uint64) (hostarch.Addr, error)

	// ProtectNone makes [addr, addr+size) inaccessible.
	ProtectNone(addr hostarch.Addr, size uint64) error

	// Unmap unmaps [addr, addr+size).
	Unmap(addr hostarch.Addr, size uint64) error

	// Exit exits the process.
	Exit(status int)
}

// Errors returned by the registry.
var (
	ErrAlreadyInitialized = errors.New("trap handlers already initialized")
	ErrAlreadyInstalled   = errors.New("trap handler already installed")
	ErrUnsupportedClass   = errors.New("signal is not a fault class")
	ErrTornDown           = errors.New("trap handlers have been reset to default")
	ErrStackConfigured    = errors.New("alternate stack already configured")
	ErrStackNotConfigured = errors.New("alternate stack not configured")
	ErrNoRestorer         = errors.New("SA_RESTORER without a restorer")
	ErrNoEntry            = errors.New("no handler entry point")
)

// AlreadyInstalledError is returned by Install for a signal that already has
// a handler.
type AlreadyInstalledError struct {
	Signal linux.Signal
}

// Error implements error.Error.
func (e *AlreadyInstalledError) Error() string {
	return fmt.Sprintf("handler for %v already installed", e.Signal)
}

// Is implements errors.Is.
func (e *AlreadyInstalledError) Is(target error) bool {
	return target == ErrAlreadyInstalled
}

// FaultClasses are the signals that Install accepts.
var FaultClasses = []linux.Signal{
	linux.SIGSEGV,
	linux.SIGBUS,
	linux.SIGILL,
	linux.SIGFPE,
	linux.SIGTRAP,
	linux.SIGINT,
}

var faultClasses = linux.MakeSignalSet(FaultClasses...)

// IsFaultClass returns true if sig is one of FaultClasses.
func IsFaultClass(sig linux.Signal) bool {
	return sig.IsValid() && faultClasses&linux.SignalSetOf(sig) != 0
}

// DefaultAltStackSize is the alternate stack size used when Options does not
// set one.
const DefaultAltStackSize = 64 << 10

// Options configures a Registry.
type Options struct {
	// Entry is the address of the handler entry point. Install fails
	// without one; alternate stacks can be managed before it is known.
	Entry uintptr

	// Restorer is the address of the signal return trampoline.
	Restorer uintptr

	// AltStackSize is the usable size of each alternate stack, rounded up
	// to whole pages. A guard page is mapped below it.
	AltStackSize uint64
}

// Registry is the process-wide handler registration.
type Registry struct {
	host Host
	opts Options

	mu sync.Mutex

	// previous holds the action each installed signal had before.
	// +checklocks:mu
	previous map[linux.Signal]linux.SigAction

	// stacks are the configured alternate stacks by thread id.
	// +checklocks:mu
	stacks map[int32]AltStack

	// byBase indexes the same stacks by mapping base address.
	// +checklocks:mu
	byBase *btree.BTreeG[AltStack]

	// +checklocks:mu
	tornDown bool
}

var (
	initMu  sync.Mutex
	current atomic.Pointer[Registry]
)

// Init creates the registry. It may be called only once per process.
func Init(host Host, opts Options) (*Registry, error) {
	if opts.AltStackSize == 0 {
		opts.AltStackSize = DefaultAltStackSize
	}
	opts.AltStackSize = hostarch.PageRoundUp(opts.AltStackSize)

	initMu.Lock()
	defer initMu.Unlock()
	if current.Load() != nil {
		return nil, ErrAlreadyInitialized
	}
	r := &Registry{
		host:     host,
		opts:     opts,
		previous: make(map[linux.Signal]linux.SigAction),
		stacks:   make(map[int32]AltStack),
		byBase:   btree.NewG[AltStack](8, altStackLess),
	}
	current.Store(r)
	return r, nil
}

// Current returns the registry created by Init, or nil.
func Current() *Registry {
	return current.Load()
}

// Install registers the handler for each of classes. Classes are checked
// before any handler is installed.
//
// The current action's flags and restorer are kept. Options.Restorer, if
// set, replaces the restorer.
func (r *Registry) Install(classes ...linux.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tornDown {
		return ErrTornDown
	}
	if r.opts.Entry == 0 {
		return ErrNoEntry
	}
	var pending linux.SignalSet
	for _, sig := range classes {
		if !IsFaultClass(sig) {
			return fmt.Errorf("installing %v: %w", sig, ErrUnsupportedClass)
		}
		if _, ok := r.previous[sig]; ok || pending&linux.SignalSetOf(sig) != 0 {
			return &AlreadyInstalledError{Signal: sig}
		}
		pending |= linux.SignalSetOf(sig)
	}

	// The new actions keep the flags, mask and restorer of the current
	// ones, with only the handler swapped.
	acts := make([]linux.SigAction, len(classes))
	for i, sig := range classes {
		var cur linux.SigAction
		if err := r.host.SigAction(sig, nil, &cur); err != nil {
			return fmt.Errorf("reading action for %v: %w", sig, err)
		}
		act := cur
		act.Handler = uint64(r.opts.Entry)
		act.Flags |= linux.SA_SIGINFO | linux.SA_ONSTACK
		if r.opts.Restorer != 0 {
			act.Flags |= linux.SA_RESTORER
			act.Restorer = uint64(r.opts.Restorer)
		}
		if act.Flags&linux.SA_RESTORER != 0 && act.Restorer == 0 {
			return fmt.Errorf("installing %v: %w", sig, ErrNoRestorer)
		}
		acts[i] = act
	}

	for i, sig := range classes {
		var old linux.SigAction
		if err := r.host.SigAction(sig, &acts[i], &old); err != nil {
			return fmt.Errorf("installing handler for %v: %w", sig, err)
		}
		r.previous[sig] = old
		log.Debugf("Installed trap handler for %v, previous handler %#x", sig, old.Handler)
	}
	return nil
}

// Installed returns the signals with an installed handler, in numeric order.
func (r *Registry) Installed() []linux.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	sigs := make([]linux.Signal, 0, len(r.previous))
	for sig := range r.previous {
		sigs = append(sigs, sig)
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i] < sigs[j] })
	return sigs
}

// Previous returns the action sig had before Install replaced it.
func (r *Registry) Previous(sig linux.Signal) (linux.SigAction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	act, ok := r.previous[sig]
	return act, ok
}

// Action returns the action the host currently has for sig.
func (r *Registry) Action(sig linux.Signal) (linux.SigAction, error) {
	var act linux.SigAction
	if err := r.host.SigAction(sig, nil, &act); err != nil {
		return linux.SigAction{}, fmt.Errorf("reading action for %v: %w", sig, err)
	}
	return act, nil
}

// ResetToDefault restores the default action of every installed signal, so
// that a fault while the process is going down kills it. Only the first call
// does anything.
func (r *Registry) ResetToDefault() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tornDown {
		return nil
	}
	r.tornDown = true

	var errs []error
	for sig := range r.previous {
		act := linux.SigAction{Handler: linux.SIG_DFL}
		if err := r.host.SigAction(sig, &act, nil); err != nil {
			errs = append(errs, fmt.Errorf("resetting %v: %w", sig, err))
		}
	}
	return errors.Join(errs...)
}
