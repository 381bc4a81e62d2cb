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

// Package boot sets up trap handling for a process from its configuration.
//
// The signal entry stub is supplied by the embedder: it must call
// Driver.HandleSignal with the SA_SIGINFO handler arguments and return
// through the restorer. Until Args.Entry is set the loader manages alternate
// stacks but installs no handlers.
package boot

import (
	"fmt"
	"runtime"

	"gvisor.dev/trapshim/pkg/abi/linux"
	"gvisor.dev/trapshim/pkg/log"
	"gvisor.dev/trapshim/pkg/trap"
	"gvisor.dev/trapshim/pkg/trap/config"
	"gvisor.dev/trapshim/pkg/trap/sighandling"
)

// Args are the arguments to New.
type Args struct {
	// Conf is the validated configuration.
	Conf *config.Config

	// Host, Masker and Gettid default to those of the running operating
	// system.
	Host   sighandling.Host
	Masker trap.Masker
	Gettid func() int32

	// Entry and Restorer are the addresses of the signal entry stub and
	// its return trampoline.
	Entry    uintptr
	Restorer uintptr

	// Driver configures the driver. Terminator defaults to a
	// sighandling.HostTerminator and StackGuard to the registry.
	Driver trap.Options
}

// Loader owns the handler registry and the driver of the process.
type Loader struct {
	signals  []linux.Signal
	registry *sighandling.Registry
	driver   *trap.Driver
	masker   trap.Masker
	gettid   func() int32
}

// New creates the process-wide registry and a driver for the configured
// architecture. It may be called only once per process.
func New(args Args) (*Loader, error) {
	conf := args.Conf
	if conf == nil {
		return nil, fmt.Errorf("a configuration is required")
	}
	signals, err := conf.Signals()
	if err != nil {
		return nil, err
	}
	a, err := conf.Architecture()
	if err != nil {
		return nil, err
	}
	if args.Driver.Dispatcher == nil {
		return nil, fmt.Errorf("a dispatcher is required")
	}

	if err := setDefaults(&args); err != nil {
		return nil, err
	}

	r, err := sighandling.Init(args.Host, sighandling.Options{
		Entry:        args.Entry,
		Restorer:     args.Restorer,
		AltStackSize: conf.AltStackSize,
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing trap handlers: %w", err)
	}

	opts := args.Driver
	if opts.Terminator == nil {
		opts.Terminator = sighandling.HostTerminator{Registry: r}
	}
	if opts.StackGuard == nil {
		opts.StackGuard = r
	}
	if opts.Masker == nil {
		opts.Masker = args.Masker
	}
	opts.PreserveFP = opts.PreserveFP || conf.PreserveFP
	d, err := trap.New(a, opts)
	if err != nil {
		return nil, fmt.Errorf("error creating driver: %w", err)
	}
	log.Infof("Trap handling for %v set up, fault classes %v, %d byte alternate stacks", a, signals, conf.AltStackSize)
	return &Loader{
		signals:  signals,
		registry: r,
		driver:   d,
		masker:   opts.Masker,
		gettid:   args.Gettid,
	}, nil
}

// Driver returns the driver the entry stub calls.
func (l *Loader) Driver() *trap.Driver {
	return l.driver
}

// Registry returns the process-wide registry.
func (l *Loader) Registry() *sighandling.Registry {
	return l.registry
}

// Signals returns the configured fault classes.
func (l *Loader) Signals() []linux.Signal {
	return append([]linux.Signal(nil), l.signals...)
}

// Masker returns the signal masker used around dispatch, or nil.
func (l *Loader) Masker() trap.Masker {
	return l.masker
}

// Install installs the handlers for the configured fault classes.
func (l *Loader) Install() error {
	if err := l.registry.Install(l.signals...); err != nil {
		return err
	}
	log.Infof("Installed trap handlers for %v", l.signals)
	return nil
}

// StartThread locks the calling goroutine to its thread and configures the
// thread's alternate stack.
func (l *Loader) StartThread() (sighandling.AltStack, error) {
	runtime.LockOSThread()
	s, err := l.registry.ConfigureThreadStack(l.gettid())
	if err != nil {
		runtime.UnlockOSThread()
		return sighandling.AltStack{}, err
	}
	return s, nil
}

// StopThread releases the alternate stack configured by StartThread and
// unlocks the calling goroutine from its thread.
func (l *Loader) StopThread() error {
	if err := l.registry.ReleaseThreadStack(l.gettid()); err != nil {
		return err
	}
	runtime.UnlockOSThread()
	return nil
}
