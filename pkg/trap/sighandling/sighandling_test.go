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
	"errors"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/trapshim/pkg/abi/linux"
	"gvisor.dev/trapshim/pkg/hostarch"
	"gvisor.dev/trapshim/pkg/trap/fault"
)

const (
	entry       = 0x400000
	restorer    = 0x400100
	oldEntry    = 0x500000
	oldRestorer = 0x500100
)

type fakeHost struct {
	actions        map[linux.Signal]linux.SigAction
	sigactionCalls int
	sigactionErr   error

	altStacks   []linux.SignalStack
	altStack    linux.SignalStack
	altStackErr error

	next      hostarch.Addr
	mappings  map[hostarch.Addr]uint64
	protected map[hostarch.Addr]uint64

	exitStatus int
}

func newFakeHost() *fakeHost {
	h := &fakeHost{
		actions:    make(map[linux.Signal]linux.SigAction),
		next:       0x7f0000000000,
		mappings:   make(map[hostarch.Addr]uint64),
		protected:  make(map[hostarch.Addr]uint64),
		altStack:   linux.SignalStack{Flags: linux.SS_DISABLE},
		exitStatus: -1,
	}
	for _, sig := range FaultClasses {
		h.actions[sig] = linux.SigAction{Handler: oldEntry, Flags: linux.SA_SIGINFO}
	}
	return h
}

func (h *fakeHost) SigAction(sig linux.Signal, act, old *linux.SigAction) error {
	h.sigactionCalls++
	if h.sigactionErr != nil {
		return h.sigactionErr
	}
	if old != nil {
		*old = h.actions[sig]
	}
	if act != nil {
		h.actions[sig] = *act
	}
	return nil
}

func (h *fakeHost) SigAltStack(ss, old *linux.SignalStack) error {
	if h.altStackErr != nil {
		return h.altStackErr
	}
	if old != nil {
		*old = h.altStack
	}
	if ss != nil {
		h.altStacks = append(h.altStacks, *ss)
		h.altStack = *ss
	}
	return nil
}

func (h *fakeHost) Map(size uint64) (hostarch.Addr, error) {
	addr := h.next
	h.next += hostarch.Addr(size)
	h.mappings[addr] = size
	return addr, nil
}

func (h *fakeHost) ProtectNone(addr hostarch.Addr, size uint64) error {
	h.protected[addr] = size
	return nil
}

func (h *fakeHost) Unmap(addr hostarch.Addr, size uint64) error {
	if h.mappings[addr] != size {
		return errors.New("unmapping unknown region")
	}
	delete(h.mappings, addr)
	return nil
}

func (h *fakeHost) Exit(status int) {
	h.exitStatus = status
}

// newRegistry initializes a fresh process-wide registry for one test.
func newRegistry(t *testing.T, h Host, opts Options) *Registry {
	t.Helper()
	current.Store(nil)
	t.Cleanup(func() { current.Store(nil) })
	if opts.Entry == 0 {
		opts.Entry = entry
		opts.Restorer = restorer
	}
	r, err := Init(h, opts)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return r
}

func TestInitOnce(t *testing.T) {
	r := newRegistry(t, newFakeHost(), Options{})
	if _, err := Init(newFakeHost(), Options{Entry: entry}); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second Init got %v, want %v", err, ErrAlreadyInitialized)
	}
	if Current() != r {
		t.Errorf("Current() is not the registry returned by Init")
	}
}

func TestInstallRequiresEntry(t *testing.T) {
	h := newFakeHost()
	current.Store(nil)
	t.Cleanup(func() { current.Store(nil) })
	r, err := Init(h, Options{})
	if err != nil {
		t.Fatalf("Init without an entry point failed: %v", err)
	}
	if err := r.Install(linux.SIGSEGV); !errors.Is(err, ErrNoEntry) {
		t.Errorf("Install got %v, want %v", err, ErrNoEntry)
	}
	if h.sigactionCalls != 0 {
		t.Errorf("Install without an entry point made %d sigaction calls", h.sigactionCalls)
	}
	if _, err := r.ConfigureThreadStack(1); err != nil {
		t.Errorf("ConfigureThreadStack without an entry point failed: %v", err)
	}
}

func TestInstall(t *testing.T) {
	h := newFakeHost()
	r := newRegistry(t, h, Options{})
	if err := r.Install(linux.SIGSEGV, linux.SIGILL); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	want := linux.SigAction{
		Handler:  entry,
		Flags:    linux.SA_SIGINFO | linux.SA_ONSTACK | linux.SA_RESTORER,
		Restorer: restorer,
	}
	for _, sig := range []linux.Signal{linux.SIGSEGV, linux.SIGILL} {
		if diff := cmp.Diff(want, h.actions[sig]); diff != "" {
			t.Errorf("action for %v mismatch (-want +got):\n%s", sig, diff)
		}
		prev, ok := r.Previous(sig)
		if !ok || prev.Handler != oldEntry {
			t.Errorf("Previous(%v) got (%#x, %t), want (%#x, true)", sig, prev.Handler, ok, oldEntry)
		}
	}
	if diff := cmp.Diff([]linux.Signal{linux.SIGILL, linux.SIGSEGV}, r.Installed()); diff != "" {
		t.Errorf("Installed mismatch (-want +got):\n%s", diff)
	}
	if h.actions[linux.SIGBUS].Handler != oldEntry {
		t.Errorf("Install changed the handler of SIGBUS")
	}
}

func TestInstallKeepsRestorer(t *testing.T) {
	h := newFakeHost()
	h.actions[linux.SIGSEGV] = linux.SigAction{
		Handler:  oldEntry,
		Flags:    linux.SA_SIGINFO | linux.SA_ONSTACK | linux.SA_RESTORER | linux.SA_RESTART,
		Restorer: oldRestorer,
		Mask:     linux.SignalSetOf(linux.SIGUSR1),
	}
	h.actions[linux.SIGILL] = linux.SigAction{Handler: linux.SIG_DFL}
	r := newRegistry(t, h, Options{Entry: entry})
	if err := r.Install(linux.SIGSEGV, linux.SIGILL); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	want := linux.SigAction{
		Handler:  entry,
		Flags:    linux.SA_SIGINFO | linux.SA_ONSTACK | linux.SA_RESTORER | linux.SA_RESTART,
		Restorer: oldRestorer,
		Mask:     linux.SignalSetOf(linux.SIGUSR1),
	}
	if diff := cmp.Diff(want, h.actions[linux.SIGSEGV]); diff != "" {
		t.Errorf("SIGSEGV action mismatch (-want +got):\n%s", diff)
	}
	want = linux.SigAction{
		Handler: entry,
		Flags:   linux.SA_SIGINFO | linux.SA_ONSTACK,
	}
	if diff := cmp.Diff(want, h.actions[linux.SIGILL]); diff != "" {
		t.Errorf("SIGILL action mismatch (-want +got):\n%s", diff)
	}
}

func TestInstallZeroRestorer(t *testing.T) {
	h := newFakeHost()
	h.actions[linux.SIGBUS] = linux.SigAction{Handler: oldEntry, Flags: linux.SA_SIGINFO | linux.SA_RESTORER}
	r := newRegistry(t, h, Options{Entry: entry})

	if err := r.Install(linux.SIGSEGV, linux.SIGBUS); !errors.Is(err, ErrNoRestorer) {
		t.Errorf("Install got %v, want %v", err, ErrNoRestorer)
	}
	for sig, act := range h.actions {
		if act.Handler == entry {
			t.Errorf("Install left a handler installed for %v", sig)
		}
	}
	if got := r.Installed(); len(got) != 0 {
		t.Errorf("Installed got %v, want none", got)
	}
}

func TestInstallRejects(t *testing.T) {
	for _, tc := range []struct {
		name    string
		first   []linux.Signal
		classes []linux.Signal
		want    error
	}{
		{
			name:    "already installed",
			first:   []linux.Signal{linux.SIGSEGV},
			classes: []linux.Signal{linux.SIGBUS, linux.SIGSEGV},
			want:    ErrAlreadyInstalled,
		},
		{
			name:    "repeated class",
			classes: []linux.Signal{linux.SIGFPE, linux.SIGFPE},
			want:    ErrAlreadyInstalled,
		},
		{
			name:    "not a fault class",
			classes: []linux.Signal{linux.SIGTRAP, linux.SIGCHLD},
			want:    ErrUnsupportedClass,
		},
		{
			name:    "invalid signal",
			classes: []linux.Signal{0},
			want:    ErrUnsupportedClass,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newFakeHost()
			r := newRegistry(t, h, Options{})
			if len(tc.first) > 0 {
				if err := r.Install(tc.first...); err != nil {
					t.Fatalf("Install failed: %v", err)
				}
			}
			calls := h.sigactionCalls
			if err := r.Install(tc.classes...); !errors.Is(err, tc.want) {
				t.Errorf("Install got %v, want %v", err, tc.want)
			}
			if h.sigactionCalls != calls {
				t.Errorf("rejected Install made %d sigaction calls", h.sigactionCalls-calls)
			}
		})
	}
}

func TestAlreadyInstalledError(t *testing.T) {
	r := newRegistry(t, newFakeHost(), Options{})
	if err := r.Install(linux.SIGTRAP); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	err := r.Install(linux.SIGTRAP)
	var aie *AlreadyInstalledError
	if !errors.As(err, &aie) || aie.Signal != linux.SIGTRAP {
		t.Errorf("Install got %v, want AlreadyInstalledError for SIGTRAP", err)
	}
}

func TestInstallHostError(t *testing.T) {
	h := newFakeHost()
	h.sigactionErr = errors.New("EINVAL")
	r := newRegistry(t, h, Options{})
	if err := r.Install(linux.SIGSEGV); !errors.Is(err, h.sigactionErr) {
		t.Errorf("Install got %v, want %v", err, h.sigactionErr)
	}
	if got := r.Installed(); len(got) != 0 {
		t.Errorf("Installed got %v after failure, want none", got)
	}
}

func TestResetToDefault(t *testing.T) {
	h := newFakeHost()
	r := newRegistry(t, h, Options{})
	if err := r.Install(linux.SIGSEGV, linux.SIGFPE); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if err := r.ResetToDefault(); err != nil {
		t.Fatalf("ResetToDefault failed: %v", err)
	}
	for _, sig := range []linux.Signal{linux.SIGSEGV, linux.SIGFPE} {
		if got := h.actions[sig]; got.Handler != linux.SIG_DFL {
			t.Errorf("handler for %v got %#x, want SIG_DFL", sig, got.Handler)
		}
	}

	calls := h.sigactionCalls
	if err := r.ResetToDefault(); err != nil {
		t.Errorf("second ResetToDefault got %v, want nil", err)
	}
	if h.sigactionCalls != calls {
		t.Errorf("second ResetToDefault made %d sigaction calls, want 0", h.sigactionCalls-calls)
	}
	if err := r.Install(linux.SIGBUS); !errors.Is(err, ErrTornDown) {
		t.Errorf("Install after reset got %v, want %v", err, ErrTornDown)
	}
}

func TestThreadStack(t *testing.T) {
	h := newFakeHost()
	r := newRegistry(t, h, Options{AltStackSize: 1})
	size := hostarch.PageSize

	s, err := r.ConfigureThreadStack(7)
	if err != nil {
		t.Fatalf("ConfigureThreadStack failed: %v", err)
	}
	if s.Guard != hostarch.PageSize || s.Stack.Addr != uint64(s.Base)+hostarch.PageSize || s.Stack.Size != size {
		t.Errorf("ConfigureThreadStack got %+v, want a %d byte stack above a guard page", s, size)
	}
	if got := h.mappings[s.Base]; got != 2*hostarch.PageSize {
		t.Errorf("mapped %d bytes, want %d", got, 2*hostarch.PageSize)
	}
	if got := h.protected[s.Base]; got != hostarch.PageSize {
		t.Errorf("protected %d bytes at the base, want %d", got, hostarch.PageSize)
	}
	if len(h.altStacks) != 1 || h.altStacks[0].Addr != s.Stack.Addr {
		t.Errorf("registered stacks %+v, want %+v", h.altStacks, s.Stack)
	}
	if s.Previous.IsEnabled() {
		t.Errorf("Previous got %+v, want the disabled stack the thread started with", s.Previous)
	}
	if got, ok := r.ThreadStack(7); !ok || got.Base != s.Base {
		t.Errorf("ThreadStack(7) got (%+v, %t)", got, ok)
	}

	if !r.InStackGuard(s.Base) || !r.InStackGuard(s.Base+hostarch.Addr(hostarch.PageSize)-1) {
		t.Errorf("guard page not reported as guard")
	}
	if r.InStackGuard(s.Base+hostarch.Addr(hostarch.PageSize)) || r.InStackGuard(s.Base-1) {
		t.Errorf("address outside the guard page reported as guard")
	}

	if _, err := r.ConfigureThreadStack(7); !errors.Is(err, ErrStackConfigured) {
		t.Errorf("second ConfigureThreadStack got %v, want %v", err, ErrStackConfigured)
	}
	other, err := r.ConfigureThreadStack(8)
	if err != nil {
		t.Fatalf("ConfigureThreadStack for another thread failed: %v", err)
	}
	if other.Base == s.Base {
		t.Errorf("threads share an alternate stack")
	}
	if !r.InStackGuard(other.Base) || r.InStackGuard(other.Base+hostarch.Addr(hostarch.PageSize)) {
		t.Errorf("guard of the second stack misreported")
	}

	if err := r.ReleaseThreadStack(7); err != nil {
		t.Fatalf("ReleaseThreadStack failed: %v", err)
	}
	if last := h.altStacks[len(h.altStacks)-1]; last.IsEnabled() {
		t.Errorf("ReleaseThreadStack did not restore the previous stack: %+v", last)
	}
	if _, ok := h.mappings[s.Base]; ok {
		t.Errorf("ReleaseThreadStack did not unmap the stack")
	}
	if r.InStackGuard(s.Base) {
		t.Errorf("released stack still reported as guard")
	}
	if !r.InStackGuard(other.Base) {
		t.Errorf("releasing one stack dropped the guard of another")
	}
	if err := r.ReleaseThreadStack(7); !errors.Is(err, ErrStackNotConfigured) {
		t.Errorf("second ReleaseThreadStack got %v, want %v", err, ErrStackNotConfigured)
	}
}

func TestThreadStackRegistrationFailure(t *testing.T) {
	h := newFakeHost()
	h.altStackErr = errors.New("ENOMEM")
	r := newRegistry(t, h, Options{})
	if _, err := r.ConfigureThreadStack(1); !errors.Is(err, h.altStackErr) {
		t.Errorf("ConfigureThreadStack got %v, want %v", err, h.altStackErr)
	}
	if len(h.mappings) != 0 {
		t.Errorf("failed ConfigureThreadStack left %d mappings", len(h.mappings))
	}
	if _, ok := r.ThreadStack(1); ok {
		t.Errorf("failed ConfigureThreadStack recorded a stack")
	}
}

func TestHostTerminator(t *testing.T) {
	h := newFakeHost()
	r := newRegistry(t, h, Options{})
	if err := r.Install(linux.SIGSEGV); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	rec := fault.Record{Kind: fault.AccessViolation, Code: fault.CodeAccessViolation, Signo: int32(linux.SIGSEGV)}
	HostTerminator{Registry: r}.Terminate(&rec)

	if want := 128 + int(linux.SIGSEGV); h.exitStatus != want {
		t.Errorf("exit status got %d, want %d", h.exitStatus, want)
	}
	if h.actions[linux.SIGSEGV].Handler != linux.SIG_DFL {
		t.Errorf("Terminate did not reset the handlers")
	}
}

func TestHostTerminatorUsesCurrent(t *testing.T) {
	h := newFakeHost()
	newRegistry(t, h, Options{})
	HostTerminator{}.Terminate(&fault.Record{Signo: int32(linux.SIGBUS)})
	if want := 128 + int(linux.SIGBUS); h.exitStatus != want {
		t.Errorf("exit status got %d, want %d", h.exitStatus, want)
	}
}

func TestHostTerminatorWithoutRegistry(t *testing.T) {
	current.Store(nil)
	status := -1
	exit = func(code int) { status = code }
	t.Cleanup(func() { exit = os.Exit })

	HostTerminator{}.Terminate(&fault.Record{Signo: int32(linux.SIGFPE)})
	if want := 128 + int(linux.SIGFPE); status != want {
		t.Errorf("exit status got %d, want %d", status, want)
	}
}

func TestExitStatus(t *testing.T) {
	for _, tc := range []struct {
		signo int32
		want  int
	}{
		{int32(linux.SIGILL), 132},
		{int32(linux.SIGFPE), 136},
		{0, 1},
		{-3, 1},
	} {
		if got := ExitStatus(&fault.Record{Signo: tc.signo}); got != tc.want {
			t.Errorf("ExitStatus(signo %d) got %d, want %d", tc.signo, got, tc.want)
		}
	}
}
