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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/trapshim/pkg/trap"
	"gvisor.dev/trapshim/pkg/trap/arch"
	"gvisor.dev/trapshim/pkg/trap/boot"
	"gvisor.dev/trapshim/pkg/trap/config"
	"gvisor.dev/trapshim/pkg/trap/fault"
)

// Check implements subcommands.Command for the "check" command.
type Check struct{}

// Name implements subcommands.Command.Name.
func (*Check) Name() string {
	return "check"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Check) Synopsis() string {
	return "Check that trap handling can be set up on this host."
}

// Usage implements subcommands.Command.Usage.
func (*Check) Usage() string {
	return `check - set up trap handling from the configuration without installing handlers.

Reports the current action of every configured fault class, then configures,
verifies and releases an alternate stack and a signal mask change on the
calling thread.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Check) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Check) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := check(os.Stdout, confFromArgs(args)); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// unhandled terminates every record. check never delivers one.
type unhandled struct{}

func (unhandled) Dispatch(*fault.Record, *arch.Registers) fault.Disposition {
	return fault.Terminate
}

func check(w io.Writer, conf *config.Config) error {
	l, err := boot.New(boot.Args{
		Conf:   conf,
		Driver: trap.Options{Dispatcher: unhandled{}},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "arch:        %v\n", l.Driver().Arch())
	for _, sig := range l.Signals() {
		act, err := l.Registry().Action(sig)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%-12s handler %#x, flags %#x\n", sig.String()+":", act.Handler, act.Flags)
	}

	s, err := l.StartThread()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "alt stack:   %#x-%#x, guard at %v\n", s.Stack.Addr, s.Stack.Top(), s.Base)
	if !l.Registry().InStackGuard(s.Base) {
		l.StopThread()
		return fmt.Errorf("guard page at %v is not reported", s.Base)
	}
	if m := l.Masker(); m != nil {
		old, err := m.Unblock(l.Signals()[0])
		if err == nil {
			err = m.SetMask(old)
		}
		if err != nil {
			l.StopThread()
			return fmt.Errorf("changing the signal mask: %w", err)
		}
		fmt.Fprintf(w, "signal mask: ok\n")
	}
	if err := l.StopThread(); err != nil {
		return err
	}
	fmt.Fprintf(w, "handlers:    not installed\n")
	return nil
}
