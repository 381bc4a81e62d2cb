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

// Package cmd holds implementations of the trapctl commands.
package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gvisor.dev/trapshim/pkg/abi/linux"
	"gvisor.dev/trapshim/pkg/log"
	"gvisor.dev/trapshim/pkg/trap/arch"
	"gvisor.dev/trapshim/pkg/trap/config"
)

// Fatalf logs to stderr and exits with a failure status code.
func Fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "trapctl: "+format+"\n", args...)
	log.Warningf(format, args...)
	os.Exit(128)
}

// confFromArgs returns the configuration Main passes to every command.
func confFromArgs(args []any) *config.Config {
	if len(args) > 0 {
		if conf, ok := args[0].(*config.Config); ok {
			return conf
		}
	}
	return config.Default()
}

// archOf returns the architecture named by flag, or the configured one.
func archOf(flag string, conf *config.Config) (arch.Arch, error) {
	if flag != "" {
		return arch.ParseArch(flag)
	}
	return conf.Architecture()
}

// parseUint parses a number in any base strconv accepts, so "0x0e" works.
func parseUint(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return v, nil
}

// parseInt is like parseUint for signed values.
func parseInt(s string, bits int) (int64, error) {
	v, err := strconv.ParseInt(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return v, nil
}

// parseSignal parses a signal by name, with or without "SIG", or by number.
func parseSignal(s string) (linux.Signal, error) {
	if n, err := strconv.Atoi(s); err == nil {
		sig := linux.Signal(n)
		if !sig.IsValid() {
			return 0, fmt.Errorf("invalid signal %d", n)
		}
		return sig, nil
	}
	return linux.ParseSignal(strings.ToUpper(s))
}

// newRawTrap returns a trap delivering sig with the given si_code and si_addr
// over ctx.
func newRawTrap(sig linux.Signal, code int32, addr uint64, ctx []byte) *arch.RawTrap {
	raw := &arch.RawTrap{Signo: sig, Context: ctx}
	raw.Info.Signo = int32(sig)
	raw.Info.Code = code
	raw.Info.SetAddr(addr)
	return raw
}
