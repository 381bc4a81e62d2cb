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

// Package config holds the trap layer configuration, read from a TOML file.
//
// A complete file looks like:
//
//	arch = "amd64"
//	fault_classes = ["SIGSEGV", "SIGBUS", "SIGILL", "SIGFPE", "SIGTRAP", "SIGINT"]
//	alt_stack_size = 65536
//	preserve_fp = false
//
//	[log]
//	level = "info"
//	format = "text"
//	file = "/tmp/trap-%PID%.log"
package config

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gvisor.dev/trapshim/pkg/abi/linux"
	"gvisor.dev/trapshim/pkg/log"
	"gvisor.dev/trapshim/pkg/trap/arch"
	"gvisor.dev/trapshim/pkg/trap/sighandling"
)

// MinAltStackSize is the smallest alternate stack accepted, MINSIGSTKSZ.
const MinAltStackSize = 2048

// Config is the trap layer configuration.
type Config struct {
	// Arch is the architecture of the emulated threads.
	Arch string `toml:"arch"`

	// FaultClasses are the signals to install handlers for, by name with
	// or without the "SIG" prefix.
	FaultClasses []string `toml:"fault_classes"`

	// AltStackSize is the size of each thread's alternate signal stack.
	AltStackSize uint64 `toml:"alt_stack_size"`

	// PreserveFP saves and restores FP state around every dispatch.
	PreserveFP bool `toml:"preserve_fp"`

	Log Log `toml:"log"`
}

// Log configures logging.
type Log struct {
	// Level is one of "warning", "info" or "debug".
	Level string `toml:"level"`

	// Format is one of "text", "json" or "json-k8s".
	Format string `toml:"format"`

	// File is a log file pattern, see log.PatternOpts. Empty means stderr.
	File string `toml:"file"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{
		Arch:         hostArch().String(),
		AltStackSize: sighandling.DefaultAltStackSize,
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
	for _, sig := range sighandling.FaultClasses {
		c.FaultClasses = append(c.FaultClasses, sig.String())
	}
	return c
}

func hostArch() arch.Arch {
	if runtime.GOARCH == "386" {
		return arch.I386
	}
	return arch.AMD64
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("decoding config file %q: %w", path, err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}
	return c, nil
}

// Parse is like Load for configuration text.
func Parse(data string) (*Config, error) {
	c := Default()
	md, err := toml.Decode(data, c)
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func checkUndecoded(md toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	keys := make([]string, 0, len(undecoded))
	for _, k := range undecoded {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
}

// Validate checks every field.
func (c *Config) Validate() error {
	if _, err := c.Architecture(); err != nil {
		return err
	}
	if _, err := c.Signals(); err != nil {
		return err
	}
	if c.AltStackSize < MinAltStackSize {
		return fmt.Errorf("alt_stack_size %d is below the minimum of %d", c.AltStackSize, MinAltStackSize)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json", "json-k8s":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'json-k8s'", c.Log.Format)
	}
	return nil
}

// Architecture returns the parsed Arch.
func (c *Config) Architecture() (arch.Arch, error) {
	return arch.ParseArch(c.Arch)
}

// Signals returns the parsed FaultClasses. Every one must be a fault class
// and appear once.
func (c *Config) Signals() ([]linux.Signal, error) {
	if len(c.FaultClasses) == 0 {
		return nil, fmt.Errorf("no fault classes configured")
	}
	var seen linux.SignalSet
	sigs := make([]linux.Signal, 0, len(c.FaultClasses))
	for _, name := range c.FaultClasses {
		sig, err := linux.ParseSignal(strings.ToUpper(name))
		if err != nil {
			return nil, err
		}
		if !sighandling.IsFaultClass(sig) {
			return nil, fmt.Errorf("fault class %v: %w", sig, sighandling.ErrUnsupportedClass)
		}
		if seen&linux.SignalSetOf(sig) != 0 {
			return nil, fmt.Errorf("fault class %v listed twice", sig)
		}
		seen |= linux.SignalSetOf(sig)
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// LogLevel returns the parsed Log.Level.
func (c *Config) LogLevel() (log.Level, error) {
	return log.ParseLevel(c.Log.Level)
}
