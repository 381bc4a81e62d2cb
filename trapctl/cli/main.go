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

// Package cli is the main entrypoint for trapctl.
package cli

import (
	"context"
	"flag"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/trapshim/pkg/log"
	"gvisor.dev/trapshim/pkg/trap/config"
	"gvisor.dev/trapshim/trapctl/cmd"
)

var (
	configPath = flag.String("config", "", "path to a TOML configuration file.")
	debug      = flag.Bool("debug", false, "enable debug logging.")
	debugLog   = flag.String("debug-log", "", "additional location for logs. %PID% and %TIMESTAMP% are expanded.")
	logFormat  = flag.String("log-format", "", "log format: text (default), json, or json-k8s.")
)

// Main is the main entrypoint.
func Main() {
	forEachCmd(subcommands.Register)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	conf := config.Default()
	if *configPath != "" {
		var err error
		conf, err = config.Load(*configPath)
		if err != nil {
			cmd.Fatalf("%v", err)
		}
	}

	// Flags override the configuration file.
	if *debug {
		conf.Log.Level = "debug"
	}
	if *logFormat != "" {
		conf.Log.Format = *logFormat
	}
	if *debugLog != "" {
		conf.Log.File = *debugLog
	}
	if err := conf.Validate(); err != nil {
		cmd.Fatalf("%v", err)
	}

	if err := setupLogging(conf); err != nil {
		cmd.Fatalf("%v", err)
	}
	log.Debugf("trapctl %s %s/%s, PID %d, args: %v", runtime.Version(), runtime.GOOS, runtime.GOARCH, os.Getpid(), os.Args)
	log.Debugf("Config: %+v", *conf)

	os.Exit(int(subcommands.Execute(context.Background(), conf)))
}

// forEachCmd invokes the passed callback for each command supported by
// trapctl.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(subcommands.CommandsCommand(), "")

	cb(new(cmd.Check), "")
	cb(new(cmd.Classify), "")
	cb(new(cmd.Decode), "")
	cb(new(cmd.FPKind), "")
	cb(new(cmd.Replay), "")
}

func setupLogging(conf *config.Config) error {
	level, err := conf.LogLevel()
	if err != nil {
		return err
	}
	log.SetLevel(level)

	emitters := log.MultiEmitter{}
	e, err := newEmitter(conf.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	emitters = append(emitters, e)

	f, err := log.OpenFile(conf.Log.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, log.PatternOpts{
		PID:       os.Getpid(),
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	if f != nil {
		e, err := newEmitter(conf.Log.Format, f)
		if err != nil {
			return err
		}
		emitters = append(emitters, e)
	}

	if len(emitters) == 1 {
		log.SetTarget(emitters[0])
	} else {
		log.SetTarget(&emitters)
	}
	return nil
}

func newEmitter(format string, w io.Writer) (log.Emitter, error) {
	return log.NewEmitter(format, &log.Writer{Next: w})
}
