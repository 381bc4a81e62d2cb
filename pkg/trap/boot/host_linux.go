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

//go:build linux
// +build linux

package boot

import (
	"gvisor.dev/trapshim/pkg/trap/sighandling"
)

func setDefaults(args *Args) error {
	if args.Host == nil {
		args.Host = sighandling.UnixHost{}
	}
	if args.Masker == nil {
		args.Masker = sighandling.UnixMasker{}
	}
	if args.Gettid == nil {
		args.Gettid = sighandling.Gettid
	}
	return nil
}
