// Copyright 2020 The gVisor Authors.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file or at
// https://developers.google.com/open-source/licenses/bsd.

// Package sync provides the locks used by this module. Code should import it
// instead of the standard library sync package, so that lock annotations
// (+checklocks) are checked against a single set of types.
package sync

import (
	"sync"
)

// Aliases of standard library types.
type (
	// Locker is an alias of sync.Locker.
	Locker = sync.Locker

	// Mutex is an alias of sync.Mutex.
	Mutex = sync.Mutex
)
