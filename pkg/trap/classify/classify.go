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

// Package classify maps raw trap identifiers to portable fault kinds.
//
// Classification is a pure table lookup. It does no I/O and does not
// allocate, so it is safe to call from a trap handler.
package classify

import (
	"sort"

	"gvisor.dev/trapshim/pkg/trap/arch"
	"gvisor.dev/trapshim/pkg/trap/fault"
)

// Result is the outcome of classifying a trap.
type Result struct {
	Kind fault.Kind

	// Float requests refinement of Kind from the floating point status.
	Float bool

	// Emulate marks traps that instruction emulation may resolve.
	Emulate bool

	// Mapped is false when no table entry matched. Kind is then Unknown.
	Mapped bool
}

// Entry is a row of a classification table.
type Entry struct {
	ID  arch.TrapID
	Sub arch.SubCode

	// AnySub matches every sub-code of ID that has no entry of its own.
	AnySub bool

	Result Result
}

type key struct {
	id  arch.TrapID
	sub arch.SubCode
}

// Table classifies the traps of one architecture.
type Table struct {
	Arch    arch.Arch
	exact   map[key]Result
	anySub  map[arch.TrapID]Result
	entries []Entry
}

// NewTable builds a table from entries. It panics if two entries match the
// same trap, since that is a programming error in a static table.
func NewTable(a arch.Arch, entries []Entry) *Table {
	t := &Table{
		Arch:   a,
		exact:  make(map[key]Result),
		anySub: make(map[arch.TrapID]Result),
	}
	for _, e := range entries {
		e.Result.Mapped = true
		if e.AnySub {
			if _, ok := t.anySub[e.ID]; ok {
				panic("duplicate wildcard classification entry")
			}
			t.anySub[e.ID] = e.Result
		} else {
			k := key{e.ID, e.Sub}
			if _, ok := t.exact[k]; ok {
				panic("duplicate classification entry")
			}
			t.exact[k] = e.Result
		}
		t.entries = append(t.entries, e)
	}
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].ID < t.entries[j].ID
	})
	return t
}

// Classify returns the fault kind of the trap (id, sub). An exact entry wins
// over a wildcard one; a trap with neither is Unknown and not Mapped.
func (t *Table) Classify(id arch.TrapID, sub arch.SubCode) Result {
	if r, ok := t.exact[key{id, sub}]; ok {
		return r
	}
	if r, ok := t.anySub[id]; ok {
		return r
	}
	return Result{Kind: fault.Unknown}
}

// Entries returns the rows of the table ordered by trap id.
func (t *Table) Entries() []Entry {
	return t.entries
}

var tables = map[arch.Arch]*Table{}

// For returns the table of a. Architectures without a table classify every
// trap as Unknown.
func For(a arch.Arch) *Table {
	if t, ok := tables[a]; ok {
		return t
	}
	return NewTable(a, nil)
}
