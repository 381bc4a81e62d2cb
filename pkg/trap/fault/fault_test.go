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

package fault

import (
	"testing"

	"gvisor.dev/trapshim/pkg/hostarch"
)

func TestKindTable(t *testing.T) {
	seen := make(map[Code]Kind)
	for k := Kind(0); k < NumKinds; k++ {
		if kinds[k].name == "" {
			t.Errorf("Kind %d has no name", k)
		}
		if prev, ok := seen[k.Code()]; ok {
			t.Errorf("Kinds %v and %v share code %v", prev, k, k.Code())
		}
		seen[k.Code()] = k
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) got (%v, %v), want %v", k.String(), got, err, k)
		}
	}
}

func TestKindCodes(t *testing.T) {
	for _, tc := range []struct {
		kind Kind
		want Code
	}{
		{AccessViolation, 0xC0000005},
		{IntDivideByZero, 0xC0000094},
		{FloatStackCheck, 0xC0000092},
		{Breakpoint, 0x80000003},
		{ExternalInterrupt, 0xC000013A},
		{NumKinds + 3, CodeUnknown},
	} {
		if got := tc.kind.Code(); got != tc.want {
			t.Errorf("%v.Code() got %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestKindPredicates(t *testing.T) {
	for k := Kind(0); k < NumKinds; k++ {
		wantFloat := false
		switch k {
		case FloatInvalid, FloatDenormal, FloatDivideByZero, FloatOverflow, FloatUnderflow, FloatInexact, FloatStackCheck:
			wantFloat = true
		}
		if got := k.IsFloat(); got != wantFloat {
			t.Errorf("%v.IsFloat() got %t, want %t", k, got, wantFloat)
		}
		if got, want := k.Fatal(), k == MachineCheck; got != want {
			t.Errorf("%v.Fatal() got %t, want %t", k, got, want)
		}
	}
}

func TestRecordParams(t *testing.T) {
	r := Record{Kind: AccessViolation}
	r.AddParam(AccessParam(hostarch.Write))
	r.AddParam(0x1000)
	if got := r.ParamList(); len(got) != 2 || got[0] != AccessWrite || got[1] != 0x1000 {
		t.Errorf("ParamList got %#x, want [1 0x1000]", got)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("AddParam past capacity did not panic")
		}
	}()
	for i := 0; i < MaxParams; i++ {
		r.AddParam(0)
	}
}

func TestAccessParam(t *testing.T) {
	for _, tc := range []struct {
		at   hostarch.AccessType
		want uint64
	}{
		{hostarch.Read, AccessRead},
		{hostarch.ReadWrite, AccessWrite},
		{hostarch.AccessType{Read: true, Execute: true}, AccessExecute},
	} {
		if got := AccessParam(tc.at); got != tc.want {
			t.Errorf("AccessParam(%v) got %d, want %d", tc.at, got, tc.want)
		}
	}
}

func TestFlagsString(t *testing.T) {
	if got, want := (Noncontinuable | AddressUnavailable).String(), "noncontinuable|address-unavailable"; got != want {
		t.Errorf("String got %q, want %q", got, want)
	}
	if got := Flags(0).String(); got != "none" {
		t.Errorf("String got %q, want none", got)
	}
}
