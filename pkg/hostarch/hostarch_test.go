// Copyright 2018 The gVisor Authors.
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

package hostarch

import "testing"

func TestAccessTypeString(t *testing.T) {
	for _, tc := range []struct {
		at   AccessType
		want string
	}{
		{NoAccess, "---"},
		{Read, "r--"},
		{ReadWrite, "rw-"},
		{Execute, "--x"},
	} {
		if got := tc.at.String(); got != tc.want {
			t.Errorf("%+v.String() got %q, want %q", tc.at, got, tc.want)
		}
	}
}

func TestRounding(t *testing.T) {
	ps := Addr(PageSize)
	if got := (ps + 1).RoundDown(); got != ps {
		t.Errorf("RoundDown got %v, want %v", got, ps)
	}
	if got, ok := (ps + 1).RoundUp(); !ok || got != 2*ps {
		t.Errorf("RoundUp got (%v, %t), want (%v, true)", got, ok, 2*ps)
	}
	if _, ok := (^Addr(0)).RoundUp(); ok {
		t.Errorf("RoundUp of the top address should wrap")
	}
	if got := PageRoundUp(1); got != PageSize {
		t.Errorf("PageRoundUp(1) got %d, want %d", got, PageSize)
	}
}
