// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package explore

import (
	"testing"

	"github.com/taint-rt/dfsan/kvstore/local"
)

func TestAllowCapsPerSiteOccurrences(t *testing.T) {
	f := New(nil, "prog")
	allowedCount := 0
	for i := 0; i < MaxBranchCount+5; i++ {
		ok, err := f.Allow(1, 100)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			allowedCount++
		}
	}
	if allowedCount != MaxBranchCount {
		t.Fatalf("allowed %d calls, want exactly %d (MaxBranchCount)", allowedCount, MaxBranchCount)
	}
}

func TestAllowTracksSitesIndependently(t *testing.T) {
	f := New(nil, "prog")
	for i := 0; i < MaxBranchCount; i++ {
		if ok, _ := f.Allow(1, 100); !ok {
			t.Fatalf("site (1,100) call %d should still be allowed", i)
		}
	}
	ok, err := f.Allow(1, 200)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("a distinct call site should not be affected by another site's cap")
	}
}

func TestAllowDedupsAcrossRunsViaStore(t *testing.T) {
	store := local.New()
	f1 := New(store, "prog")
	ok, err := f1.Allow(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("first run should be allowed")
	}

	// A fresh Filter backed by the same store simulates the start of a
	// new run; the identical (call site, callstack, order) context hash
	// must already be marked explored.
	f2 := New(store, "prog")
	ok, err = f2.Allow(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("second run against the same store should be rejected as already explored")
	}
}

func TestResetClearsPerSiteCountsNotStore(t *testing.T) {
	store := local.New()
	f := New(store, "prog")
	for i := 0; i < MaxBranchCount; i++ {
		f.Allow(1, 1)
	}
	f.Reset()
	ok, err := f.Allow(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("Reset clears the per-run counter but the cross-run store should still reject a repeat")
	}
}
