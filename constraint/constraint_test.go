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

package constraint

import (
	"testing"

	"github.com/taint-rt/dfsan/smt"
)

func val(tag string) smt.Value {
	return smt.Value{Handle: tag}
}

func offsets(off ...uint32) map[uint32]struct{} {
	m := make(map[uint32]struct{}, len(off))
	for _, o := range off {
		m[o] = struct{}{}
	}
	return m
}

func TestAssertAccumulatesOnSameOffset(t *testing.T) {
	a := New()
	a.Assert(offsets(0), val("e1"))
	tree := a.Assert(offsets(0), val("e2"))
	if len(tree.Exprs) != 2 {
		t.Fatalf("tree has %d exprs, want 2", len(tree.Exprs))
	}
}

func TestAssertDeduplicatesEqualExpr(t *testing.T) {
	a := New()
	e := val("same")
	a.Assert(offsets(0), e)
	tree := a.Assert(offsets(0), e)
	if len(tree.Exprs) != 1 {
		t.Fatalf("tree has %d exprs, want 1 (deduplicated)", len(tree.Exprs))
	}
}

func TestMergeUnionsDisjointTrees(t *testing.T) {
	a := New()
	a.Assert(offsets(0), val("e0"))
	a.Assert(offsets(1), val("e1"))

	merged := a.Merge(offsets(0, 1))
	if len(merged.Exprs) != 2 {
		t.Fatalf("merged tree has %d exprs, want 2", len(merged.Exprs))
	}
	if a.TreeFor(0) != a.TreeFor(1) {
		t.Fatal("offsets 0 and 1 should now share the same tree (path rewriting)")
	}
}

func TestTreeForUntouchedOffsetIsNil(t *testing.T) {
	a := New()
	if a.TreeFor(42) != nil {
		t.Fatal("TreeFor on an untouched offset should return nil")
	}
}

func TestSortedOffsets(t *testing.T) {
	got := SortedOffsets(offsets(5, 1, 3))
	want := []uint32{1, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("SortedOffsets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortedOffsets = %v, want %v", got, want)
		}
	}
}

func TestResetClearsTrees(t *testing.T) {
	a := New()
	a.Assert(offsets(0), val("e0"))
	a.Reset()
	if a.TreeFor(0) != nil {
		t.Fatal("TreeFor should return nil after Reset")
	}
}
