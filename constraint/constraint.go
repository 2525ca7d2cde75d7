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

// Package constraint implements the path-constraint accumulator (C6): a
// union-find-style grouping of input-byte offsets with eager path
// rewriting, so that the tree reachable from any offset always holds
// every past constraint transitively touching that offset.
package constraint

import (
	"sync"

	"github.com/taint-rt/dfsan/smt"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Tree is one dependency group: a set of asserted SMT expressions that
// constrain any symbolic variable reachable from the offsets in
// Offsets.
type Tree struct {
	Exprs   []smt.Value
	Offsets map[uint32]struct{}

	seen map[smt.Value]struct{}
}

func newTree() *Tree {
	return &Tree{Offsets: map[uint32]struct{}{}, seen: map[smt.Value]struct{}{}}
}

func (t *Tree) addExpr(e smt.Value) {
	if _, ok := t.seen[e]; ok {
		return
	}
	t.seen[e] = struct{}{}
	t.Exprs = append(t.Exprs, e)
}

func (t *Tree) absorb(other *Tree) {
	for _, e := range other.Exprs {
		t.addExpr(e)
	}
	for off := range other.Offsets {
		t.Offsets[off] = struct{}{}
	}
}

// Accumulator maps every input-byte offset that has ever been touched by
// a branch constraint to the Tree it currently belongs to.
type Accumulator struct {
	mu       sync.Mutex
	byOffset map[uint32]*Tree
}

// New creates an empty accumulator.
func New() *Accumulator {
	return &Accumulator{byOffset: map[uint32]*Tree{}}
}

// Merge unions the trees (if any) already associated with every offset
// in offsets into a single Tree, adds offsets to it, and rewrites
// byOffset for every member offset to point at the merged tree -
// "union-find-style, with eager path rewriting" (spec §4.6). It never
// returns nil even when offsets is empty.
func (a *Accumulator) Merge(offsets map[uint32]struct{}) *Tree {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mergeLocked(offsets)
}

func (a *Accumulator) mergeLocked(offsets map[uint32]struct{}) *Tree {
	merged := newTree()
	seenTrees := map[*Tree]struct{}{}
	for off := range offsets {
		if t, ok := a.byOffset[off]; ok {
			if _, already := seenTrees[t]; !already {
				seenTrees[t] = struct{}{}
				merged.absorb(t)
			}
		}
		merged.Offsets[off] = struct{}{}
	}
	for off := range merged.Offsets {
		a.byOffset[off] = merged
	}
	return merged
}

// Assert merges the trees for offsets, inserts expr into the result
// (deduplicated against everything already accumulated there), and
// returns the merged Tree.
func (a *Accumulator) Assert(offsets map[uint32]struct{}, expr smt.Value) *Tree {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.mergeLocked(offsets)
	t.addExpr(expr)
	return t
}

// TreeFor returns the Tree currently associated with offset, or nil if
// offset has never been touched.
func (a *Accumulator) TreeFor(offset uint32) *Tree {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.byOffset[offset]
}

// SortedOffsets returns offsets's members in ascending order, a small
// convenience for deterministic logging/dumping built on
// golang.org/x/exp/maps and golang.org/x/exp/slices, the same
// generics pair expr/ and rules/ reach for over sorted map keys.
func SortedOffsets(offsets map[uint32]struct{}) []uint32 {
	out := maps.Keys(offsets)
	slices.Sort(out)
	return out
}

// Reset drops all accumulated trees, supporting runtime.Reset's
// re-seeding of a new input without a process restart.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byOffset = map[uint32]*Tree{}
}
