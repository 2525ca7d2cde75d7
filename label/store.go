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

package label

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Store is the bump-allocated label-record arena (C1). Allocation
// atomically increments a monotonic counter and bounds-checks it against
// the arena's capacity; exhaustion is fatal by contract (the caller is
// expected to abort the process, see runtime.Fatal).
//
// Allocate reserves an index with an atomic fetch-add and then writes the
// record there before returning the id; the id becomes known to other
// callers only through that return value, so an id passed to Get has
// had its record written if Allocate has already returned it.
type Store struct {
	mu       sync.Mutex // serializes SetFlag's read-modify-write of Flags
	next     uint32     // atomically incremented; the next id to hand out is ConstOffset+next, see Allocate
	capacity uint32

	recs atomic.Pointer[[]Record]
}

// ErrExhausted is returned by Allocate when the store has reached its
// configured capacity. Per spec §7 this is a fatal condition; callers in
// this module treat it as such, but Store itself only reports it.
var ErrExhausted = fmt.Errorf("label store exhausted")

// NewStore creates a Store with room for capacity derived labels
// (ids ConstOffset .. ConstOffset+capacity-1).
func NewStore(capacity uint32) *Store {
	s := &Store{capacity: capacity}
	recs := make([]Record, capacity)
	s.recs.Store(&recs)
	return s
}

// Allocate appends rec to the arena and returns its newly minted id. The
// record is fully written before the id becomes visible to Get.
func (s *Store) Allocate(rec Record) (ID, error) {
	idx := atomic.AddUint32(&s.next, 1) - 1
	if idx >= s.capacity {
		return Untainted, ErrExhausted
	}
	recs := *s.recs.Load()
	recs[idx] = rec // single-writer per idx: idx came from a unique fetch-add
	return ConstOffset + ID(idx), nil
}

// Get returns the record for a derived id. Panics if id is not a derived,
// already-published id; callers (union, the serializer) are expected to
// dispatch on ID.IsDerived()/IsInputByte() first.
func (s *Store) Get(id ID) Record {
	if !id.IsDerived() {
		panic(fmt.Sprintf("label.Store.Get: %v is not a derived label", id))
	}
	idx := uint32(id - ConstOffset)
	recs := *s.recs.Load()
	if idx >= uint32(len(recs)) {
		panic(fmt.Sprintf("label.Store.Get: %v out of range", id))
	}
	return recs[idx]
}

// SetFlag ORs flag into the stored record's Flags. Safe to call
// concurrently with other SetFlag calls on the same id; lost updates
// between distinct flag bits cannot happen because Flag is a small
// bitfield protected by the Store's mutex (flag updates are rare compared
// to allocation, so a coarse lock is cheap here).
func (s *Store) SetFlag(id ID, flag Flag) {
	if !id.IsDerived() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := *s.recs.Load()
	idx := uint32(id - ConstOffset)
	recs[idx].Flags |= flag
}

// HasFlag reports whether flag is set on id's record.
func (s *Store) HasFlag(id ID, flag Flag) bool {
	if !id.IsDerived() {
		return false
	}
	recs := *s.recs.Load()
	idx := uint32(id - ConstOffset)
	return recs[idx].Flags&flag != 0
}

// RecordOrInput returns id's Record whether id is a derived label or one
// of the seeded input-byte labels, letting callers (symexpr) treat both
// uniformly when they only need L1/Op1/Size.
func (s *Store) RecordOrInput(id ID) Record {
	if id.IsInputByte() {
		return InputByteRecord(id.ByteOffset())
	}
	return s.Get(id)
}

// Len returns the number of derived labels allocated so far.
func (s *Store) Len() uint32 {
	n := atomic.LoadUint32(&s.next)
	if n > s.capacity {
		return s.capacity
	}
	return n
}

// TreeSize returns (and memoizes) the size of the sub-DAG rooted at id:
// id itself plus the sizes of its sub-labels (a sub-label used by both
// L1 and L2 counts once; a label shared deeper in the DAG counts once per
// path that reaches it).
// Lazily computed per spec §3 ("tree_size: memoized size of the sub-DAG
// (lazy)").
func (s *Store) TreeSize(id ID) uint64 {
	if !id.IsSymbolic() {
		return 0
	}
	if id.IsInputByte() {
		return 1
	}
	recs := *s.recs.Load()
	idx := uint32(id - ConstOffset)
	rec := &recs[idx]
	if rec.hasTreeSize {
		return rec.treeSize
	}
	size := uint64(1)
	if rec.L1.IsSymbolic() {
		size += s.TreeSize(rec.L1)
	}
	if rec.L2.IsSymbolic() && rec.L2 != rec.L1 {
		size += s.TreeSize(rec.L2)
	}
	rec.treeSize = size
	rec.hasTreeSize = true
	return size
}

// Reset clears the arena back to empty, supporting runtime.Reset's
// re-seeding of a new input without a process restart (see SPEC_FULL.md
// §4.13). It is not safe to call concurrently with any other Store method.
func (s *Store) Reset() {
	atomic.StoreUint32(&s.next, 0)
	recs := make([]Record, s.capacity)
	s.recs.Store(&recs)
}
