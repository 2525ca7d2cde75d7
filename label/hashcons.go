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
	"encoding/binary"
	"sync"

	"github.com/dchest/siphash"
	"golang.org/x/sys/cpu"
)

// Key is the structural hash-cons key for a candidate record: two records
// with an identical Key resolve to the same label (spec invariant 2).
type Key struct {
	L1, L2   ID
	Op       Op
	Size     uint32
	Op1, Op2 uint64
}

func keyOf(rec Record) Key {
	return Key{L1: rec.L1, L2: rec.L2, Op: rec.Op, Size: rec.Size, Op1: rec.Op1, Op2: rec.Op2}
}

// siphash keys for the structural hash used by the hash-cons table. Fixed
// (not secret-random) so that repeated runs of the same traced program
// hash-cons identically, which keeps label ids reproducible across runs
// for diffing corpora.
const (
	hashK0 = 0x9ae16a3b2f90404f
	hashK1 = 0xc3a5c85c97cb3127
)

// hash computes the structural hash-cons key for rec, the way
// vm/interphash.go hashes vmrefs: via siphash.Hash128 over the record's
// byte encoding. Using a 128-bit siphash and folding to 64 bits gives a
// larger collision-resistance margin than a plain 64-bit hash would, at
// negligible extra cost, since this is on the allocation hot path.
func hash(k Key) uint64 {
	var buf [36]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(k.L1))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(k.L2))
	binary.LittleEndian.PutUint16(buf[8:10], uint16(k.Op))
	binary.LittleEndian.PutUint32(buf[10:14], k.Size)
	binary.LittleEndian.PutUint64(buf[14:22], k.Op1)
	binary.LittleEndian.PutUint64(buf[22:30], k.Op2)
	lo, hi := siphash.Hash128(hashK0, hashK1, buf[:30])
	return lo ^ hi
}

type slot struct {
	valid bool
	key   Key
	id    ID
}

// HashCons is the open-addressed, fixed-capacity deduplicating table
// (C2). Lookup takes the table's RWMutex for reading and Insert for
// writing, matching spec §5's "coarse mutex is acceptable" guidance for
// the hash-cons table: a slot is a multi-word struct, so an unsynchronized
// read racing an Insert could observe a torn value (a valid flag paired
// with a key/id from two different completed inserts), aliasing two
// distinct records to the same label or splitting one record across two
// ids. kvstore/local's shard uses the same RWMutex-for-Get/Set shape.
//
// cpu.X86.HasAVX2 is consulted only to set probeRun (8 with AVX2, else
// 4); Lookup and Insert do not read probeRun and probe one slot at a
// time, so the value has no effect on behavior, mirroring how
// vm/interp.go branches on cpu.X86 without any hand-written SIMD in this
// package.
type HashCons struct {
	mu       sync.RWMutex
	slots    []slot
	probeRun int
}

// NewHashCons creates a table sized for roughly capacity distinct
// records. capacity is rounded up internally to reduce clustering.
func NewHashCons(capacity int) *HashCons {
	size := nextPow2(capacity * 2)
	probeRun := 4
	if cpu.X86.HasAVX2 {
		probeRun = 8
	}
	return &HashCons{slots: make([]slot, size), probeRun: probeRun}
}

func nextPow2(n int) int {
	p := 16
	for p < n {
		p <<= 1
	}
	return p
}

// Lookup probes for rec and returns the id of an equal, already-inserted
// record.
func (h *HashCons) Lookup(rec Record) (ID, bool) {
	k := keyOf(rec)
	h.mu.RLock()
	defer h.mu.RUnlock()
	mask := uint64(len(h.slots) - 1)
	start := hash(k) & mask
	for i := uint64(0); i < mask+1; i++ {
		idx := (start + i) & mask
		s := h.slots[idx]
		if !s.valid {
			return Untainted, false
		}
		if s.key == k {
			return s.id, true
		}
	}
	return Untainted, false
}

// Insert records that id denotes rec, so future equal Lookup calls
// return id. Collisions (two goroutines racing to insert records that
// hash to the same bucket) are serialized so no two distinct records end
// up aliased and no one record is inserted twice under different ids.
func (h *HashCons) Insert(id ID, rec Record) {
	k := keyOf(rec)
	h.mu.Lock()
	defer h.mu.Unlock()
	mask := uint64(len(h.slots) - 1)
	start := hash(k) & mask
	for i := uint64(0); i < mask+1; i++ {
		idx := (start + i) & mask
		s := &h.slots[idx]
		if !s.valid {
			*s = slot{valid: true, key: k, id: id}
			return
		}
		if s.key == k {
			return // another goroutine already installed an equal record
		}
	}
	// table is full: caller's Store allocation still succeeds, it's just
	// not deduplicated going forward. This degrades to "no hash-consing"
	// rather than losing correctness.
}

// Reset empties the table, used alongside Store.Reset when re-seeding a
// new input (SPEC_FULL.md §4.13).
func (h *HashCons) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.slots {
		h.slots[i] = slot{}
	}
}
