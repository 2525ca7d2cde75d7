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

// Package shadow implements the byte-for-byte shadow memory map (C3): a
// bijection between application bytes and label cells, addressed by a
// pure function of the application address, fixed-offset within a
// reserved arena.
//
// A real dfsan-style runtime reserves a fixed virtual-address range and
// aliases the traced program's own address space directly (shadow(a) is
// computed from the bit pattern of a pointer). Go cannot reserve
// MAP_FIXED ranges ahead of where the allocator or the traced foreign
// buffer happen to live, so this package models the same contract -
// shadow(a) is still a pure function of a, the mapping is still a
// bijection over the covered range - relative to an arena the caller
// reserves up front with Reserve, addressed by offset from that arena's
// base rather than by raw process virtual address. See DESIGN.md.
package shadow

import (
	"fmt"
	"sync/atomic"

	"github.com/taint-rt/dfsan/label"
)

// cellSize is sizeof(label.ID): shadow(a) shifts by log2(cellSize) bits,
// matching spec §3's "constant bit-mask + 2-bit shift".
const cellSize = 4

// Map is a reserved shadow region covering exactly one contiguous
// application byte range [Base, Base+Size).
type Map struct {
	base uintptr
	size uintptr
	cells []uint32 // atomic-accessed label.ID cells
}

// Reserve allocates a shadow region for an application byte range of the
// given size, starting at application-address base (typically
// uintptr(unsafe.Pointer(&buf[0])) of the buffer the instrumentation is
// about to trace). The returned Map's Shadow/App functions are only
// valid for addresses within [base, base+size).
func Reserve(base uintptr, size uintptr) *Map {
	return &Map{base: base, size: size, cells: make([]uint32, size)}
}

// InRange reports whether application address a falls within this
// region.
func (m *Map) InRange(a uintptr) bool {
	return a >= m.base && a < m.base+m.size
}

// Base returns the application address this region was reserved
// against, letting a caller that only has an offset into the traced
// buffer (rather than a raw pointer into it) recover the address
// UnionLoad/UnionStore expect.
func (m *Map) Base() uintptr { return m.base }

// Shadow computes the shadow-cell index for application address a: a
// pure function of a, a constant offset (a-base) scaled by cellSize, per
// spec §3/§4.3.
func (m *Map) Shadow(a uintptr) uintptr {
	if !m.InRange(a) {
		panic(fmt.Sprintf("shadow: address %#x out of range [%#x,%#x)", a, m.base, m.base+m.size))
	}
	return (a - m.base) * cellSize
}

// App recovers the application address for a shadow offset produced by
// Shadow, the inverse half of the bijection.
func (m *Map) App(shadowOff uintptr) uintptr {
	return m.base + shadowOff/cellSize
}

// Load reads the label for application address a. Returns label.Untainted
// if the byte was never stored (spec §3: "0 means untainted").
func (m *Map) Load(a uintptr) label.ID {
	idx := a - m.base
	return label.ID(atomic.LoadUint32(&m.cells[idx]))
}

// Store writes id as the label for application address a. Writing an
// unchanged value is skipped: re-dirtying a copy-on-write shadow page for
// a value that's already correct is pure waste (spec §4.3's "avoid
// writing equal labels" optimization).
func (m *Map) Store(a uintptr, id label.ID) {
	idx := a - m.base
	if label.ID(atomic.LoadUint32(&m.cells[idx])) == id {
		return
	}
	atomic.StoreUint32(&m.cells[idx], uint32(id))
}

// LoadN reads n consecutive shadow cells starting at application address
// a, used by union_load.
func (m *Map) LoadN(a uintptr, n int) []label.ID {
	out := make([]label.ID, n)
	for i := 0; i < n; i++ {
		out[i] = m.Load(a + uintptr(i))
	}
	return out
}

// StoreN writes n consecutive shadow cells starting at application
// address a, used by union_store.
func (m *Map) StoreN(a uintptr, labels []label.ID) {
	for i, id := range labels {
		m.Store(a+uintptr(i), id)
	}
}

// SetRange bulk-marks [a, a+n) with a single label, used by the
// instrumentation ABI's set_label.
func (m *Map) SetRange(a uintptr, n int, id label.ID) {
	for i := 0; i < n; i++ {
		m.Store(a+uintptr(i), id)
	}
}
