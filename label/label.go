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

// Package label implements the symbolic-label DAG: a bump-allocated,
// hash-consed arena of label records, plus the reserved input-byte and
// constant label ranges that give every traced value its identity.
package label

import "fmt"

// ID identifies a node in the symbolic expression DAG. The zero ID is
// reserved for "not tainted" (a pure constant). IDs below ConstOffset are
// input-byte labels seeded once at startup; IDs at or above ConstOffset
// are derived labels allocated monotonically by a Store.
type ID uint32

// Untainted is the reserved constant label: it denotes "this value carries
// no symbolic information."
const Untainted ID = 0

// ConstOffset is the first id available to derived (non-input-byte)
// labels. IDs in [1, ConstOffset) are input-byte labels, one per byte of
// the tainted input, assigned at Lifecycle init time.
//
// 1<<24 bytes (16 MiB) of addressable input is generous for a fuzzing
// target and leaves 1<<32-1<<24 ids for the derived DAG.
const ConstOffset ID = 1 << 24

// Initializing is a sentinel marking a shadow cell or label slot that has
// been reserved but not yet published. It must never be returned from a
// well-formed propagation operation; seeing it escape indicates a missing
// release/acquire fence between the allocating writer and a reader.
const Initializing ID = ^ID(0)

// Flag bits stored in Record.Flags.
type Flag uint8

const (
	// FlippedFlag marks a label whose branch has already been attempted
	// at least once. It must never be re-solved (spec invariant 6).
	FlippedFlag Flag = 1 << iota
)

// Record is the immutable (except for Flags and the TreeSize
// memoization) payload of a single label. For every allocated id there is
// exactly one Record, written once before the id is published.
type Record struct {
	L1, L2   ID     // sub-labels, 0 if unused
	Op1, Op2 uint64 // concrete fallback operands; 0 when the matching L* is symbolic
	Op       Op     // operator tag (low byte) plus ICmp predicate (high byte)
	Size     uint32 // result width in bits
	Flags    Flag

	// memoized, lazily populated by the tree-size walk; never part of
	// the hash-cons key.
	treeSize uint64
	hasTreeSize bool
}

// IsInputByte reports whether id names one of the input-byte labels
// seeded at init, i.e. 1 <= id < ConstOffset.
func (id ID) IsInputByte() bool {
	return id != Untainted && id < ConstOffset
}

// IsDerived reports whether id is an id allocated by a Store (id >=
// ConstOffset).
func (id ID) IsDerived() bool {
	return id >= ConstOffset
}

// IsSymbolic reports whether id carries any taint at all.
func (id ID) IsSymbolic() bool {
	return id != Untainted
}

func (id ID) String() string {
	switch {
	case id == Untainted:
		return "const"
	case id == Initializing:
		return "<initializing>"
	case id.IsInputByte():
		return fmt.Sprintf("in%d", uint32(id))
	default:
		return fmt.Sprintf("L%d", uint32(id))
	}
}

// InputByteRecord returns the canonical record for the input-byte label
// that represents file offset off, satisfying spec invariant 3: Op=Input,
// Op1=off, Size=8.
func InputByteRecord(off uint32) Record {
	return Record{Op: OpInput, Op1: uint64(off), Size: 8}
}

// ByteLabel returns the id of the input-byte label standing for file
// offset off. Input-byte labels are seeded 1:1 with file offsets at
// Lifecycle init, starting at id 1 (id 0 stays reserved for Untainted).
func ByteLabel(off uint32) ID { return ID(off) + 1 }

// ByteOffset recovers the file offset an input-byte label stands for.
// Only valid when id.IsInputByte().
func (id ID) ByteOffset() uint32 { return uint32(id) - 1 }
