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

// Package taint implements the propagation protocol (C4): union,
// union_load and union_store, plus the set_label bulk-mark entry point.
// These three operations are the ABI surface instrumentation calls on
// every arithmetic op, load and store of a traced value.
package taint

import (
	"github.com/taint-rt/dfsan/label"
	"github.com/taint-rt/dfsan/shadow"
)

// Context bundles the per-process collaborators the propagation protocol
// needs: the label arena, its hash-cons table, and the shadow region for
// the buffer currently being traced. A real dfsan runtime reaches these
// through hidden globals and thread-local storage; Go has neither a
// stable cross-goroutine TLS slot nor a portable way to splice these
// pointers into generated code, so instrumentation (or, here, tests and
// package runtime) is expected to carry its own *Context explicitly
// instead - see DESIGN.md.
type Context struct {
	Store    *label.Store
	HashCons *label.HashCons
	Shadow   *shadow.Map

	// Concrete, when set, lets UnionLoad/UnionStore recover the concrete
	// byte backing an untainted shadow cell, needed by the
	// shape-preserving and slowpath Concat folds. Left nil, concrete
	// bytes read as 0.
	Concrete Concrete
}

// Concrete is the byte-level counterpart of symexpr.ConcreteReader: a
// source of concrete application bytes addressed by raw uintptr, used
// only to fold the concrete half of a partially-tainted load/store.
type Concrete interface {
	ByteAt(addr uintptr) byte
}

// New creates a Context wired to the given collaborators.
func New(store *label.Store, hc *label.HashCons, sh *shadow.Map) *Context {
	return &Context{Store: store, HashCons: hc, Shadow: sh}
}

// Union is the propagation protocol's sole label-construction primitive
// (spec §4.4). It canonicalizes commutative operands, folds the
// pure-constant and initializing-sentinel short circuits, then
// deduplicates through the hash-cons table before falling through to a
// fresh allocation.
func (c *Context) Union(l1, l2 label.ID, op label.Op, size uint32, op1, op2 uint64) (label.ID, error) {
	if op.Commutative() && l1 > l2 {
		l1, l2 = l2, l1
		op1, op2 = op2, op1
	}
	if l1 == label.Untainted && l2 < label.ConstOffset && op.Base() != label.OpFSize {
		return label.Untainted, nil
	}
	if l1 == label.Initializing || l2 == label.Initializing {
		return label.Initializing, nil
	}

	// Concrete fallback operands are meaningless once the matching
	// sub-label is itself symbolic (derived); zero them so they never
	// leak stale values into the hash-cons key or the serializer.
	if l1.IsDerived() {
		op1 = 0
	}
	if l2.IsDerived() {
		op2 = 0
	}

	rec := label.Record{L1: l1, L2: l2, Op: op, Size: size, Op1: op1, Op2: op2}

	if id, ok := c.HashCons.Lookup(rec); ok {
		return id, nil
	}

	id, err := c.Store.Allocate(rec)
	if err != nil {
		return label.Untainted, err
	}
	c.HashCons.Insert(id, rec)
	return id, nil
}

// recordOf returns the Record backing id, treating input-byte labels
// uniformly with derived ones (see label.Store.RecordOrInput).
func (c *Context) recordOf(id label.ID) label.Record {
	return c.Store.RecordOrInput(id)
}

// UnionLoad combines n contiguous shadow cells starting at application
// address a into a single label standing for the width-n*8 load (spec
// §4.4). It tries, in order, the all-constant, shape-preserving and
// common-extract fast paths before falling back to a Concat/Trunc walk.
func (c *Context) UnionLoad(a uintptr, n int) (label.ID, error) {
	ls := c.Shadow.LoadN(a, n)
	label0 := ls[0]
	if label0 == label.Initializing {
		return label.Initializing, nil
	}

	// fast path 1: all constant
	if label0 == label.Untainted {
		allConst := true
		for i := 1; i < n; i++ {
			if ls[i] != label.Untainted {
				allConst = false
				break
			}
		}
		if allConst {
			return label.Untainted, nil
		}
	}

	// fast path 2: shape-preserving consecutive input bytes, with
	// trailing constant bytes folded via Concat.
	if label0.IsInputByte() {
		shape := true
		shapeExt := 0
		offset := label0.ByteOffset()
		for i := 1; i < n; i++ {
			next := ls[i]
			if next == label.Initializing {
				return label.Initializing, nil
			}
			if next == label.Untainted {
				shapeExt++
				continue
			}
			if !next.IsInputByte() || next.ByteOffset() != offset+uint32(i) {
				shape = false
				break
			}
		}
		if shape {
			if n == 1 {
				return label0, nil
			}
			loadSize := n - shapeExt
			ret := label0
			var err error
			if loadSize > 1 {
				ret, err = c.Union(label0, label.ID(loadSize), label.OpLoad, uint32(loadSize)*8, 0, 0)
				if err != nil {
					return label.Untainted, err
				}
			}
			for i := 0; i < shapeExt; i++ {
				concreteByte := c.concreteByte(a, loadSize+i)
				ret, err = c.Union(ret, label.Untainted, label.OpConcat, uint32(loadSize+i+1)*8, 0, uint64(concreteByte))
				if err != nil {
					return label.Untainted, err
				}
			}
			return ret, nil
		}
	}

	// fast path 3: every cell is Extract(parent, consecutive-offset) and
	// together they cover parent's full width. label0 must be checked
	// against Untainted first - recordOf panics on a non-derived id other
	// than an input byte, and Untainted is neither.
	if label0 != label.Untainted {
		if rec0 := c.recordOf(label0); rec0.Op.Base() == label.OpExtract {
			parent := rec0.L1
			offset := uint32(0)
			covers := true
			for i := 0; i < n; i++ {
				id := ls[i]
				if !id.IsDerived() {
					covers = false
					break
				}
				info := c.Store.Get(id)
				if info.Op.Base() != label.OpExtract || uint32(info.Op2) != offset || info.L1 != parent {
					covers = false
					break
				}
				offset += info.Size
			}
			if covers && c.recordOf(parent).Size == offset {
				return parent, nil
			}
		}
	}

	// slowpath: walk the cells, consuming whole sub-labels that fit in
	// the remainder, truncating any that overflow it, and absorbing
	// constant cells via Concat with their concrete byte value.
	lbl := label0
	i := int(c.sizeOf(label0) / 8)
	for i < n {
		next := ls[i]
		if next != label.Untainted {
			nextSize := c.sizeOf(next)
			remaining := uint32(n - i)
			var err error
			if nextSize <= remaining*8 {
				i += int(nextSize / 8)
				lbl, err = c.Union(lbl, next, label.OpConcat, uint32(i)*8, 0, 0)
			} else {
				size := remaining
				var trunc label.ID
				trunc, err = c.Union(next, label.Untainted, label.OpTrunc, size*8, 0, 0)
				if err != nil {
					return label.Untainted, err
				}
				return c.Union(lbl, trunc, label.OpConcat, uint32(n)*8, 0, 0)
			}
			if err != nil {
				return label.Untainted, err
			}
		} else {
			concreteByte := c.concreteByte(a, i)
			i++
			var err error
			lbl, err = c.Union(lbl, label.Untainted, label.OpConcat, uint32(i)*8, 0, uint64(concreteByte))
			if err != nil {
				return label.Untainted, err
			}
		}
	}
	return lbl, nil
}

// concreteByte reads the traced buffer's own byte at application offset
// i from a. The shadow region only stores labels, not data; a real
// instrumentation pass reads this straight out of app memory. Here it is
// read through c.Concrete.ByteAt (the stand-in for the C runtime's
// app_for(&ls[i]) dereference), and is 0 when c.Concrete is nil.
func (c *Context) concreteByte(a uintptr, i int) byte {
	if c.Concrete == nil {
		return 0
	}
	return c.Concrete.ByteAt(a + uintptr(i))
}

// sizeOf returns id's result width in bits, treating the untainted
// constant label as size 0 - the record array in the original C runtime
// is indexed directly by label value, so label 0's info is simply
// zeroed memory; package label keeps id 0 out of the Store arena
// entirely, so recordOf can't be asked for it.
func (c *Context) sizeOf(id label.ID) uint32 {
	if id == label.Untainted {
		return 0
	}
	return c.recordOf(id).Size
}
