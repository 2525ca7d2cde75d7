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

// Package symexpr recursively serializes a label DAG (package label) into
// an SMT bit-vector expression (package smt), caching the built
// expression and its input-byte dependency set per label (C5).
package symexpr

import (
	"fmt"

	"github.com/taint-rt/dfsan/label"
	"github.com/taint-rt/dfsan/smt"
)

// DepSet is the set of input-byte offsets an expression transitively
// reads.
type DepSet map[uint32]struct{}

func (d DepSet) insert(off uint32) { d[off] = struct{}{} }

func (d DepSet) union(other DepSet) {
	for off := range other {
		d[off] = struct{}{}
	}
}

// Clone returns an independent copy of d, used when memoizing (spec §4.5:
// "memoizes... a copy of the dependency set").
func (d DepSet) Clone() DepSet {
	out := make(DepSet, len(d))
	out.union(d)
	return out
}

// ConcreteReader supplies the concrete bytes backing fmemcmp's "read
// size bytes from the concrete address" fallback (spec §4.5). In a real
// deployment this reads the traced process's own memory at an
// instrumentation-supplied pointer; tests provide a simple byte-slice
// reader.
type ConcreteReader interface {
	ReadConcrete(addr uint64, size uint32) ([]byte, error)
}

type memoEntry struct {
	val  smt.Value
	deps DepSet
}

// Serializer recursively lowers label.ID values into smt.Value
// expressions. It is long-lived for the process (expressions outlive any
// single solver query; only the Solver itself is reset per query, per
// spec §4.7 step 3).
type Serializer struct {
	ctx    smt.Context
	store  *label.Store
	reader ConcreteReader
	memo   map[label.ID]memoEntry
}

// New creates a Serializer backed by store for label lookups and ctx for
// expression construction. reader may be nil if fmemcmp is never used.
func New(ctx smt.Context, store *label.Store, reader ConcreteReader) *Serializer {
	return &Serializer{ctx: ctx, store: store, reader: reader, memo: map[label.ID]memoEntry{}}
}

// ErrInvalidLabel is returned when Serialize is asked to lower a label
// that cannot appear in a well-formed expression (untainted, the
// initializing sentinel, or an unsupported operator). Spec §7 treats
// this as recoverable; callers log a warning and skip the branch.
type ErrInvalidLabel struct {
	Label label.ID
	Msg    string
}

func (e *ErrInvalidLabel) Error() string {
	return fmt.Sprintf("symexpr: invalid label %v: %s", e.Label, e.Msg)
}

// Serialize lowers id to an SMT expression, returning the set of
// input-byte offsets it depends on. deps is safe for the caller to keep:
// it is always a fresh map per call (never aliased with a memoized one).
func (s *Serializer) Serialize(id label.ID) (smt.Value, DepSet, error) {
	deps := DepSet{}
	val, err := s.serialize(id, deps)
	return val, deps, err
}

func (s *Serializer) serialize(id label.ID, deps DepSet) (smt.Value, error) {
	if id == label.Initializing {
		return smt.Value{}, &ErrInvalidLabel{id, "initializing sentinel reached solving path"}
	}
	if id == label.Untainted {
		return smt.Value{}, &ErrInvalidLabel{id, "attempted to serialize the constant label"}
	}
	if id.IsInputByte() {
		off := id.ByteOffset()
		if m, ok := s.memo[id]; ok {
			deps.union(m.deps)
			return m.val, nil
		}
		val := s.ctx.InputByte(off)
		deps.insert(off)
		s.memo[id] = memoEntry{val: val, deps: deps.Clone()}
		return val, nil
	}

	if m, ok := s.memo[id]; ok {
		deps.union(m.deps)
		return m.val, nil
	}

	rec := s.store.Get(id)
	base := rec.Op.Base()

	switch base {
	case label.OpLoad:
		return s.serializeLoad(id, rec, deps)
	case label.OpZExt:
		return s.serializeExt(id, rec, deps, true)
	case label.OpSExt:
		return s.serializeExt(id, rec, deps, false)
	case label.OpTrunc:
		return s.serializeUnaryCached(id, rec.L1, deps, func(v smt.Value) smt.Value {
			return s.ctx.Trunc(v, rec.Size)
		})
	case label.OpExtract:
		return s.serializeUnaryCached(id, rec.L1, deps, func(v smt.Value) smt.Value {
			lo := uint32(rec.Op2)
			return s.ctx.Extract(v, lo+rec.Size-1, lo)
		})
	case label.OpNot:
		if rec.Size != 1 {
			return smt.Value{}, &ErrInvalidLabel{id, "Not operand must be boolean"}
		}
		return s.serializeUnaryCached(id, rec.L2, deps, s.ctx.Not)
	case label.OpNeg:
		return s.serializeUnaryCached(id, rec.L2, deps, s.ctx.Neg)
	case label.OpFMemcmp:
		return s.serializeFMemcmp(rec, deps)
	case label.OpFSize:
		return s.serializeFSize(rec), nil
	case label.OpConcat:
		return s.serializeBinary(id, rec, deps)
	case label.OpAnd, label.OpOr, label.OpXor, label.OpShl, label.OpLShr, label.OpAShr,
		label.OpAdd, label.OpSub, label.OpMul, label.OpUDiv, label.OpSDiv, label.OpURem, label.OpSRem:
		return s.serializeBinary(id, rec, deps)
	case label.OpICmp:
		return s.serializeICmp(id, rec, deps)
	default:
		return smt.Value{}, &ErrInvalidLabel{id, fmt.Sprintf("unsupported operator %v", rec.Op)}
	}
}

func (s *Serializer) operand(id label.ID, concreteOp uint64, size uint32, deps DepSet) (smt.Value, error) {
	if id.IsSymbolic() {
		return s.serialize(id, deps)
	}
	if size == 1 {
		return s.ctx.BoolVal(concreteOp == 1), nil
	}
	return s.ctx.BVVal(concreteOp, size), nil
}

func (s *Serializer) serializeLoad(id label.ID, rec label.Record, deps DepSet) (smt.Value, error) {
	baseRec := s.store.RecordOrInput(rec.L1)
	offset := uint32(baseRec.Op1)
	n := uint32(rec.L2)
	val := s.ctx.InputByte(offset)
	deps.insert(offset)
	for i := uint32(1); i < n; i++ {
		next := s.ctx.InputByte(offset + i)
		deps.insert(offset + i)
		val = s.ctx.Concat(next, val)
	}
	s.memo[id] = memoEntry{val: val, deps: deps.Clone()}
	return val, nil
}

func (s *Serializer) serializeExt(id label.ID, rec label.Record, deps DepSet, zero bool) (smt.Value, error) {
	base, err := s.serialize(rec.L1, deps)
	if err != nil {
		return smt.Value{}, err
	}
	if zero && base.IsBool {
		base = s.ctx.Ite(base, s.ctx.BVVal(1, 1), s.ctx.BVVal(0, 1))
	}
	var val smt.Value
	if zero {
		val = s.ctx.ZExt(base, rec.Size-base.Size)
	} else {
		val = s.ctx.SExt(base, rec.Size-base.Size)
	}
	s.memo[id] = memoEntry{val: val, deps: deps.Clone()}
	return val, nil
}

func (s *Serializer) serializeUnaryCached(id, operand label.ID, deps DepSet, build func(smt.Value) smt.Value) (smt.Value, error) {
	base, err := s.serialize(operand, deps)
	if err != nil {
		return smt.Value{}, err
	}
	val := build(base)
	s.memo[id] = memoEntry{val: val, deps: deps.Clone()}
	return val, nil
}

func (s *Serializer) serializeFMemcmp(rec label.Record, deps DepSet) (smt.Value, error) {
	var op1 smt.Value
	var err error
	if rec.L1.IsDerived() {
		op1, err = s.serialize(rec.L1, deps)
		if err != nil {
			return smt.Value{}, err
		}
	} else {
		if s.reader == nil {
			return smt.Value{}, &ErrInvalidLabel{rec.L1, "fmemcmp needs a concrete-memory reader"}
		}
		buf, rerr := s.reader.ReadConcrete(rec.Op1, rec.Size)
		if rerr != nil {
			return smt.Value{}, &ErrInvalidLabel{rec.L1, rerr.Error()}
		}
		op1 = bytesToBV(s.ctx, buf)
	}
	if !rec.L2.IsDerived() {
		return smt.Value{}, &ErrInvalidLabel{rec.L2, "fmemcmp second operand must be symbolic"}
	}
	op2, err := s.serialize(rec.L2, deps)
	if err != nil {
		return smt.Value{}, err
	}
	return s.ctx.Ite(s.ctx.Eq(op1, op2), s.ctx.BVVal(0, 32), s.ctx.BVVal(1, 32)), nil
}

func bytesToBV(ctx smt.Context, buf []byte) smt.Value {
	val := ctx.BVVal(uint64(buf[0]), 8)
	for i := 1; i < len(buf); i++ {
		val = ctx.Concat(ctx.BVVal(uint64(buf[i]), 8), val)
	}
	return val
}

func (s *Serializer) serializeFSize(rec label.Record) smt.Value {
	base := s.ctx.FSize(rec.Size)
	if rec.Op1 != 0 {
		return s.ctx.BinOp(label.OpSub, base, s.ctx.BVVal(rec.Op1, rec.Size))
	}
	return base
}

func (s *Serializer) serializeBinary(id label.ID, rec label.Record, deps DepSet) (smt.Value, error) {
	size1, size2 := rec.Size, rec.Size
	if rec.Op.Base() == label.OpConcat {
		if !rec.L1.IsSymbolic() {
			l2rec := s.store.RecordOrInput(rec.L2)
			size1 = rec.Size - l2rec.Size
		}
	}
	op1, err := s.operand(rec.L1, rec.Op1, size1, deps)
	if err != nil {
		return smt.Value{}, err
	}
	if rec.Op.Base() == label.OpConcat && !rec.L2.IsSymbolic() {
		l1rec := s.store.RecordOrInput(rec.L1)
		size2 = rec.Size - l1rec.Size
	}
	op2deps := DepSet{}
	op2, err := s.operand(rec.L2, rec.Op2, size2, op2deps)
	if err != nil {
		return smt.Value{}, err
	}
	deps.union(op2deps)

	var val smt.Value
	if rec.Op.Base() == label.OpConcat {
		val = s.ctx.Concat(op2, op1)
	} else {
		val = s.ctx.BinOp(rec.Op.Base(), op1, op2)
	}
	s.memo[id] = memoEntry{val: val, deps: deps.Clone()}
	return val, nil
}

func (s *Serializer) serializeICmp(id label.ID, rec label.Record, deps DepSet) (smt.Value, error) {
	op1, err := s.operand(rec.L1, rec.Op1, rec.Size, deps)
	if err != nil {
		return smt.Value{}, err
	}
	op2deps := DepSet{}
	op2, err := s.operand(rec.L2, rec.Op2, rec.Size, op2deps)
	if err != nil {
		return smt.Value{}, err
	}
	deps.union(op2deps)
	val := s.ctx.ICmp(rec.Op.Predicate(), op1, op2)
	s.memo[id] = memoEntry{val: val, deps: deps.Clone()}
	return val, nil
}
