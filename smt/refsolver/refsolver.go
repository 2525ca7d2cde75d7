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

// Package refsolver is a bounded, in-process stand-in for the external
// SMT solver collaborator described in spec §6. It is not a general SMT
// solver: it evaluates the small bit-vector IR this runtime emits and
// searches for a satisfying byte assignment by randomized local search
// (flip-and-test), which is sufficient for the straightforward
// equality/ordering constraints a taint-tracking runtime actually emits.
// It backs this repository's own tests and solver_select=0 ("internal
// only", spec §6's config table).
package refsolver

import (
	"math/rand"
	"time"

	"github.com/taint-rt/dfsan/label"
	"github.com/taint-rt/dfsan/smt"
)

type kind int

const (
	kConst kind = iota
	kInputByte
	kFSize
	kConcat
	kExtract
	kZExt
	kSExt
	kTrunc
	kNot
	kNeg
	kBin
	kICmp
	kIte
	kEq
	kNe
)

type node struct {
	kind       kind
	size       uint32
	isBool     bool
	val        uint64
	offset     uint32
	a, b, c    *node
	hi, lo     uint32
	op         label.Op
	pred       label.Predicate
}

func mask(size uint32) uint64 {
	if size >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << size) - 1
}

func v(n *node, size uint32) smt.Value { return smt.Value{Size: size, IsBool: n.isBool, Handle: n} }

// Context implements smt.Context over the node tree above.
type Context struct{}

func New() *Context { return &Context{} }

func (c *Context) BVVal(val uint64, size uint32) smt.Value {
	n := &node{kind: kConst, size: size, val: val & mask(size)}
	return v(n, size)
}

func (c *Context) BoolVal(b bool) smt.Value {
	val := uint64(0)
	if b {
		val = 1
	}
	n := &node{kind: kConst, size: 1, isBool: true, val: val}
	return v(n, 1)
}

func (c *Context) InputByte(offset uint32) smt.Value {
	n := &node{kind: kInputByte, size: 8, offset: offset}
	return v(n, 8)
}

func (c *Context) FSize(size uint32) smt.Value {
	n := &node{kind: kFSize, size: size}
	return v(n, size)
}

func (c *Context) Concat(hi, lo smt.Value) smt.Value {
	size := hi.Size + lo.Size
	n := &node{kind: kConcat, size: size, a: hi.Handle.(*node), b: lo.Handle.(*node)}
	return v(n, size)
}

func (c *Context) Extract(val smt.Value, hi, loBit uint32) smt.Value {
	size := hi - loBit + 1
	n := &node{kind: kExtract, size: size, a: val.Handle.(*node), hi: hi, lo: loBit}
	return v(n, size)
}

func (c *Context) ZExt(val smt.Value, extraBits uint32) smt.Value {
	size := val.Size + extraBits
	n := &node{kind: kZExt, size: size, a: val.Handle.(*node)}
	return v(n, size)
}

func (c *Context) SExt(val smt.Value, extraBits uint32) smt.Value {
	size := val.Size + extraBits
	n := &node{kind: kSExt, size: size, a: val.Handle.(*node)}
	return v(n, size)
}

func (c *Context) Trunc(val smt.Value, size uint32) smt.Value {
	n := &node{kind: kTrunc, size: size, a: val.Handle.(*node)}
	return v(n, size)
}

func (c *Context) Not(val smt.Value) smt.Value {
	n := &node{kind: kNot, size: 1, isBool: true, a: val.Handle.(*node)}
	return v(n, 1)
}

func (c *Context) Neg(val smt.Value) smt.Value {
	n := &node{kind: kNeg, size: val.Size, a: val.Handle.(*node)}
	return v(n, val.Size)
}

func (c *Context) BinOp(op label.Op, a, b smt.Value) smt.Value {
	size := a.Size
	isBool := size == 1 && (op.Base() == label.OpAnd || op.Base() == label.OpOr)
	n := &node{kind: kBin, size: size, isBool: isBool, op: op, a: a.Handle.(*node), b: b.Handle.(*node)}
	return v(n, size)
}

func (c *Context) ICmp(pred label.Predicate, a, b smt.Value) smt.Value {
	n := &node{kind: kICmp, size: 1, isBool: true, pred: pred, a: a.Handle.(*node), b: b.Handle.(*node)}
	return v(n, 1)
}

func (c *Context) Ite(cond, t, f smt.Value) smt.Value {
	n := &node{kind: kIte, size: t.Size, isBool: t.IsBool, a: cond.Handle.(*node), b: t.Handle.(*node), c: f.Handle.(*node)}
	return v(n, t.Size)
}

func (c *Context) Eq(a, b smt.Value) smt.Value {
	n := &node{kind: kEq, size: 1, isBool: true, a: a.Handle.(*node), b: b.Handle.(*node)}
	return v(n, 1)
}

func (c *Context) Ne(a, b smt.Value) smt.Value {
	n := &node{kind: kNe, size: 1, isBool: true, a: a.Handle.(*node), b: b.Handle.(*node)}
	return v(n, 1)
}

func (c *Context) NewSolver() smt.Solver {
	return &solver{}
}

type env struct {
	bytes map[uint32]uint64
	fsize uint64
}

func collect(n *node, offs map[uint32]bool, usesFSize *bool) {
	if n == nil {
		return
	}
	switch n.kind {
	case kInputByte:
		offs[n.offset] = true
	case kFSize:
		*usesFSize = true
	}
	collect(n.a, offs, usesFSize)
	collect(n.b, offs, usesFSize)
	collect(n.c, offs, usesFSize)
}

func eval(n *node, e *env) uint64 {
	switch n.kind {
	case kConst:
		return n.val
	case kInputByte:
		return e.bytes[n.offset] & 0xff
	case kFSize:
		return e.fsize & mask(n.size)
	case kConcat:
		lo := eval(n.b, e)
		hi := eval(n.a, e)
		return (hi<<n.b.size | lo) & mask(n.size)
	case kExtract:
		base := eval(n.a, e)
		return (base >> n.lo) & mask(n.size)
	case kZExt:
		return eval(n.a, e) & mask(n.a.size)
	case kSExt:
		base := eval(n.a, e)
		signBit := uint64(1) << (n.a.size - 1)
		if base&signBit != 0 {
			return (base | ^mask(n.a.size)) & mask(n.size)
		}
		return base & mask(n.size)
	case kTrunc:
		return eval(n.a, e) & mask(n.size)
	case kNot:
		if eval(n.a, e) == 0 {
			return 1
		}
		return 0
	case kNeg:
		return (-eval(n.a, e)) & mask(n.size)
	case kBin:
		return evalBin(n, e)
	case kICmp:
		return evalICmp(n, e)
	case kIte:
		if eval(n.a, e) != 0 {
			return eval(n.b, e)
		}
		return eval(n.c, e)
	case kEq:
		if eval(n.a, e) == eval(n.b, e) {
			return 1
		}
		return 0
	case kNe:
		if eval(n.a, e) != eval(n.b, e) {
			return 1
		}
		return 0
	}
	return 0
}

func evalBin(n *node, e *env) uint64 {
	a, b := eval(n.a, e), eval(n.b, e)
	sz := n.size
	switch n.op.Base() {
	case label.OpAnd:
		return (a & b) & mask(sz)
	case label.OpOr:
		return (a | b) & mask(sz)
	case label.OpXor:
		return (a ^ b) & mask(sz)
	case label.OpShl:
		return (a << (b & uint64(sz-1))) & mask(sz)
	case label.OpLShr:
		return (a >> (b & uint64(sz-1))) & mask(sz)
	case label.OpAShr:
		signBit := uint64(1) << (sz - 1)
		shift := b & uint64(sz-1)
		if a&signBit != 0 {
			shifted := a >> shift
			ones := ^uint64(0) << (uint64(sz) - shift)
			return (shifted | ones) & mask(sz)
		}
		return (a >> shift) & mask(sz)
	case label.OpAdd:
		return (a + b) & mask(sz)
	case label.OpSub:
		return (a - b) & mask(sz)
	case label.OpMul:
		return (a * b) & mask(sz)
	case label.OpUDiv:
		if b == 0 {
			return 0
		}
		return (a / b) & mask(sz)
	case label.OpSDiv:
		if b == 0 {
			return 0
		}
		return uint64(toSigned(a, sz)/toSigned(b, sz)) & mask(sz)
	case label.OpURem:
		if b == 0 {
			return 0
		}
		return (a % b) & mask(sz)
	case label.OpSRem:
		if b == 0 {
			return 0
		}
		return uint64(toSigned(a, sz)%toSigned(b, sz)) & mask(sz)
	}
	return 0
}

func toSigned(v uint64, sz uint32) int64 {
	signBit := uint64(1) << (sz - 1)
	if v&signBit != 0 {
		return int64(v|^mask(sz)) | 0 // sign-extended via two's complement bits already set
	}
	return int64(v)
}

func evalICmp(n *node, e *env) uint64 {
	a, b := eval(n.a, e), eval(n.b, e)
	sz := n.a.size
	sa, sb := toSigned(a, sz), toSigned(b, sz)
	var r bool
	switch n.pred {
	case label.PredEq:
		r = a == b
	case label.PredNe:
		r = a != b
	case label.PredUgt:
		r = a > b
	case label.PredUge:
		r = a >= b
	case label.PredUlt:
		r = a < b
	case label.PredUle:
		r = a <= b
	case label.PredSgt:
		r = sa > sb
	case label.PredSge:
		r = sa >= sb
	case label.PredSlt:
		r = sa < sb
	case label.PredSle:
		r = sa <= sb
	default:
		r = false // spec §9 Open Question (b): unknown predicate -> false
	}
	if r {
		return 1
	}
	return 0
}

type model struct {
	assigns []smt.Assignment
}

func (m *model) Assignments() []smt.Assignment { return m.assigns }

type solver struct {
	asserts []*node
	m       *model
}

func (s *solver) Add(val smt.Value) {
	s.asserts = append(s.asserts, val.Handle.(*node))
}

const (
	maxFSize     = 10240
	maxIterBatch = 4000
)

func (s *solver) Check(timeout time.Duration) (smt.CheckResult, error) {
	offs := map[uint32]bool{}
	usesFSize := false
	for _, n := range s.asserts {
		collect(n, offs, &usesFSize)
	}
	offList := make([]uint32, 0, len(offs))
	for o := range offs {
		offList = append(offList, o)
	}

	deadline := time.Now().Add(timeout)
	rng := rand.New(rand.NewSource(1))

	violated := func(e *env) int {
		bad := 0
		for _, n := range s.asserts {
			if eval(n, e) == 0 {
				bad++
			}
		}
		return bad
	}

	randomEnv := func() *env {
		e := &env{bytes: map[uint32]uint64{}}
		for _, o := range offList {
			e.bytes[o] = uint64(rng.Intn(256))
		}
		if usesFSize {
			e.fsize = uint64(rng.Intn(maxFSize + 1))
		}
		return e
	}

	var best *env
	for attempt := 0; time.Now().Before(deadline) || attempt == 0; attempt++ {
		e := randomEnv()
		cur := violated(e)
		for i := 0; i < maxIterBatch && cur > 0; i++ {
			if len(offList) == 0 && !usesFSize {
				break
			}
			// flip one random symbol to a new random value, keep it unless it
			// violates more constraints than before.
			saved := *e
			savedBytes := map[uint32]uint64{}
			for k, vv := range e.bytes {
				savedBytes[k] = vv
			}
			if usesFSize && (len(offList) == 0 || rng.Intn(len(offList)+1) == len(offList)) {
				e.fsize = uint64(rng.Intn(maxFSize + 1))
			} else if len(offList) > 0 {
				o := offList[rng.Intn(len(offList))]
				e.bytes[o] = uint64(rng.Intn(256))
			}
			next := violated(e)
			if next > cur {
				// revert
				e.bytes = savedBytes
				e.fsize = saved.fsize
				continue
			}
			cur = next
		}
		if cur == 0 {
			best = e
			break
		}
		if !time.Now().Before(deadline) {
			break
		}
	}

	if best == nil {
		return smt.Unknown, nil
	}
	m := &model{}
	for _, o := range offList {
		m.assigns = append(m.assigns, smt.Assignment{Offset: o, Value: best.bytes[o] & 0xff})
	}
	if usesFSize {
		m.assigns = append(m.assigns, smt.Assignment{Name: "fsize", Value: best.fsize})
	}
	s.m = m
	return smt.Sat, nil
}

func (s *solver) Model() smt.Model { return s.m }
