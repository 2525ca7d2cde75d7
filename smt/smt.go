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

// Package smt declares the narrow interface this runtime expects from an
// external SMT solver collaborator (spec §6): bit-vector constant/value
// construction, the usual bitwise/arithmetic/comparison builders, ite,
// and a solver with add/check/model. The solver itself is explicitly out
// of scope for this module (spec §1) - real deployments plug in a
// binding to an actual SMT solver; package smt/refsolver provides a
// bounded in-memory stand-in used by this repository's own tests and by
// solver_select=0 ("internal only", spec §6).
package smt

import (
	"time"

	"github.com/taint-rt/dfsan/label"
)

// Value is an opaque handle to a built bit-vector or boolean expression.
// Size is in bits; IsBool distinguishes the size=1 boolean carrier from a
// genuine 1-bit bit-vector, matching the "dirty hack since llvm lacks
// bool" distinction the serializer has to thread through (spec §4.5).
type Value struct {
	Size   uint32
	IsBool bool
	Handle any // backend-specific representation
}

// CheckResult mirrors z3::check_result's three outcomes.
type CheckResult int

const (
	Unknown CheckResult = iota
	Sat
	Unsat
)

// Assignment is one named constant in a satisfying model. Offset is valid
// when Name == ""; Name == "fsize" is the only string-named symbol this
// runtime emits (spec §4.5, §4.8).
type Assignment struct {
	Name   string
	Offset uint32
	Value  uint64
}

// Model exposes a satisfying assignment after Solver.Check returns Sat.
type Model interface {
	Assignments() []Assignment
}

// Solver accumulates asserted expressions and checks satisfiability
// under a timeout, mirroring z3::solver.add/check/get_model.
type Solver interface {
	Add(e Value)
	Check(timeout time.Duration) (CheckResult, error)
	Model() Model
}

// Context builds expressions and mints solvers, mirroring z3::context.
// Deduplication during query assembly (section C7) is by Value handle:
// solver.Driver skips a constraint tree it has already added, and
// constraint.Accumulator drops an expression whose handle it already
// holds. The refsolver does not hash-cons; every builder call returns a
// new handle, and Solver.Add does not deduplicate.
type Context interface {
	BVVal(v uint64, size uint32) Value
	BoolVal(b bool) Value

	// InputByte returns the named bit-vector constant standing for the
	// input file's byte at the given offset (z3::int_symbol in the
	// original).
	InputByte(offset uint32) Value

	// FSize returns the named bit-vector constant "fsize" (spec §4.5,
	// z3::str_symbol("fsize")).
	FSize(size uint32) Value

	Concat(hi, lo Value) Value
	Extract(v Value, hi, lo uint32) Value
	ZExt(v Value, extraBits uint32) Value
	SExt(v Value, extraBits uint32) Value
	Trunc(v Value, size uint32) Value
	Not(v Value) Value // boolean logical not
	Neg(v Value) Value // arithmetic negation

	// BinOp builds And/Or/Xor/Shl/LShr/AShr/Add/Sub/Mul/UDiv/SDiv/
	// URem/SRem; op is always a base (non-ICmp) Op.
	BinOp(op label.Op, a, b Value) Value

	// ICmp builds a boolean comparison.
	ICmp(pred label.Predicate, a, b Value) Value

	Ite(cond, t, f Value) Value
	Eq(a, b Value) Value
	Ne(a, b Value) Value

	NewSolver() Solver
}
