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

// Package solver implements the branch solver driver (C7): the
// taint_trace_cond / taint_trace_cmp / taint_trace_gep pipeline that
// filters, serializes, assembles a query from the accumulated path
// constraints, negates and solves it, and on success hands the model to
// the input synthesizer.
package solver

import (
	"fmt"
	"time"

	"github.com/taint-rt/dfsan/constraint"
	"github.com/taint-rt/dfsan/explore"
	"github.com/taint-rt/dfsan/label"
	"github.com/taint-rt/dfsan/smt"
	"github.com/taint-rt/dfsan/symexpr"
	"github.com/taint-rt/dfsan/synth"
)

// CheckTimeout is the solver check budget per query (spec §4.7 step 4,
// §5 "the only timeout is the solver check budget (5000 ms)").
const CheckTimeout = 5 * time.Second

// Synthesizer is the subset of *synth.Synthesizer the driver needs,
// narrowed to an interface so tests can substitute a recording double.
type Synthesizer interface {
	Synthesize(model smt.Model) (string, error)
}

// Driver wires together every collaborator the branch solver pipeline
// touches: the label store (via the serializer), the path-constraint
// accumulator, the exploration filter, an SMT context and the input
// synthesizer. A process-wide solver lock is the caller's
// responsibility: spec §5 requires "a process-wide solver lock
// serializes taint_trace_* callbacks", which a single goroutine calling
// Driver methods naturally provides; concurrent callers must serialize
// externally (e.g. with a sync.Mutex around the Driver).
type Driver struct {
	Store       *label.Store
	Serializer  *symexpr.Serializer
	Accumulator *constraint.Accumulator
	Filter      *explore.Filter
	Ctx         smt.Context
	Synth       Synthesizer

	// Optimistic enables the fallback of §4.7 step 6: on UNSAT against
	// the full accumulated path, retry with a fresh context containing
	// only the negated local condition.
	Optimistic bool

	// OnWarn, if set, receives recoverable-error text instead of the
	// condition being silently dropped (spec §7's "recoverable: ...
	// log a warning, skip the current branch, and continue").
	OnWarn func(string)
}

// Result summarizes what TraceCond/TraceCmp/TraceGep did, useful for
// tests and diagnostics.
type Result struct {
	Filtered   bool
	Check      smt.CheckResult
	Optimistic bool
	Synthesized string
}

func (d *Driver) warn(format string, args ...any) {
	if d.OnWarn != nil {
		d.OnWarn(fmt.Sprintf(format, args...))
	}
}

// TraceCond implements taint_trace_cond(label, taken): label must
// denote a boolean expression; taken is the concrete branch outcome
// observed at runtime.
func (d *Driver) TraceCond(callStackID, callSite uint64, l label.ID, taken bool) (Result, error) {
	if !l.IsSymbolic() {
		return Result{}, nil
	}
	if d.Store.HasFlag(l, label.FlippedFlag) {
		return Result{}, nil // invariant 6: never re-solve a flipped label
	}

	allowed, err := d.Filter.Allow(callStackID, callSite)
	if err != nil {
		return Result{}, err
	}
	if !allowed {
		d.Store.SetFlag(l, label.FlippedFlag)
		return Result{Filtered: true}, nil
	}

	cond, deps, err := d.Serializer.Serialize(l)
	if err != nil {
		d.warn("solver: serialize: %v", err)
		d.Store.SetFlag(l, label.FlippedFlag)
		return Result{}, nil
	}

	res, err := d.solve(cond, taken, deps)
	res.Filtered = false

	committed := d.Ctx.Eq(cond, d.Ctx.BoolVal(taken))
	d.Accumulator.Assert(deps, committed)
	d.Store.SetFlag(l, label.FlippedFlag)
	return res, err
}

// TraceCmp implements taint_trace_cmp(l1, l2, size, pred, c1, c2): the
// comparison has not yet been collapsed into a label by the caller, so
// the driver first forms one via union before proceeding exactly as
// TraceCond does.
func (d *Driver) TraceCmp(union func(l1, l2 label.ID, op label.Op, size uint32, op1, op2 uint64) (label.ID, error),
	callStackID, callSite uint64, l1, l2 label.ID, size uint32, pred label.Predicate, c1, c2 uint64, taken bool) (Result, error) {

	l, err := union(l1, l2, label.WithPredicate(label.OpICmp, pred), size, c1, c2)
	if err != nil {
		return Result{}, err
	}
	return d.TraceCond(callStackID, callSite, l, taken)
}

// TraceGep implements taint_trace_gep(label, concrete_index): the
// committed constraint is index = concrete_index; an out-of-bounds-
// style exploration attempt negates it to index > concrete_index.
func (d *Driver) TraceGep(callStackID, callSite uint64, l label.ID, concreteIndex uint64) (Result, error) {
	if !l.IsSymbolic() {
		return Result{}, nil
	}
	if d.Store.HasFlag(l, label.FlippedFlag) {
		return Result{}, nil
	}
	allowed, err := d.Filter.Allow(callStackID, callSite)
	if err != nil {
		return Result{}, err
	}
	if !allowed {
		d.Store.SetFlag(l, label.FlippedFlag)
		return Result{Filtered: true}, nil
	}

	idx, deps, err := d.Serializer.Serialize(l)
	if err != nil {
		d.warn("solver: serialize gep index: %v", err)
		d.Store.SetFlag(l, label.FlippedFlag)
		return Result{}, nil
	}

	negation := d.Ctx.ICmp(label.PredUgt, idx, d.Ctx.BVVal(concreteIndex, idx.Size))
	res, err := d.solveExpr(negation, deps)

	committed := d.Ctx.Eq(idx, d.Ctx.BVVal(concreteIndex, idx.Size))
	d.Accumulator.Assert(deps, committed)
	d.Store.SetFlag(l, label.FlippedFlag)
	return res, err
}

// TraceIndCall implements taint_trace_indcall(label): a tainted
// indirect call target is observed only, never solved (spec §6's table
// marks it "observe only").
func (d *Driver) TraceIndCall(l label.ID) {
	_ = l
}

// solve builds the negated query "cond != taken_value" (spec §4.7 step
// 4) and drives the full pipeline: assemble from the accumulator,
// solve, optimistic fallback, synthesize.
func (d *Driver) solve(cond smt.Value, taken bool, deps symexpr.DepSet) (Result, error) {
	negation := d.Ctx.Ne(cond, d.Ctx.BoolVal(taken))
	return d.solveExpr(negation, deps)
}

// solveExpr assembles a solver from the accumulated path constraints
// reachable from deps plus negation, checks it, and on SAT synthesizes
// a new input; on UNSAT (and Optimistic) it retries with negation alone.
func (d *Driver) solveExpr(negation smt.Value, deps symexpr.DepSet) (Result, error) {
	s := d.Ctx.NewSolver()
	seen := map[*constraint.Tree]struct{}{}
	for off := range deps {
		t := d.Accumulator.TreeFor(off)
		if t == nil {
			continue
		}
		if _, ok := seen[t]; ok {
			continue // deduplicating: two offsets may share the same merged tree
		}
		seen[t] = struct{}{}
		for _, e := range t.Exprs {
			s.Add(e)
		}
	}
	s.Add(negation)

	check, err := s.Check(CheckTimeout)
	if err != nil {
		d.warn("solver: check: %v", err)
	}
	if check == smt.Sat {
		path, serr := d.Synth.Synthesize(s.Model())
		if serr != nil {
			d.warn("solver: synthesize: %v", serr)
			return Result{Check: check}, nil
		}
		return Result{Check: check, Synthesized: path}, nil
	}

	if d.Optimistic {
		opt := d.Ctx.NewSolver()
		opt.Add(negation)
		optCheck, operr := opt.Check(CheckTimeout)
		if operr != nil {
			d.warn("solver: optimistic check: %v", operr)
		}
		if optCheck == smt.Sat {
			path, serr := d.Synth.Synthesize(opt.Model())
			if serr != nil {
				d.warn("solver: optimistic synthesize: %v", serr)
				return Result{Check: optCheck, Optimistic: true}, nil
			}
			return Result{Check: optCheck, Optimistic: true, Synthesized: path}, nil
		}
		return Result{Check: optCheck, Optimistic: true}, nil
	}

	return Result{Check: check}, nil
}
