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

package solver

import (
	"os"
	"testing"

	"github.com/taint-rt/dfsan/constraint"
	"github.com/taint-rt/dfsan/explore"
	"github.com/taint-rt/dfsan/label"
	"github.com/taint-rt/dfsan/smt/refsolver"
	"github.com/taint-rt/dfsan/symexpr"
	"github.com/taint-rt/dfsan/synth"
)

func newDriver(t *testing.T, optimistic bool) (*Driver, *label.Store) {
	t.Helper()
	store := label.NewStore(64)
	ctx := refsolver.New()
	return &Driver{
		Store:       store,
		Serializer:  symexpr.New(ctx, store, nil),
		Accumulator: constraint.New(),
		Filter:      explore.New(nil, "test"),
		Ctx:         ctx,
		Synth:       synth.New(t.TempDir(), []byte("ABCD"), false),
		Optimistic:  optimistic,
	}, store
}

func eqByteConst(store *label.Store, off uint32, c byte) label.ID {
	base := label.ByteLabel(off)
	id, err := store.Allocate(label.Record{
		L1: base, L2: label.Untainted,
		Op:   label.WithPredicate(label.OpICmp, label.PredEq),
		Size: 8, Op2: uint64(c),
	})
	if err != nil {
		panic(err)
	}
	return id
}

func TestTraceCondSatSynthesizesInput(t *testing.T) {
	d, store := newDriver(t, false)
	l := eqByteConst(store, 0, 'A')

	res, err := d.TraceCond(1, 1, l, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Synthesized == "" {
		t.Fatal("expected a synthesized input path for a satisfiable negated branch")
	}
	if _, err := os.Stat(res.Synthesized); err != nil {
		t.Fatalf("synthesized file missing: %v", err)
	}
}

func TestTraceCondNeverResolvesFlippedLabel(t *testing.T) {
	d, store := newDriver(t, false)
	l := eqByteConst(store, 0, 'A')

	if _, err := d.TraceCond(1, 1, l, true); err != nil {
		t.Fatal(err)
	}
	if !store.HasFlag(l, label.FlippedFlag) {
		t.Fatal("label should be flagged flipped after the first TraceCond")
	}

	res, err := d.TraceCond(1, 1, l, true)
	if err != nil {
		t.Fatal(err)
	}
	if res != (Result{}) {
		t.Fatalf("re-solving a flipped label should be a no-op, got %+v", res)
	}
}

func TestTraceCondUntaintedIsNoop(t *testing.T) {
	d, _ := newDriver(t, false)
	res, err := d.TraceCond(1, 1, label.Untainted, true)
	if err != nil {
		t.Fatal(err)
	}
	if res != (Result{}) {
		t.Fatalf("untainted condition should be a no-op, got %+v", res)
	}
}

func TestTraceCondFilteredAfterMaxBranchCount(t *testing.T) {
	d, store := newDriver(t, false)

	var last Result
	for i := 0; i < explore.MaxBranchCount+1; i++ {
		l := eqByteConst(store, 0, byte('A'+i))
		res, err := d.TraceCond(1, 1, l, true)
		if err != nil {
			t.Fatal(err)
		}
		last = res
	}
	if !last.Filtered {
		t.Fatal("exceeding the per-site branch cap should surface Filtered=true")
	}
}

func TestTraceGepCommitsEqualityConstraint(t *testing.T) {
	d, store := newDriver(t, false)
	base := label.ByteLabel(0)
	idx, err := store.Allocate(label.Record{L1: base, L2: label.Untainted, Op: label.OpZExt, Size: 32})
	if err != nil {
		t.Fatal(err)
	}

	res, err := d.TraceGep(1, 1, idx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if store.HasFlag(idx, label.FlippedFlag) != true {
		t.Fatal("TraceGep should flag the index label flipped")
	}
	if tree := d.Accumulator.TreeFor(0); tree == nil || len(tree.Exprs) != 1 {
		t.Fatalf("TraceGep should commit one index equality constraint on offset 0, got %+v", tree)
	}
	_ = res
}

func TestTraceCondOptimisticFallback(t *testing.T) {
	d, store := newDriver(t, true)

	contradiction := eqByteConst(store, 0, 'A')
	if _, err := d.TraceCond(1, 20, contradiction, true); err != nil {
		t.Fatal(err)
	}

	l := eqByteConst(store, 0, 'B')
	res, err := d.TraceCond(1, 21, l, false)
	if err != nil {
		t.Fatal(err)
	}
	// The committed path pins input[0] == 'A', which contradicts the
	// negated condition input[0] == 'B', so only the optimistic retry
	// with the negated condition alone can produce an input.
	if !res.Optimistic || res.Synthesized == "" {
		t.Fatalf("expected an input from the optimistic fallback, got %+v", res)
	}
}
