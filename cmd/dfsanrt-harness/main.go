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

// Command dfsanrt-harness is an in-process smoke harness that drives
// the runtime's ABI (taint.Context's Union/UnionLoad/UnionStore and
// solver.Driver's TraceCond) against a handful of tiny synthetic
// programs, standing in for an instrumented binary this package never
// links against (spec §1 puts the compiler instrumentation pass out of
// scope). It exists so the full C4->C9->C5->C7->C6->C8 pipeline can be
// exercised end to end without a real target, the same role
// cmd/metatest played for the teacher's query engine.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/taint-rt/dfsan/config"
	"github.com/taint-rt/dfsan/label"
	"github.com/taint-rt/dfsan/runtime"
	"github.com/taint-rt/dfsan/smt/refsolver"
)

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "dfsanrt-harness: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	fs := flag.NewFlagSet("dfsanrt-harness", flag.ExitOnError)
	scenario := fs.String("scenario", "byte-eq", "untainted, byte-eq, shape32, chain, optimistic or dedup")
	outDir := fs.String("output-dir", ".", "directory for synthesized inputs")
	fs.Parse(os.Args[1:])

	work, err := os.MkdirTemp("", "dfsanrt-harness-")
	if err != nil {
		exitf("%s", err)
	}
	defer os.RemoveAll(work)

	input, ok := scenarioInputs[*scenario]
	if !ok {
		exitf("unknown scenario %q", *scenario)
	}

	taintFile := filepath.Join(work, "input")
	if err := os.WriteFile(taintFile, input, 0o644); err != nil {
		exitf("writing scratch input: %s", err)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		exitf("%s", err)
	}

	cfg := &config.Config{TaintFile: taintFile, OutputDir: *outDir}
	lc, err := runtime.Init(cfg, runtime.Option{
		ProgramName: "dfsanrt-harness",
		Optimistic:  *scenario == "optimistic",
	}, refsolver.New())
	if err != nil {
		exitf("init: %s", err)
	}

	runScenario(*scenario, lc)

	if err := lc.Fini(); err != nil {
		exitf("fini: %s", err)
	}
	fmt.Printf("%s: emitted %d input(s) into %s\n", *scenario, lc.Synth.Count(), *outDir)
}

// scenarioInputs seeds the tainted buffer each scenario traces.
var scenarioInputs = map[string][]byte{
	"untainted":  {0x00},
	"byte-eq":    []byte("B"),
	"shape32":    {0x11, 0x22, 0x33, 0x44},
	"chain":      {20, 5},
	"optimistic": []byte("Z"),
	"dedup":      []byte("B"),
}

func addr(lc *runtime.Lifecycle, off int) uintptr {
	return lc.Shadow.Base() + uintptr(off)
}

func runScenario(name string, lc *runtime.Lifecycle) {
	t := lc.Taint
	switch name {
	case "untainted":
		// a branch that never touches a tainted byte never reaches the
		// solver; nothing to drive beyond loading byte 0's label and
		// discarding it.
		_, _ = t.UnionLoad(addr(lc, 0), 1)

	case "byte-eq":
		l0, err := t.UnionLoad(addr(lc, 0), 1)
		check(err)
		input := lc.Input()
		// a real compiler pass integer-promotes a narrow load before
		// comparing it, which is what keeps union's l1==0 constant fold
		// (spec §4.4) from collapsing this into an untainted result -
		// see DESIGN.md.
		wide, err := t.Union(l0, label.Untainted, label.OpZExt, 32, 0, 0)
		check(err)
		cmp, err := t.Union(wide, label.Untainted, label.WithPredicate(label.OpICmp, label.PredEq), 32, uint64(input[0]), 'A')
		check(err)
		taken := input[0] == 'A'
		_, err = lc.Driver.TraceCond(1, 1, cmp, taken)
		check(err)

	case "shape32":
		l0, err := t.UnionLoad(addr(lc, 0), 4)
		check(err)
		const want = 0x12345678
		cmp, err := t.Union(l0, label.Untainted, label.WithPredicate(label.OpICmp, label.PredEq), 32, 0, want)
		check(err)
		_, err = lc.Driver.TraceCond(1, 2, cmp, false)
		check(err)

	case "chain":
		l0, err := t.UnionLoad(addr(lc, 0), 1)
		check(err)
		l1, err := t.UnionLoad(addr(lc, 1), 1)
		check(err)
		input := lc.Input()

		gt10, err := t.Union(l0, label.Untainted, label.WithPredicate(label.OpICmp, label.PredUgt), 8, uint64(input[0]), 10)
		check(err)
		_, err = lc.Driver.TraceCond(1, 10, gt10, input[0] > 10)
		check(err)

		lt, err := t.Union(l1, l0, label.WithPredicate(label.OpICmp, label.PredUlt), 8, uint64(input[1]), uint64(input[0]))
		check(err)
		_, err = lc.Driver.TraceCond(1, 11, lt, input[1] < input[0])
		check(err)

	case "optimistic":
		l0, err := t.UnionLoad(addr(lc, 0), 1)
		check(err)
		input := lc.Input()
		wide, err := t.Union(l0, label.Untainted, label.OpZExt, 32, 0, 0)
		check(err)
		// commit a constraint this branch's own condition contradicts,
		// so the full accumulated path is UNSAT and only the optimistic
		// "condition alone" fallback can find a model.
		contradiction, err := t.Union(wide, label.Untainted, label.WithPredicate(label.OpICmp, label.PredEq), 32, uint64(input[0]), uint64(input[0]))
		check(err)
		_, err = lc.Driver.TraceCond(1, 20, contradiction, true)
		check(err)

		cmp, err := t.Union(wide, label.Untainted, label.WithPredicate(label.OpICmp, label.PredEq), 32, uint64(input[0]), 'A')
		check(err)
		_, err = lc.Driver.TraceCond(1, 21, cmp, input[0] == 'A')
		check(err)

	case "dedup":
		l0, err := t.UnionLoad(addr(lc, 0), 1)
		check(err)
		input := lc.Input()
		wide, err := t.Union(l0, label.Untainted, label.OpZExt, 32, 0, 0)
		check(err)
		for i := 0; i < 20; i++ {
			// a distinct concrete comparand each iteration mints a
			// fresh, never-flipped label, so every call actually
			// reaches explore.Filter.Allow - the per-site occurrence
			// counter, not invariant 6's B_FLIPPED guard, is what caps
			// this loop at MaxBranchCount (16) solver invocations.
			cmp, err := t.Union(wide, label.Untainted, label.WithPredicate(label.OpICmp, label.PredEq), 32, uint64(input[0]), uint64('A'+i))
			check(err)
			_, err = lc.Driver.TraceCond(1, 30, cmp, input[0] == byte('A'+i))
			check(err)
		}
	}
}

func check(err error) {
	if err != nil {
		exitf("%s", err)
	}
}
