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

package runtime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/taint-rt/dfsan/config"
	"github.com/taint-rt/dfsan/kvstore/local"
	"github.com/taint-rt/dfsan/label"
	"github.com/taint-rt/dfsan/smt/refsolver"
	"github.com/taint-rt/dfsan/solver"
)

func writeTaintFile(t *testing.T, dir string, contents []byte) string {
	t.Helper()
	path := filepath.Join(dir, "input")
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newLifecycle(t *testing.T, contents []byte) *Lifecycle {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		TaintFile: writeTaintFile(t, dir, contents),
		OutputDir: dir,
		SessionID: "test-session",
	}
	lc, err := Init(cfg, Option{KVStore: local.New(), ProgramName: "test"}, refsolver.New())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { lc.Fini() })
	return lc
}

func TestInitSeedsInputByteLabels(t *testing.T) {
	lc := newLifecycle(t, []byte("ABCD"))
	if len(lc.Input()) != 4 {
		t.Fatalf("Input() length = %d, want 4", len(lc.Input()))
	}
	base := lc.Shadow.Base()
	for i := 0; i < 4; i++ {
		got := lc.Shadow.Load(base + uintptr(i))
		if got != label.ByteLabel(uint32(i)) {
			t.Fatalf("shadow label for byte %d = %d, want %d", i, got, label.ByteLabel(uint32(i)))
		}
	}
}

func TestRuntimeByteEqScenarioSynthesizesInput(t *testing.T) {
	lc := newLifecycle(t, []byte("ABCD"))
	base := lc.Shadow.Base()

	l0, err := lc.Taint.UnionLoad(base, 1)
	if err != nil {
		t.Fatal(err)
	}
	// widen before the equality comparison the same way a real compiler's
	// integer-promotion pass would, so the union fold for untainted
	// constants compared against a raw byte label never triggers.
	wide, err := lc.Taint.Union(l0, label.Untainted, label.OpZExt, 32, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	cmp, err := lc.Taint.Union(wide, label.Untainted, label.WithPredicate(label.OpICmp, label.PredEq), 32, uint64(lc.Input()[0]), 'A')
	if err != nil {
		t.Fatal(err)
	}

	res, err := lc.Driver.TraceCond(1, 1, cmp, lc.Input()[0] == 'A')
	if err != nil {
		t.Fatal(err)
	}
	if res.Synthesized == "" {
		t.Fatal("expected the byte-eq scenario to synthesize a flipped input")
	}
	if lc.Synth.Count() != 1 {
		t.Fatalf("Synth.Count() = %d, want 1", lc.Synth.Count())
	}
}

func TestRuntimeUntaintedComparisonProducesNoWork(t *testing.T) {
	lc := newLifecycle(t, []byte("ABCD"))
	res, err := lc.Driver.TraceCond(1, 1, label.Untainted, true)
	if err != nil {
		t.Fatal(err)
	}
	if res != (solver.Result{}) {
		t.Fatalf("untainted condition should produce no work, got %+v", res)
	}
	if lc.Synth.Count() != 0 {
		t.Fatalf("Synth.Count() = %d, want 0", lc.Synth.Count())
	}
}

func TestLifecycleResetReseedsWithoutFullInit(t *testing.T) {
	lc := newLifecycle(t, []byte("AB"))
	dir := t.TempDir()
	second := writeTaintFile(t, dir, []byte("XYZ"))

	if err := lc.Reset(second); err != nil {
		t.Fatal(err)
	}
	if string(lc.Input()) != "XYZ" {
		t.Fatalf("Input() after Reset = %q, want %q", lc.Input(), "XYZ")
	}
	if lc.Store.Len() != 0 {
		t.Fatalf("Store.Len() after Reset = %d, want 0", lc.Store.Len())
	}
}

func TestFiniWritesManifest(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		TaintFile: writeTaintFile(t, dir, []byte("AB")),
		OutputDir: dir,
		SessionID: "manifest-session",
	}
	lc, err := Init(cfg, Option{KVStore: local.New(), ProgramName: "test"}, refsolver.New())
	if err != nil {
		t.Fatal(err)
	}
	if err := lc.Fini(); err != nil {
		t.Fatal(err)
	}
	manifestPath := filepath.Join(dir, "run-manifest.yaml")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		t.Fatalf("run-manifest.yaml not written: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("run-manifest.yaml is empty")
	}
}

func TestFiniDumpsLabelsWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	dumpPath := filepath.Join(dir, "labels.dump")
	cfg := &config.Config{
		TaintFile:        writeTaintFile(t, dir, []byte("AB")),
		OutputDir:        dir,
		SessionID:        "dump-session",
		DumpLabelsAtExit: dumpPath,
	}
	lc, err := Init(cfg, Option{KVStore: local.New(), ProgramName: "test"}, refsolver.New())
	if err != nil {
		t.Fatal(err)
	}
	if err := lc.Fini(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dumpPath)
	if err != nil {
		t.Fatalf("labels dump not written: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("labels dump is empty")
	}
}
