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

// Package runtime drives the process lifecycle (C10): reserving the
// shadow/label-store/hash-cons regions and seeding input-byte labels at
// init, and dumping diagnostics, unmapping the input buffer and
// publishing the emitted-input count at fini.
package runtime

import (
	"fmt"
	"os"

	"github.com/taint-rt/dfsan/config"
	"github.com/taint-rt/dfsan/constraint"
	"github.com/taint-rt/dfsan/explore"
	"github.com/taint-rt/dfsan/kvstore"
	"github.com/taint-rt/dfsan/kvstore/local"
	"github.com/taint-rt/dfsan/label"
	"github.com/taint-rt/dfsan/shadow"
	"github.com/taint-rt/dfsan/smt"
	"github.com/taint-rt/dfsan/solver"
	"github.com/taint-rt/dfsan/symexpr"
	"github.com/taint-rt/dfsan/synth"
	"github.com/taint-rt/dfsan/taint"
)

// defaultLabelCapacity sizes the label.Store arena when the caller
// doesn't override it via Lifecycle.LabelCapacity.
const defaultLabelCapacity = 1 << 20

// defaultHashConsCapacity sizes the label.HashCons table.
const defaultHashConsCapacity = 1 << 18

// shmIDEnvVar names the environment variable an external fuzzer harness
// uses to tell this runtime which shared-memory segment (a file under
// /dev/shm, see publishCount) to publish
// the emitted-input count into (spec §6's "shared-memory segment
// identified by __AFL_SHM_ID").
const shmIDEnvVar = "__AFL_SHM_ID"

// Lifecycle owns every per-process collaborator and the input buffer
// they're all reserved against. Construct with Init, tear down with
// Fini. Reset re-seeds a fresh input without a full process restart
// (SPEC_FULL.md §4.13, a feature the original always-fork-per-input
// design never needed but a long-lived Go process benefits from).
type Lifecycle struct {
	Config *config.Config

	Store    *label.Store
	HashCons *label.HashCons
	Shadow   *shadow.Map
	Taint    *taint.Context

	Accumulator *constraint.Accumulator
	Filter      *explore.Filter
	Synth       *synth.Synthesizer
	Driver      *solver.Driver

	input    []byte // the mmap'd (or read) tainted buffer
	mmapped  bool
	kv       kvstore.Store
	program  string
}

// Option configures Init beyond config.Config's process-wide settings.
type Option struct {
	LabelCapacity    uint32
	HashConsCapacity int
	SMTContext       smt.Context // not read by Init; the context is Init's ctx argument, which must be non-nil
	KVStore          kvstore.Store
	ProgramName      string
	Optimistic       bool
	OnWarn           func(string)
}

// Init reserves the shadow region, label-store region and hash-cons
// table, seeds input-byte labels, and maps the input file read-only
// into memory (or reads it into an ordinary slice on platforms without
// an mmap implementation, or when mmap fails - see mmap_linux.go /
// mmap_other.go). A taint file that cannot be opened or stat'ed, or a
// nil ctx, is returned as an error for the caller to report and abort on.
func Init(cfg *config.Config, opt Option, ctx smt.Context) (*Lifecycle, error) {
	labelCap := opt.LabelCapacity
	if labelCap == 0 {
		labelCap = defaultLabelCapacity
	}
	hcCap := opt.HashConsCapacity
	if hcCap == 0 {
		hcCap = defaultHashConsCapacity
	}

	lc := &Lifecycle{
		Config:      cfg,
		Store:       label.NewStore(labelCap),
		HashCons:    label.NewHashCons(hcCap),
		Accumulator: constraint.New(),
		kv:          opt.KVStore,
		program:     opt.ProgramName,
	}
	if lc.kv == nil {
		lc.kv = local.New()
	}
	lc.Filter = explore.New(lc.kv, lc.program)

	buf, mmapped, isStdin, err := loadInput(cfg)
	if err != nil {
		return nil, fmt.Errorf("runtime: init: %w", err)
	}
	lc.input = buf
	lc.mmapped = mmapped

	base := sliceBase(buf)
	lc.Shadow = shadow.Reserve(base, uintptr(len(buf)))
	for i := range buf {
		lc.Shadow.Store(base+uintptr(i), label.ByteLabel(uint32(i)))
	}

	lc.Taint = taint.New(lc.Store, lc.HashCons, lc.Shadow)

	if ctx == nil {
		return nil, fmt.Errorf("runtime: init: an smt.Context is required (see cmd/dfsanrt-harness for refsolver wiring)")
	}
	ser := symexpr.New(ctx, lc.Store, nil)
	lc.Synth = synth.New(cfg.OutputDir, buf, isStdin)
	lc.Driver = &solver.Driver{
		Store:       lc.Store,
		Serializer:  ser,
		Accumulator: lc.Accumulator,
		Filter:      lc.Filter,
		Ctx:         ctx,
		Synth:       lc.Synth,
		Optimistic:  opt.Optimistic,
		OnWarn:      opt.OnWarn,
	}

	return lc, nil
}

// Input returns the tainted buffer the Lifecycle mapped (or read) at
// Init/Reset. Callers needing an application address for a byte offset
// (to drive taint.Context.UnionLoad/UnionStore) combine it with
// lc.Shadow.Base().
func (lc *Lifecycle) Input() []byte {
	return lc.input
}

// Fini dumps labels (optionally compressed) if configured, unmaps the
// input buffer, publishes the emitted-input count to the shared-memory
// segment named by __AFL_SHM_ID, and writes a run manifest.
func (lc *Lifecycle) Fini() error {
	var errs []error

	if lc.Config.DumpLabelsAtExit != "" {
		if err := lc.dumpLabels(lc.Config.DumpLabelsAtExit); err != nil {
			errs = append(errs, err)
		}
	}

	if lc.mmapped {
		if err := unmapInput(lc.input); err != nil {
			errs = append(errs, err)
		}
	}

	if err := publishCount(shmIDEnvVar, lc.Synth.Count()); err != nil {
		errs = append(errs, err)
	}

	if err := lc.writeManifest(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("runtime: fini: %v", errs)
	}
	return nil
}

// Reset clears every per-run collaborator and re-seeds lc against a
// fresh input file, letting a long-lived process trace many inputs
// without restarting (SPEC_FULL.md §4.13).
func (lc *Lifecycle) Reset(taintFile string) error {
	if lc.mmapped {
		if err := unmapInput(lc.input); err != nil {
			return fmt.Errorf("runtime: reset: unmap: %w", err)
		}
	}

	lc.Config.TaintFile = taintFile
	buf, mmapped, isStdin, err := loadInput(lc.Config)
	if err != nil {
		return fmt.Errorf("runtime: reset: %w", err)
	}
	lc.input = buf
	lc.mmapped = mmapped

	lc.Store.Reset()
	lc.HashCons.Reset()
	lc.Accumulator.Reset()
	lc.Filter.Reset()

	base := sliceBase(buf)
	lc.Shadow = shadow.Reserve(base, uintptr(len(buf)))
	for i := range buf {
		lc.Shadow.Store(base+uintptr(i), label.ByteLabel(uint32(i)))
	}
	lc.Taint = taint.New(lc.Store, lc.HashCons, lc.Shadow)
	lc.Synth = synth.New(lc.Config.OutputDir, buf, isStdin)
	lc.Driver.Synth = lc.Synth

	return nil
}

func loadInput(cfg *config.Config) (buf []byte, mmapped bool, isStdin bool, err error) {
	if cfg.IsStdin() {
		buf, err = readAll(os.Stdin)
		return buf, false, true, err
	}
	f, err := os.Open(cfg.TaintFile)
	if err != nil {
		return nil, false, false, fmt.Errorf("opening taint file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, false, false, fmt.Errorf("stat taint file: %w", err)
	}
	if info.Size() == 0 {
		return []byte{}, false, false, nil
	}
	if mem, ok := mmapInput(f, info.Size()); ok {
		return mem, true, false, nil
	}
	buf, err = readAll(f)
	return buf, false, false, err
}

func readAll(f *os.File) ([]byte, error) {
	return os.ReadFile(f.Name())
}
