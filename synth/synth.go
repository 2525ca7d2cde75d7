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

// Package synth implements the input synthesizer (C8): given a
// satisfying SMT model, it writes a new input file derived from the
// original tainted buffer by applying the model's per-offset byte
// assignments and, optionally, resizing the file via the synthetic
// "fsize" symbol.
package synth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/taint-rt/dfsan/smt"
)

// MaxFileSize is the hard cap on a file grown via the "fsize" model
// assignment (spec §4.8, §5 "input-file synthesizer caps grown files
// at 10 KiB").
const MaxFileSize = 10240

// ErrStdinSource is returned by Synthesize when the tainted source has
// no on-disk backing (spec §4.8: "if it is stdin, fails").
var ErrStdinSource = errors.New("synth: cannot synthesize from a stdin-sourced input")

// Synthesizer writes synthesized inputs into OutputDir, named
// id-<8-digit zero-padded counter> in emission order.
type Synthesizer struct {
	OutputDir string
	Original  []byte // the original tainted buffer; nil/unused for stdin sources
	IsStdin   bool

	counter uint32 // atomically incremented, next id to assign
}

// New creates a Synthesizer writing into outputDir, seeded with the
// original tainted buffer (or IsStdin=true if the source has no
// on-disk backing).
func New(outputDir string, original []byte, isStdin bool) *Synthesizer {
	return &Synthesizer{OutputDir: outputDir, Original: original, IsStdin: isStdin}
}

// Synthesize applies model's assignments to a copy of the original
// buffer and writes the result to a freshly named output file,
// returning its path. Integer-offset assignments overwrite a single
// byte; the "fsize" assignment resizes the buffer (capped at
// MaxFileSize) before any byte writes are applied. A model that assigns
// fsize is not treated specially otherwise: its byte writes are still
// applied, the file is still written, and the caller is not told that
// fsize was involved (solver.Driver commits the branch condition to the
// accumulator either way).
func (s *Synthesizer) Synthesize(model smt.Model) (string, error) {
	if s.IsStdin {
		return "", ErrStdinSource
	}

	buf := make([]byte, len(s.Original))
	copy(buf, s.Original)

	assignments := model.Assignments()
	for _, a := range assignments {
		if a.Name == "fsize" {
			buf = resize(buf, a.Value)
		}
	}
	for _, a := range assignments {
		if a.Name != "" {
			continue
		}
		off := int(a.Offset)
		if off < 0 || off >= len(buf) {
			continue
		}
		buf[off] = byte(a.Value)
	}

	idx := atomic.AddUint32(&s.counter, 1) - 1
	name := filepath.Join(s.OutputDir, fmt.Sprintf("id-%08d", idx))
	if err := os.WriteFile(name, buf, 0o644); err != nil {
		return "", fmt.Errorf("synth: writing %s: %w", name, err)
	}
	return name, nil
}

// resize grows or truncates buf to the requested length, capped at
// MaxFileSize. Growth pads with zero bytes (spec §4.8: "extend...by
// writing a zero at the new end").
func resize(buf []byte, want uint64) []byte {
	n := int(want)
	if want > MaxFileSize {
		n = MaxFileSize
	}
	if n == len(buf) {
		return buf
	}
	if n < len(buf) {
		return buf[:n]
	}
	grown := make([]byte, n)
	copy(grown, buf)
	return grown
}

// Count returns the number of inputs emitted so far.
func (s *Synthesizer) Count() uint32 {
	return atomic.LoadUint32(&s.counter)
}
