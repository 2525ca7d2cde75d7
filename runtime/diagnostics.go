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
	"fmt"
	"log"
	"os"
)

// logf and warnf give this runtime the same "[prefix] message" shape
// cmd/sdb's -v gated diagnostics use, built on the standard log package
// since nothing in the retrieved pack pulls in a structured logging
// dependency (SPEC_FULL.md §4.11).
func logf(format string, args ...any) {
	log.Printf("[dfsan] "+format, args...)
}

func warnf(format string, args ...any) {
	log.Printf("[dfsan] warning: "+format, args...)
}

// Fatal reports a fatal condition (label-store exhaustion, an
// unsupported VMA range, a failed reservation at init - spec §7) and
// aborts the process, mirroring cmd/sdb's exitf helper.
func Fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[dfsan] fatal: "+format+"\n", args...)
	os.Exit(2)
}

// Unimplemented implements the unimplemented(fname) diagnostic
// callback (spec §6): instrumentation calls this for a libc function
// it has no interceptor for. Logged only when the caller opted into
// WarnUnimplemented, matching -warn-unimplemented's toggle (spec §6's
// option table).
func (lc *Lifecycle) Unimplemented(fname string) {
	if lc.Config.WarnUnimplemented {
		warnf("unimplemented: %s", fname)
	}
}

// NonzeroLabel implements nonzero_label(): instrumentation calls this
// whenever it observes a label where it expected the untainted
// constant, gated by WarnNonzeroLabels.
func (lc *Lifecycle) NonzeroLabel() {
	if lc.Config.WarnNonzeroLabels {
		warnf("observed unexpected nonzero label")
	}
}

// VarargWrapper implements vararg_wrapper(fname): instrumentation
// calls this for a varargs function it cannot fully model the
// arguments of.
func (lc *Lifecycle) VarargWrapper(fname string) {
	if lc.Config.WarnUnimplemented {
		warnf("vararg wrapper: %s", fname)
	}
}
