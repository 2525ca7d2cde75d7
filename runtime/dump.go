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
	"bytes"
	"fmt"
	"os"

	"github.com/taint-rt/dfsan/compr"
	"github.com/taint-rt/dfsan/label"
)

// dumpThreshold is the labels-dump size above which Fini zstd-
// compresses the dump instead of writing it plain (SPEC_FULL.md §4.12's
// compr row: "when dump_labels_at_exit is set and the dump exceeds a
// size threshold, the dump is zstd-compressed").
const dumpThreshold = 64 * 1024

// dumpLabels writes every seeded input-byte label and every allocated
// derived label to path, one text line each: "<id> (<l1> <l2> <op>
// <size>)" (spec §6's labels-dump file-format contract).
func (lc *Lifecycle) dumpLabels(path string) error {
	var buf bytes.Buffer
	for off := range lc.input {
		id := label.ByteLabel(uint32(off))
		rec := label.InputByteRecord(uint32(off))
		fmt.Fprintf(&buf, "%d (%d %d %d %d)\n", uint32(id), rec.L1, rec.L2, uint16(rec.Op), rec.Size)
	}
	n := lc.Store.Len()
	for i := uint32(0); i < n; i++ {
		id := label.ConstOffset + label.ID(i)
		rec := lc.Store.Get(id)
		fmt.Fprintf(&buf, "%d (%d %d %d %d)\n", uint32(id), rec.L1, rec.L2, uint16(rec.Op), rec.Size)
	}

	data := buf.Bytes()
	if len(data) > dumpThreshold {
		if c := compr.NewCompressor("zstd"); c != nil {
			return os.WriteFile(path+".zst", c.Compress(data, nil), 0o644)
		}
	}
	return os.WriteFile(path, data, 0o644)
}
