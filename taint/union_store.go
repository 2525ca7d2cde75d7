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

package taint

import "github.com/taint-rt/dfsan/label"

// UnionStore distributes label l across n contiguous shadow cells
// starting at application address a (spec §4.4). It tries, in order,
// the initializing, constant, single-byte, load-origin and Concat fast
// paths, simplifies a byte-multiple ZExt, and otherwise falls back to
// per-byte Extract labels.
func (c *Context) UnionStore(l label.ID, a uintptr, n int) error {
	if l == label.Initializing {
		ls := make([]label.ID, n)
		for i := range ls {
			ls[i] = label.Initializing
		}
		c.Shadow.StoreN(a, ls)
		return nil
	}

	if l == label.Untainted {
		c.Shadow.SetRange(a, n, label.Untainted)
		return nil
	}

	info := c.recordOf(l)

	// fast path: single byte
	if n == 1 && info.Size == 8 {
		c.Shadow.Store(a, l)
		return nil
	}

	// fast path: load-origin, break back up into the original per-byte
	// labels it was assembled from.
	if info.Op.Base() == label.OpLoad {
		base := info.L1
		ls := make([]label.ID, n)
		for i := 0; i < n; i++ {
			ls[i] = base + label.ID(i)
		}
		c.Shadow.StoreN(a, ls)
		return nil
	}

	// fast path: Concat, recursively split by the concatenated
	// sub-widths.
	if info.Op.Base() == label.OpConcat && uint32(n)*8 == info.Size {
		cur := info.L2
		curSize := c.sizeOf(cur)
		curBytes := int(curSize / 8)
		if err := c.UnionStore(cur, a+uintptr(n-curBytes), curBytes); err != nil {
			return err
		}
		return c.UnionStore(info.L1, a, n-curBytes)
	}

	// simplify: ZExt over a byte-multiple base, store the base bytes and
	// zero the rest.
	if info.Op.Base() == label.OpZExt {
		orig := info.L1
		origSize := c.sizeOf(orig)
		if origSize&0x7 == 0 {
			origBytes := int(origSize / 8)
			for i := origBytes; i < n; i++ {
				c.Shadow.Store(a+uintptr(i), label.Untainted)
			}
			return c.UnionStore(orig, a, origBytes)
		}
	}

	// default fall through: store per-byte Extract(l, offset=i*8, size=8).
	for i := 0; i < n; i++ {
		byteLabel, err := c.Union(l, label.Untainted, label.OpExtract, 8, 0, uint64(i*8))
		if err != nil {
			return err
		}
		c.Shadow.Store(a+uintptr(i), byteLabel)
	}
	return nil
}

// SetLabel bulk-marks the n application bytes starting at a with label
// l, the instrumentation ABI's set_label entry point (spec §4.4,
// table row "set_label(label, addr, size)").
func (c *Context) SetLabel(l label.ID, a uintptr, n int) {
	if l == label.Untainted {
		return
	}
	c.Shadow.SetRange(a, n, l)
}
