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

//go:build linux

package runtime

import (
	"os"
	"syscall"
)

// mmapInput maps f read-only, matching cmd/sdb/mmap_linux.go's
// syscall.Mmap(PROT_READ, MAP_PRIVATE) shape - the "read-only mapped
// copy" of the tainted input this runtime owns (spec §1's non-goal:
// "does not own the input file's lifecycle beyond a read-only mapped
// copy").
func mmapInput(f *os.File, size int64) ([]byte, bool) {
	mem, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_PRIVATE)
	if err != nil {
		return nil, false
	}
	return mem, true
}

// unmapInput releases a mapping returned by mmapInput.
func unmapInput(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return syscall.Munmap(mem)
}
