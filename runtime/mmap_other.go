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

//go:build !linux

package runtime

import "os"

// mmapInput has no portable implementation outside linux; loadInput
// falls back to reading the whole file into an ordinary slice.
func mmapInput(f *os.File, size int64) ([]byte, bool) {
	return nil, false
}

func unmapInput(mem []byte) error {
	return nil
}
