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
	"encoding/binary"
	"fmt"
	"os"
)

// publishCount writes count as a little-endian uint32 to the POSIX
// shared-memory segment named by the environment variable envVar (spec
// §4.10, §6: "__AFL_SHM_ID... an external fuzzer harness can read it").
// Linux exposes POSIX shared memory segments (shm_open) as regular files
// under /dev/shm, so the segment is opened there under its id; SysV
// segments (shmget) have no such file. When the variable is unset or no
// such file exists, publishing is a no-op: this runtime never requires a
// fuzzer harness to be listening.
func publishCount(envVar string, count uint32) error {
	id, ok := os.LookupEnv(envVar)
	if !ok || id == "" {
		return nil
	}
	f, err := os.OpenFile("/dev/shm/"+id, os.O_WRONLY, 0)
	if err != nil {
		return nil
	}
	defer f.Close()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], count)
	if _, err := f.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("runtime: publishing emitted-input count: %w", err)
	}
	return nil
}
