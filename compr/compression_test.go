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

package compr

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestZstdRoundTrip(t *testing.T) {
	c := NewCompressor("zstd")
	if c == nil {
		t.Fatal("NewCompressor(zstd) returned nil")
	}
	if c.Name() != "zstd" {
		t.Fatalf("Name() = %q, want zstd", c.Name())
	}

	src := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 200))
	compressed := c.Compress(src, nil)
	if len(compressed) == 0 {
		t.Fatal("Compress produced no output")
	}

	r, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, src) {
		t.Fatal("round-tripped contents do not match the original")
	}
}

func TestNewCompressorUnknownNameReturnsNil(t *testing.T) {
	if c := NewCompressor("lz4"); c != nil {
		t.Fatal("NewCompressor should return nil for an unrecognized name")
	}
	if c := NewCompressor("zstd-better"); c != nil {
		t.Fatal("NewCompressor should return nil for the dropped zstd-better name")
	}
}
