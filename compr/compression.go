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

// Package compr wraps github.com/klauspost/compress/zstd behind a small
// Compressor, used by package runtime to optionally shrink a large
// labels-dump file written at fini.
package compr

import "github.com/klauspost/compress/zstd"

// Compressor appends the compressed contents of src to dst.
type Compressor interface {
	Name() string
	Compress(src, dst []byte) []byte
}

type zstdCompressor struct {
	enc *zstd.Encoder
}

func (z zstdCompressor) Compress(src, dst []byte) []byte {
	return z.enc.EncodeAll(src, dst)
}

func (z zstdCompressor) Name() string { return "zstd" }

// NewCompressor returns the zstd Compressor used to shrink a labels
// dump, or nil if name is unrecognized.
func NewCompressor(name string) Compressor {
	if name != "zstd" {
		return nil
	}
	z, _ := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	return zstdCompressor{z}
}
