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

package synth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/taint-rt/dfsan/smt"
)

type fakeModel struct {
	assignments []smt.Assignment
}

func (m fakeModel) Assignments() []smt.Assignment { return m.assignments }

func TestSynthesizeWritesPatchedByte(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, []byte("ABCD"), false)

	path, err := s.Synthesize(fakeModel{[]smt.Assignment{{Offset: 1, Value: 'Z'}}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "AZCD" {
		t.Fatalf("synthesized input = %q, want %q", got, "AZCD")
	}
}

func TestSynthesizeNamesFilesInEmissionOrder(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, []byte("AB"), false)

	p1, err := s.Synthesize(fakeModel{})
	if err != nil {
		t.Fatal(err)
	}
	p2, err := s.Synthesize(fakeModel{})
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(p1) != "id-00000000" || filepath.Base(p2) != "id-00000001" {
		t.Fatalf("got names %s, %s", filepath.Base(p1), filepath.Base(p2))
	}
	if s.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", s.Count())
	}
}

func TestSynthesizeStdinSourceFails(t *testing.T) {
	s := New(t.TempDir(), nil, true)
	if _, err := s.Synthesize(fakeModel{}); err != ErrStdinSource {
		t.Fatalf("Synthesize from stdin source: got %v, want ErrStdinSource", err)
	}
}

func TestSynthesizeFSizeGrowsAndCapsFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, []byte("AB"), false)

	path, err := s.Synthesize(fakeModel{[]smt.Assignment{{Name: "fsize", Value: 5}}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("grown file length = %d, want 5", len(got))
	}
	if string(got[:2]) != "AB" {
		t.Fatalf("grown file should keep original prefix, got %q", got)
	}

	path2, err := s.Synthesize(fakeModel{[]smt.Assignment{{Name: "fsize", Value: MaxFileSize + 100}}})
	if err != nil {
		t.Fatal(err)
	}
	got2, err := os.ReadFile(path2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got2) != MaxFileSize {
		t.Fatalf("grown file length = %d, want capped at %d", len(got2), MaxFileSize)
	}
}

func TestSynthesizeIgnoresOutOfBoundsOffset(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, []byte("AB"), false)
	path, err := s.Synthesize(fakeModel{[]smt.Assignment{{Offset: 99, Value: 'Z'}}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "AB" {
		t.Fatalf("out-of-bounds assignment should be ignored, got %q", got)
	}
}
