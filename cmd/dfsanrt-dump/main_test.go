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

package main

import (
	"testing"

	"github.com/taint-rt/dfsan/label"
)

func TestParseLineRoundTrips(t *testing.T) {
	id, rec, err := parseLine("16777216 (1 0 2 32)")
	if err != nil {
		t.Fatal(err)
	}
	if id != 16777216 {
		t.Fatalf("id = %d, want 16777216", id)
	}
	want := record{l1: 1, l2: 0, op: label.OpZExt, size: 32}
	if rec != want {
		t.Fatalf("record = %+v, want %+v", rec, want)
	}
}

func TestParseLineRejectsMalformedInput(t *testing.T) {
	cases := []string{
		"",
		"not a line",
		"5 (1 2 3)",     // too few fields
		"5 (1 2 3 x)",   // non-numeric field
		"x (1 2 3 4)",   // non-numeric id
	}
	for _, c := range cases {
		if _, _, err := parseLine(c); err == nil {
			t.Errorf("parseLine(%q) should have failed", c)
		}
	}
}

func TestRenderInputByteLeaf(t *testing.T) {
	recs := map[label.ID]record{}
	memo := map[label.ID]string{}
	got := render(label.ByteLabel(2), recs, memo)
	if got != "in[2]" {
		t.Fatalf("render(input byte) = %q, want in[2]", got)
	}
}

func TestRenderZExtOfInputByte(t *testing.T) {
	id := label.ConstOffset
	recs := map[label.ID]record{
		id: {l1: label.ByteLabel(0), l2: 0, op: label.OpZExt, size: 32},
	}
	memo := map[label.ID]string{}
	got := render(id, recs, memo)
	want := "zext32(in[0])"
	if got != want {
		t.Fatalf("render = %q, want %q", got, want)
	}
	if memo[id] != want {
		t.Fatal("render should memoize the rendered expression by id")
	}
}

func TestRenderICmpOfTwoSubExpressions(t *testing.T) {
	widen := label.ConstOffset
	cmp := label.ConstOffset + 1
	recs := map[label.ID]record{
		widen: {l1: label.ByteLabel(0), l2: 0, op: label.OpZExt, size: 32},
		cmp:   {l1: widen, l2: label.ByteLabel(1), op: label.WithPredicate(label.OpICmp, label.PredEq), size: 32},
	}
	memo := map[label.ID]string{}
	got := render(cmp, recs, memo)
	want := "(bveq zext32(in[0]) in[1])"
	if got != want {
		t.Fatalf("render = %q, want %q", got, want)
	}
}

func TestRenderMissingLabelIsReported(t *testing.T) {
	recs := map[label.ID]record{}
	memo := map[label.ID]string{}
	got := render(label.ConstOffset+99, recs, memo)
	if got == "" {
		t.Fatal("render of a missing label should not be empty")
	}
}
