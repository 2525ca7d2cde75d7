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

// Command dfsanrt-dump pretty-prints a labels-dump file written by
// package runtime's DumpLabelsAtExit option (SPEC_FULL.md §4.13),
// resolving each label's id into a human-readable expression instead of
// the raw (l1 l2 op size) tuple, the same role cmd/dump played for the
// teacher's ion-encoded query traces.
//
// The dump format records only a label's shape (l1, l2, op, size), not
// its concrete fallback operands - those are reproducible from the
// input file itself but aren't needed to see the DAG's structure, so
// this tool renders a concrete leaf as "?" rather than its value.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/taint-rt/dfsan/label"
)

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "dfsanrt-dump: "+format+"\n", args...)
	os.Exit(1)
}

// record is the parsed counterpart of one dump line.
type record struct {
	l1, l2 label.ID
	op     label.Op
	size   uint32
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		args = []string{"-"}
	}

	recs := make(map[label.ID]record)
	var order []label.ID
	for _, arg := range args {
		if err := readDump(arg, recs, &order); err != nil {
			exitf("%s: %s", arg, err)
		}
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	memo := make(map[label.ID]string, len(recs))
	for _, id := range order {
		fmt.Fprintf(w, "%s = %s\n", id, render(id, recs, memo))
	}
}

// readDump opens path (or stdin for "-"), transparently decompressing a
// ".zst" suffixed file with a streaming zstd.Decoder, and parses every
// "<id> (<l1> <l2> <op> <size>)" line into recs, appending newly seen
// ids to *order so output preserves allocation order.
func readDump(path string, recs map[label.ID]record, order *[]label.ID) error {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
		if strings.HasSuffix(path, ".zst") {
			dec, err := zstd.NewReader(f)
			if err != nil {
				return err
			}
			defer dec.Close()
			r = dec
		}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		id, rec, err := parseLine(line)
		if err != nil {
			return err
		}
		if _, seen := recs[id]; !seen {
			*order = append(*order, id)
		}
		recs[id] = rec
	}
	return sc.Err()
}

// parseLine parses "<id> (<l1> <l2> <op> <size>)" as written by
// runtime.Lifecycle.dumpLabels.
func parseLine(line string) (label.ID, record, error) {
	open := strings.IndexByte(line, '(')
	shut := strings.IndexByte(line, ')')
	if open < 0 || shut < open {
		return 0, record{}, fmt.Errorf("malformed line %q", line)
	}
	idStr := strings.TrimSpace(line[:open])
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return 0, record{}, fmt.Errorf("bad id %q: %w", idStr, err)
	}
	fields := strings.Fields(line[open+1 : shut])
	if len(fields) != 4 {
		return 0, record{}, fmt.Errorf("malformed fields in %q", line)
	}
	var nums [4]uint64
	for i, f := range fields {
		n, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return 0, record{}, fmt.Errorf("bad field %q: %w", f, err)
		}
		nums[i] = n
	}
	return label.ID(id), record{
		l1:   label.ID(nums[0]),
		l2:   label.ID(nums[1]),
		op:   label.Op(nums[2]),
		size: uint32(nums[3]),
	}, nil
}

// render produces a human-readable expression for id, walking sub-labels
// recursively and memoizing by id the same way symexpr.serializer does.
func render(id label.ID, recs map[label.ID]record, memo map[label.ID]string) string {
	switch {
	case id == label.Untainted:
		return "?"
	case id == label.Initializing:
		return "<initializing>"
	case id.IsInputByte():
		return fmt.Sprintf("in[%d]", id.ByteOffset())
	}
	if s, ok := memo[id]; ok {
		return s
	}
	rec, ok := recs[id]
	if !ok {
		s := fmt.Sprintf("<missing L%d>", uint32(id))
		memo[id] = s
		return s
	}

	base := rec.op.Base()
	var s string
	switch base {
	case label.OpICmp:
		s = fmt.Sprintf("(%s %s %s)", rec.op.Predicate(), render(rec.l1, recs, memo), render(rec.l2, recs, memo))
	case label.OpLoad:
		s = fmt.Sprintf("load%d(%s)", rec.size, render(rec.l1, recs, memo))
	case label.OpZExt:
		s = fmt.Sprintf("zext%d(%s)", rec.size, render(rec.l1, recs, memo))
	case label.OpSExt:
		s = fmt.Sprintf("sext%d(%s)", rec.size, render(rec.l1, recs, memo))
	case label.OpTrunc:
		s = fmt.Sprintf("trunc%d(%s)", rec.size, render(rec.l1, recs, memo))
	case label.OpExtract:
		s = fmt.Sprintf("extract%d(%s)", rec.size, render(rec.l1, recs, memo))
	case label.OpConcat:
		s = fmt.Sprintf("concat(%s, %s)", render(rec.l1, recs, memo), render(rec.l2, recs, memo))
	case label.OpNot, label.OpNeg:
		s = fmt.Sprintf("%s(%s)", base, render(rec.l2, recs, memo))
	case label.OpFMemcmp:
		s = fmt.Sprintf("memcmp(%s, %s)", render(rec.l1, recs, memo), render(rec.l2, recs, memo))
	case label.OpFSize:
		s = fmt.Sprintf("fsize(%s)", render(rec.l1, recs, memo))
	default:
		s = fmt.Sprintf("%s(%s, %s)", base, render(rec.l1, recs, memo), render(rec.l2, recs, memo))
	}
	memo[id] = s
	return s
}
