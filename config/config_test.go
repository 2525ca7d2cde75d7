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

package config

import "testing"

func TestParseDefaults(t *testing.T) {
	c, err := Parse("test", nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.TaintFile != "stdin" {
		t.Errorf("TaintFile = %q, want %q", c.TaintFile, "stdin")
	}
	if c.OutputDir != "." {
		t.Errorf("OutputDir = %q, want %q", c.OutputDir, ".")
	}
	if c.SessionID == "" {
		t.Error("SessionID should be minted when unset")
	}
	if !c.IsStdin() {
		t.Error("IsStdin() should be true for the default taint-file")
	}
}

func TestParseFlags(t *testing.T) {
	c, err := Parse("test", []string{
		"-taint-file", "/tmp/in",
		"-output-dir", "/tmp/out",
		"-session-id", "fixed-session",
		"-warn-unimplemented",
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.TaintFile != "/tmp/in" {
		t.Errorf("TaintFile = %q, want /tmp/in", c.TaintFile)
	}
	if c.OutputDir != "/tmp/out" {
		t.Errorf("OutputDir = %q, want /tmp/out", c.OutputDir)
	}
	if c.SessionID != "fixed-session" {
		t.Errorf("SessionID = %q, want fixed-session (should not be overwritten)", c.SessionID)
	}
	if !c.WarnUnimplemented {
		t.Error("WarnUnimplemented should be true")
	}
	if c.IsStdin() {
		t.Error("IsStdin() should be false for an explicit taint-file")
	}
}

func TestParseRejectsUnknownFlag(t *testing.T) {
	if _, err := Parse("test", []string{"-not-a-flag"}); err == nil {
		t.Fatal("expected an error for an unknown flag")
	}
}
