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

package shadow

import (
	"testing"

	"github.com/taint-rt/dfsan/label"
)

func TestReserveBaseAndRange(t *testing.T) {
	m := Reserve(0x1000, 16)
	if m.Base() != 0x1000 {
		t.Fatalf("Base() = %#x, want %#x", m.Base(), 0x1000)
	}
	if !m.InRange(0x1000) || !m.InRange(0x100f) {
		t.Fatal("boundary addresses should be in range")
	}
	if m.InRange(0x1010) || m.InRange(0xfff) {
		t.Fatal("addresses outside [base, base+size) should not be in range")
	}
}

func TestLoadDefaultsToUntainted(t *testing.T) {
	m := Reserve(0x2000, 8)
	if got := m.Load(0x2000); got != label.Untainted {
		t.Fatalf("unwritten cell = %v, want Untainted", got)
	}
}

func TestStoreLoadRoundTrip(t *testing.T) {
	m := Reserve(0x3000, 8)
	id := label.ByteLabel(5)
	m.Store(0x3000+3, id)
	if got := m.Load(0x3000 + 3); got != id {
		t.Fatalf("Load = %v, want %v", got, id)
	}
	if got := m.Load(0x3000 + 4); got != label.Untainted {
		t.Fatalf("neighboring cell = %v, want Untainted", got)
	}
}

func TestLoadNStoreN(t *testing.T) {
	m := Reserve(0x4000, 8)
	want := []label.ID{label.ByteLabel(0), label.ByteLabel(1), label.ByteLabel(2)}
	m.StoreN(0x4000, want)
	got := m.LoadN(0x4000, len(want))
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("cell %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSetRange(t *testing.T) {
	m := Reserve(0x5000, 8)
	id := label.ByteLabel(9)
	m.SetRange(0x5000+2, 3, id)
	for i := 2; i < 5; i++ {
		if got := m.Load(0x5000 + uintptr(i)); got != id {
			t.Errorf("cell %d = %v, want %v", i, got, id)
		}
	}
	if got := m.Load(0x5000 + 5); got != label.Untainted {
		t.Errorf("cell past the marked range = %v, want Untainted", got)
	}
}

func TestShadowAppInverse(t *testing.T) {
	m := Reserve(0x6000, 32)
	for _, a := range []uintptr{0x6000, 0x6001, 0x601f} {
		off := m.Shadow(a)
		if got := m.App(off); got != a {
			t.Errorf("App(Shadow(%#x)) = %#x, want %#x", a, got, a)
		}
	}
}

func TestShadowOutOfRangePanics(t *testing.T) {
	m := Reserve(0x7000, 4)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-range address")
		}
	}()
	m.Shadow(0x7010)
}
