// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calo

import (
	"encoding/json"
	"testing"
)

func TestCellID(t *testing.T) {
	for _, tc := range []struct {
		calo           Name
		area, row, col int
		want           CellID
		str            string
	}{
		{Spd, 0, 0, 0, 0x0000, "Spd[a=0,r=0,c=0]"},
		{Ecal, 0, 0, 1, 0x8001, "Ecal[a=0,r=0,c=1]"},
		{Ecal, 2, 31, 63, 0xa7ff, "Ecal[a=2,r=31,c=63]"},
		{Hcal, 1, 63, 5, 0xdfc5, "Hcal[a=1,r=63,c=5]"},
		{Prs, PinArea, 2, 3, 0x7083, "Prs[a=3,r=2,c=3]"},
	} {
		t.Run(tc.str, func(t *testing.T) {
			id := NewCellID(tc.calo, tc.area, tc.row, tc.col)
			if id != tc.want {
				t.Fatalf("invalid cell: got=0x%04x, want=0x%04x", uint16(id), uint16(tc.want))
			}
			if id.Calo() != tc.calo || id.Area() != tc.area || id.Row() != tc.row || id.Col() != tc.col {
				t.Fatalf("invalid fields: %v", id)
			}
			if got := id.String(); got != tc.str {
				t.Fatalf("invalid stringer: got=%q, want=%q", got, tc.str)
			}
			if got, want := id.IsPin(), tc.area == PinArea; got != want {
				t.Fatalf("invalid pin: got=%v, want=%v", got, want)
			}
		})
	}

	prs := NewCellID(Prs, 1, 12, 13)
	spd := prs.WithCalo(Spd)
	if got, want := spd, NewCellID(Spd, 1, 12, 13); got != want {
		t.Fatalf("invalid calo swap: got=%v, want=%v", got, want)
	}
	if got := spd.WithCalo(Prs); got != prs {
		t.Fatalf("invalid calo swap round-trip: got=%v, want=%v", got, prs)
	}
}

func TestName(t *testing.T) {
	for _, name := range []Name{Spd, Prs, Ecal, Hcal} {
		raw, err := json.Marshal(name)
		if err != nil {
			t.Fatalf("could not marshal %v: %+v", name, err)
		}
		var got Name
		err = json.Unmarshal(raw, &got)
		if err != nil {
			t.Fatalf("could not unmarshal %s: %+v", raw, err)
		}
		if got != name {
			t.Fatalf("invalid round-trip: got=%v, want=%v", got, name)
		}
	}

	_, err := ParseName("Muon")
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := err.Error(), `calo: unknown calorimeter "Muon"`; got != want {
		t.Fatalf("invalid error: got=%q, want=%q", got, want)
	}
	if got, want := Name(7).String(), "Name(7)"; got != want {
		t.Fatalf("invalid stringer: got=%q, want=%q", got, want)
	}
}

func TestRange(t *testing.T) {
	var r Range
	if !r.Empty() {
		t.Fatalf("range should be empty")
	}
	if got, want := r.String(), "Range{}"; got != want {
		t.Fatalf("invalid stringer: got=%q, want=%q", got, want)
	}

	a := NewCellID(Ecal, 0, 1, 1)
	b := NewCellID(Ecal, 0, 1, 2)
	c := NewCellID(Ecal, 0, 1, 3)
	r.Fill(a, 10)
	r.Fill(b, -3)
	r.Fill(c, 42)
	r.Fill(a, 10)

	if r.Min != -3 || r.MinID != b || r.Max != 42 || r.MaxID != c || r.N != 4 {
		t.Fatalf("invalid range: %v", r)
	}

	r.Reset()
	if !r.Empty() {
		t.Fatalf("range not reset: %v", r)
	}
}
