// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package calo describes the LHCb calorimeters: channel identifiers,
// decoded values, readout maps and calibration.
package calo // import "github.com/go-lpc/lhcb/calo"

import (
	"fmt"
)

// Name identifies one of the four calorimeters.
type Name uint8

const (
	Spd Name = iota
	Prs
	Ecal
	Hcal
)

var names = [...]string{"Spd", "Prs", "Ecal", "Hcal"}

func (n Name) String() string {
	if int(n) < len(names) {
		return names[n]
	}
	return fmt.Sprintf("Name(%d)", uint8(n))
}

// ParseName returns the calorimeter named s.
func ParseName(s string) (Name, error) {
	for i, v := range names {
		if v == s {
			return Name(i), nil
		}
	}
	return 0, fmt.Errorf("calo: unknown calorimeter %q", s)
}

func (n Name) MarshalText() ([]byte, error) {
	if int(n) >= len(names) {
		return nil, fmt.Errorf("calo: invalid calorimeter %d", uint8(n))
	}
	return []byte(n.String()), nil
}

func (n *Name) UnmarshalText(p []byte) error {
	v, err := ParseName(string(p))
	if err != nil {
		return err
	}
	*n = v
	return nil
}

const (
	colBits  = 6
	rowBits  = 6
	areaBits = 2

	rowShift  = colBits
	areaShift = rowShift + rowBits
	caloShift = areaShift + areaBits

	colMask  = 1<<colBits - 1
	rowMask  = 1<<rowBits - 1
	areaMask = 1<<areaBits - 1

	// PinArea is the area of the PIN-diode monitoring channels.
	PinArea = 3
)

// CellID identifies one calorimeter channel.
//
//	bits [ 0, 6): column
//	bits [ 6,12): row
//	bits [12,14): area
//	bits [14,16): calorimeter
//
// The zero CellID denotes an unconnected channel.
type CellID uint16

// NewCellID returns the identifier of the channel at the given position.
func NewCellID(calo Name, area, row, col int) CellID {
	return CellID(
		uint16(calo&3)<<caloShift |
			uint16(area&areaMask)<<areaShift |
			uint16(row&rowMask)<<rowShift |
			uint16(col&colMask),
	)
}

func (id CellID) Calo() Name { return Name(id >> caloShift) }
func (id CellID) Area() int  { return int(id>>areaShift) & areaMask }
func (id CellID) Row() int   { return int(id>>rowShift) & rowMask }
func (id CellID) Col() int   { return int(id) & colMask }

// IsPin reports whether id is a PIN-diode channel.
func (id CellID) IsPin() bool { return id.Area() == PinArea }

// WithCalo returns the same channel position in another calorimeter.
func (id CellID) WithCalo(calo Name) CellID {
	return id&^(3<<caloShift) | CellID(calo&3)<<caloShift
}

func (id CellID) String() string {
	return fmt.Sprintf("%v[a=%d,r=%d,c=%d]", id.Calo(), id.Area(), id.Row(), id.Col())
}

// Entry is a decoded value attached to a channel.
type Entry interface {
	CellID() CellID
}

// Adc is the raw digitized amplitude of one channel.
type Adc struct {
	ID    CellID
	Value int
}

func (v Adc) CellID() CellID { return v.ID }

// L0Adc is the amplitude of one channel as seen by the L0 trigger.
type L0Adc struct {
	ID    CellID
	Value int
}

func (v L0Adc) CellID() CellID { return v.ID }

// Digit is the calibrated energy of one channel.
type Digit struct {
	ID CellID
	E  float64
}

func (v Digit) CellID() CellID { return v.ID }

var (
	_ Entry = Adc{}
	_ Entry = L0Adc{}
	_ Entry = Digit{}
)

// Range tracks the minimum and maximum of a set of values.
type Range struct {
	Min, Max     int
	MinID, MaxID CellID
	N            int // number of filled values
}

// Fill adds value v of channel id to the range.
func (r *Range) Fill(id CellID, v int) {
	if r.N == 0 || v < r.Min {
		r.Min, r.MinID = v, id
	}
	if r.N == 0 || v > r.Max {
		r.Max, r.MaxID = v, id
	}
	r.N++
}

// Reset empties the range.
func (r *Range) Reset() { *r = Range{} }

// Empty reports whether no value was filled.
func (r Range) Empty() bool { return r.N == 0 }

func (r Range) String() string {
	if r.N == 0 {
		return "Range{}"
	}
	return fmt.Sprintf("Range{min=%d (%v), max=%d (%v), n=%d}", r.Min, r.MinID, r.Max, r.MaxID, r.N)
}

// CellID makes a channel identifier usable as a Vector entry.
func (id CellID) CellID() CellID { return id }
