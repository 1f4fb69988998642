// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package readout

import (
	"fmt"
	"strings"

	"github.com/go-lpc/lhcb/rawbank"
	"golang.org/x/exp/slices"
)

// Flag is a bitmask describing the outcome of decoding the banks of one
// readout board.
type Flag uint32

const (
	OK                Flag = 0
	Corrupted         Flag = 1 << 0
	Incomplete        Flag = 1 << 1
	Missing           Flag = 1 << 2
	Empty             Flag = 1 << 3
	DuplicateEntry    Flag = 1 << 4
	Tell1Sync         Flag = 1 << 5
	Tell1Link         Flag = 1 << 6
	Tell1Error        Flag = 1 << 7
	ErrorBank         Flag = 1 << 8
	MissingSuppressed Flag = 1 << 9
	BadMagicPattern   Flag = 1 << 10
	Unknown           Flag = 1 << 11
	DataCorrupted     Flag = 1 << 12
	Unexpected        Flag = 1 << 13
)

var flagNames = []struct {
	f    Flag
	name string
}{
	{Corrupted, "Corrupted"},
	{Incomplete, "Incomplete"},
	{Missing, "Missing"},
	{Empty, "Empty"},
	{DuplicateEntry, "DuplicateEntry"},
	{Tell1Sync, "Tell1Sync"},
	{Tell1Link, "Tell1Link"},
	{Tell1Error, "Tell1Error"},
	{ErrorBank, "ErrorBank"},
	{MissingSuppressed, "MissingSuppressed"},
	{BadMagicPattern, "BadMagicPattern"},
	{Unknown, "Unknown"},
	{DataCorrupted, "DataCorrupted"},
	{Unexpected, "Unexpected"},
}

// Has reports whether all the bits of v are set in f.
func (f Flag) Has(v Flag) bool { return f&v == v }

func (f Flag) String() string {
	if f == OK {
		return "OK"
	}
	var names []string
	for _, v := range flagNames {
		if f&v.f != 0 {
			names = append(names, v.name)
			f &^= v.f
		}
	}
	if f != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(f)))
	}
	return strings.Join(names, "|")
}

// Status records, for one bank type, the decoding outcome of every
// readout board seen during the current event.
type Status struct {
	typ  rawbank.Type
	srcs map[int]Flag
}

// NewStatus returns an empty status table for the given bank type.
func NewStatus(typ rawbank.Type) *Status {
	return &Status{typ: typ, srcs: make(map[int]Flag)}
}

// Type returns the bank type this status table describes.
func (st *Status) Type() rawbank.Type { return st.typ }

// Add ORs f into the status of source src.
// Adding OK registers the source without changing its flags.
func (st *Status) Add(src int, f Flag) {
	st.srcs[src] |= f
}

// Get returns the status of source src, or Unknown if the source
// was never registered.
func (st *Status) Get(src int) Flag {
	f, ok := st.srcs[src]
	if !ok {
		return Unknown
	}
	return f
}

// Has reports whether source src was registered.
func (st *Status) Has(src int) bool {
	_, ok := st.srcs[src]
	return ok
}

// Global returns the OR of the flags of all registered sources.
func (st *Status) Global() Flag {
	var f Flag
	for _, v := range st.srcs {
		f |= v
	}
	return f
}

// Sources returns the sorted list of registered sources.
func (st *Status) Sources() []int {
	srcs := make([]int, 0, len(st.srcs))
	for src := range st.srcs {
		srcs = append(srcs, src)
	}
	slices.Sort(srcs)
	return srcs
}

// Len returns the number of registered sources.
func (st *Status) Len() int { return len(st.srcs) }

// Reset unregisters all sources.
func (st *Status) Reset() {
	for k := range st.srcs {
		delete(st.srcs, k)
	}
}

// Clone returns a deep copy of the status table.
func (st *Status) Clone() *Status {
	o := NewStatus(st.typ)
	for k, v := range st.srcs {
		o.srcs[k] = v
	}
	return o
}

func (st *Status) String() string {
	o := new(strings.Builder)
	fmt.Fprintf(o, "Status{type=%v", st.typ)
	for _, src := range st.Sources() {
		fmt.Fprintf(o, ", %d:%v", src, st.srcs[src])
	}
	o.WriteString("}")
	return o.String()
}

// Sink receives the status table of a fully decoded event.
type Sink interface {
	PutStatus(st *Status)
}
