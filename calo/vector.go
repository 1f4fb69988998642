// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calo

const nCells = 1 << 16

// Vector holds at most one entry per channel, in insertion order,
// with constant time lookup by channel identifier.
//
// The zero value is an empty vector ready to use.
type Vector[T Entry] struct {
	index []int32 // 1+position of each channel in vals, 0 if absent
	vals  []T
}

// Add inserts e if its channel has no entry yet.
// Add reports false, leaving the vector unchanged, otherwise.
func (v *Vector[T]) Add(e T) bool {
	if v.index == nil {
		v.index = make([]int32, nCells)
	}
	id := e.CellID()
	if v.index[id] != 0 {
		return false
	}
	v.vals = append(v.vals, e)
	v.index[id] = int32(len(v.vals))
	return true
}

// Index returns the position of the entry of channel id.
func (v *Vector[T]) Index(id CellID) (int, bool) {
	if v.index == nil {
		return 0, false
	}
	i := v.index[id]
	if i == 0 {
		return 0, false
	}
	return int(i - 1), true
}

// Lookup returns the entry of channel id.
func (v *Vector[T]) Lookup(id CellID) (T, bool) {
	i, ok := v.Index(id)
	if !ok {
		var zero T
		return zero, false
	}
	return v.vals[i], true
}

// Has reports whether channel id has an entry.
func (v *Vector[T]) Has(id CellID) bool {
	_, ok := v.Index(id)
	return ok
}

// Len returns the number of entries.
func (v *Vector[T]) Len() int { return len(v.vals) }

// Values returns all the entries, in insertion order.
// The returned slice is owned by the vector.
func (v *Vector[T]) Values() []T { return v.vals[:len(v.vals):len(v.vals)] }

// Slice returns the entries inserted at positions [beg, end).
func (v *Vector[T]) Slice(beg, end int) []T { return v.vals[beg:end:end] }

// Truncate drops all the entries inserted at position n or after.
func (v *Vector[T]) Truncate(n int) {
	for _, e := range v.vals[n:] {
		v.index[e.CellID()] = 0
	}
	v.vals = v.vals[:n]
}

// Clear drops all the entries.
func (v *Vector[T]) Clear() {
	if len(v.vals) == 0 {
		return
	}
	v.Truncate(0)
}
