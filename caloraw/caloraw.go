// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package caloraw decodes the raw banks of the LHCb calorimeters.
//
// Every decoder owns a readout.Tool and a cache of decoded values.
// Banks are fetched and decoded lazily, on the first access after an
// event or conditions change, and never decoded twice within an event.
// Decoders are not safe for concurrent use.
package caloraw // import "github.com/go-lpc/lhcb/caloraw"

import (
	"fmt"

	"github.com/go-lpc/lhcb/calo"
	"github.com/go-lpc/lhcb/rawbank"
	"github.com/go-lpc/lhcb/readout"
)

// Bank versions.
const (
	VersionSimple     = 1 // one word per channel
	VersionWords      = 2 // one word per channel, Tell1 local index
	VersionCompressed = 3 // Ecal/Hcal front-end card blocks
	VersionPrs        = 4 // Prs/Spd front-end card blocks
)

func adcTypes(name calo.Name) (readout.BankTypes, error) {
	switch name {
	case calo.Ecal:
		return readout.BankTypes{Packed: rawbank.EcalPacked, Short: rawbank.EcalE, Error: rawbank.EcalPackedError}, nil
	case calo.Hcal:
		return readout.BankTypes{Packed: rawbank.HcalPacked, Short: rawbank.HcalE, Error: rawbank.HcalPackedError}, nil
	case calo.Prs:
		return readout.BankTypes{Packed: rawbank.PrsPacked, Short: rawbank.PrsE, Error: rawbank.PrsPackedError}, nil
	}
	return readout.BankTypes{}, fmt.Errorf("caloraw: no ADC bank for %v", name)
}

func trigTypes(name calo.Name) (readout.BankTypes, error) {
	switch name {
	case calo.Ecal:
		return readout.BankTypes{Packed: rawbank.EcalPacked, Short: rawbank.EcalTrig, Error: rawbank.EcalPackedError}, nil
	case calo.Hcal:
		return readout.BankTypes{Packed: rawbank.HcalPacked, Short: rawbank.HcalTrig, Error: rawbank.HcalPackedError}, nil
	case calo.Prs, calo.Spd:
		return readout.BankTypes{Packed: rawbank.PrsPacked, Short: rawbank.PrsTrig, Error: rawbank.PrsPackedError}, nil
	}
	return readout.BankTypes{}, fmt.Errorf("caloraw: no trigger bank for %v", name)
}

// packedVersion returns the version of the packed banks of a calorimeter
// carrying front-end card blocks.
func packedVersion(name calo.Name) uint8 {
	switch name {
	case calo.Prs, calo.Spd:
		return VersionPrs
	default:
		return VersionCompressed
	}
}

type span struct{ beg, end int }

// channels caches decoded entries, keeping PIN-diode channels apart.
type channels[T calo.Entry] struct {
	std  calo.Vector[T]
	pin  calo.Vector[T]
	srcs map[int][2]span

	mark [2]int

	// hooks called on committed entries.
	onStd func(vs []T)
	onPin func(vs []T)
}

func (c *channels[T]) add(v T) bool {
	if v.CellID().IsPin() {
		return c.pin.Add(v)
	}
	return c.std.Add(v)
}

func (c *channels[T]) lookup(id calo.CellID) (T, bool) {
	if id.IsPin() {
		return c.pin.Lookup(id)
	}
	return c.std.Lookup(id)
}

func (c *channels[T]) Begin() {
	c.mark = [2]int{c.std.Len(), c.pin.Len()}
}

func (c *channels[T]) Rollback() {
	c.std.Truncate(c.mark[0])
	c.pin.Truncate(c.mark[1])
}

func (c *channels[T]) Commit(src int) {
	if c.srcs == nil {
		c.srcs = make(map[int][2]span)
	}
	sp := [2]span{
		{c.mark[0], c.std.Len()},
		{c.mark[1], c.pin.Len()},
	}
	c.srcs[src] = sp
	if c.onStd != nil {
		c.onStd(c.std.Slice(sp[0].beg, sp[0].end))
	}
	if c.onPin != nil {
		c.onPin(c.pin.Slice(sp[1].beg, sp[1].end))
	}
}

func (c *channels[T]) reset() {
	c.std.Clear()
	c.pin.Clear()
	for k := range c.srcs {
		delete(c.srcs, k)
	}
}

func (c *channels[T]) forSource(src int) []T {
	sp, ok := c.srcs[src]
	if !ok {
		return nil
	}
	return c.std.Slice(sp[0].beg, sp[0].end)
}

func (c *channels[T]) pinsForSource(src int) []T {
	sp, ok := c.srcs[src]
	if !ok {
		return nil
	}
	return c.pin.Slice(sp[1].beg, sp[1].end)
}

// stagers stages the entries of one bank into several caches.
type stagers []readout.Stager

func (ss stagers) Begin() {
	for _, s := range ss {
		s.Begin()
	}
}

func (ss stagers) Rollback() {
	for _, s := range ss {
		s.Rollback()
	}
}

func (ss stagers) Commit(src int) {
	for _, s := range ss {
		s.Commit(src)
	}
}

// duplicate records a channel already decoded during this event.
func duplicate(t *readout.Tool, src int, id calo.CellID) {
	t.Status().Add(src, readout.DuplicateEntry)
	t.Counters().Duplicates++
	t.Logger().Printf("duplicate entry for channel %v (source=%d)", id, src)
}

func checkCalo(name calo.Name, id calo.CellID) {
	if id.Calo() != name {
		panic(fmt.Errorf("caloraw: channel %v does not belong to %v", id, name))
	}
}

// driver runs the per-event decoding cycle of a decoder.
type driver struct {
	*readout.Tool
	decode func(b *rawbank.Bank) bool
}

// decodeAll decodes every fetched bank not decoded yet.
func (d *driver) decodeAll() {
	if d.State() == readout.Decoded {
		return
	}
	for _, b := range d.Banks() {
		if d.IsRead(b.SourceID) {
			continue
		}
		d.CheckSrc(b.SourceID)
		d.decode(b)
	}
	d.MarkDecoded()
}

// ensure decodes the bank of src, unless already done.
func (d *driver) ensure(src int) {
	if !d.IsRead(src) {
		d.DecodeTell1(src)
	}
}

// only decodes b alone, dropping the banks of the current event.
func (d *driver) only(b *rawbank.Bank) {
	d.SetBanks([]*rawbank.Bank{b})
	d.decodeAll()
}

// DecodeTell1 decodes the bank of readout board src.
// DecodeTell1 reports false when no bank could be decoded.
func (d *driver) DecodeTell1(src int) bool {
	if !d.OK() {
		return false
	}
	if d.CheckSrc(src) {
		return true
	}
	for _, b := range d.Banks() {
		if b.SourceID == src {
			return d.decode(b)
		}
	}
	return false
}

// DecodeBank decodes b into the cache of the current event.
// A bank whose source was already decoded is flagged, not decoded again.
func (d *driver) DecodeBank(b *rawbank.Bank) bool {
	if d.State() == readout.NotFetched {
		d.SetBanks([]*rawbank.Bank{b})
	}
	if d.CheckSrc(b.SourceID) {
		return true
	}
	return d.decode(b)
}
