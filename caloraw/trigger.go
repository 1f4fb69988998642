// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package caloraw

import (
	"fmt"

	"github.com/go-lpc/lhcb/calo"
	"github.com/go-lpc/lhcb/rawbank"
	"github.com/go-lpc/lhcb/readout"
)

// l0Reader decodes the L0 trigger data of one calorimeter:
// 8-bit L0 ADC values for Ecal/Hcal, trigger bits for Prs/Spd.
type l0Reader struct {
	driver

	geo  calo.Geometry
	name calo.Name
	src  int

	l0  channels[calo.L0Adc]
	rng calo.Range
}

func newL0Reader(tool string, geo calo.Geometry, opts []readout.Option) (*l0Reader, error) {
	types, err := trigTypes(geo.Calo())
	if err != nil {
		return nil, err
	}
	r := &l0Reader{
		geo:  geo,
		name: geo.Calo(),
	}
	r.l0.onStd = r.commit
	r.Tool = readout.New(tool, geo, types, r.clear, opts...)
	r.driver.decode = r.decodeL0
	return r, nil
}

// SetGeometry installs new readout conditions and invalidates the
// current event.
func (r *l0Reader) SetGeometry(geo calo.Geometry) error {
	if geo.Calo() != r.name {
		return fmt.Errorf("caloraw: invalid geometry for %v decoder (got=%v)", r.name, geo.Calo())
	}
	r.geo = geo
	r.SetDetector(geo)
	return nil
}

func (r *l0Reader) clear() {
	r.l0.reset()
	r.rng.Reset()
}

func (r *l0Reader) commit(vs []calo.L0Adc) {
	for _, v := range vs {
		r.rng.Fill(v.ID, v.Value)
	}
}

func (r *l0Reader) fill(id calo.CellID, v int) {
	if !r.l0.add(calo.L0Adc{ID: id, Value: v}) {
		duplicate(r.Tool, r.src, id)
	}
}

func (r *l0Reader) decodeL0(b *rawbank.Bank) bool {
	r.src = b.SourceID
	var (
		prs, spd emitter
		bits     = r.name == calo.Prs || r.name == calo.Spd
	)
	switch r.name {
	case calo.Prs:
		prs = r.fill
	case calo.Spd:
		spd = r.fill
	}

	if b.Type == r.Types().Short {
		return r.Decode(b, &r.l0, func(words []uint32) readout.Flag {
			if bits {
				return parseBitsSimple(r.geo, words, prs, spd)
			}
			return parseL0Simple(r.geo, words, r.fill)
		}, VersionSimple)
	}

	return r.Decode(b, &r.l0, func(words []uint32) readout.Flag {
		return walkCards(r.geo, b.SourceID, words, bits, func(blk block) readout.Flag {
			chans := r.geo.CardChannels(blk.card)
			if bits {
				return parsePrsTrig(chans, blk, prs, spd)
			}
			return parseCompressedTrig(chans, blk.trig, r.fill)
		})
	}, packedVersion(r.name))
}

func (r *l0Reader) all() []calo.L0Adc {
	r.decodeAll()
	return r.l0.std.Values()
}

func (r *l0Reader) forSource(src int) []calo.L0Adc {
	r.ensure(src)
	return r.l0.forSource(src)
}

func (r *l0Reader) bank(b *rawbank.Bank) []calo.L0Adc {
	r.only(b)
	return r.l0.std.Values()
}

func (r *l0Reader) pins() []calo.L0Adc {
	r.decodeAll()
	return r.l0.pin.Values()
}

// TriggerAdcsFromRaw decodes the L0 ADC values of Ecal or Hcal.
type TriggerAdcsFromRaw struct {
	*l0Reader
}

// NewTriggerAdcsFromRaw creates a new L0 ADC decoder for the Ecal or Hcal
// readout described by geo.
func NewTriggerAdcsFromRaw(geo calo.Geometry, opts ...readout.Option) (*TriggerAdcsFromRaw, error) {
	switch geo.Calo() {
	case calo.Ecal, calo.Hcal:
	default:
		return nil, fmt.Errorf("caloraw: no L0 ADC for %v", geo.Calo())
	}
	r, err := newL0Reader("caloraw-l0adc", geo, opts)
	if err != nil {
		return nil, err
	}
	return &TriggerAdcsFromRaw{r}, nil
}

func (t *TriggerAdcsFromRaw) Adcs() []calo.L0Adc                    { return t.all() }
func (t *TriggerAdcsFromRaw) AdcsFor(src int) []calo.L0Adc          { return t.forSource(src) }
func (t *TriggerAdcsFromRaw) AdcsBank(b *rawbank.Bank) []calo.L0Adc { return t.bank(b) }
func (t *TriggerAdcsFromRaw) PinAdcs() []calo.L0Adc                 { return t.pins() }

// L0DataProvider gives random access to the L0 data of the channels of
// one calorimeter. Prs and Spd channels carry a unit value when their
// trigger bit is set.
type L0DataProvider struct {
	*l0Reader
}

// NewL0DataProvider creates a new L0 data provider for the calorimeter
// described by geo. The Spd provider reads the Prs banks through the Spd
// view of the Prs readout.
func NewL0DataProvider(geo calo.Geometry, opts ...readout.Option) (*L0DataProvider, error) {
	r, err := newL0Reader("caloraw-l0data", geo, opts)
	if err != nil {
		return nil, err
	}
	return &L0DataProvider{r}, nil
}

// L0Adc returns the L0 value of channel id, or def if the channel was not
// read out. L0Adc panics if id belongs to another calorimeter.
func (dp *L0DataProvider) L0Adc(id calo.CellID, def int) int {
	checkCalo(dp.name, id)
	dp.decodeAll()
	v, ok := dp.l0.lookup(id)
	if !ok {
		return def
	}
	return v.Value
}

func (dp *L0DataProvider) L0Adcs() []calo.L0Adc                    { return dp.all() }
func (dp *L0DataProvider) L0AdcsFor(src int) []calo.L0Adc          { return dp.forSource(src) }
func (dp *L0DataProvider) L0AdcsBank(b *rawbank.Bank) []calo.L0Adc { return dp.bank(b) }
func (dp *L0DataProvider) PinAdcs() []calo.L0Adc                   { return dp.pins() }

// ADCRange returns the range of the standard L0 values.
func (dp *L0DataProvider) ADCRange() calo.Range {
	dp.decodeAll()
	return dp.rng
}

// TriggerBitsFromRaw decodes the Prs and Spd trigger bits.
type TriggerBitsFromRaw struct {
	driver

	geo calo.Geometry
	src int

	prs channels[calo.CellID]
	spd channels[calo.CellID]
}

// NewTriggerBitsFromRaw creates a new trigger bits decoder for the Prs
// readout described by geo.
func NewTriggerBitsFromRaw(geo calo.Geometry, opts ...readout.Option) (*TriggerBitsFromRaw, error) {
	if geo.Calo() != calo.Prs {
		return nil, fmt.Errorf("caloraw: no trigger bits for %v", geo.Calo())
	}
	types, err := trigTypes(calo.Prs)
	if err != nil {
		return nil, err
	}
	tb := &TriggerBitsFromRaw{geo: geo}
	tb.Tool = readout.New("caloraw-bits", geo, types, tb.clear, opts...)
	tb.driver.decode = tb.decodeBits
	return tb, nil
}

// SetGeometry installs new readout conditions and invalidates the
// current event.
func (tb *TriggerBitsFromRaw) SetGeometry(geo calo.Geometry) error {
	if geo.Calo() != calo.Prs {
		return fmt.Errorf("caloraw: invalid geometry for trigger bits decoder (got=%v)", geo.Calo())
	}
	tb.geo = geo
	tb.SetDetector(geo)
	return nil
}

func (tb *TriggerBitsFromRaw) clear() {
	tb.prs.reset()
	tb.spd.reset()
}

func (tb *TriggerBitsFromRaw) fillPrs(id calo.CellID, _ int) {
	if !tb.prs.add(id) {
		duplicate(tb.Tool, tb.src, id)
	}
}

func (tb *TriggerBitsFromRaw) fillSpd(id calo.CellID, _ int) {
	if !tb.spd.add(id) {
		duplicate(tb.Tool, tb.src, id)
	}
}

func (tb *TriggerBitsFromRaw) decodeBits(b *rawbank.Bank) bool {
	tb.src = b.SourceID
	st := stagers{&tb.prs, &tb.spd}
	if b.Type == tb.Types().Short {
		return tb.Decode(b, st, func(words []uint32) readout.Flag {
			return parseBitsSimple(tb.geo, words, tb.fillPrs, tb.fillSpd)
		}, VersionSimple)
	}
	return tb.Decode(b, st, func(words []uint32) readout.Flag {
		return walkCards(tb.geo, b.SourceID, words, true, func(blk block) readout.Flag {
			return parsePrsTrig(tb.geo.CardChannels(blk.card), blk, tb.fillPrs, tb.fillSpd)
		})
	}, VersionPrs)
}

// Prs returns the Prs channels with a set trigger bit.
func (tb *TriggerBitsFromRaw) Prs() []calo.CellID {
	tb.decodeAll()
	return tb.prs.std.Values()
}

// Spd returns the Spd channels with a set trigger bit.
func (tb *TriggerBitsFromRaw) Spd() []calo.CellID {
	tb.decodeAll()
	return tb.spd.std.Values()
}

// For returns the Prs and Spd channels with a set trigger bit, read out
// by src.
func (tb *TriggerBitsFromRaw) For(src int) (prs, spd []calo.CellID) {
	tb.ensure(src)
	return tb.prs.forSource(src), tb.spd.forSource(src)
}

// Bank decodes b alone and returns its Prs and Spd channels with a set
// trigger bit.
func (tb *TriggerBitsFromRaw) Bank(b *rawbank.Bank) (prs, spd []calo.CellID) {
	tb.only(b)
	return tb.prs.std.Values(), tb.spd.std.Values()
}
