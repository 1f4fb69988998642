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

// adcReader decodes the ADC banks of one calorimeter and converts the
// ADC values into digits.
type adcReader struct {
	driver

	geo  calo.Geometry
	name calo.Name
	src  int // source of the bank being decoded

	adcs   channels[calo.Adc]
	digits calo.Vector[calo.Digit] // aligned with adcs.std
	rng    calo.Range
	pinRng calo.Range
}

func newADCReader(tool string, geo calo.Geometry, opts []readout.Option) (*adcReader, error) {
	types, err := adcTypes(geo.Calo())
	if err != nil {
		return nil, err
	}
	r := &adcReader{
		geo:  geo,
		name: geo.Calo(),
	}
	r.adcs.onStd = r.commitStd
	r.adcs.onPin = r.commitPin
	r.Tool = readout.New(tool, geo, types, r.clear, opts...)
	r.driver.decode = r.decodeADC
	return r, nil
}

// SetGeometry installs new readout conditions and invalidates the
// current event.
func (r *adcReader) SetGeometry(geo calo.Geometry) error {
	if geo.Calo() != r.name {
		return fmt.Errorf("caloraw: invalid geometry for %v decoder (got=%v)", r.name, geo.Calo())
	}
	r.geo = geo
	r.SetDetector(geo)
	return nil
}

func (r *adcReader) clear() {
	r.adcs.reset()
	r.digits.Clear()
	r.rng.Reset()
	r.pinRng.Reset()
}

func (r *adcReader) commitStd(vs []calo.Adc) {
	for _, v := range vs {
		r.rng.Fill(v.ID, v.Value)
		r.digits.Add(calo.Digit{ID: v.ID, E: calo.Energy(r.geo, v.ID, v.Value)})
	}
}

func (r *adcReader) commitPin(vs []calo.Adc) {
	for _, v := range vs {
		r.pinRng.Fill(v.ID, v.Value)
	}
}

func (r *adcReader) fill(id calo.CellID, v int) {
	if !r.adcs.add(calo.Adc{ID: id, Value: v}) {
		duplicate(r.Tool, r.src, id)
	}
}

func (r *adcReader) decodeADC(b *rawbank.Bank) bool {
	r.src = b.SourceID
	if b.Type == r.Types().Short {
		return r.Decode(b, &r.adcs, func(words []uint32) readout.Flag {
			return parseSimple(r.geo, words, r.fill)
		}, VersionSimple)
	}

	return r.Decode(b, &r.adcs, func(words []uint32) readout.Flag {
		switch b.Version {
		case VersionWords:
			return parseWords(r.geo, b.SourceID, words, r.fill)
		case VersionCompressed:
			return walkCards(r.geo, b.SourceID, words, false, func(blk block) readout.Flag {
				return parseCompressedAdc(r.geo.CardChannels(blk.card), blk.adc, r.fill)
			})
		default:
			return walkCards(r.geo, b.SourceID, words, true, func(blk block) readout.Flag {
				return parsePrsAdc(r.geo.CardChannels(blk.card), blk, r.fill)
			})
		}
	}, VersionWords, packedVersion(r.name))
}

func (r *adcReader) adcsFor(src int) []calo.Adc {
	r.ensure(src)
	return r.adcs.forSource(src)
}

func (r *adcReader) digitsFor(src int) []calo.Digit {
	r.ensure(src)
	sp, ok := r.adcs.srcs[src]
	if !ok {
		return nil
	}
	return r.digits.Slice(sp[0].beg, sp[0].end)
}

func (r *adcReader) adcsBank(b *rawbank.Bank) []calo.Adc {
	r.only(b)
	return r.adcs.std.Values()
}

// DataProvider gives random access to the ADC values and digits of the
// channels of one calorimeter.
type DataProvider struct {
	*adcReader
}

// NewDataProvider creates a new ADC data provider for the calorimeter
// described by geo.
func NewDataProvider(geo calo.Geometry, opts ...readout.Option) (*DataProvider, error) {
	r, err := newADCReader("caloraw-data", geo, opts)
	if err != nil {
		return nil, err
	}
	return &DataProvider{r}, nil
}

// Adc returns the ADC value of channel id, or def if the channel was not
// read out. Adc panics if id belongs to another calorimeter.
func (dp *DataProvider) Adc(id calo.CellID, def int) int {
	checkCalo(dp.name, id)
	dp.decodeAll()
	v, ok := dp.adcs.lookup(id)
	if !ok {
		return def
	}
	return v.Value
}

// Digit returns the energy of channel id, or def if the channel was not
// read out. PIN-diode channels have no digit.
// Digit panics if id belongs to another calorimeter.
func (dp *DataProvider) Digit(id calo.CellID, def float64) float64 {
	checkCalo(dp.name, id)
	dp.decodeAll()
	v, ok := dp.digits.Lookup(id)
	if !ok {
		return def
	}
	return v.E
}

// Adcs returns the ADC values of all the standard channels.
func (dp *DataProvider) Adcs() []calo.Adc {
	dp.decodeAll()
	return dp.adcs.std.Values()
}

// AdcsFor returns the ADC values of the standard channels read out by src.
func (dp *DataProvider) AdcsFor(src int) []calo.Adc { return dp.adcsFor(src) }

// AdcsBank decodes b alone and returns its ADC values.
func (dp *DataProvider) AdcsBank(b *rawbank.Bank) []calo.Adc { return dp.adcsBank(b) }

// Digits returns the energies of all the standard channels.
func (dp *DataProvider) Digits() []calo.Digit {
	dp.decodeAll()
	return dp.digits.Values()
}

// DigitsFor returns the energies of the standard channels read out by src.
func (dp *DataProvider) DigitsFor(src int) []calo.Digit { return dp.digitsFor(src) }

// PinAdcs returns the ADC values of the PIN-diode channels.
func (dp *DataProvider) PinAdcs() []calo.Adc {
	dp.decodeAll()
	return dp.adcs.pin.Values()
}

// ADCRange returns the range of the standard ADC values.
func (dp *DataProvider) ADCRange() calo.Range {
	dp.decodeAll()
	return dp.rng
}

// PinRange returns the range of the PIN-diode ADC values.
func (dp *DataProvider) PinRange() calo.Range {
	dp.decodeAll()
	return dp.pinRng
}

// NTell1s returns the number of readout boards of the calorimeter.
func (dp *DataProvider) NTell1s() int { return len(dp.geo.Tell1s()) }

// EnergyFromRaw decodes the ADC banks of one calorimeter in bulk.
type EnergyFromRaw struct {
	*adcReader
}

// NewEnergyFromRaw creates a new bulk ADC decoder for the calorimeter
// described by geo.
func NewEnergyFromRaw(geo calo.Geometry, opts ...readout.Option) (*EnergyFromRaw, error) {
	r, err := newADCReader("caloraw-energy", geo, opts)
	if err != nil {
		return nil, err
	}
	return &EnergyFromRaw{r}, nil
}

func (e *EnergyFromRaw) Adcs() []calo.Adc {
	e.decodeAll()
	return e.adcs.std.Values()
}

func (e *EnergyFromRaw) AdcsFor(src int) []calo.Adc          { return e.adcsFor(src) }
func (e *EnergyFromRaw) AdcsBank(b *rawbank.Bank) []calo.Adc { return e.adcsBank(b) }

func (e *EnergyFromRaw) Digits() []calo.Digit {
	e.decodeAll()
	return e.digits.Values()
}

func (e *EnergyFromRaw) DigitsFor(src int) []calo.Digit { return e.digitsFor(src) }

// DigitsBank decodes b alone and returns its digits.
func (e *EnergyFromRaw) DigitsBank(b *rawbank.Bank) []calo.Digit {
	e.adcsBank(b)
	return e.digits.Values()
}

func (e *EnergyFromRaw) PinAdcs() []calo.Adc {
	e.decodeAll()
	return e.adcs.pin.Values()
}

// Ranges returns the ranges of the standard and PIN-diode ADC values.
func (e *EnergyFromRaw) Ranges() (std, pin calo.Range) {
	e.decodeAll()
	return e.rng, e.pinRng
}
