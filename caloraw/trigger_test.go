// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package caloraw

import (
	"reflect"
	"testing"

	"github.com/go-lpc/lhcb/calo"
	"github.com/go-lpc/lhcb/rawbank"
	"github.com/go-lpc/lhcb/readout"
)

func TestTriggerAdcs(t *testing.T) {
	geo := newEcal(t)
	l0s := []calo.L0Adc{
		{ID: chanOf(t, geo, 7, 0), Value: 200},
		{ID: chanOf(t, geo, 7, 5), Value: 17},
		{ID: chanOf(t, geo, 7, 33), Value: 255},
		{ID: ecalPin, Value: 9},
	}
	words, err := PackCompressed(geo, 7, []calo.Adc{{ID: chanOf(t, geo, 7, 1), Value: 42}}, l0s, 0)
	if err != nil {
		t.Fatalf("could not pack: %+v", err)
	}

	tr, err := NewTriggerAdcsFromRaw(geo, discard)
	if err != nil {
		t.Fatalf("could not create decoder: %+v", err)
	}
	bank := rawbank.New(rawbank.EcalPacked, VersionCompressed, 7, words)
	tr.OnNewEvent(event(bank))

	if got, want := tr.Adcs(), l0s[:3]; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid L0 ADCs:\ngot= %v\nwant=%v", got, want)
	}
	if got, want := tr.PinAdcs(), l0s[3:]; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid PIN-diode L0 ADCs:\ngot= %v\nwant=%v", got, want)
	}
	if got, want := tr.AdcsFor(7), l0s[:3]; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid L0 ADCs for source 7:\ngot= %v\nwant=%v", got, want)
	}
	if got := tr.AdcsFor(8); len(got) != 0 {
		t.Fatalf("invalid L0 ADCs for source 8: %v", got)
	}
	checkStatus(t, tr.Status(), 7, readout.OK)
	checkStatus(t, tr.Status(), 8, readout.Missing)

	// the same data through the ADC decoder.
	dp, err := NewDataProvider(geo, discard)
	if err != nil {
		t.Fatalf("could not create data provider: %+v", err)
	}
	dp.OnNewEvent(event(bank))
	if got, want := dp.Adc(chanOf(t, geo, 7, 1), -1), 42; got != want {
		t.Fatalf("invalid ADC: got=%d, want=%d", got, want)
	}

	// short banks.
	short := rawbank.New(rawbank.EcalTrig, VersionSimple, 8, PackL0Simple([]calo.L0Adc{
		{ID: chanOf(t, geo, 8, 3), Value: 12},
	}))
	if got, want := tr.AdcsBank(short), []calo.L0Adc{{ID: chanOf(t, geo, 8, 3), Value: 12}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid L0 ADCs from short bank:\ngot= %v\nwant=%v", got, want)
	}

	// packed v2 banks hold no trigger data.
	tr.OnNewEvent(event(wordsBank(t, geo)))
	if got := tr.Adcs(); len(got) != 0 {
		t.Fatalf("invalid L0 ADCs: %v", got)
	}
	checkStatus(t, tr.Status(), 7, readout.Corrupted)

	_, err = NewTriggerAdcsFromRaw(newPrs(t), discard)
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestPrsLayout(t *testing.T) {
	geo := newPrs(t)
	ch2 := chanOf(t, geo, 21, 2)
	ch3 := chanOf(t, geo, 21, 3)

	words, err := PackPrs(geo, 21, []calo.Adc{{ID: ch2, Value: 300}}, []calo.CellID{ch2}, []calo.CellID{ch3}, 0)
	if err != nil {
		t.Fatalf("could not pack: %+v", err)
	}
	want := []uint32{
		0x00014082, // lenTrig=2, lenAdc=1, code=5
		0x00008342, // (ch=2, prs), (ch=3, spd)
		0x0000092C, // ch=2, adc=300
	}
	if !reflect.DeepEqual(words, want) {
		t.Fatalf("invalid layout:\ngot= %08x\nwant=%08x", words, want)
	}

	_, err = PackPrs(geo, 21, nil, []calo.CellID{chanOf(t, geo, 20, 0)}, nil, 0)
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestTriggerBits(t *testing.T) {
	geo := newPrs(t)
	var (
		a = chanOf(t, geo, 20, 2)
		b = chanOf(t, geo, 20, 10)
		c = chanOf(t, geo, 20, 67)
		d = chanOf(t, geo, 21, 0)
	)

	w20, err := PackPrs(geo, 20, nil, []calo.CellID{a, b}, []calo.CellID{a, c}, 0)
	if err != nil {
		t.Fatalf("could not pack Tell1 20: %+v", err)
	}
	w21, err := PackPrs(geo, 21, nil, nil, []calo.CellID{d}, 0)
	if err != nil {
		t.Fatalf("could not pack Tell1 21: %+v", err)
	}

	tb, err := NewTriggerBitsFromRaw(geo, discard)
	if err != nil {
		t.Fatalf("could not create decoder: %+v", err)
	}
	tb.OnNewEvent(event(
		rawbank.New(rawbank.PrsPacked, VersionPrs, 21, w21),
		rawbank.New(rawbank.PrsPacked, VersionPrs, 20, w20),
	))

	prs, spd := tb.For(21)
	if len(prs) != 0 || !reflect.DeepEqual(spd, []calo.CellID{d.WithCalo(calo.Spd)}) {
		t.Fatalf("invalid bits for source 21: prs=%v, spd=%v", prs, spd)
	}

	if got, want := tb.Prs(), []calo.CellID{a, b}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid Prs bits:\ngot= %v\nwant=%v", got, want)
	}
	wantSpd := []calo.CellID{
		d.WithCalo(calo.Spd),
		a.WithCalo(calo.Spd),
		c.WithCalo(calo.Spd),
	}
	if got := tb.Spd(); !reflect.DeepEqual(got, wantSpd) {
		t.Fatalf("invalid Spd bits:\ngot= %v\nwant=%v", got, wantSpd)
	}
	checkStatus(t, tb.Status(), 20, readout.OK)
	checkStatus(t, tb.Status(), 21, readout.OK)

	// short banks.
	short := rawbank.New(rawbank.PrsTrig, VersionSimple, 20, PackBitsSimple(
		[]calo.CellID{b},
		[]calo.CellID{b, c},
	))
	prs, spd = tb.Bank(short)
	if !reflect.DeepEqual(prs, []calo.CellID{b}) {
		t.Fatalf("invalid Prs bits from short bank: %v", prs)
	}
	if !reflect.DeepEqual(spd, []calo.CellID{b.WithCalo(calo.Spd), c.WithCalo(calo.Spd)}) {
		t.Fatalf("invalid Spd bits from short bank: %v", spd)
	}

	_, err = NewTriggerBitsFromRaw(newEcal(t), discard)
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestL0DataProvider(t *testing.T) {
	var (
		prs = newPrs(t)
		spd = mustSpd(t, prs)
		a   = chanOf(t, prs, 20, 2)
		b   = chanOf(t, prs, 20, 10)
	)
	words, err := PackPrs(prs, 20, []calo.Adc{{ID: a, Value: 5}}, []calo.CellID{a}, []calo.CellID{b}, 0)
	if err != nil {
		t.Fatalf("could not pack: %+v", err)
	}
	evt := event(rawbank.New(rawbank.PrsPacked, VersionPrs, 20, words))

	for _, tc := range []struct {
		geo  calo.Geometry
		want []calo.L0Adc
	}{
		{prs, []calo.L0Adc{{ID: a, Value: 1}}},
		{spd, []calo.L0Adc{{ID: b.WithCalo(calo.Spd), Value: 1}}},
	} {
		t.Run(tc.geo.Calo().String(), func(t *testing.T) {
			dp, err := NewL0DataProvider(tc.geo, discard)
			if err != nil {
				t.Fatalf("could not create provider: %+v", err)
			}
			dp.OnNewEvent(evt)
			if got := dp.L0Adcs(); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("invalid L0 data:\ngot= %v\nwant=%v", got, tc.want)
			}
			if got := dp.L0AdcsFor(20); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("invalid L0 data for source 20:\ngot= %v\nwant=%v", got, tc.want)
			}
			id := tc.want[0].ID
			if got, want := dp.L0Adc(id, 0), 1; got != want {
				t.Fatalf("invalid L0 value: got=%d, want=%d", got, want)
			}
			other := a.WithCalo(tc.geo.Calo())
			if id == other {
				other = b.WithCalo(tc.geo.Calo())
			}
			if got, want := dp.L0Adc(other, 0), 0; got != want {
				t.Fatalf("invalid L0 value: got=%d, want=%d", got, want)
			}
		})
	}

	geo := newEcal(t)
	dp, err := NewL0DataProvider(geo, discard)
	if err != nil {
		t.Fatalf("could not create provider: %+v", err)
	}
	l0s := []calo.L0Adc{
		{ID: chanOf(t, geo, 8, 0), Value: 3},
		{ID: chanOf(t, geo, 8, 1), Value: 250},
	}
	short := rawbank.New(rawbank.EcalTrig, VersionSimple, 8, PackL0Simple(l0s))
	if got := dp.L0AdcsBank(short); !reflect.DeepEqual(got, l0s) {
		t.Fatalf("invalid L0 data:\ngot= %v\nwant=%v", got, l0s)
	}
	if rng := dp.ADCRange(); rng.Min != 3 || rng.Max != 250 {
		t.Fatalf("invalid range: %v", rng)
	}
	if got := dp.PinAdcs(); len(got) != 0 {
		t.Fatalf("invalid PIN-diode data: %v", got)
	}
}
