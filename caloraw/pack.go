// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package caloraw

import (
	"fmt"

	"github.com/go-lpc/lhcb/calo"
)

// PackSimple encodes ADC values with one word per channel.
func PackSimple(adcs []calo.Adc) []uint32 {
	words := make([]uint32, len(adcs))
	for i, adc := range adcs {
		words[i] = uint32(adc.ID)<<16 | uint32(uint16(int16(adc.Value)))
	}
	return words
}

func tell1Index(geo calo.Geometry, tell1 int) map[calo.CellID]int {
	idx := make(map[calo.CellID]int)
	for i := 0; ; i++ {
		id, ok := geo.ChannelFromTell1(tell1, i)
		if !ok {
			return idx
		}
		if id != 0 {
			idx[id] = i
		}
	}
}

// PackWords encodes ADC values of a Tell1 with one word per channel,
// addressed by Tell1 local index.
// Values above the 12-bit range are saturated and flagged as overflow.
func PackWords(geo calo.Geometry, tell1 int, adcs []calo.Adc) ([]uint32, error) {
	var (
		idx   = tell1Index(geo, tell1)
		words = make([]uint32, len(adcs))
	)
	for i, adc := range adcs {
		j, ok := idx[adc.ID]
		if !ok {
			return nil, fmt.Errorf("caloraw: channel %v not read out by Tell1 %d", adc.ID, tell1)
		}
		v := adc.Value + wordAdcBias
		w := uint32(j)<<16 | wordValid
		switch {
		case v < 0:
			return nil, fmt.Errorf("caloraw: ADC %d of channel %v out of range", adc.Value, adc.ID)
		case v > wordAdcMask:
			w |= wordOverflow | wordAdcMask
		default:
			w |= uint32(v)
		}
		words[i] = w
	}
	return words, nil
}

func cardHeader(lenTrig, lenAdc, code, ctrl int) uint32 {
	return uint32(lenTrig&lenMask) |
		uint32(lenAdc&lenMask)<<7 |
		uint32(code&codeMask)<<14 |
		uint32(ctrl&ctrlMask)<<23
}

// bitWriter writes LSB-first bit fields spanning consecutive words.
type bitWriter struct {
	ws  []uint32
	off int
}

func (bw *bitWriter) write(v uint32, n int) {
	i, s := bw.off/32, uint(bw.off%32)
	for len(bw.ws) <= (bw.off+n-1)/32 {
		bw.ws = append(bw.ws, 0)
	}
	bw.ws[i] |= v << s
	if int(s)+n > 32 {
		bw.ws[i+1] |= v >> (32 - s)
	}
	bw.off += n
}

func checkTell1(geo calo.Geometry, tell1 int, ids map[calo.CellID]bool) error {
	seen := make(map[calo.CellID]bool, len(ids))
	for _, card := range geo.Tell1Cards(tell1) {
		for _, id := range geo.CardChannels(card) {
			seen[id] = true
		}
	}
	for id := range ids {
		if !seen[id] {
			return fmt.Errorf("caloraw: channel %v not read out by Tell1 %d", id, tell1)
		}
	}
	return nil
}

// PackCompressed encodes the ADC and L0 ADC values of an Ecal or Hcal
// Tell1 in front-end card blocks.
// Channels without an ADC value are written with a null ADC.
func PackCompressed(geo calo.Geometry, tell1 int, adcs []calo.Adc, l0s []calo.L0Adc, ctrl int) ([]uint32, error) {
	var (
		adc = make(map[calo.CellID]int, len(adcs))
		l0  = make(map[calo.CellID]int, len(l0s))
		ids = make(map[calo.CellID]bool, len(adcs)+len(l0s))
	)
	for _, v := range adcs {
		if v.Value < -adcLongBias || v.Value >= 1<<adcLongBits-adcLongBias {
			return nil, fmt.Errorf("caloraw: ADC %d of channel %v out of range", v.Value, v.ID)
		}
		adc[v.ID] = v.Value
		ids[v.ID] = true
	}
	for _, v := range l0s {
		if v.Value < 0 || v.Value > 0xFF {
			return nil, fmt.Errorf("caloraw: L0 ADC %d of channel %v out of range", v.Value, v.ID)
		}
		l0[v.ID] = v.Value
		ids[v.ID] = true
	}
	err := checkTell1(geo, tell1, ids)
	if err != nil {
		return nil, err
	}

	var words []uint32
	for _, card := range geo.Tell1Cards(tell1) {
		chans := geo.CardChannels(card)
		if len(chans) > cardChannels {
			return nil, fmt.Errorf("caloraw: card %d has too many channels (n=%d)", card, len(chans))
		}

		var (
			trig    []uint32
			lenTrig = 0
			tpat    uint32
			tbytes  []uint32
			ntrig   = 0
		)
		for ch, id := range chans {
			v, ok := l0[id]
			if id == 0 || !ok {
				continue
			}
			tpat |= 1 << uint(ch)
			if ntrig%4 == 0 {
				tbytes = append(tbytes, 0)
			}
			tbytes[ntrig/4] |= uint32(v) << (8 * uint(ntrig%4))
			ntrig++
		}
		if ntrig > 0 {
			trig = append([]uint32{tpat}, tbytes...)
			lenTrig = 4 + ntrig
		}

		var (
			apat uint32
			bw   bitWriter
		)
		for ch := 0; ch < cardChannels; ch++ {
			var v int
			if ch < len(chans) && chans[ch] != 0 {
				v = adc[chans[ch]]
			}
			if -adcShortBias <= v && v < 1<<adcShortBits-adcShortBias {
				bw.write(uint32(v+adcShortBias), adcShortBits)
				continue
			}
			apat |= 1 << uint(ch)
			bw.write(uint32(v+adcLongBias), adcLongBits)
		}
		lenAdc := 4 + (bw.off+7)/8

		words = append(words, cardHeader(lenTrig, lenAdc, geo.CardCode(card), ctrl))
		words = append(words, trig...)
		words = append(words, apat)
		words = append(words, bw.ws...)
	}
	return words, nil
}

// PackPrs encodes the ADC values and trigger bits of a Prs Tell1 in
// front-end card blocks.
// Null ADC values are suppressed.
func PackPrs(geo calo.Geometry, tell1 int, adcs []calo.Adc, prs, spd []calo.CellID, ctrl int) ([]uint32, error) {
	var (
		name = geo.Calo()
		adc  = make(map[calo.CellID]int, len(adcs))
		bits = make(map[calo.CellID]uint32, len(prs)+len(spd))
		ids  = make(map[calo.CellID]bool, len(adcs)+len(prs)+len(spd))
	)
	for _, v := range adcs {
		if v.Value < 0 || v.Value > prsAdcMask {
			return nil, fmt.Errorf("caloraw: ADC %d of channel %v out of range", v.Value, v.ID)
		}
		id := v.ID.WithCalo(name)
		adc[id] = v.Value
		ids[id] = true
	}
	for _, id := range prs {
		id = id.WithCalo(name)
		bits[id] |= prsBit
		ids[id] = true
	}
	for _, id := range spd {
		id = id.WithCalo(name)
		bits[id] |= spdBit
		ids[id] = true
	}
	err := checkTell1(geo, tell1, ids)
	if err != nil {
		return nil, err
	}

	var words []uint32
	for _, card := range geo.Tell1Cards(tell1) {
		var (
			chans = geo.CardChannels(card)
			trig  []uint32
			items []uint32
		)
		for ch, id := range chans {
			if id == 0 {
				continue
			}
			if b, ok := bits[id]; ok {
				trig = append(trig, uint32(ch)|b)
			}
			if v := adc[id]; v != 0 {
				items = append(items, uint32(ch)<<10|uint32(v))
			}
		}

		words = append(words, cardHeader(len(trig), len(items), geo.CardCode(card), ctrl))
		words = append(words, packBytes(trig)...)
		words = append(words, packHalves(items)...)
	}
	return words, nil
}

func packBytes(bs []uint32) []uint32 {
	ws := make([]uint32, (len(bs)+3)/4)
	for k, b := range bs {
		ws[k/4] |= (b & 0xFF) << (8 * uint(k%4))
	}
	return ws
}

func packHalves(hs []uint32) []uint32 {
	ws := make([]uint32, (len(hs)+1)/2)
	for k, h := range hs {
		ws[k/2] |= (h & 0xFFFF) << (16 * uint(k%2))
	}
	return ws
}

// PackL0Simple encodes L0 ADC values with one word per channel.
func PackL0Simple(l0s []calo.L0Adc) []uint32 {
	words := make([]uint32, len(l0s))
	for i, v := range l0s {
		words[i] = uint32(v.ID)<<16 | uint32(v.Value&0xFF)
	}
	return words
}

// PackBitsSimple encodes Prs and Spd trigger bits, two channels per word.
func PackBitsSimple(prs, spd []calo.CellID) []uint32 {
	var (
		bits  = make(map[calo.CellID]uint32, len(prs)+len(spd))
		order []calo.CellID
	)
	add := func(id calo.CellID, bit uint32) {
		id = id.WithCalo(calo.Prs)
		if _, ok := bits[id]; !ok {
			order = append(order, id)
		}
		bits[id] |= bit
	}
	for _, id := range prs {
		add(id, bitsPrs)
	}
	for _, id := range spd {
		add(id, bitsSpd)
	}

	items := make([]uint32, len(order))
	for i, id := range order {
		items[i] = uint32(id)&bitsBodyMask | bits[id]
	}
	return packHalves(items)
}
