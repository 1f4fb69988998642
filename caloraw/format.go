// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package caloraw

import (
	"github.com/go-lpc/lhcb/calo"
	"github.com/go-lpc/lhcb/readout"
	"golang.org/x/exp/slices"
)

const (
	wordAdcMask  = 0xFFF
	wordValid    = 1 << 12
	wordOverflow = 1 << 13
	wordAdcBias  = 256

	// compressed ADC values.
	adcShortBits = 4
	adcShortBias = 8
	adcLongBits  = 12
	adcLongBias  = 256

	// front-end card blocks.
	cardChannels = 32
	lenMask      = 0x7F
	codeMask     = 0x1FF
	ctrlMask     = 0x1FF

	prsChanMask = 0x3F
	prsBit      = 1 << 6
	spdBit      = 1 << 7
	prsAdcMask  = 0x3FF

	bitsBodyMask = 0x3FFF
	bitsPrs      = 1 << 14
	bitsSpd      = 1 << 15
)

type emitter func(id calo.CellID, v int)

// parseSimple decodes the one-word-per-channel layout:
// channel in the upper half-word, signed ADC in the lower one.
func parseSimple(geo calo.Geometry, words []uint32, emit emitter) readout.Flag {
	var flag readout.Flag
	for _, w := range words {
		id := calo.CellID(w >> 16)
		if id == 0 {
			continue
		}
		if !geo.Valid(id) {
			flag |= readout.DataCorrupted
			continue
		}
		emit(id, int(int16(w)))
	}
	return flag
}

// parseWords decodes the layout of one word per channel, addressed by
// its Tell1 local index:
//
//	bits [ 0,12): ADC+256
//	bit  12     : valid
//	bit  13     : overflow
//	bits [16,32): local index
func parseWords(geo calo.Geometry, src int, words []uint32, emit emitter) readout.Flag {
	var flag readout.Flag
	for _, w := range words {
		if w&wordValid == 0 {
			continue
		}
		id, ok := geo.ChannelFromTell1(src, int(w>>16))
		if !ok {
			flag |= readout.DataCorrupted | readout.Corrupted
			continue
		}
		if id == 0 {
			continue
		}
		emit(id, int(w&wordAdcMask)-wordAdcBias)
	}
	return flag
}

// parseL0Simple decodes one L0 ADC per word:
// channel in the upper half-word, 8-bit value in the lowest byte.
func parseL0Simple(geo calo.Geometry, words []uint32, emit emitter) readout.Flag {
	var flag readout.Flag
	for _, w := range words {
		id := calo.CellID(w >> 16)
		if id == 0 {
			continue
		}
		if !geo.Valid(id) {
			flag |= readout.DataCorrupted
			continue
		}
		emit(id, int(w&0xFF))
	}
	return flag
}

// parseBitsSimple decodes the Prs/Spd trigger bits, two 16-bit items per
// word, lower half first: channel without calorimeter in bits [0,14),
// Prs bit 14, Spd bit 15. Null items are padding.
func parseBitsSimple(geo calo.Geometry, words []uint32, prs, spd emitter) readout.Flag {
	var (
		flag readout.Flag
		name = geo.Calo()
	)
	for _, w := range words {
		for _, item := range [2]uint32{w & 0xFFFF, w >> 16} {
			if item == 0 {
				continue
			}
			id := calo.CellID(item & bitsBodyMask).WithCalo(name)
			if !geo.Valid(id) {
				flag |= readout.DataCorrupted
				continue
			}
			if item&bitsPrs != 0 && prs != nil {
				prs(id.WithCalo(calo.Prs), 1)
			}
			if item&bitsSpd != 0 && spd != nil {
				spd(id.WithCalo(calo.Spd), 1)
			}
		}
	}
	return flag
}

// block is one front-end card block of a compressed bank.
type block struct {
	card    int
	ctrl    int
	lenTrig int
	lenAdc  int
	trig    []uint32
	adc     []uint32
}

func ctrlFlag(ctrl int) readout.Flag {
	var flag readout.Flag
	if ctrl&(1<<0) != 0 {
		flag |= readout.Tell1Error
	}
	if ctrl&(1<<5) != 0 {
		flag |= readout.Tell1Sync
	}
	if ctrl&(1<<6) != 0 {
		flag |= readout.Tell1Link
	}
	return flag
}

// walkCards iterates over the front-end card blocks of a compressed bank.
// Each block starts with a header word:
//
//	bits [ 0, 7): trigger section length
//	bits [ 7,14): ADC section length
//	bits [14,23): card code
//	bits [23,32): control word
//
// Section lengths are in bytes for the Ecal/Hcal layout. For the Prs
// layout, the ADC section length counts 16-bit items.
func walkCards(geo calo.Geometry, src int, words []uint32, prs bool, f func(blk block) readout.Flag) readout.Flag {
	var (
		flag  readout.Flag
		cards = slices.Clone(geo.Tell1Cards(src))
		pos   = 0
	)
	for pos < len(words) {
		w := words[pos]
		pos++

		blk := block{
			lenTrig: int(w & lenMask),
			lenAdc:  int(w>>7) & lenMask,
			ctrl:    int(w>>23) & ctrlMask,
		}
		code := int(w>>14) & codeMask
		flag |= ctrlFlag(blk.ctrl)

		i := slices.IndexFunc(cards, func(card int) bool {
			return geo.CardCode(card) == code
		})
		if i < 0 {
			return flag | readout.Corrupted | readout.Incomplete
		}
		blk.card = cards[i]
		cards = slices.Delete(cards, i, i+1)

		ntrig := (blk.lenTrig + 3) / 4
		nadc := (blk.lenAdc + 3) / 4
		if prs {
			nadc = (blk.lenAdc + 1) / 2
		}
		if pos+ntrig+nadc > len(words) {
			return flag | readout.Corrupted | readout.Incomplete
		}
		blk.trig = words[pos : pos+ntrig]
		pos += ntrig
		blk.adc = words[pos : pos+nadc]
		pos += nadc

		flag |= f(blk)
	}
	if len(cards) != 0 {
		flag |= readout.Missing
	}
	return flag
}

// bitReader reads LSB-first bit fields spanning consecutive words.
type bitReader struct {
	ws  []uint32
	off int
}

func (br *bitReader) read(n int) (uint32, bool) {
	if br.off+n > 32*len(br.ws) {
		return 0, false
	}
	i, s := br.off/32, uint(br.off%32)
	v := br.ws[i] >> s
	if int(s)+n > 32 {
		v |= br.ws[i+1] << (32 - s)
	}
	br.off += n
	return v & (1<<uint(n) - 1), true
}

// words returns the number of words touched so far.
func (br *bitReader) words() int { return (br.off + 31) / 32 }

// parseCompressedAdc decodes the ADC section of an Ecal/Hcal card block:
// a pattern word followed by 32 values, 4 bits (ADC+8) for channels with
// a null pattern bit, 12 bits (ADC+256) otherwise.
func parseCompressedAdc(chans []calo.CellID, sec []uint32, emit emitter) readout.Flag {
	if len(sec) == 0 {
		return readout.OK
	}
	var (
		pattern = sec[0]
		br      = bitReader{ws: sec[1:]}
	)
	for ch := 0; ch < cardChannels; ch++ {
		n, bias := adcShortBits, adcShortBias
		if (pattern>>uint(ch))&1 == 1 {
			n, bias = adcLongBits, adcLongBias
		}
		v, ok := br.read(n)
		if !ok {
			return readout.Corrupted | readout.Incomplete
		}
		if ch >= len(chans) || chans[ch] == 0 {
			continue
		}
		emit(chans[ch], int(v)-bias)
	}
	if br.words() != len(sec)-1 {
		return readout.Corrupted
	}
	return readout.OK
}

// parseCompressedTrig decodes the trigger section of an Ecal/Hcal card
// block: a pattern word followed by one byte per set pattern bit.
func parseCompressedTrig(chans []calo.CellID, sec []uint32, emit emitter) readout.Flag {
	if len(sec) == 0 {
		return readout.OK
	}
	var (
		pattern = sec[0]
		pos     = 0
	)
	for ch := 0; ch < cardChannels; ch++ {
		if (pattern>>uint(ch))&1 == 0 {
			continue
		}
		i, s := 1+pos/4, uint(pos%4)*8
		if i >= len(sec) {
			return readout.Corrupted | readout.Incomplete
		}
		pos++
		if ch >= len(chans) || chans[ch] == 0 {
			continue
		}
		emit(chans[ch], int(sec[i]>>s)&0xFF)
	}
	return readout.OK
}

// parsePrsTrig decodes the trigger section of a Prs card block:
// one byte per channel, channel in bits [0,6), Prs bit 6, Spd bit 7.
func parsePrsTrig(chans []calo.CellID, blk block, prs, spd emitter) readout.Flag {
	var flag readout.Flag
	for k := 0; k < blk.lenTrig; k++ {
		b := (blk.trig[k/4] >> (8 * uint(k%4))) & 0xFF
		ch := int(b & prsChanMask)
		if ch >= len(chans) {
			flag |= readout.DataCorrupted | readout.Corrupted
			continue
		}
		id := chans[ch]
		if id == 0 {
			continue
		}
		if b&prsBit != 0 && prs != nil {
			prs(id.WithCalo(calo.Prs), 1)
		}
		if b&spdBit != 0 && spd != nil {
			spd(id.WithCalo(calo.Spd), 1)
		}
	}
	return flag
}

// parsePrsAdc decodes the ADC section of a Prs card block:
// 16-bit items, lower half first, ADC in bits [0,10), channel in
// bits [10,16).
func parsePrsAdc(chans []calo.CellID, blk block, emit emitter) readout.Flag {
	var flag readout.Flag
	for k := 0; k < blk.lenAdc; k++ {
		h := (blk.adc[k/2] >> (16 * uint(k%2))) & 0xFFFF
		ch := int(h>>10) & prsChanMask
		if ch >= len(chans) {
			flag |= readout.DataCorrupted | readout.Corrupted
			continue
		}
		id := chans[ch]
		if id == 0 {
			continue
		}
		emit(id, int(h&prsAdcMask))
	}
	return flag
}
