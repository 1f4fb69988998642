// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package caloraw

import (
	"io"
	"log"
	"testing"

	"github.com/go-lpc/lhcb/calo"
	"github.com/go-lpc/lhcb/rawbank"
	"github.com/go-lpc/lhcb/readout"
)

var discard = readout.WithLogger(log.New(io.Discard, "", 0))

var ecalPin = calo.NewCellID(calo.Ecal, calo.PinArea, 0, 1)

func cells(name calo.Name, area, row, n int) []calo.CellID {
	ids := make([]calo.CellID, n)
	for i := range ids {
		ids[i] = calo.NewCellID(name, area, row, i)
	}
	return ids
}

// newEcal returns an Ecal readout with two Tell1s:
//   - Tell1 7: cards 1 (code 10) and 2 (code 11), local indices [0,64),
//     card 2 holding an unconnected input and a PIN-diode,
//   - Tell1 8: card 3 (code 10).
func newEcal(t *testing.T) *calo.Detector {
	t.Helper()
	card2 := cells(calo.Ecal, 0, 3, 32)
	card2[30] = 0
	card2[31] = ecalPin

	det, err := calo.NewDetector(calo.Ecal, []calo.Card{
		{ID: 1, Code: 10, Tell1: 7, Channels: cells(calo.Ecal, 0, 1, 32)},
		{ID: 2, Code: 11, Tell1: 7, Channels: card2},
		{ID: 3, Code: 10, Tell1: 8, Channels: cells(calo.Ecal, 0, 2, 32)},
	}, []calo.Calib{
		{ID: calo.NewCellID(calo.Ecal, 0, 1, 0), Pedestal: 4, Gain: 0.5},
	})
	if err != nil {
		t.Fatalf("could not create Ecal detector: %+v", err)
	}
	return det
}

// newPrs returns a Prs readout with two Tell1s:
//   - Tell1 20: cards 1 (code 5, 64 channels) and 2 (code 6, 8 channels),
//   - Tell1 21: card 3 (code 5, 16 channels).
func newPrs(t *testing.T) *calo.Detector {
	t.Helper()
	det, err := calo.NewDetector(calo.Prs, []calo.Card{
		{ID: 1, Code: 5, Tell1: 20, Channels: cells(calo.Prs, 1, 4, 64)},
		{ID: 2, Code: 6, Tell1: 20, Channels: cells(calo.Prs, 1, 5, 8)},
		{ID: 3, Code: 5, Tell1: 21, Channels: cells(calo.Prs, 1, 6, 16)},
	}, nil)
	if err != nil {
		t.Fatalf("could not create Prs detector: %+v", err)
	}
	return det
}

func chanOf(t *testing.T, geo calo.Geometry, tell1, i int) calo.CellID {
	t.Helper()
	id, ok := geo.ChannelFromTell1(tell1, i)
	if !ok {
		t.Fatalf("no channel at Tell1=%d index=%d", tell1, i)
	}
	return id
}

func event(banks ...*rawbank.Bank) *rawbank.Event {
	evt := &rawbank.Event{Run: 1, Number: 1}
	evt.Add(banks...)
	return evt
}

func checkStatus(t *testing.T, st *readout.Status, src int, want readout.Flag) {
	t.Helper()
	if got := st.Get(src); got != want {
		t.Fatalf("invalid status for source %d: got=%v, want=%v", src, got, want)
	}
}

func TestBitReadWrite(t *testing.T) {
	var (
		bw   bitWriter
		vals = []struct {
			v uint32
			n int
		}{
			{0xA, 4}, {0xFFF, 12}, {0x123, 12}, {0x5, 4}, {0xABC, 12},
			{0x0, 4}, {0x7, 4}, {0xFED, 12}, {0x1, 12},
		}
	)
	for _, v := range vals {
		bw.write(v.v, v.n)
	}
	if got, want := len(bw.ws), 3; got != want {
		t.Fatalf("invalid number of words: got=%d, want=%d", got, want)
	}

	br := bitReader{ws: bw.ws}
	for i, v := range vals {
		got, ok := br.read(v.n)
		if !ok {
			t.Fatalf("could not read value %d", i)
		}
		if got != v.v {
			t.Fatalf("invalid value %d: got=0x%x, want=0x%x", i, got, v.v)
		}
	}
	if got, want := br.words(), 3; got != want {
		t.Fatalf("invalid number of words read: got=%d, want=%d", got, want)
	}
	if _, ok := br.read(24); ok {
		t.Fatalf("read past the end")
	}
}
