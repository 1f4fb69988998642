// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rawtest provides readout maps and raw events for tests of the
// decoding commands.
package rawtest // import "github.com/go-lpc/lhcb/internal/rawtest"

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-lpc/lhcb/calo"
	"github.com/go-lpc/lhcb/caloraw"
	"github.com/go-lpc/lhcb/rawbank"
	"github.com/go-lpc/lhcb/ut"
)

// Readout boards of the test detectors.
const (
	EcalTell1 = 1
	PrsTell1  = 2
	UTTell1   = 5
)

var (
	EcalCells = row(calo.Ecal, 4)
	PrsCells  = row(calo.Prs, 4)
	UTSector  = ut.NewChannelID(0, 0, 1, 1, 0)
)

func row(name calo.Name, n int) []calo.CellID {
	ids := make([]calo.CellID, n)
	for i := range ids {
		ids[i] = calo.NewCellID(name, 0, 10, i)
	}
	return ids
}

// Ecal returns a one-card Ecal readout map.
func Ecal() *calo.Detector {
	det, err := calo.NewDetector(calo.Ecal, []calo.Card{
		{ID: 1, Code: 3, Tell1: EcalTell1, Channels: EcalCells},
	}, []calo.Calib{
		{ID: EcalCells[0], Pedestal: 2, Gain: 0.5},
	})
	if err != nil {
		panic(err)
	}
	return det
}

// Prs returns a one-card Prs readout map.
func Prs() *calo.Detector {
	det, err := calo.NewDetector(calo.Prs, []calo.Card{
		{ID: 1, Code: 4, Tell1: PrsTell1, Channels: PrsCells},
	}, nil)
	if err != nil {
		panic(err)
	}
	return det
}

// UTMapping returns a one-board upstream tracker mapping.
func UTMapping() *ut.Mapping {
	m, err := ut.NewMapping([]ut.Board{{Tell1: UTTell1, Sectors: []ut.ChannelID{UTSector}}})
	if err != nil {
		panic(err)
	}
	return m
}

// Event returns a raw event holding an Ecal, a Prs and a UT bank.
// adc is the amplitude of the first Ecal channel.
func Event(run uint32, num uint64, adc int) *rawbank.Event {
	evt := &rawbank.Event{Run: run, Number: num}

	words, err := caloraw.PackCompressed(Ecal(), EcalTell1, []calo.Adc{
		{ID: EcalCells[0], Value: adc},
		{ID: EcalCells[1], Value: -3},
		{ID: EcalCells[3], Value: 50},
	}, []calo.L0Adc{{ID: EcalCells[0], Value: 20}}, 0)
	if err != nil {
		panic(err)
	}
	evt.Add(rawbank.New(rawbank.EcalPacked, caloraw.VersionCompressed, EcalTell1, words))

	words, err = caloraw.PackPrs(
		Prs(), PrsTell1,
		[]calo.Adc{{ID: PrsCells[1], Value: 30}},
		[]calo.CellID{PrsCells[0]},
		[]calo.CellID{PrsCells[1]},
		0,
	)
	if err != nil {
		panic(err)
	}
	evt.Add(rawbank.New(rawbank.PrsPacked, caloraw.VersionPrs, PrsTell1, words))

	words, err = ut.Pack(UTMapping(), UTTell1, int(num)&0xff, false, []ut.Cluster{
		{Channel: UTSector.WithStrip(3), Frac: 1},
	})
	if err != nil {
		panic(err)
	}
	evt.Add(rawbank.New(rawbank.UT, ut.Version, UTTell1, words))

	return evt
}

// Corrupt returns a copy of evt where the Ecal bank declares more words
// than it holds.
func Corrupt(evt *rawbank.Event) *rawbank.Event {
	o := &rawbank.Event{Run: evt.Run, Number: evt.Number}
	for _, b := range evt.Banks {
		cpy := *b
		if cpy.Type == rawbank.EcalPacked {
			cpy.Size += 2 * 4
		}
		o.Add(&cpy)
	}
	return o
}

// WriteEvents writes evts to the raw event file fname.
func WriteEvents(fname string, evts ...*rawbank.Event) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("rawtest: could not create %q: %w", fname, err)
	}
	defer f.Close()

	enc := rawbank.NewEncoder(f)
	for _, evt := range evts {
		err = enc.Encode(evt)
		if err != nil {
			return fmt.Errorf("rawtest: could not encode event %d: %w", evt.Number, err)
		}
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("rawtest: could not close %q: %w", fname, err)
	}
	return nil
}

// WriteMaps writes the JSON readout maps of the test detectors under dir.
func WriteMaps(dir string) (calos []string, utFile string, err error) {
	for _, det := range []*calo.Detector{Ecal(), Prs()} {
		fname := filepath.Join(dir, det.Calo().String()+".json")
		err = writeFile(fname, det.WriteJSON)
		if err != nil {
			return nil, "", err
		}
		calos = append(calos, fname)
	}

	utFile = filepath.Join(dir, "ut.json")
	err = writeFile(utFile, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(UTMapping().Boards())
	})
	if err != nil {
		return nil, "", err
	}
	return calos, utFile, nil
}

func writeFile(fname string, write func(w io.Writer) error) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("rawtest: could not create %q: %w", fname, err)
	}
	defer f.Close()

	err = write(f)
	if err != nil {
		return fmt.Errorf("rawtest: could not write %q: %w", fname, err)
	}
	return f.Close()
}
