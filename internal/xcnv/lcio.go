// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"fmt"

	"github.com/go-lpc/lhcb/calo"
	"github.com/go-lpc/lhcb/internal/recon"
	"github.com/go-lpc/lhcb/readout"
	"github.com/go-lpc/lhcb/ut"
	"go-hep.org/x/hep/lcio"
)

// Detector is the detector name of the LCIO run headers and events.
const Detector = "LHCb"

// Collection names of a calorimeter.
func AdcsName(name calo.Name) string       { return name.String() + "Adcs" }
func PinAdcsName(name calo.Name) string    { return name.String() + "PinAdcs" }
func DigitsName(name calo.Name) string     { return name.String() + "Digits" }
func L0AdcsName(name calo.Name) string     { return name.String() + "L0Adcs" }
func TrigBitsName(name calo.Name) string   { return name.String() + "TrigBits" }
func StatusName(name calo.Name) string     { return name.String() + "Status" }
func TrigStatusName(name calo.Name) string { return name.String() + "TrigStatus" }

const (
	UTClustersName = "UTClusters"
	UTStatusName   = "UTStatus"
)

// Writer writes decoded events to an LCIO stream.
type Writer struct {
	w    *lcio.Writer
	init bool
	run  uint32
}

func NewWriter(w *lcio.Writer) *Writer {
	return &Writer{w: w}
}

// Write writes res, preceded by a run header when res starts a new run.
func (w *Writer) Write(res *recon.Result) error {
	if !w.init || res.Run != w.run {
		names := make([]string, len(res.Calos))
		for i, c := range res.Calos {
			names[i] = c.Name.String()
		}
		err := w.w.WriteRunHeader(&lcio.RunHeader{
			RunNumber: int32(res.Run),
			Detector:  Detector,
			Params: lcio.Params{
				Strings: map[string][]string{
					"Calos": names,
				},
				Ints: map[string][]int32{
					"UT": {b2i(res.UT != nil)},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("xcnv: could not write run header: %w", err)
		}
		w.init = true
		w.run = res.Run
	}

	evt := lcio.Event{
		RunNumber:   int32(res.Run),
		EventNumber: int32(res.Event),
		Detector:    Detector,
	}
	for i := range res.Calos {
		addCalo(&evt, &res.Calos[i])
	}
	if res.UT != nil {
		evt.Add(UTClustersName, clustersObject(res.UT.Clusters))
		evt.Add(UTStatusName, statusObject(res.UT.Status))
	}

	err := w.w.WriteEvent(&evt)
	if err != nil {
		return fmt.Errorf("xcnv: could not write event %d: %w", res.Event, err)
	}
	return nil
}

func addCalo(evt *lcio.Event, c *recon.Calo) {
	evt.Add(AdcsName(c.Name), rawHits(c.Adcs))
	evt.Add(DigitsName(c.Name), caloHits(c.Digits))
	if len(c.Pins) > 0 {
		evt.Add(PinAdcsName(c.Name), rawHits(c.Pins))
	}
	if c.L0 != nil {
		hits := &lcio.RawCalorimeterHitContainer{
			Hits: make([]lcio.RawCalorimeterHit, len(c.L0)),
		}
		for i, v := range c.L0 {
			hits.Hits[i] = lcio.RawCalorimeterHit{
				CellID0:   int32(v.ID),
				Amplitude: int32(v.Value),
			}
		}
		evt.Add(L0AdcsName(c.Name), hits)
	}
	if c.Prs != nil || c.Spd != nil {
		evt.Add(TrigBitsName(calo.Prs), bitHits(c.Prs))
		evt.Add(TrigBitsName(calo.Spd), bitHits(c.Spd))
	}
	if c.Status != nil {
		evt.Add(StatusName(c.Name), statusObject(c.Status))
	}
	if c.TrigStatus != nil {
		evt.Add(TrigStatusName(c.Name), statusObject(c.TrigStatus))
	}
}

func rawHits(adcs []calo.Adc) *lcio.RawCalorimeterHitContainer {
	hits := &lcio.RawCalorimeterHitContainer{
		Hits: make([]lcio.RawCalorimeterHit, len(adcs)),
	}
	for i, v := range adcs {
		hits.Hits[i] = lcio.RawCalorimeterHit{
			CellID0:   int32(v.ID),
			Amplitude: int32(v.Value),
		}
	}
	return hits
}

func caloHits(digits []calo.Digit) *lcio.CalorimeterHitContainer {
	hits := &lcio.CalorimeterHitContainer{
		Hits: make([]lcio.CalorimeterHit, len(digits)),
	}
	for i, v := range digits {
		hits.Hits[i] = lcio.CalorimeterHit{
			CellID0: int32(v.ID),
			Energy:  float32(v.E),
		}
	}
	return hits
}

func bitHits(ids []calo.CellID) *lcio.RawCalorimeterHitContainer {
	hits := &lcio.RawCalorimeterHitContainer{
		Hits: make([]lcio.RawCalorimeterHit, len(ids)),
	}
	for i, id := range ids {
		hits.Hits[i] = lcio.RawCalorimeterHit{
			CellID0:   int32(id),
			Amplitude: 1,
		}
	}
	return hits
}

// statusObject stores the bank type, then one (source, flags) pair per
// source.
func statusObject(st *readout.Status) *lcio.GenericObject {
	srcs := st.Sources()
	obj := &lcio.GenericObject{
		Data: make([]lcio.GenericObjectData, 1+len(srcs)),
	}
	obj.Data[0].I32s = []int32{int32(st.Type())}
	for i, src := range srcs {
		obj.Data[1+i].I32s = []int32{int32(src), int32(st.Get(src))}
	}
	return obj
}

// clustersObject stores one (channel, frac, size, high, source) tuple per
// cluster.
func clustersObject(cs []ut.Cluster) *lcio.GenericObject {
	obj := &lcio.GenericObject{
		Data: make([]lcio.GenericObjectData, len(cs)),
	}
	for i, c := range cs {
		obj.Data[i].I32s = []int32{
			int32(c.Channel), int32(c.Frac),
			b2i(c.Size), b2i(c.High),
			int32(c.Source),
		}
	}
	return obj
}

func b2i(v bool) int32 {
	if v {
		return 1
	}
	return 0
}
