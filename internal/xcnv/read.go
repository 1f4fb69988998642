// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"fmt"

	"github.com/go-lpc/lhcb/calo"
	"github.com/go-lpc/lhcb/internal/recon"
	"github.com/go-lpc/lhcb/rawbank"
	"github.com/go-lpc/lhcb/readout"
	"github.com/go-lpc/lhcb/ut"
	"go-hep.org/x/hep/lcio"
)

// Read extracts the decoded content of calorimeters calos from evt.
// The ranges of the decoded calorimeters are recomputed.
func Read(evt *lcio.Event, calos []calo.Name) (*recon.Result, error) {
	res := &recon.Result{
		Run:   uint32(evt.RunNumber),
		Event: uint64(evt.EventNumber),
		Calos: make([]recon.Calo, len(calos)),
	}

	for i, name := range calos {
		c := &res.Calos[i]
		c.Name = name

		var err error
		c.Adcs, err = adcs(evt, AdcsName(name))
		if err != nil {
			return nil, err
		}
		if evt.Has(PinAdcsName(name)) {
			c.Pins, err = adcs(evt, PinAdcsName(name))
			if err != nil {
				return nil, err
			}
		}
		for _, v := range c.Adcs {
			c.Range.Fill(v.ID, v.Value)
		}
		for _, v := range c.Pins {
			c.PinRange.Fill(v.ID, v.Value)
		}

		hits, ok := evt.Get(DigitsName(name)).(*lcio.CalorimeterHitContainer)
		if !ok {
			return nil, fmt.Errorf("xcnv: no collection %q", DigitsName(name))
		}
		c.Digits = make([]calo.Digit, len(hits.Hits))
		for j, h := range hits.Hits {
			c.Digits[j] = calo.Digit{ID: calo.CellID(h.CellID0), E: float64(h.Energy)}
		}

		if evt.Has(L0AdcsName(name)) {
			vs, err := adcs(evt, L0AdcsName(name))
			if err != nil {
				return nil, err
			}
			c.L0 = make([]calo.L0Adc, len(vs))
			for j, v := range vs {
				c.L0[j] = calo.L0Adc{ID: v.ID, Value: v.Value}
			}
		}

		if name == calo.Prs && evt.Has(TrigBitsName(calo.Prs)) {
			c.Prs, err = cells(evt, TrigBitsName(calo.Prs))
			if err != nil {
				return nil, err
			}
			c.Spd, err = cells(evt, TrigBitsName(calo.Spd))
			if err != nil {
				return nil, err
			}
		}

		if evt.Has(StatusName(name)) {
			c.Status, err = status(evt, StatusName(name))
			if err != nil {
				return nil, err
			}
		}
		if evt.Has(TrigStatusName(name)) {
			c.TrigStatus, err = status(evt, TrigStatusName(name))
			if err != nil {
				return nil, err
			}
		}
	}

	if evt.Has(UTClustersName) {
		obj, ok := evt.Get(UTClustersName).(*lcio.GenericObject)
		if !ok {
			return nil, fmt.Errorf("xcnv: invalid collection %q", UTClustersName)
		}
		res.UT = &recon.Tracker{
			Clusters: make([]ut.Cluster, len(obj.Data)),
		}
		for i, d := range obj.Data {
			if len(d.I32s) != 5 {
				return nil, fmt.Errorf("xcnv: invalid UT cluster %d", i)
			}
			res.UT.Clusters[i] = ut.Cluster{
				Channel: ut.ChannelID(d.I32s[0]),
				Frac:    int(d.I32s[1]),
				Size:    d.I32s[2] != 0,
				High:    d.I32s[3] != 0,
				Source:  int(d.I32s[4]),
			}
		}
		var err error
		res.UT.Status, err = status(evt, UTStatusName)
		if err != nil {
			return nil, err
		}
	}

	return res, nil
}

func adcs(evt *lcio.Event, coll string) ([]calo.Adc, error) {
	hits, ok := evt.Get(coll).(*lcio.RawCalorimeterHitContainer)
	if !ok {
		return nil, fmt.Errorf("xcnv: no collection %q", coll)
	}
	vs := make([]calo.Adc, len(hits.Hits))
	for i, h := range hits.Hits {
		vs[i] = calo.Adc{ID: calo.CellID(h.CellID0), Value: int(h.Amplitude)}
	}
	return vs, nil
}

func cells(evt *lcio.Event, coll string) ([]calo.CellID, error) {
	hits, ok := evt.Get(coll).(*lcio.RawCalorimeterHitContainer)
	if !ok {
		return nil, fmt.Errorf("xcnv: no collection %q", coll)
	}
	ids := make([]calo.CellID, len(hits.Hits))
	for i, h := range hits.Hits {
		ids[i] = calo.CellID(h.CellID0)
	}
	return ids, nil
}

func status(evt *lcio.Event, coll string) (*readout.Status, error) {
	obj, ok := evt.Get(coll).(*lcio.GenericObject)
	if !ok {
		return nil, fmt.Errorf("xcnv: no collection %q", coll)
	}
	if len(obj.Data) == 0 || len(obj.Data[0].I32s) != 1 {
		return nil, fmt.Errorf("xcnv: invalid status header in %q", coll)
	}
	st := readout.NewStatus(rawbank.Type(obj.Data[0].I32s[0]))
	for i, d := range obj.Data[1:] {
		if len(d.I32s) != 2 {
			return nil, fmt.Errorf("xcnv: invalid status entry %d in %q", i, coll)
		}
		st.Add(int(d.I32s[0]), readout.Flag(d.I32s[1]))
	}
	return st, nil
}
