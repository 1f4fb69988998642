// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"fmt"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/lhcb/calo"
	"github.com/go-lpc/lhcb/internal/recon"
	"github.com/go-lpc/lhcb/readout"
)

// summary is the digest of a decoded event published on /summary.
type summary struct {
	Run   uint32
	Event uint64
	Calos []caloSummary
	UT    int32 // number of UT clusters, -1 when not decoded
}

type caloSummary struct {
	Name   calo.Name
	Adcs   uint32
	Status readout.Flag // global status of the ADC banks
	Max    int32        // largest ADC value
}

func summaryFrom(res *recon.Result) summary {
	sum := summary{
		Run:   res.Run,
		Event: res.Event,
		Calos: make([]caloSummary, len(res.Calos)),
		UT:    -1,
	}
	for i, c := range res.Calos {
		sum.Calos[i] = caloSummary{
			Name:   c.Name,
			Adcs:   uint32(len(c.Adcs)),
			Status: c.Status.Global(),
			Max:    int32(c.Range.Max),
		}
	}
	if res.UT != nil {
		sum.UT = int32(len(res.UT.Clusters))
	}
	return sum
}

func (sum summary) MarshalTDAQ() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU32(sum.Run)
	enc.WriteU64(sum.Event)
	enc.WriteU32(uint32(len(sum.Calos)))
	for _, c := range sum.Calos {
		enc.WriteU8(uint8(c.Name))
		enc.WriteU32(c.Adcs)
		enc.WriteU32(uint32(c.Status))
		enc.WriteI32(c.Max)
	}
	enc.WriteI32(sum.UT)
	return buf.Bytes(), enc.Err()
}

func (sum *summary) UnmarshalTDAQ(p []byte) error {
	dec := tdaq.NewDecoder(bytes.NewReader(p))
	sum.Run = dec.ReadU32()
	sum.Event = dec.ReadU64()
	n := dec.ReadU32()
	if err := dec.Err(); err != nil {
		return fmt.Errorf("could not decode summary header: %w", err)
	}
	if int(n) > len(p) {
		return fmt.Errorf("could not decode summary: invalid number of calorimeters (n=%d)", n)
	}
	sum.Calos = make([]caloSummary, n)
	for i := range sum.Calos {
		c := &sum.Calos[i]
		c.Name = calo.Name(dec.ReadU8())
		c.Adcs = dec.ReadU32()
		c.Status = readout.Flag(dec.ReadU32())
		c.Max = dec.ReadI32()
	}
	sum.UT = dec.ReadI32()
	return dec.Err()
}

