// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ut

import (
	"fmt"

	"github.com/go-lpc/lhcb/rawbank"
	"github.com/go-lpc/lhcb/readout"
)

// Version is the version of the zero-suppressed bank layout.
const Version = 2

const (
	hdrClusters = 0xFFFF
	hdrPCNShift = 16
	hdrPCNMask  = 0xFF
	hdrError    = 1 << 24

	clsChanMask  = 0xFFF
	clsFracShift = 12
	clsFracMask  = 0x3
	clsSizeShift = 14
	clsHigh      = 1 << 15
)

// Cluster is a cluster of strips found by a readout board.
type Cluster struct {
	Channel ChannelID
	Frac    int  // inter-strip position, in quarters of a strip
	Size    bool // cluster spans more than two strips
	High    bool // seed above the high threshold
	Source  int  // readout board
}

func (c Cluster) String() string {
	return fmt.Sprintf(
		"Cluster{%v, frac=%d, size=%v, high=%v, src=%d}",
		c.Channel, c.Frac, c.Size, c.High, c.Source,
	)
}

type span struct {
	beg, end int
}

// Decoder decodes the zero-suppressed banks of the upstream tracker.
type Decoder struct {
	*readout.Tool

	m    *Mapping
	pcn  map[int]int
	seen map[ChannelID]struct{}
	srcs map[int]span
	clus []Cluster
}

// NewDecoder creates a decoder for the boards of m.
func NewDecoder(m *Mapping, opts ...readout.Option) *Decoder {
	dec := &Decoder{
		m:    m,
		pcn:  make(map[int]int),
		seen: make(map[ChannelID]struct{}),
		srcs: make(map[int]span),
	}
	dec.Tool = readout.New(
		"ut", m,
		readout.BankTypes{
			Packed: rawbank.UT,
			Short:  rawbank.None,
			Error:  rawbank.UTError,
		},
		dec.clear,
		opts...,
	)
	return dec
}

// SetMapping changes the readout map and invalidates the current event.
func (dec *Decoder) SetMapping(m *Mapping) {
	dec.m = m
	dec.SetDetector(m)
}

func (dec *Decoder) clear() {
	dec.clus = dec.clus[:0]
	for k := range dec.pcn {
		delete(dec.pcn, k)
	}
	for k := range dec.seen {
		delete(dec.seen, k)
	}
	for k := range dec.srcs {
		delete(dec.srcs, k)
	}
}

// Clusters returns the clusters of all the boards of the current event.
func (dec *Decoder) Clusters() []Cluster {
	dec.decodeAll()
	return dec.clus[:len(dec.clus):len(dec.clus)]
}

// ClustersFor returns the clusters of board src.
func (dec *Decoder) ClustersFor(src int) []Cluster {
	if !dec.IsRead(src) {
		dec.decodeTell1(src)
	}
	sp, ok := dec.srcs[src]
	if !ok {
		return nil
	}
	return dec.clus[sp.beg:sp.end:sp.end]
}

// PCN returns the pipeline column number of board src.
func (dec *Decoder) PCN(src int) (int, bool) {
	if !dec.IsRead(src) {
		dec.decodeTell1(src)
	}
	v, ok := dec.pcn[src]
	return v, ok
}

// DecodeBank decodes b into the cache of the current event.
// A bank whose source was already decoded is flagged, not decoded again.
func (dec *Decoder) DecodeBank(b *rawbank.Bank) bool {
	if dec.State() == readout.NotFetched {
		dec.SetBanks([]*rawbank.Bank{b})
	}
	if dec.CheckSrc(b.SourceID) {
		return true
	}
	return dec.decode(b)
}

func (dec *Decoder) decodeAll() {
	if dec.State() == readout.Decoded {
		return
	}
	for _, b := range dec.Banks() {
		if dec.IsRead(b.SourceID) {
			continue
		}
		dec.CheckSrc(b.SourceID)
		dec.decode(b)
	}
	dec.MarkDecoded()
}

func (dec *Decoder) decodeTell1(src int) bool {
	if !dec.OK() {
		return false
	}
	if dec.CheckSrc(src) {
		return true
	}
	for _, b := range dec.Banks() {
		if b.SourceID == src {
			return dec.decode(b)
		}
	}
	return false
}

func (dec *Decoder) decode(b *rawbank.Bank) bool {
	src := b.SourceID
	return dec.Decode(b, &stage{dec: dec}, func(words []uint32) readout.Flag {
		return dec.parse(src, words)
	}, Version)
}

// stage holds the clusters of the bank being decoded.
type stage struct {
	dec *Decoder
	beg int
}

func (s *stage) Begin() { s.beg = len(s.dec.clus) }

func (s *stage) Rollback() {
	for _, c := range s.dec.clus[s.beg:] {
		delete(s.dec.seen, c.Channel)
	}
	s.dec.clus = s.dec.clus[:s.beg]
}

func (s *stage) Commit(src int) {
	s.dec.srcs[src] = span{s.beg, len(s.dec.clus)}
}

func (dec *Decoder) parse(src int, words []uint32) readout.Flag {
	var flag readout.Flag
	if len(words) == 0 {
		return readout.Corrupted | readout.Incomplete
	}

	hdr := words[0]
	n := int(hdr & hdrClusters)
	dec.pcn[src] = int(hdr>>hdrPCNShift) & hdrPCNMask
	if hdr&hdrError != 0 {
		flag |= readout.Tell1Error
	}

	body := words[1:]
	if want := (n + 1) / 2; len(body) != want {
		dec.Logger().Printf(
			"board %d announces %d clusters in %d words, holds %d words",
			src, n, want, len(body),
		)
		flag |= readout.Corrupted
		if n > 2*len(body) {
			n = 2 * len(body)
		}
	}

	for i := 0; i < n; i++ {
		h := body[i/2] >> (16 * (i % 2)) & 0xFFFF
		ch := int(h & clsChanMask)
		id, ok := dec.m.ChannelFromTell1(src, ch)
		if !ok {
			dec.Logger().Printf("board %d has no strip at channel %d", src, ch)
			flag |= readout.DataCorrupted | readout.Corrupted
			continue
		}
		if _, dup := dec.seen[id]; dup {
			dec.Status().Add(src, readout.DuplicateEntry)
			dec.Counters().Duplicates++
			dec.Logger().Printf("duplicate entry for strip %v (source=%d)", id, src)
			continue
		}
		dec.seen[id] = struct{}{}
		dec.clus = append(dec.clus, Cluster{
			Channel: id,
			Frac:    int(h>>clsFracShift) & clsFracMask,
			Size:    (h>>clsSizeShift)&1 == 1,
			High:    h&clsHigh != 0,
			Source:  src,
		})
	}

	return flag
}

// Pack encodes clusters into the payload of the bank of board tell1.
func Pack(m *Mapping, tell1, pcn int, tell1Error bool, clusters []Cluster) ([]uint32, error) {
	if len(clusters) > hdrClusters {
		return nil, fmt.Errorf("ut: too many clusters for board %d (n=%d)", tell1, len(clusters))
	}

	hdr := uint32(len(clusters)) | uint32(pcn&hdrPCNMask)<<hdrPCNShift
	if tell1Error {
		hdr |= hdrError
	}

	words := make([]uint32, 1+(len(clusters)+1)/2)
	words[0] = hdr
	for i, c := range clusters {
		ch, ok := m.Tell1Channel(tell1, c.Channel)
		if !ok {
			return nil, fmt.Errorf("ut: strip %v is not read out by board %d", c.Channel, tell1)
		}
		h := uint32(ch) | uint32(c.Frac&clsFracMask)<<clsFracShift
		if c.Size {
			h |= 1 << clsSizeShift
		}
		if c.High {
			h |= clsHigh
		}
		words[1+i/2] |= h << (16 * (i % 2))
	}
	return words, nil
}
