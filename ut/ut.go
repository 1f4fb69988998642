// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ut decodes the zero-suppressed raw banks of the LHCb upstream
// tracker.
package ut // import "github.com/go-lpc/lhcb/ut"

import (
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/exp/slices"
)

const (
	stripBits  = 10
	sectorBits = 5
	regionBits = 2
	layerBits  = 2

	sectorShift  = stripBits
	regionShift  = sectorShift + sectorBits
	layerShift   = regionShift + regionBits
	stationShift = layerShift + layerBits

	stripMask   = 1<<stripBits - 1
	sectorMask  = 1<<sectorBits - 1
	regionMask  = 1<<regionBits - 1
	layerMask   = 1<<layerBits - 1
	stationMask = 3

	// SectorStrips is the number of strips read out per sector.
	SectorStrips = 512
	// MaxSectors is the maximum number of sectors read out by one board.
	MaxSectors   = 8
)

// ChannelID identifies one strip of the upstream tracker.
//
//	bits [ 0,10): strip
//	bits [10,15): sector
//	bits [15,17): detector region
//	bits [17,19): layer
//	bits [19,21): station
type ChannelID uint32

func NewChannelID(station, layer, region, sector, strip int) ChannelID {
	return ChannelID(
		uint32(station&stationMask)<<stationShift |
			uint32(layer&layerMask)<<layerShift |
			uint32(region&regionMask)<<regionShift |
			uint32(sector&sectorMask)<<sectorShift |
			uint32(strip&stripMask),
	)
}

func (id ChannelID) Station() int { return int(id>>stationShift) & stationMask }
func (id ChannelID) Layer() int   { return int(id>>layerShift) & layerMask }
func (id ChannelID) Region() int  { return int(id>>regionShift) & regionMask }
func (id ChannelID) Sector() int  { return int(id>>sectorShift) & sectorMask }
func (id ChannelID) Strip() int   { return int(id) & stripMask }

// WithStrip returns the channel of strip in the same sector.
func (id ChannelID) WithStrip(strip int) ChannelID {
	return id&^stripMask | ChannelID(strip&stripMask)
}

func (id ChannelID) String() string {
	return fmt.Sprintf(
		"UT[s=%d,l=%d,r=%d,sec=%d,strip=%d]",
		id.Station(), id.Layer(), id.Region(), id.Sector(), id.Strip(),
	)
}

// Board lists the sectors read out by one board, in readout order.
// Sector channels have a null strip.
type Board struct {
	Tell1   int         `json:"tell1"`
	Sectors []ChannelID `json:"sectors"`
}

// Mapping is the readout map of the upstream tracker.
type Mapping struct {
	boards map[int][]ChannelID
	tell1s []int
}

// NewMapping builds and validates a readout map.
func NewMapping(boards []Board) (*Mapping, error) {
	m := &Mapping{
		boards: make(map[int][]ChannelID, len(boards)),
	}
	seen := make(map[ChannelID]int)
	for _, b := range boards {
		if _, dup := m.boards[b.Tell1]; dup {
			return nil, fmt.Errorf("ut: duplicate board %d", b.Tell1)
		}
		if n := len(b.Sectors); n > MaxSectors {
			return nil, fmt.Errorf("ut: board %d has too many sectors (n=%d, max=%d)", b.Tell1, n, MaxSectors)
		}
		for _, sec := range b.Sectors {
			if sec.Strip() != 0 {
				return nil, fmt.Errorf("ut: board %d has an invalid sector %v", b.Tell1, sec)
			}
			if o, dup := seen[sec]; dup {
				return nil, fmt.Errorf("ut: sector %v read out by boards %d and %d", sec, o, b.Tell1)
			}
			seen[sec] = b.Tell1
		}
		m.boards[b.Tell1] = slices.Clone(b.Sectors)
		m.tell1s = append(m.tell1s, b.Tell1)
	}
	slices.Sort(m.tell1s)
	return m, nil
}

// ReadMapping decodes a JSON readout map from r.
func ReadMapping(r io.Reader) (*Mapping, error) {
	var boards []Board
	err := json.NewDecoder(r).Decode(&boards)
	if err != nil {
		return nil, fmt.Errorf("ut: could not decode mapping: %w", err)
	}
	return NewMapping(boards)
}

// Tell1s returns the sorted source IDs of the readout boards.
func (m *Mapping) Tell1s() []int { return m.tell1s }

// Boards returns the readout boards, sorted by source ID.
func (m *Mapping) Boards() []Board {
	out := make([]Board, len(m.tell1s))
	for i, tell1 := range m.tell1s {
		out[i] = Board{Tell1: tell1, Sectors: m.boards[tell1]}
	}
	return out
}

// ChannelFromTell1 returns the strip read out at a board channel.
func (m *Mapping) ChannelFromTell1(tell1, ch int) (ChannelID, bool) {
	secs := m.boards[tell1]
	i := ch / SectorStrips
	if ch < 0 || i >= len(secs) {
		return 0, false
	}
	return secs[i].WithStrip(ch % SectorStrips), true
}

// Tell1Channel returns the board channel reading out strip id.
func (m *Mapping) Tell1Channel(tell1 int, id ChannelID) (int, bool) {
	sec := id.WithStrip(0)
	i := slices.Index(m.boards[tell1], sec)
	if i < 0 || id.Strip() >= SectorStrips {
		return 0, false
	}
	return i*SectorStrips + id.Strip(), true
}
