// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calo

import (
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/exp/slices"
)

// MaxCardChannels is the maximum number of channels read out by one
// front-end card.
const MaxCardChannels = 64

// Geometry translates the readout of a calorimeter into channels and
// provides their calibration.
type Geometry interface {
	Calo() Name

	// Tell1s returns the sorted source IDs of the readout boards.
	Tell1s() []int
	// Tell1Cards returns the front-end cards read by a Tell1, in readout order.
	Tell1Cards(tell1 int) []int
	// CardCode returns the code a card writes in its block headers.
	CardCode(card int) int
	// CardChannels returns the channels of a card, indexed by card input.
	CardChannels(card int) []CellID
	// ChannelFromTell1 returns the channel at a Tell1 local index.
	// ChannelFromTell1 reports false for an index outside the Tell1 range.
	ChannelFromTell1(tell1, index int) (CellID, bool)

	Valid(id CellID) bool
	Pedestal(id CellID) float64
	Gain(id CellID) float64
}

// Card describes one front-end card.
type Card struct {
	ID       int      `json:"id" db:"card"`
	Code     int      `json:"code" db:"code"`
	Tell1    int      `json:"tell1" db:"tell1"`
	Crate    int      `json:"crate" db:"crate"`
	Slot     int      `json:"slot" db:"slot"`
	Channels []CellID `json:"channels"`
}

// Calib holds the calibration constants of one channel.
type Calib struct {
	ID       CellID  `json:"id" db:"cell"`
	Pedestal float64 `json:"pedestal" db:"pedestal"`
	Gain     float64 `json:"gain" db:"gain"`
}

// Detector is the readout map and calibration of one calorimeter.
type Detector struct {
	name  Name
	cards []Card
	calib map[CellID]Calib

	tell1s []int
	byCard map[int]int   // card ID -> position in cards
	byTell map[int][]int // tell1 -> card IDs, in readout order
	flat   map[int][]CellID
	valid  map[CellID]bool
}

// NewDetector builds and validates the readout map of calorimeter name.
// Channels without calibration get a null pedestal and a unit gain.
func NewDetector(name Name, cards []Card, calib []Calib) (*Detector, error) {
	det := &Detector{
		name:   name,
		cards:  make([]Card, len(cards)),
		calib:  make(map[CellID]Calib, len(calib)),
		byCard: make(map[int]int, len(cards)),
		byTell: make(map[int][]int),
		flat:   make(map[int][]CellID),
		valid:  make(map[CellID]bool),
	}
	copy(det.cards, cards)

	codes := make(map[[2]int]int)
	for i, card := range det.cards {
		if j, dup := det.byCard[card.ID]; dup {
			return nil, fmt.Errorf(
				"calo: duplicate card %d (entries %d and %d)", card.ID, j, i,
			)
		}
		det.byCard[card.ID] = i

		if card.Code < 0 || card.Code > 0x1FF {
			return nil, fmt.Errorf("calo: card %d has an invalid code %d", card.ID, card.Code)
		}
		key := [2]int{card.Tell1, card.Code}
		if o, dup := codes[key]; dup {
			return nil, fmt.Errorf(
				"calo: cards %d and %d share code %d on Tell1 %d",
				o, card.ID, card.Code, card.Tell1,
			)
		}
		codes[key] = card.ID

		if n := len(card.Channels); n > MaxCardChannels {
			return nil, fmt.Errorf(
				"calo: card %d has too many channels (n=%d, max=%d)",
				card.ID, n, MaxCardChannels,
			)
		}
		for _, id := range card.Channels {
			if id == 0 {
				continue
			}
			if id.Calo() != name {
				return nil, fmt.Errorf(
					"calo: card %d reads channel %v out of %v", card.ID, id, name,
				)
			}
			if det.valid[id] {
				return nil, fmt.Errorf("calo: channel %v read out twice", id)
			}
			det.valid[id] = true
		}

		det.byTell[card.Tell1] = append(det.byTell[card.Tell1], card.ID)
		det.flat[card.Tell1] = append(det.flat[card.Tell1], card.Channels...)
	}

	for tell1 := range det.byTell {
		det.tell1s = append(det.tell1s, tell1)
	}
	slices.Sort(det.tell1s)

	for _, c := range calib {
		det.calib[c.ID] = c
	}

	return det, nil
}

type jsonDetector struct {
	Calo  Name    `json:"calo"`
	Cards []Card  `json:"cards"`
	Calib []Calib `json:"calib,omitempty"`
}

// ReadDetector decodes a JSON readout map from r.
func ReadDetector(r io.Reader) (*Detector, error) {
	var raw jsonDetector
	err := json.NewDecoder(r).Decode(&raw)
	if err != nil {
		return nil, fmt.Errorf("calo: could not decode detector: %w", err)
	}
	return NewDetector(raw.Calo, raw.Cards, raw.Calib)
}

// WriteJSON encodes the readout map to w.
func (det *Detector) WriteJSON(w io.Writer) error {
	raw := jsonDetector{
		Calo:  det.name,
		Cards: det.cards,
		Calib: det.Calibs(),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	err := enc.Encode(raw)
	if err != nil {
		return fmt.Errorf("calo: could not encode detector: %w", err)
	}
	return nil
}

// ForCalo returns the readout map of calorimeter name sharing the readout
// of det. Only the Spd view of the Prs readout is supported.
func (det *Detector) ForCalo(name Name) (*Detector, error) {
	if name == det.name {
		return det, nil
	}
	if det.name != Prs || name != Spd {
		return nil, fmt.Errorf("calo: no %v view of %v readout", name, det.name)
	}
	cards := make([]Card, len(det.cards))
	for i, card := range det.cards {
		cards[i] = card
		cards[i].Channels = make([]CellID, len(card.Channels))
		for j, id := range card.Channels {
			if id != 0 {
				cards[i].Channels[j] = id.WithCalo(name)
			}
		}
	}
	return NewDetector(name, cards, nil)
}

func (det *Detector) Calo() Name    { return det.name }
func (det *Detector) Tell1s() []int { return det.tell1s }
func (det *Detector) Cards() []Card { return det.cards }

// Calibs returns the calibration constants, sorted by channel.
func (det *Detector) Calibs() []Calib {
	if len(det.calib) == 0 {
		return nil
	}
	out := make([]Calib, 0, len(det.calib))
	for _, c := range det.calib {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Calib) bool { return a.ID < b.ID })
	return out
}

func (det *Detector) Tell1Cards(tell1 int) []int { return det.byTell[tell1] }

func (det *Detector) card(id int) *Card {
	i, ok := det.byCard[id]
	if !ok {
		panic(fmt.Errorf("calo: unknown card %d in %v readout", id, det.name))
	}
	return &det.cards[i]
}

func (det *Detector) CardCode(card int) int          { return det.card(card).Code }
func (det *Detector) CardChannels(card int) []CellID { return det.card(card).Channels }
func (det *Detector) Valid(id CellID) bool           { return det.valid[id] }

// NumChannels returns the number of local indices of tell1.
func (det *Detector) NumChannels(tell1 int) int { return len(det.flat[tell1]) }

// ChannelFromTell1 returns the channel read at local index of tell1.
// The cards of a Tell1 own consecutive index ranges, in readout order.
func (det *Detector) ChannelFromTell1(tell1, index int) (CellID, bool) {
	chans := det.flat[tell1]
	if index < 0 || index >= len(chans) {
		return 0, false
	}
	return chans[index], true
}

func (det *Detector) Pedestal(id CellID) float64 {
	c, ok := det.calib[id]
	if !ok {
		return 0
	}
	return c.Pedestal
}

func (det *Detector) Gain(id CellID) float64 {
	c, ok := det.calib[id]
	if !ok {
		return 1
	}
	return c.Gain
}

// Energy converts the ADC value of a channel into an energy.
func Energy(geo Geometry, id CellID, adc int) float64 {
	return (float64(adc) - geo.Pedestal(id)) * geo.Gain(id)
}

var _ Geometry = (*Detector)(nil)
