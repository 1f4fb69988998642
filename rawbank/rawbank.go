// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rawbank holds the raw data banks of an LHCb event, as delivered
// by the readout boards, and the event stream format used to store them.
package rawbank // import "github.com/go-lpc/lhcb/rawbank"

import "fmt"

// Magic is the pattern marking the start of every well-formed bank.
const Magic = 0xCBCB

// HeaderSize is the size in bytes of a bank header.
const HeaderSize = 8

// Type identifies the sub-detector and format of a bank.
type Type uint8

const (
	L0Calo          Type = 0
	PrsE            Type = 2
	EcalE           Type = 3
	HcalE           Type = 4
	PrsTrig         Type = 5
	EcalTrig        Type = 6
	HcalTrig        Type = 7
	EcalPacked      Type = 21
	HcalPacked      Type = 22
	PrsPacked       Type = 23
	EcalPackedError Type = 34
	HcalPackedError Type = 35
	PrsPackedError  Type = 36
	L0CaloFull      Type = 37
	L0CaloError     Type = 38
	UT              Type = 66
	UTFull          Type = 67
	UTError         Type = 68
	UTPedestal      Type = 69

	None Type = 0xff // no such bank type
)

var typeNames = map[Type]string{
	L0Calo:          "L0Calo",
	PrsE:            "PrsE",
	EcalE:           "EcalE",
	HcalE:           "HcalE",
	PrsTrig:         "PrsTrig",
	EcalTrig:        "EcalTrig",
	HcalTrig:        "HcalTrig",
	EcalPacked:      "EcalPacked",
	HcalPacked:      "HcalPacked",
	PrsPacked:       "PrsPacked",
	EcalPackedError: "EcalPackedError",
	HcalPackedError: "HcalPackedError",
	PrsPackedError:  "PrsPackedError",
	L0CaloFull:      "L0CaloFull",
	L0CaloError:     "L0CaloError",
	UT:              "UT",
	UTFull:          "UTFull",
	UTError:         "UTError",
	UTPedestal:      "UTPedestal",
	None:            "None",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Bank is a read-only view of the payload sent by one readout board
// (Tell1) for one event.
type Bank struct {
	Magic    uint16
	Size     int // declared payload size, in bytes
	Type     Type
	Version  uint8
	SourceID int
	Data     []uint32 // payload words actually present
}

// New returns a well-formed bank holding the provided payload words.
func New(typ Type, version uint8, source int, data []uint32) *Bank {
	return &Bank{
		Magic:    Magic,
		Size:     4 * len(data),
		Type:     typ,
		Version:  version,
		SourceID: source,
		Data:     data,
	}
}

// Words returns the number of payload words declared by the bank header.
func (b *Bank) Words() int {
	return (b.Size + 3) / 4
}

func (b *Bank) String() string {
	return fmt.Sprintf(
		"Bank{type=%v, version=%d, source=%d, size=%d, words=%d}",
		b.Type, b.Version, b.SourceID, b.Size, len(b.Data),
	)
}

// Source gives access to the banks of the current event.
type Source interface {
	// BanksOf returns all the banks of the given type.
	// The returned slice may be empty.
	BanksOf(t Type) []*Bank
}

// Event is a raw event: the collection of banks read out for one trigger.
type Event struct {
	Run    uint32
	Number uint64
	Banks  []*Bank
}

// BanksOf returns all the banks of type t, in readout order.
func (evt *Event) BanksOf(t Type) []*Bank {
	var banks []*Bank
	for _, b := range evt.Banks {
		if b.Type == t {
			banks = append(banks, b)
		}
	}
	return banks
}

// Add appends banks to the event.
func (evt *Event) Add(banks ...*Bank) {
	evt.Banks = append(evt.Banks, banks...)
}

var _ Source = (*Event)(nil)
