// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rawbank

import (
	"encoding/binary"
	"io"

	"github.com/go-lpc/lhcb/internal/crc16"
	"golang.org/x/xerrors"
)

// maxBanks is the maximum number of banks accepted in one event frame.
const maxBanks = 1 << 16

// Decoder reads (and validates) raw events from an underlying data source.
// Decoder computes CRC-16 checksums on the fly, during the
// acquisition of the event frames.
type Decoder struct {
	r io.Reader

	buf []byte
	err error
	crc crc16.Hash16
}

// NewDecoder creates a decoder that reads and validates data from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   r,
		buf: make([]byte, 8),
		crc: crc16.New(nil),
	}
}

// Decode reads the next event frame into evt.
// Decode returns io.EOF when the stream ends on a frame boundary.
func (dec *Decoder) Decode(evt *Event) error {
	dec.crc.Reset()

	marker := dec.readU32()
	if dec.err != nil {
		return xerrors.Errorf("rawbank: could not read frame marker: %w", dec.err)
	}
	if marker != frameMarker {
		return xerrors.Errorf("rawbank: invalid frame marker (got=0x%08x, want=0x%08x)", marker, uint32(frameMarker))
	}

	evt.Run = dec.readU32()
	evt.Number = dec.readU64()
	n := dec.readU32()
	if dec.err != nil {
		return xerrors.Errorf("rawbank: could not read event header: %w", dec.unexpected())
	}
	if n > maxBanks {
		return xerrors.Errorf("rawbank: event %d has too many banks (n=%d)", evt.Number, n)
	}

	evt.Banks = make([]*Bank, 0, n)
	for i := 0; i < int(n); i++ {
		var (
			nwords  = dec.readU32()
			magic   = dec.readU16()
			length  = dec.readU16()
			typ     = dec.readU8()
			version = dec.readU8()
			source  = dec.readU16()
		)
		if dec.err != nil {
			return xerrors.Errorf("rawbank: event %d could not read bank %d header: %w",
				evt.Number, i, dec.unexpected(),
			)
		}
		if nwords > maxWords {
			return xerrors.Errorf("rawbank: event %d bank %d has an invalid payload (words=%d)",
				evt.Number, i, nwords,
			)
		}
		size := int(length) - HeaderSize
		if size < 0 {
			size = 0
		}
		b := &Bank{
			Magic:    magic,
			Size:     size,
			Type:     Type(typ),
			Version:  version,
			SourceID: int(source),
			Data:     make([]uint32, nwords),
		}
		for j := range b.Data {
			b.Data[j] = dec.readU32()
		}
		if dec.err != nil {
			return xerrors.Errorf("rawbank: event %d could not read bank %d payload: %w",
				evt.Number, i, dec.unexpected(),
			)
		}
		evt.Banks = append(evt.Banks, b)
	}

	var (
		comp = dec.crc.Sum16()
		recv = dec.readU16()
	)
	if dec.err != nil {
		return xerrors.Errorf("rawbank: event %d could not receive CRC-16: %w",
			evt.Number, dec.unexpected(),
		)
	}
	if comp != recv {
		return xerrors.Errorf("rawbank: event %d inconsistent CRC: recv=0x%04x comp=0x%04x",
			evt.Number, recv, comp,
		)
	}

	return nil
}

// unexpected converts a clean EOF in the middle of a frame into
// io.ErrUnexpectedEOF.
func (dec *Decoder) unexpected() error {
	if xerrors.Is(dec.err, io.EOF) {
		dec.err = io.ErrUnexpectedEOF
	}
	return dec.err
}

func (dec *Decoder) load(n int) {
	if dec.err != nil {
		return
	}
	_, dec.err = io.ReadFull(dec.r, dec.buf[:n])
	if dec.err != nil {
		return
	}
	_, _ = dec.crc.Write(dec.buf[:n]) // can not fail.
}

func (dec *Decoder) readU8() uint8 {
	dec.load(1)
	return dec.buf[0]
}

func (dec *Decoder) readU16() uint16 {
	dec.load(2)
	return binary.LittleEndian.Uint16(dec.buf[:2])
}

func (dec *Decoder) readU32() uint32 {
	dec.load(4)
	return binary.LittleEndian.Uint32(dec.buf[:4])
}

func (dec *Decoder) readU64() uint64 {
	dec.load(8)
	return binary.LittleEndian.Uint64(dec.buf[:8])
}
