// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rawbank

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-lpc/lhcb/internal/crc16"
)

const (
	frameMarker = 0x4C484362 // starts every event frame ("LHCb")
	maxWords    = 0xffff / 4 // largest payload of a bank, in words
	maxSource   = 0xffff
)

// Encoder writes raw events to an output stream.
// Encoder computes the CRC-16 checksum of each event frame on the fly
// and appends it at the end of the frame.
type Encoder struct {
	w   io.Writer
	buf []byte
	err error
	crc crc16.Hash16
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   w,
		buf: make([]byte, 8),
		crc: crc16.New(nil),
	}
}

// Encode writes the event to the stream, computes the corresponding
// CRC-16 checksum on the fly and appends it to the frame.
func (enc *Encoder) Encode(evt *Event) error {
	if evt == nil {
		return nil
	}
	if enc.err != nil {
		return enc.err
	}

	for i, b := range evt.Banks {
		if b.Size < 0 || b.Size+HeaderSize > 0xffff {
			return fmt.Errorf("rawbank: bank %d has an invalid size (size=%d)", i, b.Size)
		}
		if len(b.Data) > maxWords {
			return fmt.Errorf("rawbank: bank %d has an invalid payload (words=%d)", i, len(b.Data))
		}
		if b.SourceID < 0 || b.SourceID > maxSource {
			return fmt.Errorf("rawbank: bank %d has an invalid source (source=%d)", i, b.SourceID)
		}
	}

	enc.crc.Reset()

	enc.writeU32(frameMarker)
	if enc.err != nil {
		return fmt.Errorf("rawbank: could not write frame marker: %w", enc.err)
	}
	enc.writeU32(evt.Run)
	enc.writeU64(evt.Number)
	enc.writeU32(uint32(len(evt.Banks)))

	for i, b := range evt.Banks {
		enc.writeU32(uint32(len(b.Data)))
		enc.writeU16(b.Magic)
		enc.writeU16(uint16(b.Size + HeaderSize))
		enc.writeU8(uint8(b.Type))
		enc.writeU8(b.Version)
		enc.writeU16(uint16(b.SourceID))
		for _, w := range b.Data {
			enc.writeU32(w)
		}
		if enc.err != nil {
			return fmt.Errorf("rawbank: could not write bank %d (source=%d): %w",
				i, b.SourceID, enc.err,
			)
		}
	}

	crc := enc.crc.Sum16()
	enc.writeU16(crc)
	if enc.err != nil {
		return fmt.Errorf("rawbank: could not write CRC-16: %w", enc.err)
	}

	return nil
}

func (enc *Encoder) write(p []byte) {
	if enc.err != nil {
		return
	}
	_, enc.err = enc.w.Write(p)
	_, _ = enc.crc.Write(p) // can not fail.
}

func (enc *Encoder) writeU8(v uint8) {
	enc.buf[0] = v
	enc.write(enc.buf[:1])
}

func (enc *Encoder) writeU16(v uint16) {
	binary.LittleEndian.PutUint16(enc.buf[:2], v)
	enc.write(enc.buf[:2])
}

func (enc *Encoder) writeU32(v uint32) {
	binary.LittleEndian.PutUint32(enc.buf[:4], v)
	enc.write(enc.buf[:4])
}

func (enc *Encoder) writeU64(v uint64) {
	binary.LittleEndian.PutUint64(enc.buf[:8], v)
	enc.write(enc.buf[:8])
}
