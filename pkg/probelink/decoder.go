// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package probelink

import (
	"errors"
	"fmt"
	"time"
)

// ErrCRCMismatch is returned when a packet's CRC does not match its contents
var ErrCRCMismatch = errors.New("CRC mismatch")

// Decoder implements the probe link packet decoder state machine
type Decoder struct {
	state       int
	buffer      []byte
	bufferIndex int
	escapeNext  bool
	seqBytes    int // Counter for sequence bytes (0-1)
	packet      *Packet
	rawBuffer   []byte // Accumulate raw bytes including framing
}

// NewDecoder creates a new protocol decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, MaxPacketSize),
		rawBuffer: make([]byte, 0, MaxPacketSize*2),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.bufferIndex = 0
	d.seqBytes = 0
	d.escapeNext = false
	d.packet = nil
	d.rawBuffer = d.rawBuffer[:0]
}

// GetRawBytes returns the accumulated raw bytes since the last packet
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// DecodeByte processes a single byte through the decoder state machine
// Returns a completed packet, or nil if the packet is incomplete
// Returns an error if decoding fails
func (d *Decoder) DecodeByte(b byte) (*Packet, error) {
	d.rawBuffer = append(d.rawBuffer, b)

	// Framing bytes are never escaped on the wire
	if !d.escapeNext {
		switch b {
		case StartByte:
			d.Reset()
			d.rawBuffer = append(d.rawBuffer[:0], b)
			d.state = stateLength
			return nil, nil

		case EndByte:
			return d.finish()

		case EscByte:
			d.escapeNext = true
			return nil, nil
		}
	} else {
		b ^= EscXor
		d.escapeNext = false
	}

	switch d.state {
	case stateIdle:
		// Waiting for START byte
		return nil, nil

	case stateLength:
		if b > MaxPayloadSize {
			d.Reset()
			return nil, fmt.Errorf("invalid length: %d (max %d)", b, MaxPayloadSize)
		}
		d.packet = &Packet{length: b, cborPayload: make([]byte, 0, b)}
		d.store(b)
		d.seqBytes = 0
		d.state = stateSeq
		return nil, nil

	case stateSeq:
		// Sequence number is little-endian
		d.packet.seq |= uint16(b) << (d.seqBytes * 8)
		d.store(b)
		d.seqBytes++
		if d.seqBytes >= SeqSize {
			if d.packet.length == 0 {
				d.state = stateCRC1
			} else {
				d.state = statePayload
			}
		}
		return nil, nil

	case statePayload:
		if d.bufferIndex >= MaxPacketSize {
			d.Reset()
			return nil, fmt.Errorf("buffer overflow: packet exceeds max size")
		}
		d.packet.cborPayload = append(d.packet.cborPayload, b)
		d.store(b)
		if len(d.packet.cborPayload) >= int(d.packet.length) {
			d.state = stateCRC1
		}
		return nil, nil

	case stateCRC1:
		d.packet.crc = uint16(b) << 8
		d.state = stateCRC2
		return nil, nil

	case stateCRC2:
		d.packet.crc |= uint16(b)
		// Wait for END byte
		return nil, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}

// Decode feeds a buffer through the decoder and returns every completed
// packet. Decode errors are collected; decoding continues after them.
func (d *Decoder) Decode(data []byte) ([]*Packet, []error) {
	var packets []*Packet
	var errs []error
	for _, b := range data {
		p, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if p != nil {
			packets = append(packets, p)
		}
	}
	return packets, errs
}

func (d *Decoder) store(b byte) {
	d.buffer[d.bufferIndex] = b
	d.bufferIndex++
}

// finish validates the packet at an END byte
func (d *Decoder) finish() (*Packet, error) {
	if d.state != stateCRC2 {
		state := d.state
		d.Reset()
		if state == stateIdle {
			return nil, nil
		}
		return nil, fmt.Errorf("unexpected END byte in state %d", state)
	}

	packet := d.packet
	calculatedCRC := CalculateCRC(d.buffer[:d.bufferIndex])
	d.Reset()

	if packet.crc != calculatedCRC {
		return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, calculatedCRC, packet.crc)
	}

	packet.timestamp = time.Now()
	return packet, nil
}
