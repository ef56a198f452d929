// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package probelink

import (
	"errors"
	"fmt"
	"time"
)

// ErrPayloadTooLarge is returned for CBOR payloads longer than
// MaxPayloadSize, which the one-byte length field cannot carry.
var ErrPayloadTooLarge = errors.New("payload too large")

// Packet represents a decoded probe link packet
type Packet struct {
	length      uint8
	seq         uint16
	cborPayload []byte // Raw CBOR bytes: [msg_type, payload_map]
	crc         uint16
	timestamp   time.Time

	// Cached parsed values (lazy parsing)
	msgType    uint8
	payloadMap map[int]interface{}
	parsed     bool
	parseErr   error
}

// NewPacket creates a packet from its wire fields
func NewPacket(seq uint16, cborPayload []byte, crc uint16) (*Packet, error) {
	if len(cborPayload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(cborPayload), MaxPayloadSize)
	}
	return &Packet{
		length:      uint8(len(cborPayload)),
		seq:         seq,
		cborPayload: cborPayload,
		crc:         crc,
		timestamp:   time.Now(),
	}, nil
}

// NewPacketWithPayload creates a new packet from message type and payload map.
// The sequence number is assigned by the Encoder.
func NewPacketWithPayload(msgType uint8, payload map[int]interface{}) *Packet {
	return &Packet{
		msgType:    msgType,
		payloadMap: payload,
		parsed:     true,
		timestamp:  time.Now(),
	}
}

// ensureParsed parses the CBOR payload if not already done
func (p *Packet) ensureParsed() {
	if p.parsed {
		return
	}
	p.parsed = true
	if len(p.cborPayload) == 0 {
		return
	}
	p.msgType, p.payloadMap, p.parseErr = ParseCBORMessage(p.cborPayload)
}

// Length returns the packet's CBOR payload length
func (p *Packet) Length() uint8 {
	return p.length
}

// Seq returns the packet's sequence number
func (p *Packet) Seq() uint16 {
	return p.seq
}

// Type returns the packet's message type (parsed from CBOR)
func (p *Packet) Type() uint8 {
	p.ensureParsed()
	return p.msgType
}

// Payload returns the raw CBOR payload bytes
func (p *Packet) Payload() []byte {
	return p.cborPayload
}

// PayloadMap returns the decoded CBOR payload map (nil for empty payloads)
func (p *Packet) PayloadMap() map[int]interface{} {
	p.ensureParsed()
	return p.payloadMap
}

// ParseError returns any error from parsing the CBOR payload
func (p *Packet) ParseError() error {
	p.ensureParsed()
	return p.parseErr
}

// CRC returns the packet's CRC value
func (p *Packet) CRC() uint16 {
	return p.crc
}

// Timestamp returns the packet's decode timestamp
func (p *Packet) Timestamp() time.Time {
	return p.timestamp
}

// IsError returns true for probe error reports
func (p *Packet) IsError() bool {
	t := p.Type()
	return t >= 0xE0 && t <= 0xEF
}
