// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package probelink implements the wire protocol spoken by the cecstat
// logic probe.
//
// The probe samples the CEC line and reports level transitions in batches.
// Every packet is framed and byte-stuffed, carries a 16-bit sequence number
// so dropped batches can be detected, and is protected by CRC-16-CCITT. The
// payload is a CBOR array [msg_type, payload_map].
//
// Wire layout (before byte stuffing):
//
//	START | LENGTH | SEQ (2, little-endian) | CBOR payload | CRC (2, big-endian) | END
package probelink

// Protocol framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Packet size limits
const (
	MaxPayloadSize = 240
	SeqSize        = 2
	MaxPacketSize  = 1 + SeqSize + MaxPayloadSize + 2 // length + seq + payload + crc
)

// MaxBatchDeltas bounds the transition deltas in one batch. 24 full-width
// CBOR integers plus the batch header fit in MaxPayloadSize.
const MaxBatchDeltas = 24

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Message types - Commands (Host → Probe) 0x10-0x2F
const (
	MsgCaptureStart = 0x10
	MsgCaptureStop  = 0x11
	MsgInfoRequest  = 0x1F
	MsgPingRequest  = 0x2F
)

// Message types - Data (Probe → Host) 0x30-0x3F
const (
	MsgTransitions   = 0x30
	MsgCaptureStatus = 0x31
	MsgProbeInfo     = 0x35
	MsgPingResponse  = 0x3F
)

// Message types - Errors (Probe → Host) 0xE0-0xEF
const (
	MsgErrorOverflow   = 0xE0
	MsgErrorInvalidCmd = 0xE1
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateLength
	stateSeq
	statePayload
	stateCRC1
	stateCRC2
)
