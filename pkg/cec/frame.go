// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cec

// Frame is one decoded unit of the bus, the decoder's output.
//
// Data depends on Type:
//   - FrameHeader: source address in the high nibble, destination in the low
//   - FrameOpCode, FrameOperand: the byte value
//   - FrameEOM, FrameACK: the raw bus bit (0 or 1)
//   - FrameError: the partial byte received before the error (see Bits)
//   - FrameStartSeq: unused
type Frame struct {
	Type        FrameType
	StartSample uint64 // inclusive
	EndSample   uint64 // inclusive
	Data        uint8
	Bits        uint8       // FrameError: number of bits received in the abandoned block
	Reason      ErrorReason // FrameError only
}

// Source returns the initiator address of a header frame
func (f Frame) Source() DevAddress {
	return DevAddress(f.Data>>4) & 0xF
}

// Destination returns the follower address of a header frame
func (f Frame) Destination() DevAddress {
	return DevAddress(f.Data) & 0xF
}

// Flag returns the bit value of an EOM or ACK frame
func (f Frame) Flag() bool {
	return f.Data != 0
}

// IsBroadcast reports whether a header frame addresses all devices
func (f Frame) IsBroadcast() bool {
	return f.Type == FrameHeader && f.Destination() == AddrBroadcast
}

// Acknowledged interprets a raw ACK bit. The follower drives the bit low
// to acknowledge a directed message, so raw 0 means acknowledged. For a
// broadcast any follower drives it low to reject, so raw 1 means accepted.
func Acknowledged(ackBit bool, broadcast bool) bool {
	if broadcast {
		return ackBit
	}
	return !ackBit
}

// IsError reports whether the frame is an Error frame
func (f Frame) IsError() bool {
	return f.Type == FrameError
}

func newFrame(t FrameType, s Span, data uint8) Frame {
	return Frame{Type: t, StartSample: s.Start, EndSample: s.End, Data: data}
}

func boolBit(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
