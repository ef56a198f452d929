// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package probelink

// Command builder functions create Packet structs ready for encoding.
// They fix the payload keys used by each message type.

// NewCaptureStart creates a CAPTURE_START packet (0x10).
// The probe starts sampling the given channel at sampleRate Hz and streams
// TRANSITIONS packets until CAPTURE_STOP.
func NewCaptureStart(sampleRate uint64, channel uint8) *Packet {
	payload := map[int]interface{}{
		0: sampleRate,
		1: uint64(channel),
	}
	return NewPacketWithPayload(MsgCaptureStart, payload)
}

// NewCaptureStop creates a CAPTURE_STOP packet (0x11).
func NewCaptureStop() *Packet {
	return NewPacketWithPayload(MsgCaptureStop, nil)
}

// NewInfoRequest creates an INFO_REQUEST packet (0x1F).
// The probe responds with PROBE_INFO.
func NewInfoRequest() *Packet {
	return NewPacketWithPayload(MsgInfoRequest, nil)
}

// NewPingRequest creates a PING_REQUEST packet (0x2F).
// The probe responds with PING_RESPONSE containing uptime.
func NewPingRequest() *Packet {
	return NewPacketWithPayload(MsgPingRequest, nil)
}

// NewTransitions creates a TRANSITIONS packet (0x30) from a batch
func NewTransitions(b TransitionBatch) *Packet {
	payload := map[int]interface{}{
		0: b.First,
		1: uint64(b.Level),
		2: b.Deltas,
	}
	return NewPacketWithPayload(MsgTransitions, payload)
}

// NewCaptureStatus creates a CAPTURE_STATUS packet (0x31).
func NewCaptureStatus(running bool, sampleRate uint64, samples uint64) *Packet {
	payload := map[int]interface{}{
		0: running,
		1: sampleRate,
		2: samples,
	}
	return NewPacketWithPayload(MsgCaptureStatus, payload)
}

// NewProbeInfo creates a PROBE_INFO packet (0x35).
func NewProbeInfo(info ProbeInfo) *Packet {
	payload := map[int]interface{}{
		0: info.Serial,
		1: info.Firmware,
		2: info.MaxSampleRate,
		3: uint64(info.Channels),
	}
	return NewPacketWithPayload(MsgProbeInfo, payload)
}

// NewPingResponse creates a PING_RESPONSE packet (0x3F).
func NewPingResponse(uptimeMs uint64) *Packet {
	payload := map[int]interface{}{
		0: uptimeMs,
	}
	return NewPacketWithPayload(MsgPingResponse, payload)
}

// NewOverflow creates an ERROR_OVERFLOW packet (0xE0).
// Sent when the probe's transition buffer overflowed and edges were lost.
func NewOverflow(dropped uint64) *Packet {
	payload := map[int]interface{}{
		0: dropped,
	}
	return NewPacketWithPayload(MsgErrorOverflow, payload)
}

// ProbeInfo describes a connected probe
type ProbeInfo struct {
	Serial        uint64
	Firmware      string
	MaxSampleRate uint64
	Channels      uint8
}

// ParseProbeInfo extracts probe information from a PROBE_INFO packet
func ParseProbeInfo(p *Packet) (ProbeInfo, bool) {
	if p.Type() != MsgProbeInfo {
		return ProbeInfo{}, false
	}
	m := p.PayloadMap()
	var info ProbeInfo
	var ok bool
	if info.Serial, ok = GetMapUint(m, 0); !ok {
		return ProbeInfo{}, false
	}
	info.Firmware, _ = GetMapString(m, 1)
	info.MaxSampleRate, _ = GetMapUint(m, 2)
	channels, _ := GetMapUint(m, 3)
	info.Channels = uint8(channels)
	return info, true
}
