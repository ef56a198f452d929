// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package probelink

import (
	"fmt"
	"strings"
)

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p *Packet) string {
	timestamp := p.timestamp.Format("15:04:05.000")
	msgType := FormatMessageType(p.Type())

	result := fmt.Sprintf("[%s] %s (0x%02X) seq=%d len=%d\n", timestamp, msgType, p.Type(), p.seq, p.length)
	if err := p.ParseError(); err != nil {
		return result + fmt.Sprintf("  Parse error: %v\n", err)
	}
	return result + FormatPayloadMap(p.Type(), p.PayloadMap())
}

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(msgType uint8) string {
	switch msgType {
	// Commands (0x10-0x2F)
	case MsgCaptureStart:
		return "CAPTURE_START"
	case MsgCaptureStop:
		return "CAPTURE_STOP"
	case MsgInfoRequest:
		return "INFO_REQUEST"
	case MsgPingRequest:
		return "PING_REQUEST"

	// Data (0x30-0x3F)
	case MsgTransitions:
		return "TRANSITIONS"
	case MsgCaptureStatus:
		return "CAPTURE_STATUS"
	case MsgProbeInfo:
		return "PROBE_INFO"
	case MsgPingResponse:
		return "PING_RESPONSE"

	// Errors (0xE0-0xEF)
	case MsgErrorOverflow:
		return "ERROR_OVERFLOW"
	case MsgErrorInvalidCmd:
		return "ERROR_INVALID_CMD"

	default:
		return "UNKNOWN"
	}
}

// FormatPayloadMap formats the CBOR payload map based on message type
func FormatPayloadMap(msgType uint8, m map[int]interface{}) string {
	switch msgType {
	case MsgCaptureStop, MsgInfoRequest, MsgPingRequest:
		return "  (no payload)\n"

	case MsgCaptureStart:
		// 0 => sample-rate, 1 => channel
		rate, _ := GetMapUint(m, 0)
		channel, _ := GetMapUint(m, 1)
		return fmt.Sprintf("  Sample Rate: %s, Channel: %d\n", FormatSampleRate(rate), channel)

	case MsgTransitions:
		// 0 => first-sample, 1 => level, 2 => deltas
		first, _ := GetMapUint(m, 0)
		level, _ := GetMapUint(m, 1)
		deltas, _ := GetMapUintSlice(m, 2)
		var span uint64
		for _, d := range deltas {
			span += d
		}
		return fmt.Sprintf("  First: %d (%s), Transitions: %d, Span: %d samples\n",
			first, levelName(level), len(deltas)+1, span)

	case MsgCaptureStatus:
		// 0 => running, 1 => sample-rate, 2 => samples
		running, _ := GetMapBool(m, 0)
		rate, _ := GetMapUint(m, 1)
		samples, _ := GetMapUint(m, 2)
		status := "Stopped"
		if running {
			status = "Running"
		}
		return fmt.Sprintf("  Status: %s, Sample Rate: %s, Samples: %d\n", status, FormatSampleRate(rate), samples)

	case MsgProbeInfo:
		// 0 => serial, 1 => firmware, 2 => max-sample-rate, 3 => channels
		serial, _ := GetMapUint(m, 0)
		firmware, _ := GetMapString(m, 1)
		rate, _ := GetMapUint(m, 2)
		channels, _ := GetMapUint(m, 3)
		return fmt.Sprintf("  Serial: %016X, Firmware: %s, Max Rate: %s, Channels: %d\n",
			serial, firmware, FormatSampleRate(rate), channels)

	case MsgPingResponse:
		// 0 => uptime-ms
		uptime, _ := GetMapUint(m, 0)
		return fmt.Sprintf("  Uptime: %s\n", FormatUptime(uptime))

	case MsgErrorOverflow:
		// 0 => dropped
		dropped, _ := GetMapUint(m, 0)
		return fmt.Sprintf("  Dropped Transitions: %d\n", dropped)

	case MsgErrorInvalidCmd:
		// 0 => rejected message type
		rejected, _ := GetMapUint(m, 0)
		return fmt.Sprintf("  Rejected: %s (0x%02X)\n", FormatMessageType(uint8(rejected)), rejected)

	default:
		if len(m) == 0 {
			return "  (no payload)\n"
		}
		return fmt.Sprintf("  Payload: %v\n", m)
	}
}

// FormatSampleRate renders a sample rate with an SI prefix
func FormatSampleRate(hz uint64) string {
	switch {
	case hz >= 1_000_000 && hz%1_000_000 == 0:
		return fmt.Sprintf("%d MHz", hz/1_000_000)
	case hz >= 1_000 && hz%1_000 == 0:
		return fmt.Sprintf("%d kHz", hz/1_000)
	default:
		return fmt.Sprintf("%d Hz", hz)
	}
}

func levelName(level uint64) string {
	if level == 0 {
		return "low"
	}
	return "high"
}

// FormatUptime converts milliseconds to a human-readable duration
func FormatUptime(ms uint64) string {
	seconds := ms / 1000
	if seconds == 0 {
		return fmt.Sprintf("%d ms", ms)
	}

	const (
		secondsPerMinute = 60
		secondsPerHour   = 60 * secondsPerMinute
		secondsPerDay    = 24 * secondsPerHour
	)

	days := seconds / secondsPerDay
	seconds %= secondsPerDay

	hours := seconds / secondsPerHour
	seconds %= secondsPerHour

	minutes := seconds / secondsPerMinute
	seconds %= secondsPerMinute

	parts := []string{}
	for _, u := range []struct {
		n    uint64
		name string
	}{
		{days, "day"},
		{hours, "hour"},
		{minutes, "minute"},
		{seconds, "second"},
	} {
		switch {
		case u.n == 1:
			parts = append(parts, "1 "+u.name)
		case u.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", u.n, u.name))
		}
	}

	switch len(parts) {
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	default:
		last := parts[len(parts)-1]
		return strings.Join(parts[:len(parts)-1], ", ") + ", and " + last
	}
}
