// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package probelink

import "fmt"

// AnomalyType represents different types of packet anomalies
type AnomalyType int

const (
	AnomalyDecodeError AnomalyType = iota
	AnomalyMissingField
	AnomalyInvalidValue
	AnomalyUnknownType
)

// ValidationError represents a packet validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidatePacket validates packet structure and detects anomalies
// Returns a slice of validation errors (empty if packet is valid)
func ValidatePacket(p *Packet) []ValidationError {
	if err := p.ParseError(); err != nil {
		return []ValidationError{{
			Type:    AnomalyDecodeError,
			Message: fmt.Sprintf("CBOR payload invalid: %v", err),
			Details: map[string]interface{}{"seq": p.Seq()},
		}}
	}

	switch p.Type() {
	case MsgTransitions:
		return validateTransitions(p)
	case MsgCaptureStart:
		return validateSampleRate(p, 0, "CAPTURE_START")
	case MsgProbeInfo:
		if _, ok := ParseProbeInfo(p); !ok {
			return []ValidationError{{
				Type:    AnomalyMissingField,
				Message: "PROBE_INFO missing serial number",
				Details: map[string]interface{}{"seq": p.Seq()},
			}}
		}
		return validateSampleRate(p, 2, "PROBE_INFO")
	case MsgCaptureStop, MsgInfoRequest, MsgPingRequest, MsgCaptureStatus,
		MsgPingResponse, MsgErrorOverflow, MsgErrorInvalidCmd:
		return []ValidationError{}
	default:
		return []ValidationError{{
			Type:    AnomalyUnknownType,
			Message: fmt.Sprintf("Unknown message type 0x%02X", p.Type()),
			Details: map[string]interface{}{"type": p.Type(), "seq": p.Seq()},
		}}
	}
}

// validateTransitions validates a TRANSITIONS packet
func validateTransitions(p *Packet) []ValidationError {
	if _, err := ParseTransitionBatch(p); err != nil {
		return []ValidationError{{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("TRANSITIONS invalid: %v", err),
			Details: map[string]interface{}{"seq": p.Seq()},
		}}
	}

	deltas, _ := GetMapUintSlice(p.PayloadMap(), 2)
	if len(deltas) > MaxBatchDeltas {
		return []ValidationError{{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("TRANSITIONS carries %d deltas (max %d)", len(deltas), MaxBatchDeltas),
			Details: map[string]interface{}{"deltas": len(deltas), "max": MaxBatchDeltas},
		}}
	}
	return []ValidationError{}
}

// validateSampleRate checks that a sample rate field is present and non-zero
func validateSampleRate(p *Packet, key int, name string) []ValidationError {
	rate, ok := GetMapUint(p.PayloadMap(), key)
	if !ok {
		return []ValidationError{{
			Type:    AnomalyMissingField,
			Message: fmt.Sprintf("%s missing sample rate", name),
			Details: map[string]interface{}{"seq": p.Seq()},
		}}
	}
	if rate == 0 {
		return []ValidationError{{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("%s sample rate is zero", name),
			Details: map[string]interface{}{"seq": p.Seq()},
		}}
	}
	return []ValidationError{}
}
