// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cec

import "fmt"

// AnomalyType represents different types of message anomalies
type AnomalyType int

const (
	AnomalyDecodeError AnomalyType = iota
	AnomalyNotAcknowledged
	AnomalyBroadcastRejected
	AnomalyMissingEOM
	AnomalyTooManyOperands
	AnomalyUnknownOpCode
	AnomalyOperandLength
)

// String returns a short name for the anomaly type
func (a AnomalyType) String() string {
	switch a {
	case AnomalyDecodeError:
		return "decode error"
	case AnomalyNotAcknowledged:
		return "not acknowledged"
	case AnomalyBroadcastRejected:
		return "broadcast rejected"
	case AnomalyMissingEOM:
		return "missing EOM"
	case AnomalyTooManyOperands:
		return "too many operands"
	case AnomalyUnknownOpCode:
		return "unknown opcode"
	case AnomalyOperandLength:
		return "operand length"
	default:
		return "unknown"
	}
}

// ValidationError represents a message validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// operandLengths lists opcodes with a fixed operand count
var operandLengths = map[OpCode]int{
	OpFeatureAbort:              2,
	OpImageViewOn:               0,
	OpTextViewOn:                0,
	OpRecordOff:                 0,
	OpGiveDeckStatus:            1,
	OpDeckStatus:                1,
	OpSetMenuLanguage:           3,
	OpStandby:                   0,
	OpPlay:                      1,
	OpDeckControl:               1,
	OpUserControlReleased:       0,
	OpGiveOSDName:               0,
	OpGiveAudioStatus:           0,
	OpReportAudioStatus:         1,
	OpGiveSystemAudioModeStatus: 0,
	OpSystemAudioModeStatus:     1,
	OpRoutingChange:             4,
	OpRoutingInformation:        2,
	OpActiveSource:              2,
	OpGivePhysicalAddress:       0,
	OpReportPhysicalAddress:     3,
	OpRequestActiveSource:       0,
	OpSetStreamPath:             2,
	OpDeviceVendorID:            3,
	OpGiveDeviceVendorID:        0,
	OpMenuRequest:               1,
	OpMenuStatus:                1,
	OpGiveDevicePowerStatus:     0,
	OpReportPowerStatus:         1,
	OpGetMenuLanguage:           0,
	OpInactiveSource:            2,
	OpCECVersion:                1,
	OpGetCECVersion:             0,
	OpInitiateARC:               0,
	OpReportARCInitiated:        0,
	OpReportARCTerminated:       0,
	OpRequestARCInitiation:      0,
	OpRequestARCTermination:     0,
	OpTerminateARC:              0,
	OpAbort:                     0,
}

// ExpectedOperands returns the fixed operand count of an opcode
func ExpectedOperands(op OpCode) (int, bool) {
	n, ok := operandLengths[op]
	return n, ok
}

// ValidateMessage validates message structure and detects anomalies
// Returns a slice of validation errors (empty if the message is valid)
func ValidateMessage(m *Message) []ValidationError {
	errors := []ValidationError{}

	for _, f := range m.Errors {
		errors = append(errors, ValidationError{
			Type:    AnomalyDecodeError,
			Message: fmt.Sprintf("Decode error: %s at sample %d", FormatErrorReason(f.Reason), f.StartSample),
			Details: map[string]interface{}{"reason": f.Reason, "start": f.StartSample, "end": f.EndSample, "bits": f.Bits},
		})
	}

	if !m.HasHeader {
		return errors
	}

	if !m.Complete && len(m.Errors) == 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyMissingEOM,
			Message: fmt.Sprintf("Message ended after %d blocks without EOM", m.Blocks()),
			Details: map[string]interface{}{"blocks": m.Blocks()},
		})
	}

	errors = append(errors, validateAcks(m)...)

	if len(m.Operands) > MaxOperands {
		errors = append(errors, ValidationError{
			Type:    AnomalyTooManyOperands,
			Message: fmt.Sprintf("Too many operands (%d, max %d)", len(m.Operands), MaxOperands),
			Details: map[string]interface{}{"operands": len(m.Operands), "max": MaxOperands},
		})
	}

	if m.HasOpCode {
		errors = append(errors, validateOpCode(m)...)
	}

	return errors
}

// validateAcks checks the ACK bit of every block against the addressing mode
func validateAcks(m *Message) []ValidationError {
	broadcast := m.IsBroadcast()
	for i, ack := range m.Acks {
		if Acknowledged(ack, broadcast) {
			continue
		}
		if broadcast {
			return []ValidationError{{
				Type:    AnomalyBroadcastRejected,
				Message: fmt.Sprintf("Broadcast rejected at block %d", i),
				Details: map[string]interface{}{"block": i},
			}}
		}
		return []ValidationError{{
			Type:    AnomalyNotAcknowledged,
			Message: fmt.Sprintf("No acknowledge from %s at block %d", FormatDevAddress(m.Destination()), i),
			Details: map[string]interface{}{"block": i, "destination": m.Destination()},
		}}
	}
	return nil
}

// validateOpCode checks the opcode and its operand count
func validateOpCode(m *Message) []ValidationError {
	if !IsKnownOpCode(m.OpCode) {
		return []ValidationError{{
			Type:    AnomalyUnknownOpCode,
			Message: fmt.Sprintf("Unknown opcode 0x%02X", uint8(m.OpCode)),
			Details: map[string]interface{}{"opcode": uint8(m.OpCode)},
		}}
	}

	expected, ok := operandLengths[m.OpCode]
	if !ok || !m.Complete || expected == len(m.Operands) {
		return nil
	}
	return []ValidationError{{
		Type:    AnomalyOperandLength,
		Message: fmt.Sprintf("%s carries %d operands (expected %d)", FormatOpCode(m.OpCode), len(m.Operands), expected),
		Details: map[string]interface{}{"operands": len(m.Operands), "expected": expected},
	}}
}
