// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package cec decodes the HDMI-CEC single-wire bus from logic-level
// transitions into protocol frames.
//
// The decoder works in three stages. A bit classifier turns each
// falling-edge-to-falling-edge timing window into a start sequence, a
// logical 0 or 1, or an invalid bit. An assembler folds bits into 10-bit
// blocks (8 data bits, EOM, ACK). A message state machine gives each block
// its role (header, opcode, operand) and emits the frame stream.
//
// Bus errors never abort a decode pass. They are reported as Error frames
// and the decoder resynchronizes on the next start sequence.
package cec

import "time"

// Nominal CEC bit timings
const (
	NominalStartLow    = 3700 * time.Microsecond
	NominalStartPeriod = 4500 * time.Microsecond
	NominalOneLow      = 600 * time.Microsecond
	NominalZeroLow     = 1500 * time.Microsecond
	NominalBitPeriod   = 2400 * time.Microsecond
)

// Block framing
const (
	DataBitsPerBlock = 8
	BitsPerBlock     = DataBitsPerBlock + 2 // data + EOM + ACK
	MaxOperands      = 14
	MaxMessageBlocks = 2 + MaxOperands // header + opcode + operands
)

// FrameType identifies the variant carried by a Frame
type FrameType uint8

// Frame types, in the order they appear on the bus
const (
	FrameStartSeq FrameType = iota
	FrameHeader
	FrameOpCode
	FrameOperand
	FrameEOM
	FrameACK
	FrameError
)

// ErrorReason classifies Error frames
type ErrorReason uint8

// Error reasons
const (
	ErrorNone ErrorReason = iota
	ErrorOutOfTolerance
	ErrorTruncated
	ErrorUnexpectedBlock
	ErrorOverlong
)

// DevAddress is a 4-bit CEC logical address
type DevAddress uint8

// Logical addresses
const (
	AddrTV           DevAddress = 0x0
	AddrRecording1   DevAddress = 0x1
	AddrRecording2   DevAddress = 0x2
	AddrTuner1       DevAddress = 0x3
	AddrPlayback1    DevAddress = 0x4
	AddrAudioSystem  DevAddress = 0x5
	AddrTuner2       DevAddress = 0x6
	AddrTuner3       DevAddress = 0x7
	AddrPlayback2    DevAddress = 0x8
	AddrRecording3   DevAddress = 0x9
	AddrTuner4       DevAddress = 0xA
	AddrPlayback3    DevAddress = 0xB
	AddrBackup1      DevAddress = 0xC
	AddrBackup2      DevAddress = 0xD
	AddrSpecificUse  DevAddress = 0xE
	AddrUnregistered DevAddress = 0xF // source: unregistered, destination: broadcast
	AddrBroadcast    DevAddress = 0xF
)

// OpCode is a CEC message opcode
type OpCode uint8

// CEC 1.4 opcodes
const (
	OpFeatureAbort                OpCode = 0x00
	OpImageViewOn                 OpCode = 0x04
	OpTunerStepIncrement          OpCode = 0x05
	OpTunerStepDecrement          OpCode = 0x06
	OpTunerDeviceStatus           OpCode = 0x07
	OpGiveTunerDeviceStatus       OpCode = 0x08
	OpRecordOn                    OpCode = 0x09
	OpRecordStatus                OpCode = 0x0A
	OpRecordOff                   OpCode = 0x0B
	OpTextViewOn                  OpCode = 0x0D
	OpRecordTVScreen              OpCode = 0x0F
	OpGiveDeckStatus              OpCode = 0x1A
	OpDeckStatus                  OpCode = 0x1B
	OpSetMenuLanguage             OpCode = 0x32
	OpClearAnalogueTimer          OpCode = 0x33
	OpSetAnalogueTimer            OpCode = 0x34
	OpTimerStatus                 OpCode = 0x35
	OpStandby                     OpCode = 0x36
	OpPlay                        OpCode = 0x41
	OpDeckControl                 OpCode = 0x42
	OpTimerClearedStatus          OpCode = 0x43
	OpUserControlPressed          OpCode = 0x44
	OpUserControlReleased         OpCode = 0x45
	OpGiveOSDName                 OpCode = 0x46
	OpSetOSDName                  OpCode = 0x47
	OpSetOSDString                OpCode = 0x64
	OpSetTimerProgramTitle        OpCode = 0x67
	OpSystemAudioModeRequest      OpCode = 0x70
	OpGiveAudioStatus             OpCode = 0x71
	OpSetSystemAudioMode          OpCode = 0x72
	OpReportAudioStatus           OpCode = 0x7A
	OpGiveSystemAudioModeStatus   OpCode = 0x7D
	OpSystemAudioModeStatus       OpCode = 0x7E
	OpRoutingChange               OpCode = 0x80
	OpRoutingInformation          OpCode = 0x81
	OpActiveSource                OpCode = 0x82
	OpGivePhysicalAddress         OpCode = 0x83
	OpReportPhysicalAddress       OpCode = 0x84
	OpRequestActiveSource         OpCode = 0x85
	OpSetStreamPath               OpCode = 0x86
	OpDeviceVendorID              OpCode = 0x87
	OpVendorCommand               OpCode = 0x89
	OpVendorRemoteButtonDown      OpCode = 0x8A
	OpVendorRemoteButtonUp        OpCode = 0x8B
	OpGiveDeviceVendorID          OpCode = 0x8C
	OpMenuRequest                 OpCode = 0x8D
	OpMenuStatus                  OpCode = 0x8E
	OpGiveDevicePowerStatus       OpCode = 0x8F
	OpReportPowerStatus           OpCode = 0x90
	OpGetMenuLanguage             OpCode = 0x91
	OpSelectAnalogueService       OpCode = 0x92
	OpSelectDigitalService        OpCode = 0x93
	OpSetDigitalTimer             OpCode = 0x97
	OpClearDigitalTimer           OpCode = 0x99
	OpSetAudioRate                OpCode = 0x9A
	OpInactiveSource              OpCode = 0x9D
	OpCECVersion                  OpCode = 0x9E
	OpGetCECVersion               OpCode = 0x9F
	OpVendorCommandWithID         OpCode = 0xA0
	OpClearExternalTimer          OpCode = 0xA1
	OpSetExternalTimer            OpCode = 0xA2
	OpReportShortAudioDescriptor  OpCode = 0xA3
	OpRequestShortAudioDescriptor OpCode = 0xA4
	OpInitiateARC                 OpCode = 0xC0
	OpReportARCInitiated          OpCode = 0xC1
	OpReportARCTerminated         OpCode = 0xC2
	OpRequestARCInitiation        OpCode = 0xC3
	OpRequestARCTermination       OpCode = 0xC4
	OpTerminateARC                OpCode = 0xC5
	OpCDCMessage                  OpCode = 0xF8
	OpAbort                       OpCode = 0xFF
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateAwaitingHeader
	stateAwaitingOpCodeOrEnd
	stateAwaitingOperandOrEnd
	stateAborted
)
