// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cec

import (
	"fmt"
	"strings"
)

// DisplayBase selects how numeric payloads are rendered
type DisplayBase uint8

// Display bases
const (
	BaseHexadecimal DisplayBase = iota
	BaseBinary
	BaseDecimal
	BaseASCII
	BaseASCIIHex
)

// ParseDisplayBase parses a display base name
func ParseDisplayBase(s string) (DisplayBase, error) {
	switch strings.ToLower(s) {
	case "hex", "hexadecimal", "":
		return BaseHexadecimal, nil
	case "bin", "binary":
		return BaseBinary, nil
	case "dec", "decimal":
		return BaseDecimal, nil
	case "ascii":
		return BaseASCII, nil
	case "ascii-hex", "asciihex":
		return BaseASCIIHex, nil
	default:
		return 0, fmt.Errorf("unknown display base %q (use hex, bin, dec, ascii or ascii-hex)", s)
	}
}

// String returns the display base name
func (b DisplayBase) String() string {
	switch b {
	case BaseBinary:
		return "bin"
	case BaseDecimal:
		return "dec"
	case BaseASCII:
		return "ascii"
	case BaseASCIIHex:
		return "ascii-hex"
	default:
		return "hex"
	}
}

// FormatNumber renders the low bits of v in the given base
func FormatNumber(v uint64, bits int, base DisplayBase) string {
	if bits <= 0 || bits > 64 {
		bits = 64
	}
	if bits < 64 {
		v &= (1 << uint(bits)) - 1
	}
	digits := (bits + 3) / 4

	switch base {
	case BaseBinary:
		return fmt.Sprintf("0b%0*b", bits, v)
	case BaseDecimal:
		return fmt.Sprintf("%d", v)
	case BaseASCII:
		if v >= 0x20 && v < 0x7F {
			return fmt.Sprintf("'%c'", rune(v))
		}
		return fmt.Sprintf("0x%0*X", digits, v)
	case BaseASCIIHex:
		if v >= 0x20 && v < 0x7F {
			return fmt.Sprintf("'%c' (0x%0*X)", rune(v), digits, v)
		}
		return fmt.Sprintf("0x%0*X", digits, v)
	default:
		return fmt.Sprintf("0x%0*X", digits, v)
	}
}

// FormatFrameType returns the human-readable name for a frame type
func FormatFrameType(t FrameType) string {
	switch t {
	case FrameStartSeq:
		return "Start Sequence"
	case FrameHeader:
		return "Header"
	case FrameOpCode:
		return "OpCode"
	case FrameOperand:
		return "Operand"
	case FrameEOM:
		return "EOM"
	case FrameACK:
		return "ACK"
	case FrameError:
		return "Error"
	default:
		return "Unknown"
	}
}

// FormatErrorReason returns the human-readable name for an error reason
func FormatErrorReason(r ErrorReason) string {
	switch r {
	case ErrorNone:
		return "none"
	case ErrorOutOfTolerance:
		return "bit timing out of tolerance"
	case ErrorTruncated:
		return "block truncated"
	case ErrorUnexpectedBlock:
		return "unexpected block"
	case ErrorOverlong:
		return "message too long"
	default:
		return "unknown error"
	}
}

// FormatDevAddress returns the name of a logical address
func FormatDevAddress(a DevAddress) string {
	switch a & 0xF {
	case AddrTV:
		return "TV"
	case AddrRecording1:
		return "Recording Device 1"
	case AddrRecording2:
		return "Recording Device 2"
	case AddrTuner1:
		return "Tuner 1"
	case AddrPlayback1:
		return "Playback Device 1"
	case AddrAudioSystem:
		return "Audio System"
	case AddrTuner2:
		return "Tuner 2"
	case AddrTuner3:
		return "Tuner 3"
	case AddrPlayback2:
		return "Playback Device 2"
	case AddrRecording3:
		return "Recording Device 3"
	case AddrTuner4:
		return "Tuner 4"
	case AddrPlayback3:
		return "Playback Device 3"
	case AddrBackup1:
		return "Backup 1"
	case AddrBackup2:
		return "Backup 2"
	case AddrSpecificUse:
		return "Specific Use"
	default:
		return "Unregistered/Broadcast"
	}
}

var opCodeNames = map[OpCode]string{
	OpFeatureAbort:                "Feature Abort",
	OpImageViewOn:                 "Image View On",
	OpTunerStepIncrement:          "Tuner Step Increment",
	OpTunerStepDecrement:          "Tuner Step Decrement",
	OpTunerDeviceStatus:           "Tuner Device Status",
	OpGiveTunerDeviceStatus:       "Give Tuner Device Status",
	OpRecordOn:                    "Record On",
	OpRecordStatus:                "Record Status",
	OpRecordOff:                   "Record Off",
	OpTextViewOn:                  "Text View On",
	OpRecordTVScreen:              "Record TV Screen",
	OpGiveDeckStatus:              "Give Deck Status",
	OpDeckStatus:                  "Deck Status",
	OpSetMenuLanguage:             "Set Menu Language",
	OpClearAnalogueTimer:          "Clear Analogue Timer",
	OpSetAnalogueTimer:            "Set Analogue Timer",
	OpTimerStatus:                 "Timer Status",
	OpStandby:                     "Standby",
	OpPlay:                        "Play",
	OpDeckControl:                 "Deck Control",
	OpTimerClearedStatus:          "Timer Cleared Status",
	OpUserControlPressed:          "User Control Pressed",
	OpUserControlReleased:         "User Control Released",
	OpGiveOSDName:                 "Give OSD Name",
	OpSetOSDName:                  "Set OSD Name",
	OpSetOSDString:                "Set OSD String",
	OpSetTimerProgramTitle:        "Set Timer Program Title",
	OpSystemAudioModeRequest:      "System Audio Mode Request",
	OpGiveAudioStatus:             "Give Audio Status",
	OpSetSystemAudioMode:          "Set System Audio Mode",
	OpReportAudioStatus:           "Report Audio Status",
	OpGiveSystemAudioModeStatus:   "Give System Audio Mode Status",
	OpSystemAudioModeStatus:       "System Audio Mode Status",
	OpRoutingChange:               "Routing Change",
	OpRoutingInformation:          "Routing Information",
	OpActiveSource:                "Active Source",
	OpGivePhysicalAddress:         "Give Physical Address",
	OpReportPhysicalAddress:       "Report Physical Address",
	OpRequestActiveSource:         "Request Active Source",
	OpSetStreamPath:               "Set Stream Path",
	OpDeviceVendorID:              "Device Vendor ID",
	OpVendorCommand:               "Vendor Command",
	OpVendorRemoteButtonDown:      "Vendor Remote Button Down",
	OpVendorRemoteButtonUp:        "Vendor Remote Button Up",
	OpGiveDeviceVendorID:          "Give Device Vendor ID",
	OpMenuRequest:                 "Menu Request",
	OpMenuStatus:                  "Menu Status",
	OpGiveDevicePowerStatus:       "Give Device Power Status",
	OpReportPowerStatus:           "Report Power Status",
	OpGetMenuLanguage:             "Get Menu Language",
	OpSelectAnalogueService:       "Select Analogue Service",
	OpSelectDigitalService:        "Select Digital Service",
	OpSetDigitalTimer:             "Set Digital Timer",
	OpClearDigitalTimer:           "Clear Digital Timer",
	OpSetAudioRate:                "Set Audio Rate",
	OpInactiveSource:              "Inactive Source",
	OpCECVersion:                  "CEC Version",
	OpGetCECVersion:               "Get CEC Version",
	OpVendorCommandWithID:         "Vendor Command With ID",
	OpClearExternalTimer:          "Clear External Timer",
	OpSetExternalTimer:            "Set External Timer",
	OpReportShortAudioDescriptor:  "Report Short Audio Descriptor",
	OpRequestShortAudioDescriptor: "Request Short Audio Descriptor",
	OpInitiateARC:                 "Initiate ARC",
	OpReportARCInitiated:          "Report ARC Initiated",
	OpReportARCTerminated:         "Report ARC Terminated",
	OpRequestARCInitiation:        "Request ARC Initiation",
	OpRequestARCTermination:       "Request ARC Termination",
	OpTerminateARC:                "Terminate ARC",
	OpCDCMessage:                  "CDC Message",
	OpAbort:                       "Abort",
}

// FormatOpCode returns the mnemonic for an opcode
func FormatOpCode(op OpCode) string {
	if name, ok := opCodeNames[op]; ok {
		return name
	}
	return "Unknown"
}

// IsKnownOpCode reports whether op is a defined CEC opcode
func IsKnownOpCode(op OpCode) bool {
	_, ok := opCodeNames[op]
	return ok
}

func bitString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// BubbleText renders a frame as a list of result strings, shortest first.
// In tabular mode only the most descriptive string is returned.
func BubbleText(f Frame, base DisplayBase, tabular bool) []string {
	var results []string
	add := func(s ...string) {
		results = append(results, s...)
	}

	switch f.Type {
	case FrameStartSeq:
		if !tabular {
			add("S", "Start", "Start Seq.")
		}
		add("Start Sequence")

	case FrameHeader:
		src := FormatNumber(uint64(f.Source()), 4, base)
		dst := FormatNumber(uint64(f.Destination()), 4, base)
		if !tabular {
			add("H", "H "+src+" to "+dst, "Header SRC="+src+", DST="+dst)
		}
		add(fmt.Sprintf("Header SRC=%s (%s), DST=%s (%s)",
			src, FormatDevAddress(f.Source()), dst, FormatDevAddress(f.Destination())))

	case FrameOpCode:
		op := FormatNumber(uint64(f.Data), 8, base)
		if !tabular {
			add("O", "Op. "+op, "Opcode "+op)
		}
		add(fmt.Sprintf("Opcode %s (%s)", op, FormatOpCode(OpCode(f.Data))))

	case FrameOperand:
		if !tabular {
			add("D", "Data")
		}
		add("Data " + FormatNumber(uint64(f.Data), 8, base))

	case FrameEOM:
		v := bitString(f.Flag())
		if !tabular {
			add("E", "E="+v, "EOM="+v)
		}
		add("End of Message = " + v)

	case FrameACK:
		v := bitString(f.Flag())
		if !tabular {
			add("A", "A="+v, "ACK="+v)
		}
		add("Acknowledgment = " + v)

	case FrameError:
		if !tabular {
			add("!", "Err", "Error")
		}
		add("Error: " + FormatErrorReason(f.Reason))
	}

	return results
}

// FormatFrame returns the most descriptive single-line rendering of a frame
func FormatFrame(f Frame, base DisplayBase) string {
	results := BubbleText(f, base, true)
	if len(results) == 0 {
		return FormatFrameType(f.Type)
	}
	return results[len(results)-1]
}

// FormatMessage renders a message on one line, e.g.
// "TV -> Playback Device 1: Image View On (ack)"
func FormatMessage(m *Message, base DisplayBase) string {
	if !m.HasHeader {
		if len(m.Errors) > 0 {
			return "Error: " + FormatErrorReason(m.Errors[0].Reason)
		}
		return "Empty message"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s -> %s", FormatDevAddress(m.Source()), FormatDevAddress(m.Destination()))
	switch {
	case m.IsPing():
		sb.WriteString(": Polling Message")
	case m.HasOpCode:
		sb.WriteString(": " + FormatOpCode(m.OpCode))
	}

	if len(m.Operands) > 0 {
		parts := make([]string, len(m.Operands))
		for i, v := range m.Operands {
			parts[i] = FormatNumber(uint64(v), 8, base)
		}
		fmt.Fprintf(&sb, " [%s]", strings.Join(parts, " "))
	}

	switch {
	case !m.Complete:
		sb.WriteString(" (incomplete)")
	case m.Acknowledged():
		sb.WriteString(" (ack)")
	default:
		sb.WriteString(" (nack)")
	}
	return sb.String()
}
