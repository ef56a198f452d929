// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cec

import (
	"fmt"
	"time"
)

// Statistics tracks message statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalMessages   uint64
	ValidMessages   uint64
	Pings           uint64
	Broadcasts      uint64
	DecodeErrors    uint64
	OutOfTolerance  uint64
	Truncated       uint64
	Overlong        uint64
	ProtocolErrors  uint64
	NotAcknowledged uint64
	MissingEOM      uint64
	UnknownOpCodes  uint64
	LengthErrors    uint64

	// Rates (calculated)
	MessageRate float64 // messages/sec
	ErrorRate   float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a message and its validation errors
func (s *Statistics) Update(m *Message, validationErrors []ValidationError) {
	s.TotalMessages++

	if m.IsPing() {
		s.Pings++
	}
	if m.IsBroadcast() {
		s.Broadcasts++
	}

	if len(validationErrors) == 0 {
		s.ValidMessages++
		s.LastUpdateTime = time.Now()
		return
	}

	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyDecodeError:
			s.DecodeErrors++
			if reason, ok := err.Details["reason"].(ErrorReason); ok {
				switch reason {
				case ErrorOutOfTolerance:
					s.OutOfTolerance++
				case ErrorTruncated:
					s.Truncated++
				case ErrorOverlong:
					s.Overlong++
				}
			}
		case AnomalyNotAcknowledged, AnomalyBroadcastRejected:
			s.NotAcknowledged++
			s.ProtocolErrors++
		case AnomalyMissingEOM:
			s.MissingEOM++
			s.ProtocolErrors++
		case AnomalyUnknownOpCode:
			s.UnknownOpCodes++
			s.ProtocolErrors++
		case AnomalyTooManyOperands, AnomalyOperandLength:
			s.LengthErrors++
			s.ProtocolErrors++
		}
	}

	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates message and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.MessageRate = float64(s.TotalMessages) / elapsed
		s.ErrorRate = float64(s.DecodeErrors+s.ProtocolErrors) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, decodePercent, protocolPercent float64
	if s.TotalMessages > 0 {
		validPercent = float64(s.ValidMessages) * 100.0 / float64(s.TotalMessages)
		decodePercent = float64(s.DecodeErrors) * 100.0 / float64(s.TotalMessages)
		protocolPercent = float64(s.ProtocolErrors) * 100.0 / float64(s.TotalMessages)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Messages:  %8d\n", s.TotalMessages)
	result += fmt.Sprintf("Valid Messages:  %8d (%.1f%%)\n", s.ValidMessages, validPercent)
	result += fmt.Sprintf("Pings:           %8d\n", s.Pings)
	result += fmt.Sprintf("Broadcasts:      %8d\n", s.Broadcasts)

	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, decodePercent)
		if s.OutOfTolerance > 0 {
			result += fmt.Sprintf("  Out of Tolerance: %5d\n", s.OutOfTolerance)
		}
		if s.Truncated > 0 {
			result += fmt.Sprintf("  Truncated:        %5d\n", s.Truncated)
		}
		if s.Overlong > 0 {
			result += fmt.Sprintf("  Overlong:         %5d\n", s.Overlong)
		}
	}
	if s.ProtocolErrors > 0 {
		result += fmt.Sprintf("Protocol Errors: %8d (%.1f%%)\n", s.ProtocolErrors, protocolPercent)
		if s.NotAcknowledged > 0 {
			result += fmt.Sprintf("  Not Acknowledged: %5d\n", s.NotAcknowledged)
		}
		if s.MissingEOM > 0 {
			result += fmt.Sprintf("  Missing EOM:      %5d\n", s.MissingEOM)
		}
		if s.UnknownOpCodes > 0 {
			result += fmt.Sprintf("  Unknown OpCode:   %5d\n", s.UnknownOpCodes)
		}
		if s.LengthErrors > 0 {
			result += fmt.Sprintf("  Operand Length:   %5d\n", s.LengthErrors)
		}
	}

	result += fmt.Sprintf("Message Rate:    %8.1f msgs/sec\n", s.MessageRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
