// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cec

import (
	"strings"
	"testing"
)

func decodeMessages(t *testing.T, e *Encoder) []Message {
	t.Helper()
	return GroupMessages(decodeAll(t, e.Transitions(), DefaultOptions()))
}

func hasAnomaly(errs []ValidationError, a AnomalyType) bool {
	for _, e := range errs {
		if e.Type == a {
			return true
		}
	}
	return false
}

// ============================================================
// Message Grouping Tests
// ============================================================

func TestGroupMessages_ImageViewOn(t *testing.T) {
	e := NewEncoder(testTB)
	e.Message([]uint8{0x04, 0x04}, nil)
	msgs := decodeMessages(t, e)

	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if !m.Complete {
		t.Error("Message should be complete")
	}
	if m.Source() != AddrTV || m.Destination() != AddrPlayback1 {
		t.Errorf("Expected 0 -> 4, got %d -> %d", m.Source(), m.Destination())
	}
	if !m.HasOpCode || m.OpCode != OpImageViewOn {
		t.Errorf("Expected Image View On, got 0x%02X", m.OpCode)
	}
	if m.Blocks() != 2 {
		t.Errorf("Expected 2 blocks, got %d", m.Blocks())
	}
	if !m.Acknowledged() {
		t.Error("Directed message with raw ACK 0 should be acknowledged")
	}
	if got := m.Bytes(); len(got) != 2 || got[0] != 0x04 || got[1] != 0x04 {
		t.Errorf("Unexpected bytes % X", got)
	}
	if m.End <= m.Start {
		t.Errorf("Message range [%d, %d] is empty", m.Start, m.End)
	}
}

func TestGroupMessages_Ping(t *testing.T) {
	e := NewEncoder(testTB)
	e.Message([]uint8{0x44}, []bool{true})
	msgs := decodeMessages(t, e)

	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if !msgs[0].IsPing() {
		t.Error("Header-only message should be a ping")
	}
	if msgs[0].Acknowledged() {
		t.Error("Ping with raw ACK 1 was not acknowledged")
	}
}

func TestGroupMessages_Several(t *testing.T) {
	e := NewEncoder(testTB)
	e.Message([]uint8{0x40, 0x36}, nil)
	e.Message([]uint8{0x4F, 0x82, 0x10, 0x00}, []bool{true, true, true, true})
	e.Message([]uint8{0x04}, nil)
	msgs := decodeMessages(t, e)

	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(msgs))
	}
	if msgs[1].OpCode != OpActiveSource || len(msgs[1].Operands) != 2 {
		t.Errorf("Unexpected second message % X", msgs[1].Bytes())
	}
	if !msgs[1].IsBroadcast() || !msgs[1].Acknowledged() {
		t.Error("Broadcast with raw ACK 1 should be accepted")
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Start <= msgs[i-1].End {
			t.Errorf("Message %d overlaps message %d", i, i-1)
		}
	}
}

func TestGroupMessages_ErrorEndsMessage(t *testing.T) {
	e := NewEncoder(testTB)
	e.StartSequence()
	e.Bit(true)
	e.Pulse(us(1000), us(2400))
	e.Idle(SignalFreeTime)
	e.Message([]uint8{0x04}, nil)
	msgs := decodeMessages(t, e)

	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if len(msgs[0].Errors) != 1 || msgs[0].Complete {
		t.Errorf("First message should carry one error and be incomplete: %+v", msgs[0])
	}
	if !msgs[1].Complete {
		t.Error("Second message should be complete")
	}
}

func TestGroupMessages_StandaloneError(t *testing.T) {
	msgs := GroupMessages([]Frame{{Type: FrameError, StartSample: 10, EndSample: 20, Reason: ErrorOutOfTolerance}})
	if len(msgs) != 1 || msgs[0].HasHeader || len(msgs[0].Errors) != 1 {
		t.Errorf("Expected one error-only message, got %+v", msgs)
	}
}

func TestMessageCollector_Flush(t *testing.T) {
	c := NewMessageCollector()
	c.Add(Frame{Type: FrameStartSeq})
	c.Add(Frame{Type: FrameHeader, Data: 0x04, StartSample: 5, EndSample: 9})
	if m := c.Flush(); m == nil || !m.HasHeader || m.Complete {
		t.Errorf("Flush should return the incomplete message, got %+v", m)
	}
	if m := c.Flush(); m != nil {
		t.Error("Second flush should return nil")
	}
}

// ============================================================
// Validator Tests
// ============================================================

func TestValidateMessage_Valid(t *testing.T) {
	e := NewEncoder(testTB)
	e.Message([]uint8{0x40, 0x90, 0x00}, nil)
	msgs := decodeMessages(t, e)

	if errs := ValidateMessage(&msgs[0]); len(errs) != 0 {
		t.Errorf("Expected no validation errors, got %v", errs)
	}
}

func TestValidateMessage_Anomalies(t *testing.T) {
	tests := []struct {
		name    string
		data    []uint8
		acks    []bool
		anomaly AnomalyType
	}{
		{"not acknowledged", []uint8{0x04, 0x04}, []bool{true, true}, AnomalyNotAcknowledged},
		{"broadcast rejected", []uint8{0x4F, 0x82, 0x10, 0x00}, nil, AnomalyBroadcastRejected},
		{"unknown opcode", []uint8{0x04, 0x01}, nil, AnomalyUnknownOpCode},
		{"standby with operand", []uint8{0x40, 0x36, 0x01}, nil, AnomalyOperandLength},
		{"short physical address", []uint8{0x4F, 0x84, 0x10}, []bool{true, true, true}, AnomalyOperandLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEncoder(testTB)
			e.Message(tt.data, tt.acks)
			msgs := decodeMessages(t, e)
			if len(msgs) != 1 {
				t.Fatalf("Expected 1 message, got %d", len(msgs))
			}

			errs := ValidateMessage(&msgs[0])
			if !hasAnomaly(errs, tt.anomaly) {
				t.Errorf("Expected %s, got %v", tt.anomaly, errs)
			}
		})
	}
}

func TestValidateMessage_MissingEOM(t *testing.T) {
	e := NewEncoder(testTB)
	e.StartSequence()
	e.Block(0x04, false, false)
	e.Message([]uint8{0x04}, nil)
	msgs := decodeMessages(t, e)

	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	errs := ValidateMessage(&msgs[0])
	if !hasAnomaly(errs, AnomalyMissingEOM) {
		t.Errorf("Expected missing EOM, got %v", errs)
	}
}

func TestValidateMessage_TooManyOperands(t *testing.T) {
	m := &Message{
		Header:    0x40,
		HasHeader: true,
		OpCode:    OpVendorCommand,
		HasOpCode: true,
		Operands:  make([]uint8, MaxOperands+1),
		Acks:      make([]bool, MaxOperands+3),
		Complete:  true,
	}
	errs := ValidateMessage(m)
	if !hasAnomaly(errs, AnomalyTooManyOperands) {
		t.Errorf("Expected too many operands, got %v", errs)
	}
}

func TestValidateMessage_DecodeError(t *testing.T) {
	m := &Message{Errors: []Frame{{Type: FrameError, Reason: ErrorOutOfTolerance}}}
	errs := ValidateMessage(m)
	if len(errs) != 1 || errs[0].Type != AnomalyDecodeError {
		t.Fatalf("Expected one decode error, got %v", errs)
	}
	if !strings.Contains(errs[0].Error(), "out of tolerance") {
		t.Errorf("Unexpected message %q", errs[0].Error())
	}
}

func TestExpectedOperands(t *testing.T) {
	if n, ok := ExpectedOperands(OpReportPhysicalAddress); !ok || n != 3 {
		t.Errorf("Report Physical Address: expected 3 operands, got %d", n)
	}
	if _, ok := ExpectedOperands(OpSetOSDName); ok {
		t.Error("Set OSD Name has a variable operand count")
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()

	e := NewEncoder(testTB)
	e.Message([]uint8{0x40, 0x36}, nil)
	e.Message([]uint8{0x44}, []bool{true})
	e.Message([]uint8{0x4F, 0x82, 0x10, 0x00}, []bool{true, true, true, true})
	for _, m := range decodeMessages(t, e) {
		s.Update(&m, ValidateMessage(&m))
	}

	if s.TotalMessages != 3 {
		t.Errorf("Expected 3 messages, got %d", s.TotalMessages)
	}
	if s.ValidMessages != 2 {
		t.Errorf("Expected 2 valid messages, got %d", s.ValidMessages)
	}
	if s.Pings != 1 || s.Broadcasts != 1 {
		t.Errorf("Expected 1 ping and 1 broadcast, got %d and %d", s.Pings, s.Broadcasts)
	}
	if s.NotAcknowledged != 1 || s.ProtocolErrors != 1 {
		t.Errorf("Expected 1 unacknowledged message, got %d", s.NotAcknowledged)
	}

	out := s.String()
	if !strings.Contains(out, "Total Messages:") || !strings.Contains(out, "Not Acknowledged:") {
		t.Errorf("Unexpected summary:\n%s", out)
	}

	s.Reset()
	if s.TotalMessages != 0 || s.ProtocolErrors != 0 {
		t.Error("Reset should clear counters")
	}
}

func TestStatistics_DecodeErrors(t *testing.T) {
	s := NewStatistics()
	m := &Message{Errors: []Frame{{Type: FrameError, Reason: ErrorTruncated}}}
	s.Update(m, ValidateMessage(m))

	if s.DecodeErrors != 1 || s.Truncated != 1 {
		t.Errorf("Expected 1 truncated decode error, got %d/%d", s.DecodeErrors, s.Truncated)
	}
	if s.ValidMessages != 0 {
		t.Error("Message with a decode error is not valid")
	}
}
