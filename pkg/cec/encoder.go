// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cec

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignalFreeTime is the idle time the encoder leaves after each message
const SignalFreeTime = 7 * NominalBitPeriod

// Encoder synthesizes bus transitions with nominal timing.
// Used by the simulator and by tests.
type Encoder struct {
	tb          Timebase
	cursor      uint64
	transitions []Transition
}

// NewEncoder creates an encoder starting at sample 0 with the line high
func NewEncoder(tb Timebase) *Encoder {
	return &Encoder{tb: tb}
}

// Cursor returns the sample index of the next falling edge
func (e *Encoder) Cursor() uint64 {
	return e.cursor
}

// Transitions returns the transitions encoded so far
func (e *Encoder) Transitions() []Transition {
	return e.transitions
}

// Idle holds the line high
func (e *Encoder) Idle(d time.Duration) {
	e.cursor += e.tb.Samples(d)
}

// Pulse drives the line low for low, then high until total has elapsed
func (e *Encoder) Pulse(low, total time.Duration) {
	lowSamples := e.tb.Samples(low)
	if lowSamples == 0 {
		lowSamples = 1
	}
	totalSamples := e.tb.Samples(total)
	if totalSamples <= lowSamples {
		totalSamples = lowSamples + 1
	}
	e.transitions = append(e.transitions,
		Transition{Sample: e.cursor, Level: Low},
		Transition{Sample: e.cursor + lowSamples, Level: High},
	)
	e.cursor += totalSamples
}

// StartSequence encodes a start bit
func (e *Encoder) StartSequence() {
	e.Pulse(NominalStartLow, NominalStartPeriod)
}

// Bit encodes a data bit
func (e *Encoder) Bit(one bool) {
	if one {
		e.Pulse(NominalOneLow, NominalBitPeriod)
		return
	}
	e.Pulse(NominalZeroLow, NominalBitPeriod)
}

// Byte encodes 8 data bits, MSB first
func (e *Encoder) Byte(v uint8) {
	for i := 7; i >= 0; i-- {
		e.Bit(v&(1<<uint(i)) != 0)
	}
}

// Block encodes a full block. eom and ack are raw bus bits.
func (e *Encoder) Block(v uint8, eom, ack bool) {
	e.Byte(v)
	e.Bit(eom)
	e.Bit(ack)
}

// Message encodes a complete message followed by the signal free time.
// acks holds the raw ACK bit per block; a nil or short slice leaves the
// remaining ACK bits at 0 (acknowledged, for directed messages).
func (e *Encoder) Message(data []uint8, acks []bool) {
	e.StartSequence()
	for i, v := range data {
		ack := false
		if i < len(acks) {
			ack = acks[i]
		}
		e.Block(v, i == len(data)-1, ack)
	}
	e.Idle(SignalFreeTime)
}

// EncodeMessages encodes messages back to back, each directed-acknowledged
func EncodeMessages(tb Timebase, messages ...[]uint8) []Transition {
	e := NewEncoder(tb)
	e.Idle(NominalBitPeriod)
	for _, m := range messages {
		e.Message(m, nil)
	}
	return e.Transitions()
}

// ParseHexMessage parses a message written as hex bytes separated by
// ':', '-' or spaces (e.g. "04:04" or "0f 36")
func ParseHexMessage(s string) ([]uint8, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ':' || r == '-' || r == ' ' || r == ','
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty message")
	}
	if len(fields) > MaxMessageBlocks {
		return nil, fmt.Errorf("message has %d blocks (max %d)", len(fields), MaxMessageBlocks)
	}
	out := make([]uint8, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid byte %q: %w", f, err)
		}
		out = append(out, uint8(v))
	}
	return out, nil
}
