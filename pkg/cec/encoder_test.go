// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cec

import "testing"

func TestEncoder_StartSequence(t *testing.T) {
	e := NewEncoder(testTB)
	e.StartSequence()

	want := []Transition{{0, Low}, {3700, High}}
	got := e.Transitions()
	if len(got) != len(want) {
		t.Fatalf("Expected %d transitions, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Transition %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
	if e.Cursor() != 4500 {
		t.Errorf("Expected cursor 4500, got %d", e.Cursor())
	}
}

func TestEncoder_Bits(t *testing.T) {
	e := NewEncoder(testTB)
	e.Bit(true)
	e.Bit(false)

	got := e.Transitions()
	if got[1].Sample != 600 {
		t.Errorf("Logical 1 should rise after 600us, got %d", got[1].Sample)
	}
	if got[2].Sample != 2400 || got[3].Sample != 3900 {
		t.Errorf("Logical 0 should span [2400, 3900], got [%d, %d]", got[2].Sample, got[3].Sample)
	}
	if err := ValidateTransitions(got); err != nil {
		t.Errorf("Encoded transitions invalid: %v", err)
	}
}

func TestEncoder_PulseMinimums(t *testing.T) {
	e := NewEncoder(testTB)
	e.Pulse(0, 0)

	got := e.Transitions()
	if got[1].Sample != 1 {
		t.Errorf("Low phase should be at least one sample, got %d", got[1].Sample)
	}
	if e.Cursor() != 2 {
		t.Errorf("Pulse should outlast its low phase, cursor %d", e.Cursor())
	}
}

func TestEncoder_MessageLength(t *testing.T) {
	e := NewEncoder(testTB)
	e.Message([]uint8{0x04, 0x04}, nil)

	// Start sequence plus 20 bits, two edges each
	if n := len(e.Transitions()); n != 2+2*2*BitsPerBlock {
		t.Errorf("Expected %d transitions, got %d", 2+2*2*BitsPerBlock, n)
	}
	wantCursor := testTB.Samples(NominalStartPeriod) +
		2*BitsPerBlock*testTB.Samples(NominalBitPeriod) +
		testTB.Samples(SignalFreeTime)
	if e.Cursor() != wantCursor {
		t.Errorf("Expected cursor %d, got %d", wantCursor, e.Cursor())
	}
}

func TestParseHexMessage(t *testing.T) {
	tests := []struct {
		in   string
		want []uint8
	}{
		{"04", []uint8{0x04}},
		{"04:04", []uint8{0x04, 0x04}},
		{"0f 36", []uint8{0x0F, 0x36}},
		{"0x4F,0x82,0x10,0x00", []uint8{0x4F, 0x82, 0x10, 0x00}},
		{"40-90-00", []uint8{0x40, 0x90, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHexMessage(tt.in)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected % X, got % X", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Byte %d: expected 0x%02X, got 0x%02X", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestParseHexMessage_Errors(t *testing.T) {
	tests := []string{
		"",
		"zz",
		"100",
		"00:01:02:03:04:05:06:07:08:09:0a:0b:0c:0d:0e:0f:10",
	}
	for _, in := range tests {
		if _, err := ParseHexMessage(in); err == nil {
			t.Errorf("Expected error for %q", in)
		}
	}
}
