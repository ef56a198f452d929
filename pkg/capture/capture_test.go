// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"github.com/Thermoquad/cecstat/pkg/cec"
)

func simulated(t *testing.T) *Capture {
	t.Helper()
	c := New("simulate", 1_000_000)
	c.Transitions = cec.EncodeMessages(c.Timebase(), []uint8{0x04, 0x04}, []uint8{0x4F, 0x82, 0x10, 0x00})
	return c
}

// ============================================================
// Encoding Tests
// ============================================================

func TestMarshal_RoundTrip(t *testing.T) {
	c := simulated(t)
	c.TriggerSample = 1234

	data, err := c.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if got.ID != c.ID {
		t.Errorf("ID mismatch: %s != %s", got.ID, c.ID)
	}
	if !got.CreatedAt.Equal(c.CreatedAt) {
		t.Errorf("CreatedAt mismatch: %v != %v", got.CreatedAt, c.CreatedAt)
	}
	if got.Origin != "simulate" || got.SampleRate != 1_000_000 || got.TriggerSample != 1234 {
		t.Errorf("Metadata mismatch: %+v", got)
	}
	if len(got.Transitions) != len(c.Transitions) {
		t.Fatalf("Expected %d transitions, got %d", len(c.Transitions), len(got.Transitions))
	}
	for i := range c.Transitions {
		if got.Transitions[i] != c.Transitions[i] {
			t.Fatalf("Transition %d: expected %+v, got %+v", i, c.Transitions[i], got.Transitions[i])
		}
	}
}

func TestMarshal_Empty(t *testing.T) {
	c := New("probe", 2_000_000)
	data, err := c.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(got.Transitions) != 0 {
		t.Errorf("Expected no transitions, got %d", len(got.Transitions))
	}
}

func TestMarshal_SingleTransitionAtZero(t *testing.T) {
	c := New("probe", 1_000_000)
	c.Transitions = []cec.Transition{{Sample: 0, Level: cec.Low}}
	data, err := c.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(got.Transitions) != 1 || got.Transitions[0] != c.Transitions[0] {
		t.Errorf("Expected the single transition back, got %+v", got.Transitions)
	}
}

func TestMarshal_RejectsInvalid(t *testing.T) {
	c := New("probe", 1_000_000)
	c.Transitions = []cec.Transition{{Sample: 10, Level: cec.High}}
	if _, err := c.Marshal(); err == nil {
		t.Error("Transition that does not change the level should be rejected")
	}

	c = New("probe", 0)
	if _, err := c.Marshal(); err == nil {
		t.Error("Zero sample rate should be rejected")
	}
}

func TestUnmarshal_BadFormat(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"garbage", []byte("hello")},
		{"wrong version", []byte{0xA1, 0x00, 0x02}},
		{"empty map", []byte{0xA0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unmarshal(tt.data); !errors.Is(err, ErrBadFormat) {
				t.Errorf("Expected ErrBadFormat, got %v", err)
			}
		})
	}
}

// ============================================================
// File Tests
// ============================================================

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.cec")
	c := simulated(t)

	if err := Save(path, c); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.ID != c.ID || len(got.Transitions) != len(c.Transitions) {
		t.Errorf("Loaded capture differs: %s with %d transitions", got.ID, len(got.Transitions))
	}

	frames, err := cec.Decode(t.Context(), got.Source(), got.Timebase(), cec.DefaultOptions())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msgs := cec.GroupMessages(frames); len(msgs) != 2 {
		t.Errorf("Expected 2 messages in loaded capture, got %d", len(msgs))
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("Temporary file left behind: %s", e.Name())
		}
	}
}

func TestSave_Locked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.cec")
	lock := flock.New(lockPath(path))
	if ok, err := lock.TryLock(); !ok || err != nil {
		t.Fatalf("Could not take lock: %v", err)
	}
	defer func() { _ = lock.Unlock() }()

	if err := Save(path, simulated(t)); !errors.Is(err, ErrLocked) {
		t.Errorf("Expected ErrLocked, got %v", err)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.cec")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestDuration(t *testing.T) {
	c := New("probe", 1_000_000)
	c.Transitions = []cec.Transition{{Sample: 100, Level: cec.Low}, {Sample: 3800, Level: cec.High}}
	if got := c.Duration().Microseconds(); got != 3700 {
		t.Errorf("Expected 3700us, got %d", got)
	}
}

// ============================================================
// CSV Import Tests
// ============================================================

func TestImportCSV(t *testing.T) {
	input := strings.Join([]string{
		"Time [s],Channel 0,Channel 1",
		"-0.001000,1,0",
		"0.000000,0,0",
		"0.003700,1,0",
		"0.004000,1,1",
		"0.004500,0,1",
	}, "\n")

	c, err := ImportCSV(strings.NewReader(input), 1_000_000, 0)
	if err != nil {
		t.Fatalf("ImportCSV failed: %v", err)
	}

	if c.TriggerSample != 1000 {
		t.Errorf("Expected trigger sample 1000, got %d", c.TriggerSample)
	}
	if c.InitialLevel != cec.High {
		t.Errorf("Expected initial level high")
	}
	want := []cec.Transition{{1000, cec.Low}, {4700, cec.High}, {5500, cec.Low}}
	if len(c.Transitions) != len(want) {
		t.Fatalf("Expected %d transitions, got %+v", len(want), c.Transitions)
	}
	for i := range want {
		if c.Transitions[i] != want[i] {
			t.Errorf("Transition %d: expected %+v, got %+v", i, want[i], c.Transitions[i])
		}
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Imported capture invalid: %v", err)
	}
}

func TestImportCSV_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		channel int
	}{
		{"no time column", "Channel 0\n1\n", 0},
		{"missing channel", "Time [s],Channel 0\n0,1\n", 3},
		{"bad level", "Time [s],Channel 0\n0,2\n", 0},
		{"bad time", "Time [s],Channel 0\nx,1\n", 0},
		{"empty", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ImportCSV(strings.NewReader(tt.input), 1_000_000, tt.channel); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestImportCSV_DecodesMessage(t *testing.T) {
	tb := cec.Timebase{SampleRate: 1_000_000}
	transitions := cec.EncodeMessages(tb, []uint8{0x40, 0x36})

	var sb strings.Builder
	sb.WriteString("Time [s],Channel 0\n0.000000000,1\n")
	for _, tr := range transitions {
		sb.WriteString(tb.TimeString(tr.Sample))
		sb.WriteString(",")
		if tr.Level == cec.High {
			sb.WriteString("1\n")
		} else {
			sb.WriteString("0\n")
		}
	}

	c, err := ImportCSV(strings.NewReader(sb.String()), tb.SampleRate, 0)
	if err != nil {
		t.Fatalf("ImportCSV failed: %v", err)
	}
	frames, err := cec.Decode(t.Context(), c.Source(), c.Timebase(), cec.DefaultOptions())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	msgs := cec.GroupMessages(frames)
	if len(msgs) != 1 || msgs[0].OpCode != cec.OpStandby {
		t.Errorf("Expected one Standby message, got %+v", msgs)
	}
}
