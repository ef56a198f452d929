// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cec

import (
	"fmt"
	"time"
)

// Band is a tolerance window. Both edges are inclusive.
type Band struct {
	Min time.Duration
	Max time.Duration
}

// Contains reports whether d lies inside the band, edges included
func (b Band) Contains(d time.Duration) bool {
	return d >= b.Min && d <= b.Max
}

// String formats the band in milliseconds
func (b Band) String() string {
	return fmt.Sprintf("[%.3f ms, %.3f ms]", float64(b.Min)/float64(time.Millisecond), float64(b.Max)/float64(time.Millisecond))
}

// Timing holds the tolerance bands used by the bit classifier
type Timing struct {
	StartLow    Band
	StartPeriod Band
	OneLow      Band
	ZeroLow     Band
	BitPeriod   Band
}

// DefaultTiming returns the receiver tolerances of HDMI-CEC 1.4
func DefaultTiming() Timing {
	return Timing{
		StartLow:    Band{3500 * time.Microsecond, 3900 * time.Microsecond},
		StartPeriod: Band{4300 * time.Microsecond, 4700 * time.Microsecond},
		OneLow:      Band{400 * time.Microsecond, 800 * time.Microsecond},
		ZeroLow:     Band{1300 * time.Microsecond, 1700 * time.Microsecond},
		BitPeriod:   Band{2050 * time.Microsecond, 2750 * time.Microsecond},
	}
}

// Validate checks that every band is well formed and that the low bands
// do not overlap each other.
func (t Timing) Validate() error {
	bands := []struct {
		name string
		band Band
	}{
		{"start low", t.StartLow},
		{"start period", t.StartPeriod},
		{"one low", t.OneLow},
		{"zero low", t.ZeroLow},
		{"bit period", t.BitPeriod},
	}
	for _, b := range bands {
		if b.band.Min <= 0 || b.band.Max < b.band.Min {
			return fmt.Errorf("invalid %s band %s", b.name, b.band)
		}
	}
	if t.OneLow.Max >= t.ZeroLow.Min {
		return fmt.Errorf("one low band %s overlaps zero low band %s", t.OneLow, t.ZeroLow)
	}
	if t.ZeroLow.Max >= t.StartLow.Min {
		return fmt.Errorf("zero low band %s overlaps start low band %s", t.ZeroLow, t.StartLow)
	}
	if t.StartLow.Max >= t.StartPeriod.Min {
		return fmt.Errorf("start low band %s exceeds start period band %s", t.StartLow, t.StartPeriod)
	}
	return nil
}

// OpenThreshold is the high-phase length after which a window is treated
// as open (bus idle)
func (t Timing) OpenThreshold() time.Duration {
	if t.StartPeriod.Max > t.BitPeriod.Max {
		return t.StartPeriod.Max
	}
	return t.BitPeriod.Max
}

// BitKind is the classification of a timing window
type BitKind uint8

// Bit kinds
const (
	BitZero BitKind = iota
	BitOne
	BitStart
	BitInvalid
)

// String returns a short name for the bit kind
func (k BitKind) String() string {
	switch k {
	case BitZero:
		return "0"
	case BitOne:
		return "1"
	case BitStart:
		return "START"
	default:
		return "INVALID"
	}
}

// Window is a measured low-then-high timing window. Open is set when the
// high phase did not end within a bit period (bus idle or end of stream);
// Total is then meaningless.
type Window struct {
	Low   time.Duration
	Total time.Duration
	Open  bool
}

// Bit is a classified window with its sample range (inclusive)
type Bit struct {
	Kind   BitKind
	Reason ErrorReason // set when Kind is BitInvalid
	Start  uint64
	End    uint64
}

// Value returns 1 for BitOne and 0 otherwise
func (b Bit) Value() uint8 {
	if b.Kind == BitOne {
		return 1
	}
	return 0
}

// Classify classifies a timing window. It is a pure function of the window
// and the tolerance bands.
func (t Timing) Classify(w Window) (BitKind, ErrorReason) {
	if w.Open {
		// Only the low phase was measured
		switch {
		case t.OneLow.Contains(w.Low):
			return BitOne, ErrorNone
		case t.ZeroLow.Contains(w.Low):
			return BitZero, ErrorNone
		case t.StartLow.Contains(w.Low):
			return BitStart, ErrorNone
		}
		return BitInvalid, ErrorOutOfTolerance
	}

	if t.StartLow.Contains(w.Low) && t.StartPeriod.Contains(w.Total) {
		return BitStart, ErrorNone
	}
	if t.BitPeriod.Contains(w.Total) {
		switch {
		case t.OneLow.Contains(w.Low):
			return BitOne, ErrorNone
		case t.ZeroLow.Contains(w.Low):
			return BitZero, ErrorNone
		}
	}
	return BitInvalid, ErrorOutOfTolerance
}
