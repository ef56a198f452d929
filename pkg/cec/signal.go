// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cec

import (
	"fmt"
	"time"
)

// Level is the logic level of the CEC line
type Level uint8

// Line levels. The CEC bus idles high.
const (
	Low  Level = 0
	High Level = 1
)

// String returns "H" or "L"
func (l Level) String() string {
	if l == High {
		return "H"
	}
	return "L"
}

// Transition is a change of line level at an absolute sample index.
// Level is the level after the transition.
type Transition struct {
	Sample uint64
	Level  Level
}

// Source yields transitions in strictly increasing sample order.
// Next returns false when the stream is exhausted.
type Source interface {
	Next() (Transition, bool)
}

// SliceSource is a Source over an in-memory transition slice
type SliceSource struct {
	transitions []Transition
	pos         int
}

// NewSliceSource creates a Source over the given transitions
func NewSliceSource(transitions []Transition) *SliceSource {
	return &SliceSource{transitions: transitions}
}

// Next returns the next transition
func (s *SliceSource) Next() (Transition, bool) {
	if s.pos >= len(s.transitions) {
		return Transition{}, false
	}
	t := s.transitions[s.pos]
	s.pos++
	return t, true
}

// Timebase converts sample indices to time
type Timebase struct {
	SampleRate    uint64 // Hz
	TriggerSample uint64
}

// Duration converts a sample count to a duration
func (tb Timebase) Duration(samples uint64) time.Duration {
	if tb.SampleRate == 0 {
		return 0
	}
	sec := samples / tb.SampleRate
	rem := samples % tb.SampleRate
	return time.Duration(sec)*time.Second + time.Duration(rem*uint64(time.Second)/tb.SampleRate)
}

// Samples converts a duration to a whole number of samples (rounded)
func (tb Timebase) Samples(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64((float64(d)*float64(tb.SampleRate))/float64(time.Second) + 0.5)
}

// Seconds returns the time of a sample relative to the trigger sample
func (tb Timebase) Seconds(sample uint64) float64 {
	if tb.SampleRate == 0 {
		return 0
	}
	return (float64(sample) - float64(tb.TriggerSample)) / float64(tb.SampleRate)
}

// TimeString formats a sample's trigger-relative time in seconds
func (tb Timebase) TimeString(sample uint64) string {
	return fmt.Sprintf("%.9f", tb.Seconds(sample))
}

// ValidateTransitions checks that sample indices strictly increase
func ValidateTransitions(transitions []Transition) error {
	for i := 1; i < len(transitions); i++ {
		if transitions[i].Sample <= transitions[i-1].Sample {
			return fmt.Errorf("transition %d at sample %d does not follow sample %d",
				i, transitions[i].Sample, transitions[i-1].Sample)
		}
	}
	return nil
}
