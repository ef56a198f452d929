// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package probelink

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/cecstat/pkg/cec"
)

// Stream errors
var (
	ErrSequenceGap = errors.New("sequence gap")
	ErrOverflow    = errors.New("probe buffer overflow")
)

// TransitionBatch is the payload of a TRANSITIONS packet. The first
// transition is at sample First and leaves the line at Level; each delta
// is the distance to the next transition, and levels alternate.
type TransitionBatch struct {
	First  uint64
	Level  cec.Level
	Deltas []uint64
}

// Transitions expands the batch into absolute transitions
func (b TransitionBatch) Transitions() []cec.Transition {
	out := make([]cec.Transition, 0, len(b.Deltas)+1)
	sample := b.First
	level := b.Level
	out = append(out, cec.Transition{Sample: sample, Level: level})
	for _, d := range b.Deltas {
		sample += d
		level ^= 1
		out = append(out, cec.Transition{Sample: sample, Level: level})
	}
	return out
}

// ParseTransitionBatch extracts the batch carried by a TRANSITIONS packet
func ParseTransitionBatch(p *Packet) (TransitionBatch, error) {
	if p.Type() != MsgTransitions {
		return TransitionBatch{}, fmt.Errorf("not a transitions packet: 0x%02X", p.Type())
	}
	if err := p.ParseError(); err != nil {
		return TransitionBatch{}, err
	}

	m := p.PayloadMap()
	first, ok := GetMapUint(m, 0)
	if !ok {
		return TransitionBatch{}, fmt.Errorf("transitions packet missing first sample")
	}
	level, ok := GetMapUint(m, 1)
	if !ok || level > 1 {
		return TransitionBatch{}, fmt.Errorf("transitions packet has invalid level")
	}
	deltas, _ := GetMapUintSlice(m, 2)
	for i, d := range deltas {
		if d == 0 {
			return TransitionBatch{}, fmt.Errorf("transitions packet has zero delta at %d", i)
		}
	}

	return TransitionBatch{First: first, Level: cec.Level(level), Deltas: deltas}, nil
}

// SplitTransitions packs alternating transitions into batches of at most
// MaxBatchDeltas deltas each
func SplitTransitions(transitions []cec.Transition) ([]TransitionBatch, error) {
	var batches []TransitionBatch
	for i := 0; i < len(transitions); {
		b := TransitionBatch{First: transitions[i].Sample, Level: transitions[i].Level}
		prev := transitions[i]
		i++
		for i < len(transitions) && len(b.Deltas) < MaxBatchDeltas {
			t := transitions[i]
			if t.Sample <= prev.Sample {
				return nil, fmt.Errorf("transition %d at sample %d does not follow sample %d", i, t.Sample, prev.Sample)
			}
			if t.Level == prev.Level {
				return nil, fmt.Errorf("transition %d repeats level %s", i, t.Level)
			}
			b.Deltas = append(b.Deltas, t.Sample-prev.Sample)
			prev = t
			i++
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// ReassemblerStats counts stream events
type ReassemblerStats struct {
	Batches     uint64
	Transitions uint64
	Gaps        uint64
	Overflows   uint64
	Discarded   uint64 // transitions out of sample order
}

// Reassembler turns a stream of probe packets back into an ordered
// transition stream
type Reassembler struct {
	next    uint16
	haveSeq bool
	last    uint64
	started bool
	stats   ReassemblerStats
}

// NewReassembler creates a reassembler that accepts any first sequence number
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Stats returns the stream counters
func (r *Reassembler) Stats() ReassemblerStats {
	return r.stats
}

// Add processes one packet. Packets other than TRANSITIONS and
// ERROR_OVERFLOW are ignored. A sequence gap or overflow is reported as an
// error wrapping ErrSequenceGap or ErrOverflow; the transitions of the
// packet are still returned and the stream continues.
func (r *Reassembler) Add(p *Packet) ([]cec.Transition, error) {
	switch p.Type() {
	case MsgErrorOverflow:
		r.stats.Overflows++
		dropped, _ := GetMapUint(p.PayloadMap(), 0)
		return nil, fmt.Errorf("%w: %d transitions lost", ErrOverflow, dropped)
	case MsgTransitions:
	default:
		return nil, nil
	}

	var gapErr error
	if r.haveSeq && p.Seq() != r.next {
		r.stats.Gaps++
		gapErr = fmt.Errorf("%w: expected %d, got %d", ErrSequenceGap, r.next, p.Seq())
	}
	r.next = p.Seq() + 1
	r.haveSeq = true

	batch, err := ParseTransitionBatch(p)
	if err != nil {
		return nil, err
	}
	r.stats.Batches++

	all := batch.Transitions()
	out := all[:0]
	for _, t := range all {
		if r.started && t.Sample <= r.last {
			r.stats.Discarded++
			continue
		}
		out = append(out, t)
		r.last = t.Sample
		r.started = true
	}
	r.stats.Transitions += uint64(len(out))
	return out, gapErr
}
