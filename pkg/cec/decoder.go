// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cec

import (
	"context"
	"fmt"
)

// Options configures a decode pass
type Options struct {
	Timing Timing
	// MaxBlocks bounds the number of blocks in one message. Zero means
	// unbounded. A message that exceeds it is reported as Error{Overlong}.
	MaxBlocks int
}

// DefaultOptions returns the default decoder options
func DefaultOptions() Options {
	return Options{
		Timing: DefaultTiming(),
	}
}

// Decoder implements the CEC message state machine. It consumes
// transitions one at a time and returns the frames each one completes.
// A Decoder is confined to one decode pass and is not safe for
// concurrent use.
type Decoder struct {
	state int
	opts  Options
	tb    Timebase
	asm   *Assembler

	started  bool
	level    Level
	haveFall bool
	haveRise bool
	fall     uint64
	rise     uint64

	startEnd uint64 // end sample of the last start sequence

	nominalPeriod uint64 // samples
	nominalStart  uint64 // samples
	openThreshold uint64 // samples
}

// NewDecoder creates a decoder for a signal sampled with the given timebase
func NewDecoder(tb Timebase, opts Options) *Decoder {
	d := &Decoder{
		opts: opts,
		tb:   tb,
		asm:  NewAssembler(),
	}
	d.nominalPeriod = tb.Samples(NominalBitPeriod)
	if d.nominalPeriod == 0 {
		d.nominalPeriod = 1
	}
	d.nominalStart = tb.Samples(NominalStartPeriod)
	if d.nominalStart == 0 {
		d.nominalStart = 1
	}
	d.openThreshold = tb.Samples(opts.Timing.OpenThreshold())
	d.Reset()
	return d
}

// Reset returns the decoder to idle, discarding any message in progress
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.asm.Reset()
	d.started = false
	d.haveFall = false
	d.haveRise = false
	d.fall = 0
	d.rise = 0
	d.startEnd = 0
}

// Idle reports whether the decoder is waiting for a start sequence
func (d *Decoder) Idle() bool {
	return d.state == stateIdle
}

// Aborted reports whether the decoder has finished or was aborted
func (d *Decoder) Aborted() bool {
	return d.state == stateAborted
}

// AtBlockBoundary reports whether no block is partially received. This is
// a safe point to stop decoding.
func (d *Decoder) AtBlockBoundary() bool {
	return !d.asm.InProgress()
}

// Abort moves the decoder to the absorbing aborted state
func (d *Decoder) Abort() {
	d.state = stateAborted
}

// DecodeTransition processes a single transition through the decoder.
// Returns the frames completed by this transition, usually none.
func (d *Decoder) DecodeTransition(t Transition) []Frame {
	if d.state == stateAborted {
		return nil
	}
	if d.started && t.Level == d.level {
		// Repeated level, not an edge
		return nil
	}
	d.started = true
	d.level = t.Level

	if t.Level == High {
		if d.haveFall && !d.haveRise {
			d.rise = t.Sample
			d.haveRise = true
		}
		return nil
	}

	var frames []Frame
	if d.haveFall && d.haveRise {
		total := t.Sample - d.fall
		open := total > d.openThreshold
		b := d.classify(total, open)
		if b.End >= t.Sample {
			b.End = t.Sample - 1
		}
		frames = d.handleBit(b)
	}

	d.fall = t.Sample
	d.haveFall = true
	d.haveRise = false
	return frames
}

// Finish flushes the decoder at end of stream. The last window is
// classified as open, and a block cut short by the end of the capture is
// reported as Error{Truncated}. The decoder is aborted afterwards.
func (d *Decoder) Finish() []Frame {
	if d.state == stateAborted {
		return nil
	}
	frames := d.truncate(true)
	d.state = stateAborted
	return frames
}

// Interrupt ends the message in progress after transitions were lost. The
// pending window and any partial block are reported as Error{Truncated}
// and the decoder returns to idle, so decoding resumes at the next start
// sequence.
func (d *Decoder) Interrupt() []Frame {
	if d.state == stateAborted {
		return nil
	}
	var frames []Frame
	if d.state != stateIdle {
		frames = d.truncate(false)
	}
	d.state = stateIdle
	d.asm.Reset()
	d.started = false
	d.haveFall = false
	d.haveRise = false
	return frames
}

// truncate reports what is cut short by the end of the signal. With
// closeWindow set the pending window is classified as open first;
// otherwise it is treated as incomplete.
func (d *Decoder) truncate(closeWindow bool) []Frame {
	var frames []Frame
	switch {
	case closeWindow && d.haveFall && d.haveRise:
		frames = d.handleBit(d.classify(0, true))
	case d.haveFall && d.state != stateIdle:
		// The bit never completed
		p := d.asm.Partial()
		span := Span{Start: d.fall, End: d.fall}
		if p.Bits > 0 {
			span.Start = p.Span.Start
		}
		d.asm.Reset()
		return []Frame{errorFrame(ErrorTruncated, span, p)}
	}

	switch {
	case d.state == stateIdle:
	case d.asm.InProgress():
		p := d.asm.Partial()
		frames = append(frames, errorFrame(ErrorTruncated, p.Span, p))
		d.asm.Reset()
	case d.state == stateAwaitingHeader:
		// Start sequence with no header after it
		at := d.startEnd + 1
		frames = append(frames, errorFrame(ErrorTruncated, Span{Start: at, End: at}, Partial{}))
	}
	return frames
}

// Advance tells a live decoder that the line has been sampled up to sample
// with no further edge. A pending window whose high phase already exceeds
// the open threshold is classified as open, so the last ACK of a message
// is reported without waiting for the next falling edge.
func (d *Decoder) Advance(sample uint64) []Frame {
	if d.state == stateAborted || !d.haveFall || !d.haveRise || d.level != High {
		return nil
	}
	if sample <= d.fall || sample-d.fall <= d.openThreshold {
		return nil
	}
	frames := d.handleBit(d.classify(sample-d.fall, true))
	d.haveFall = false
	d.haveRise = false
	return frames
}

// openEnd is the end sample of an open window: one nominal period of the
// classified kind, but never before the rising edge
func (d *Decoder) openEnd(kind BitKind) uint64 {
	period := d.nominalPeriod
	if kind == BitStart {
		period = d.nominalStart
	}
	end := d.fall + period - 1
	if end < d.rise {
		end = d.rise
	}
	return end
}

// classify classifies the pending window. A closed window ends just before
// the falling edge that closed it; the caller clips open windows.
func (d *Decoder) classify(total uint64, open bool) Bit {
	w := Window{
		Low:   d.tb.Duration(d.rise - d.fall),
		Total: d.tb.Duration(total),
		Open:  open,
	}
	kind, reason := d.opts.Timing.Classify(w)
	end := d.fall + total - 1
	if open {
		end = d.openEnd(kind)
	}
	return Bit{Kind: kind, Reason: reason, Start: d.fall, End: end}
}

func (d *Decoder) handleBit(b Bit) []Frame {
	if d.state == stateIdle {
		switch b.Kind {
		case BitStart:
			d.asm.Reset()
			d.state = stateAwaitingHeader
			d.startEnd = b.End
			return []Frame{newFrame(FrameStartSeq, Span{b.Start, b.End}, 0)}
		case BitInvalid:
			return []Frame{errorFrame(b.Reason, Span{b.Start, b.End}, Partial{})}
		}
		// Data bits outside a message are ignored while scanning
		return nil
	}

	ev := d.asm.Push(b)
	switch ev.Kind {
	case EventBoundary:
		var frames []Frame
		if ev.Partial.Bits > 0 {
			frames = append(frames, errorFrame(ErrorTruncated, ev.Partial.Span, ev.Partial))
		}
		d.state = stateAwaitingHeader
		d.startEnd = b.End
		return append(frames, newFrame(FrameStartSeq, Span{b.Start, b.End}, 0))

	case EventError:
		d.state = stateIdle
		return []Frame{errorFrame(b.Reason, Span{b.Start, b.End}, ev.Partial)}

	case EventBlock:
		return d.handleBlock(ev.Block)
	}
	return nil
}

func (d *Decoder) handleBlock(blk Block) []Frame {
	if d.opts.MaxBlocks > 0 && int(blk.Index) >= d.opts.MaxBlocks {
		d.state = stateIdle
		d.asm.Reset()
		return []Frame{errorFrame(ErrorOverlong, blk.Span(), Partial{Value: blk.Value, Bits: BitsPerBlock})}
	}

	var dataType FrameType
	next := d.state
	switch {
	case d.state == stateAwaitingHeader && blk.Role() == RoleHeader:
		dataType = FrameHeader
		next = stateAwaitingOpCodeOrEnd
	case d.state == stateAwaitingOpCodeOrEnd && blk.Role() == RoleOpCode:
		dataType = FrameOpCode
		next = stateAwaitingOperandOrEnd
	case d.state == stateAwaitingOperandOrEnd && blk.Role() == RoleOperand:
		dataType = FrameOperand
	default:
		d.state = stateIdle
		d.asm.Reset()
		return []Frame{errorFrame(ErrorUnexpectedBlock, blk.Span(), Partial{Value: blk.Value, Bits: BitsPerBlock})}
	}

	frames := []Frame{
		newFrame(dataType, blk.Data, blk.Value),
		newFrame(FrameEOM, blk.EOMSpan, boolBit(blk.EOM)),
		newFrame(FrameACK, blk.ACKSpan, boolBit(blk.ACK)),
	}

	if blk.EOM {
		d.state = stateIdle
		d.asm.Reset()
	} else {
		d.state = next
	}
	return frames
}

func errorFrame(reason ErrorReason, s Span, p Partial) Frame {
	f := newFrame(FrameError, s, p.Value)
	f.Reason = reason
	f.Bits = uint8(p.Bits)
	return f
}

// DecodeFunc runs a full decode pass over src, passing each frame to emit
// in order. Cancellation is checked at block boundaries; on cancellation
// the frames emitted so far stand and ctx.Err() is returned. An error
// returned by emit stops the pass.
func DecodeFunc(ctx context.Context, src Source, tb Timebase, opts Options, emit func(Frame) error) error {
	if tb.SampleRate == 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	d := NewDecoder(tb, opts)

	for {
		t, ok := src.Next()
		if !ok {
			break
		}
		for _, f := range d.DecodeTransition(t) {
			if err := emit(f); err != nil {
				return err
			}
		}
		if d.AtBlockBoundary() {
			if err := ctx.Err(); err != nil {
				d.Abort()
				return err
			}
		}
	}

	for _, f := range d.Finish() {
		if err := emit(f); err != nil {
			return err
		}
	}
	return nil
}

// Decode runs a full decode pass and collects the frames
func Decode(ctx context.Context, src Source, tb Timebase, opts Options) ([]Frame, error) {
	var frames []Frame
	err := DecodeFunc(ctx, src, tb, opts, func(f Frame) error {
		frames = append(frames, f)
		return nil
	})
	return frames, err
}
