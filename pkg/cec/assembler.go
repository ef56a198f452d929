// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cec

// Span is an inclusive sample range
type Span struct {
	Start uint64
	End   uint64
}

// BlockRole is the semantic role of a data block within a message
type BlockRole uint8

// Block roles
const (
	RoleHeader BlockRole = iota
	RoleOpCode
	RoleOperand
)

// Block is a completed CEC block: 8 data bits (MSB first), EOM and ACK.
// EOM and ACK hold the raw bus bits.
type Block struct {
	Value uint8
	EOM   bool
	ACK   bool
	Index uint32 // position within the message, header is 0

	Data    Span
	EOMSpan Span
	ACKSpan Span
}

// Role derives the block's role from its position in the message
func (b Block) Role() BlockRole {
	switch b.Index {
	case 0:
		return RoleHeader
	case 1:
		return RoleOpCode
	default:
		return RoleOperand
	}
}

// Span returns the sample range of the whole block
func (b Block) Span() Span {
	return Span{Start: b.Data.Start, End: b.ACKSpan.End}
}

// EventKind is the outcome of pushing a bit into the assembler
type EventKind uint8

// Assembler events
const (
	EventNone     EventKind = iota // bit consumed, block still in progress
	EventBoundary                  // start sequence, message boundary
	EventBlock                     // block completed
	EventError                     // invalid bit, partial block abandoned
)

// Event is returned by Assembler.Push
type Event struct {
	Kind    EventKind
	Block   Block   // EventBlock
	Bit     Bit     // the bit that produced the event
	Partial Partial // EventError and EventBoundary: what was abandoned
}

// Partial describes an incomplete block
type Partial struct {
	Value uint8 // data bits received so far, right-aligned
	Bits  int   // number of bits received, including EOM
	Span  Span  // valid only when Bits > 0
}

// Assembler folds classified bits into blocks
type Assembler struct {
	bits    int
	value   uint8
	eom     bool
	index   uint32
	data    Span
	eomSpan Span
}

// NewAssembler creates an assembler positioned before the first block
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Reset discards any partial block and restarts block numbering
func (a *Assembler) Reset() {
	a.clearBlock()
	a.index = 0
}

func (a *Assembler) clearBlock() {
	a.bits = 0
	a.value = 0
	a.eom = false
	a.data = Span{}
	a.eomSpan = Span{}
}

// Partial returns the block currently being assembled
func (a *Assembler) Partial() Partial {
	p := Partial{Value: a.value, Bits: a.bits}
	if a.bits > 0 {
		p.Span = Span{Start: a.data.Start, End: a.data.End}
		if a.bits > DataBitsPerBlock {
			p.Span.End = a.eomSpan.End
		}
	}
	return p
}

// InProgress reports whether a block has received at least one bit
func (a *Assembler) InProgress() bool {
	return a.bits > 0
}

// BlockIndex returns the index the next completed block will carry
func (a *Assembler) BlockIndex() uint32 {
	return a.index
}

// Push processes one classified bit
func (a *Assembler) Push(b Bit) Event {
	switch b.Kind {
	case BitStart:
		ev := Event{Kind: EventBoundary, Bit: b, Partial: a.Partial()}
		a.Reset()
		return ev

	case BitInvalid:
		ev := Event{Kind: EventError, Bit: b, Partial: a.Partial()}
		a.Reset()
		return ev
	}

	switch {
	case a.bits < DataBitsPerBlock:
		if a.bits == 0 {
			a.data.Start = b.Start
		}
		a.value = a.value<<1 | b.Value()
		a.data.End = b.End
		a.bits++
		return Event{Kind: EventNone, Bit: b}

	case a.bits == DataBitsPerBlock:
		a.eom = b.Kind == BitOne
		a.eomSpan = Span{Start: b.Start, End: b.End}
		a.bits++
		return Event{Kind: EventNone, Bit: b}
	}

	block := Block{
		Value:   a.value,
		EOM:     a.eom,
		ACK:     b.Kind == BitOne,
		Index:   a.index,
		Data:    a.data,
		EOMSpan: a.eomSpan,
		ACKSpan: Span{Start: b.Start, End: b.End},
	}
	a.clearBlock()
	a.index++
	return Event{Kind: EventBlock, Block: block, Bit: b}
}
