// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cec

// Message is the aggregate of the frames between one start sequence and
// the end of the message. Messages are built from a frame stream; the
// decoder itself never materializes them.
type Message struct {
	Start uint64
	End   uint64

	Header    uint8
	HasHeader bool
	OpCode    OpCode
	HasOpCode bool
	Operands  []uint8
	Acks      []bool // raw ACK bit per block

	Complete bool    // last block carried EOM=1
	Errors   []Frame // error frames attached to this message
}

// Source returns the initiator address
func (m *Message) Source() DevAddress {
	return DevAddress(m.Header>>4) & 0xF
}

// Destination returns the follower address
func (m *Message) Destination() DevAddress {
	return DevAddress(m.Header) & 0xF
}

// IsBroadcast reports whether the message is addressed to all devices
func (m *Message) IsBroadcast() bool {
	return m.HasHeader && m.Destination() == AddrBroadcast
}

// IsPing reports whether the message is a header-only polling message
func (m *Message) IsPing() bool {
	return m.HasHeader && !m.HasOpCode && m.Complete
}

// Blocks returns the number of blocks received
func (m *Message) Blocks() int {
	return len(m.Acks)
}

// Acknowledged reports whether every block was acknowledged
func (m *Message) Acknowledged() bool {
	if len(m.Acks) == 0 {
		return false
	}
	for _, ack := range m.Acks {
		if !Acknowledged(ack, m.IsBroadcast()) {
			return false
		}
	}
	return true
}

// Bytes returns the message bytes: header, opcode and operands
func (m *Message) Bytes() []uint8 {
	var out []uint8
	if m.HasHeader {
		out = append(out, m.Header)
	}
	if m.HasOpCode {
		out = append(out, uint8(m.OpCode))
	}
	return append(out, m.Operands...)
}

// MessageCollector groups a frame stream into messages
type MessageCollector struct {
	cur     *Message
	lastEOM bool
}

// NewMessageCollector creates an empty collector
func NewMessageCollector() *MessageCollector {
	return &MessageCollector{}
}

// Add processes one frame. Returns a message when the frame completes
// (or interrupts) one.
func (c *MessageCollector) Add(f Frame) *Message {
	switch f.Type {
	case FrameStartSeq:
		done := c.take()
		c.cur = &Message{Start: f.StartSample, End: f.EndSample}
		return done

	case FrameError:
		if c.cur == nil {
			return &Message{Start: f.StartSample, End: f.EndSample, Errors: []Frame{f}}
		}
		c.cur.Errors = append(c.cur.Errors, f)
		c.cur.End = f.EndSample
		return c.take()
	}

	if c.cur == nil {
		// Block frames without a start sequence cannot come from the decoder
		return nil
	}
	c.cur.End = f.EndSample

	switch f.Type {
	case FrameHeader:
		c.cur.Header = f.Data
		c.cur.HasHeader = true
	case FrameOpCode:
		c.cur.OpCode = OpCode(f.Data)
		c.cur.HasOpCode = true
	case FrameOperand:
		c.cur.Operands = append(c.cur.Operands, f.Data)
	case FrameEOM:
		c.lastEOM = f.Flag()
	case FrameACK:
		c.cur.Acks = append(c.cur.Acks, f.Flag())
		if c.lastEOM {
			c.cur.Complete = true
			return c.take()
		}
	}
	return nil
}

// Flush returns the message in progress, if any
func (c *MessageCollector) Flush() *Message {
	return c.take()
}

func (c *MessageCollector) take() *Message {
	m := c.cur
	c.cur = nil
	c.lastEOM = false
	return m
}

// GroupMessages groups a complete frame stream into messages
func GroupMessages(frames []Frame) []Message {
	c := NewMessageCollector()
	var out []Message
	for _, f := range frames {
		if m := c.Add(f); m != nil {
			out = append(out, *m)
		}
	}
	if m := c.Flush(); m != nil {
		out = append(out, *m)
	}
	return out
}
