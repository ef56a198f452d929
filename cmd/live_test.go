// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/Thermoquad/cecstat/pkg/cec"
	"github.com/Thermoquad/cecstat/pkg/probelink"
)

// scriptedConn replays canned reads, then reports the connection closed
type scriptedConn struct {
	mu      sync.Mutex
	reads   [][]byte
	written bytes.Buffer
	closed  bool
}

func (c *scriptedConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.reads) == 0 {
		return 0, ErrConnectionClosed
	}
	n := copy(p, c.reads[0])
	if n < len(c.reads[0]) {
		c.reads[0] = c.reads[0][n:]
	} else {
		c.reads = c.reads[1:]
	}
	return n, nil
}

func (c *scriptedConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written.Write(p)
}

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptedConn) writtenPackets(t *testing.T) []*probelink.Packet {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	packets, errs := probelink.NewDecoder().Decode(c.written.Bytes())
	if len(errs) != 0 {
		t.Fatalf("Host sent undecodable bytes: %v", errs)
	}
	return packets
}

func probeStream(t *testing.T, transitions []cec.Transition) [][]byte {
	t.Helper()
	batches, err := probelink.SplitTransitions(transitions)
	if err != nil {
		t.Fatalf("SplitTransitions failed: %v", err)
	}
	enc := probelink.NewEncoder()
	var out [][]byte
	for _, b := range batches {
		wire, err := enc.Encode(probelink.NewTransitions(b))
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		out = append(out, wire)
	}
	return out
}

// ============================================================
// Live Session Tests
// ============================================================

func TestLiveSession_DecodesStream(t *testing.T) {
	const rate = 1_000_000
	tb := cec.Timebase{SampleRate: rate}
	transitions := cec.EncodeMessages(tb, []uint8{0x04, 0x04}, []uint8{0x0F, 0x36})

	// A cut-off packet before the stream is noise to skip while syncing
	noise := []byte{probelink.StartByte, 0x05, 0x00, probelink.EndByte}
	conn := &scriptedConn{reads: append([][]byte{noise}, probeStream(t, transitions)...)}

	var (
		frames   []cec.Frame
		received int
		skipped  = -1
		linkErrs []error
	)
	session := newLiveSession(conn, rate, 0, cec.DefaultOptions(), liveHandler{
		Sync:        func(n int) { skipped = n },
		Frame:       func(f cec.Frame) { frames = append(frames, f) },
		Transitions: func(ts []cec.Transition) { received += len(ts) },
		LinkError:   func(err error) { linkErrs = append(linkErrs, err) },
	})

	if err := session.Run(t.Context()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if skipped != 1 {
		t.Errorf("Expected 1 link error skipped before sync, got %d", skipped)
	}
	if len(linkErrs) != 0 {
		t.Errorf("Unexpected link errors after sync: %v", linkErrs)
	}
	if received != len(transitions) {
		t.Errorf("Expected %d transitions, got %d", len(transitions), received)
	}

	msgs := cec.GroupMessages(frames)
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].OpCode != cec.OpImageViewOn || msgs[1].OpCode != cec.OpStandby {
		t.Errorf("Unexpected opcodes %v, %v", msgs[0].OpCode, msgs[1].OpCode)
	}

	stats := session.Stats()
	if stats.Gaps != 0 || stats.Transitions != uint64(len(transitions)) {
		t.Errorf("Unexpected stream stats %+v", stats)
	}

	sent := conn.writtenPackets(t)
	if len(sent) == 0 || sent[0].Type() != probelink.MsgCaptureStart {
		t.Fatalf("Expected CAPTURE_START first, got %d packets", len(sent))
	}
	if rateSent, _ := probelink.GetMapUint(sent[0].PayloadMap(), 0); rateSent != rate {
		t.Errorf("Capture started at %d Hz, want %d", rateSent, rate)
	}
}

func TestLiveSession_ReportsGap(t *testing.T) {
	tb := cec.Timebase{SampleRate: 1_000_000}
	stream := probeStream(t, cec.EncodeMessages(tb, []uint8{0x4F, 0x82, 0x10, 0x00}))
	if len(stream) < 3 {
		t.Fatalf("Need at least 3 batches, got %d", len(stream))
	}
	stream = append(stream[:1], stream[2:]...)

	var linkErrs []error
	session := newLiveSession(&scriptedConn{reads: stream}, tb.SampleRate, 0, cec.DefaultOptions(), liveHandler{
		LinkError: func(err error) { linkErrs = append(linkErrs, err) },
	})
	if err := session.Run(t.Context()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(linkErrs) != 1 || !errors.Is(linkErrs[0], probelink.ErrSequenceGap) {
		t.Errorf("Expected one sequence gap, got %v", linkErrs)
	}
	if session.Stats().Gaps != 1 {
		t.Errorf("Expected 1 gap in stats, got %d", session.Stats().Gaps)
	}
}

func TestLiveSession_GapInterruptsMessage(t *testing.T) {
	tb := cec.Timebase{SampleRate: 1_000_000}
	transitions := cec.EncodeMessages(tb, []uint8{0x04, 0x04})

	// Start sequence and two header bits, then three bits lost on the link
	enc := probelink.NewEncoder()
	var stream [][]byte
	for i, part := range [][]cec.Transition{transitions[:6], transitions[6:12], transitions[12:]} {
		batches, err := probelink.SplitTransitions(part)
		if err != nil {
			t.Fatalf("SplitTransitions failed: %v", err)
		}
		for _, b := range batches {
			wire, err := enc.Encode(probelink.NewTransitions(b))
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if i != 1 {
				stream = append(stream, wire)
			}
		}
	}

	var frames []cec.Frame
	var linkErrs []error
	session := newLiveSession(&scriptedConn{reads: stream}, tb.SampleRate, 0, cec.DefaultOptions(), liveHandler{
		Frame:     func(f cec.Frame) { frames = append(frames, f) },
		LinkError: func(err error) { linkErrs = append(linkErrs, err) },
	})
	if err := session.Run(t.Context()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(linkErrs) != 1 || !errors.Is(linkErrs[0], probelink.ErrSequenceGap) {
		t.Fatalf("Expected one sequence gap, got %v", linkErrs)
	}
	if len(frames) != 2 {
		t.Fatalf("Expected start sequence and one error, got %d frames: %+v", len(frames), frames)
	}
	if frames[0].Type != cec.FrameStartSeq {
		t.Errorf("Expected start sequence first, got %s", cec.FormatFrameType(frames[0].Type))
	}
	if frames[1].Type != cec.FrameError || frames[1].Reason != cec.ErrorTruncated {
		t.Errorf("Expected truncated error at the gap, got %+v", frames[1])
	}
	if frames[1].EndSample >= transitions[12].Sample {
		t.Errorf("Truncated block should end before the gap, got end %d", frames[1].EndSample)
	}
}

func TestLiveSession_StatusAdvancesDecoder(t *testing.T) {
	tb := cec.Timebase{SampleRate: 1_000_000}
	transitions := cec.EncodeMessages(tb, []uint8{0x40, 0x36})
	stream := probeStream(t, transitions)

	// The status packet closes the last ACK; nothing is left for Finish
	last := transitions[len(transitions)-1].Sample
	status, err := probelink.NewEncoder().Encode(probelink.NewCaptureStatus(true, tb.SampleRate, last+10_000))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	stream = append(stream, status)

	var frames []cec.Frame
	var statusSeen bool
	session := newLiveSession(&scriptedConn{reads: stream}, tb.SampleRate, 0, cec.DefaultOptions(), liveHandler{
		Frame: func(f cec.Frame) { frames = append(frames, f) },
		Packet: func(p *probelink.Packet) {
			if p.Type() == probelink.MsgCaptureStatus {
				statusSeen = true
				if n := len(frames); n == 0 || frames[n-1].Type != cec.FrameACK {
					t.Errorf("Last ACK should be decoded when the status arrives")
				}
			}
		},
	})
	if err := session.Run(t.Context()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !statusSeen {
		t.Error("Status packet was not delivered")
	}
}

func TestLiveSession_ZeroRate(t *testing.T) {
	session := newLiveSession(&scriptedConn{}, 0, 0, cec.DefaultOptions(), liveHandler{})
	if err := session.Run(t.Context()); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestLiveSession_ReportsInvalidPacket(t *testing.T) {
	tb := cec.Timebase{SampleRate: 1_000_000}
	stream := probeStream(t, cec.EncodeMessages(tb, []uint8{0x40, 0x36}))
	bad, err := probelink.EncodePacketFromValues(0x100, probelink.MsgCaptureStart, map[int]interface{}{0: uint64(0), 1: uint64(0)})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	stream = append(stream, bad)

	var linkErrs []error
	var frames int
	session := newLiveSession(&scriptedConn{reads: stream}, tb.SampleRate, 0, cec.DefaultOptions(), liveHandler{
		Frame:     func(cec.Frame) { frames++ },
		LinkError: func(err error) { linkErrs = append(linkErrs, err) },
	})
	if err := session.Run(t.Context()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(linkErrs) != 1 {
		t.Fatalf("Expected 1 link error, got %v", linkErrs)
	}
	var issue *probelink.ValidationError
	if !errors.As(linkErrs[0], &issue) || issue.Type != probelink.AnomalyInvalidValue {
		t.Errorf("Expected an invalid value anomaly, got %v", linkErrs[0])
	}
	if frames != 7 {
		t.Errorf("Expected 7 frames, got %d", frames)
	}
}
