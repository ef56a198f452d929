// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/cecstat/pkg/cec"
	"github.com/Thermoquad/cecstat/pkg/probelink"
)

var (
	captureRate    uint64
	captureChannel uint8
)

// addCaptureFlags registers the probe capture flags on a live command
func addCaptureFlags(cmd *cobra.Command) {
	cmd.Flags().Uint64Var(&captureRate, "rate", 1_000_000, "Probe sample rate in Hz")
	cmd.Flags().Uint8Var(&captureChannel, "channel", 0, "Probe input channel")
}

// liveEvent is one unit of work handed from the link reader to the
// decoder goroutine
type liveEvent struct {
	transitions []cec.Transition
	now         uint64 // probe sample counter from CAPTURE_STATUS, 0 if unknown
	packet      *probelink.Packet
	linkErr     error
}

// liveHandler receives everything a live session produces. All callbacks
// run on the session's decoder goroutine. Nil callbacks are skipped.
type liveHandler struct {
	Sync        func(skippedErrors int)
	Frame       func(cec.Frame)
	Transitions func([]cec.Transition)
	Packet      func(*probelink.Packet)
	LinkError   func(error)
}

// liveSession streams a capture from the probe and decodes it as it arrives
type liveSession struct {
	conn    Connection
	rate    uint64
	channel uint8
	opts    cec.Options
	handler liveHandler

	stats probelink.ReassemblerStats
}

func newLiveSession(conn Connection, rate uint64, channel uint8, opts cec.Options, h liveHandler) *liveSession {
	return &liveSession{conn: conn, rate: rate, channel: channel, opts: opts, handler: h}
}

// Timebase returns the timebase of the streamed samples
func (s *liveSession) Timebase() cec.Timebase {
	return cec.Timebase{SampleRate: s.rate}
}

// Stats returns the stream counters. Valid after Run returns.
func (s *liveSession) Stats() probelink.ReassemblerStats {
	return s.stats
}

// Run starts the capture and decodes until ctx is cancelled or the probe
// goes away. The capture is stopped and the connection closed on return.
func (s *liveSession) Run(ctx context.Context) error {
	if s.rate == 0 {
		return fmt.Errorf("sample rate must be positive")
	}

	enc := probelink.NewEncoder()
	if err := sendPacket(s.conn, enc, probelink.NewCaptureStart(s.rate, s.channel)); err != nil {
		return err
	}
	logger.Info().
		Str("rate", probelink.FormatSampleRate(s.rate)).
		Uint8("channel", s.channel).
		Msg("capture started")

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() {
		if err := sendPacket(s.conn, enc, probelink.NewCaptureStop()); err != nil {
			logger.Debug().Err(err).Msg("capture stop not sent")
		}
		_ = s.conn.Close()
	})
	defer stop()

	events := make(chan liveEvent, 64)
	reassembler := probelink.NewReassembler()

	g.Go(func() error {
		defer close(events)
		return s.readLink(gctx, reassembler, events)
	})

	g.Go(func() error {
		s.decode(events)
		return nil
	})

	err := g.Wait()
	s.stats = reassembler.Stats()
	logger.Info().
		Uint64("batches", s.stats.Batches).
		Uint64("transitions", s.stats.Transitions).
		Uint64("gaps", s.stats.Gaps).
		Uint64("overflows", s.stats.Overflows).
		Msg("capture ended")
	return err
}

// readLink decodes probe packets and turns them into live events
func (s *liveSession) readLink(ctx context.Context, reassembler *probelink.Reassembler, events chan<- liveEvent) error {
	decoder := probelink.NewDecoder()
	buf := make([]byte, 256)

	send := func(ev liveEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil || isClosed(err) {
				logger.Debug().Err(err).Msg("probe link closed")
				return nil
			}
			return fmt.Errorf("read probe: %w", err)
		}

		for i := 0; i < n; i++ {
			packet, decodeErr := decoder.DecodeByte(buf[i])
			if decodeErr != nil {
				if !send(liveEvent{linkErr: decodeErr}) {
					return nil
				}
				continue
			}
			if packet == nil {
				continue
			}
			if issues := probelink.ValidatePacket(packet); len(issues) > 0 {
				if !send(liveEvent{linkErr: &issues[0]}) {
					return nil
				}
				continue
			}

			var ev liveEvent
			switch packet.Type() {
			case probelink.MsgTransitions, probelink.MsgErrorOverflow:
				ev.transitions, ev.linkErr = reassembler.Add(packet)
			case probelink.MsgCaptureStatus:
				ev.now, _ = probelink.GetMapUint(packet.PayloadMap(), 2)
				ev.packet = packet
			default:
				ev.packet = packet
			}
			if !send(ev) {
				return nil
			}
		}
	}
}

// decode runs the CEC decoder over the event stream. Link errors seen
// before the first valid packet are counted, not reported.
func (s *liveSession) decode(events <-chan liveEvent) {
	h := s.handler
	d := cec.NewDecoder(s.Timebase(), s.opts)
	synchronized := false
	skipped := 0

	emit := func(frames []cec.Frame) {
		if h.Frame == nil {
			return
		}
		for _, f := range frames {
			h.Frame(f)
		}
	}

	for ev := range events {
		if !synchronized {
			if ev.linkErr != nil && ev.packet == nil && ev.transitions == nil && !isStreamError(ev.linkErr) {
				skipped++
				continue
			}
			synchronized = true
			if h.Sync != nil {
				h.Sync(skipped)
			}
		}

		if ev.linkErr != nil {
			if h.LinkError != nil {
				h.LinkError(ev.linkErr)
			}
			// Transitions were lost: the message in progress cannot be trusted
			if isStreamError(ev.linkErr) {
				emit(d.Interrupt())
			}
		}
		if len(ev.transitions) > 0 {
			if h.Transitions != nil {
				h.Transitions(ev.transitions)
			}
			for _, t := range ev.transitions {
				emit(d.DecodeTransition(t))
			}
		}
		if ev.now > 0 {
			emit(d.Advance(ev.now))
		}
		if ev.packet != nil && h.Packet != nil {
			h.Packet(ev.packet)
		}
	}
	emit(d.Finish())
}

// isStreamError reports errors raised by the reassembler rather than the
// byte decoder
func isStreamError(err error) bool {
	return errors.Is(err, probelink.ErrSequenceGap) || errors.Is(err, probelink.ErrOverflow)
}
