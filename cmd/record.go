// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cecstat/pkg/capture"
	"github.com/Thermoquad/cecstat/pkg/cec"
	"github.com/Thermoquad/cecstat/pkg/probelink"
)

var (
	recordOutput   string
	recordDuration int
	recordQuiet    bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record the CEC line from the probe into a capture file",
	Long: `Start a capture on the probe and save the raw transitions.

Messages are decoded and printed while recording unless --quiet is given.
Recording stops after --duration seconds, or on Ctrl+C when the duration
is 0. The capture file can be decoded and exported later.

Examples:
  cecstat record --port /dev/ttyACM0 -o bus.cec --duration 60`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	addCaptureFlags(recordCmd)
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "", "Capture file to write (required)")
	recordCmd.Flags().IntVar(&recordDuration, "duration", 0, "Recording duration in seconds (0 = until interrupted)")
	recordCmd.Flags().BoolVarP(&recordQuiet, "quiet", "q", false, "Do not print messages while recording")
	_ = recordCmd.MarkFlagRequired("output")
}

// recorder accumulates streamed transitions into a capture. Transitions
// that repeat the current level, which happens across a sequence gap, are
// dropped so the capture stays alternating.
type recorder struct {
	capture *capture.Capture
	level   cec.Level
	started bool
	dropped int
}

func newRecorder(rate uint64) *recorder {
	return &recorder{capture: capture.New("probe", rate)}
}

func (r *recorder) add(transitions []cec.Transition) {
	for _, t := range transitions {
		if !r.started {
			r.started = true
			r.capture.InitialLevel = cec.High
			if t.Level == cec.High {
				r.capture.InitialLevel = cec.Low
			}
		} else if t.Level == r.level {
			r.dropped++
			continue
		}
		r.level = t.Level
		r.capture.Transitions = append(r.capture.Transitions, t)
	}
}

func runRecord(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cmd.Context(), cfg.Connection)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx := cmd.Context()
	if recordDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(recordDuration)*time.Second)
		defer cancel()
	}

	fmt.Printf("cecstat - Record\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Sample rate: %s\n", probelink.FormatSampleRate(captureRate))
	fmt.Printf("Output: %s\n", recordOutput)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	rec := newRecorder(captureRate)
	collector := cec.NewMessageCollector()
	tb := cec.Timebase{SampleRate: captureRate}
	messages := 0
	printMessage := func(m *cec.Message) {
		if m == nil {
			return
		}
		messages++
		if !recordQuiet {
			fmt.Printf("[%s] %s\n", tb.TimeString(m.Start), cec.FormatMessage(m, base()))
		}
	}

	session := newLiveSession(conn, captureRate, captureChannel, decoderOptions(), liveHandler{
		Transitions: rec.add,
		Frame:       func(f cec.Frame) { printMessage(collector.Add(f)) },
		LinkError: func(err error) {
			logger.Warn().Err(err).Msg("link error while recording")
		},
	})
	runErr := session.Run(ctx)
	printMessage(collector.Flush())

	if rec.dropped > 0 {
		logger.Warn().Int("dropped", rec.dropped).Msg("transitions dropped to keep levels alternating")
	}
	if err := capture.Save(recordOutput, rec.capture); err != nil {
		return fmt.Errorf("save capture: %w", err)
	}

	stats := session.Stats()
	fmt.Printf("\n--- Recording summary ---\n")
	fmt.Printf("Capture: %s\n", rec.capture.ID)
	fmt.Printf("Transitions: %d (%v)\n", len(rec.capture.Transitions), rec.capture.Duration())
	fmt.Printf("Messages: %d\n", messages)
	if stats.Gaps > 0 || stats.Overflows > 0 {
		fmt.Printf("Gaps: %d, overflows: %d\n", stats.Gaps, stats.Overflows)
	}
	return runErr
}
