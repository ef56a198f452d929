// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cecstat/pkg/capture"
	"github.com/Thermoquad/cecstat/pkg/cec"
	"github.com/Thermoquad/cecstat/pkg/probelink"
)

var (
	simulateOutput string
	simulateRate   uint64
	simulateNack   bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <message>...",
	Short: "Synthesize a CEC capture from messages",
	Long: `Encode messages with nominal bus timing.

Each argument is one message written as hex bytes separated by ':', '-',
',' or spaces: header first, then opcode and operands. Messages are sent
back to back with the signal free time between them. Every block is
acknowledged unless --nack is given.

With --output the capture is saved for decode and export; otherwise it is
decoded right away and the messages are printed.

Examples:
  cecstat simulate 40:04 4f:82:10:00
  cecstat simulate -o standby.cec 0f:36`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVarP(&simulateOutput, "output", "o", "", "Capture file to write")
	simulateCmd.Flags().Uint64Var(&simulateRate, "rate", 1_000_000, "Sample rate in Hz")
	simulateCmd.Flags().BoolVar(&simulateNack, "nack", false, "Leave every block unacknowledged")
}

// simulateCapture encodes messages into a capture. Every block is
// acknowledged, or with nack set none is; broadcasts use the inverted bit.
func simulateCapture(rate uint64, messages [][]uint8, nack bool) *capture.Capture {
	c := capture.New("simulate", rate)
	tb := c.Timebase()

	e := cec.NewEncoder(tb)
	e.Idle(cec.NominalBitPeriod)
	for _, m := range messages {
		broadcast := cec.Frame{Type: cec.FrameHeader, Data: m[0]}.IsBroadcast()
		// raw bit that gives the wanted acknowledgement
		raw := nack != broadcast
		acks := make([]bool, len(m))
		for i := range acks {
			acks[i] = raw
		}
		e.Message(m, acks)
	}
	c.Transitions = e.Transitions()
	return c
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simulateRate == 0 {
		return fmt.Errorf("--rate must be positive")
	}

	messages := make([][]uint8, 0, len(args))
	for _, arg := range args {
		m, err := cec.ParseHexMessage(arg)
		if err != nil {
			return fmt.Errorf("message %q: %w", arg, err)
		}
		messages = append(messages, m)
	}

	c := simulateCapture(simulateRate, messages, simulateNack)
	out := cmd.OutOrStdout()

	if simulateOutput != "" {
		if err := capture.Save(simulateOutput, c); err != nil {
			return fmt.Errorf("save capture: %w", err)
		}
		fmt.Fprintf(out, "Wrote %d messages, %d transitions (%v at %s) to %s\n",
			len(messages), len(c.Transitions), c.Duration().Round(time.Microsecond),
			probelink.FormatSampleRate(c.SampleRate), simulateOutput)
		return nil
	}

	tb := c.Timebase()
	frames, err := cec.Decode(cmd.Context(), c.Source(), tb, decoderOptions())
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	msgs := cec.GroupMessages(frames)
	for i := range msgs {
		fmt.Fprintf(out, "[%s] %s\n", tb.TimeString(msgs[i].Start), cec.FormatMessage(&msgs[i], base()))
	}
	return nil
}
