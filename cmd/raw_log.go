// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cecstat/pkg/cec"
	"github.com/Thermoquad/cecstat/pkg/probelink"
)

var rawLogMessages bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display decoded CEC frames from the probe as they arrive",
	Long: `Start a capture on the probe and continuously decode the CEC line.

Each frame is printed with its trigger-relative time: start sequences,
headers, opcodes, operands, EOM and ACK bits, and error frames. With
--messages, whole messages are printed instead.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	addCaptureFlags(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogMessages, "messages", false, "Print one line per message instead of per frame")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cmd.Context(), cfg.Connection)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("cecstat - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Sample rate: %s\n", probelink.FormatSampleRate(captureRate))
	fmt.Printf("Press Ctrl+C to exit\n\n")

	displayBase := base()
	collector := cec.NewMessageCollector()
	var session *liveSession

	printMessage := func(m *cec.Message) {
		tb := session.Timebase()
		fmt.Printf("[%s] %s\n", tb.TimeString(m.Start), cec.FormatMessage(m, displayBase))
	}

	session = newLiveSession(conn, captureRate, captureChannel, decoderOptions(), liveHandler{
		Sync: func(skipped int) {
			if skipped > 0 {
				fmt.Printf("[SYNC] Synchronized after skipping %d link errors\n", skipped)
			}
		},
		Frame: func(f cec.Frame) {
			if rawLogMessages {
				if m := collector.Add(f); m != nil {
					printMessage(m)
				}
				return
			}
			tb := session.Timebase()
			fmt.Printf("[%s] %s\n", tb.TimeString(f.StartSample), cec.FormatFrame(f, displayBase))
		},
		Packet: func(p *probelink.Packet) {
			if p.Type() != probelink.MsgCaptureStatus {
				fmt.Print(probelink.FormatPacket(p))
			}
		},
		LinkError: func(err error) {
			fmt.Printf("[LINK] %v\n", err)
		},
	})

	err = session.Run(cmd.Context())
	if rawLogMessages {
		if m := collector.Flush(); m != nil {
			printMessage(m)
		}
	}
	return err
}
