// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cecstat/pkg/probelink"
)

var (
	linkTestDuration int
	linkTestCapture  bool
)

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test probe link stability",
	Long: `Listen on the probe link and report packet and error counts.

Without --capture the link is only watched; with it a capture is started so
the probe streams transitions, and sequence gaps and overflows are counted
too. Useful for debugging unreliable USB cables or WebSocket bridges.

Exit codes:
  0 - Test completed without link errors
  1 - Link errors or connection loss during the test
  2 - Connection error`,
	RunE: runLinkTest,
}

func init() {
	rootCmd.AddCommand(linkTestCmd)
	addCaptureFlags(linkTestCmd)
	linkTestCmd.Flags().IntVar(&linkTestDuration, "duration", 30, "Test duration in seconds")
	linkTestCmd.Flags().BoolVar(&linkTestCapture, "capture", false, "Start a capture during the test")
}

// linkReport counts what the link delivered
type linkReport struct {
	packets    uint64
	byType     map[uint8]uint64
	linkErrors uint64
	stream     probelink.ReassemblerStats
	lost       error
}

func (r linkReport) failed() bool {
	return r.lost != nil || r.linkErrors > 0 || r.stream.Gaps > 0 || r.stream.Overflows > 0
}

// watchLink consumes packets until ctx is done or the connection drops
func watchLink(ctx context.Context, conn Connection, heartbeat time.Duration) linkReport {
	reader := startPacketReader(ctx, conn)
	reassembler := probelink.NewReassembler()
	report := linkReport{byType: make(map[uint8]uint64)}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case p, ok := <-reader.packets:
			if !ok {
				if err := <-reader.done; err != nil {
					report.lost = err
				} else if ctx.Err() == nil {
					report.lost = ErrConnectionClosed
				}
				for drained := false; !drained; {
					select {
					case err := <-reader.linkErr:
						report.linkErrors++
						fmt.Printf("[%s] Link error: %v\n", time.Now().Format("15:04:05.000"), err)
					default:
						drained = true
					}
				}
				report.stream = reassembler.Stats()
				return report
			}
			report.packets++
			report.byType[p.Type()]++
			for _, issue := range probelink.ValidatePacket(p) {
				report.linkErrors++
				fmt.Printf("[%s] Invalid packet: %s\n", time.Now().Format("15:04:05.000"), issue.Message)
			}
			if _, err := reassembler.Add(p); err != nil {
				fmt.Printf("[%s] Stream error: %v\n", time.Now().Format("15:04:05.000"), err)
			}
		case err := <-reader.linkErr:
			report.linkErrors++
			fmt.Printf("[%s] Link error: %v\n", time.Now().Format("15:04:05.000"), err)
		case <-ticker.C:
			fmt.Printf("[%s] Still connected... (%d packets)\n", time.Now().Format("15:04:05.000"), report.packets)
		}
	}
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cmd.Context(), cfg.Connection)
	if err != nil {
		return &ExitError{Code: ExitConnectionError, Err: err}
	}
	defer conn.Close()

	fmt.Printf("Probe Link Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", linkTestDuration)

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(linkTestDuration)*time.Second)
	defer cancel()

	enc := probelink.NewEncoder()
	if linkTestCapture {
		if err := sendPacket(conn, enc, probelink.NewCaptureStart(captureRate, captureChannel)); err != nil {
			return &ExitError{Code: ExitConnectionError, Err: err}
		}
	}
	// Closing the connection unblocks the reader when the test ends
	stop := context.AfterFunc(ctx, func() {
		if linkTestCapture {
			_ = sendPacket(conn, enc, probelink.NewCaptureStop())
		}
		_ = conn.Close()
	})
	defer stop()

	fmt.Printf("Listening for packets...\n\n")
	start := time.Now()
	report := watchLink(ctx, conn, time.Second)

	fmt.Printf("\n--- Test Results ---\n")
	fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Second))
	fmt.Printf("Packets received: %d\n", report.packets)
	types := make([]int, 0, len(report.byType))
	for t := range report.byType {
		types = append(types, int(t))
	}
	sort.Ints(types)
	for _, t := range types {
		fmt.Printf("  %-16s %d\n", probelink.FormatMessageType(uint8(t)), report.byType[uint8(t)])
	}
	fmt.Printf("Link errors: %d\n", report.linkErrors)
	if linkTestCapture {
		fmt.Printf("Transitions: %d, gaps: %d, overflows: %d\n",
			report.stream.Transitions, report.stream.Gaps, report.stream.Overflows)
	}

	if report.lost != nil {
		fmt.Printf("Result: FAILED (connection lost)\n")
		return exitf(ExitFailed, "connection lost: %w", report.lost)
	}
	if report.failed() {
		fmt.Printf("Result: FAILED (link errors)\n")
		return exitf(ExitFailed, "link errors during test")
	}
	fmt.Printf("Result: PASSED (connection stable)\n")
	return nil
}
