// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cecstat/pkg/cec"
	"github.com/Thermoquad/cecstat/pkg/probelink"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze CEC bus errors and protocol anomalies",
	Long: `Track bus errors and protocol anomalies with statistics.

This command groups decoded frames into messages, validates each one and detects:
  - Bit timing out of tolerance, truncated blocks, overlong messages
  - Directed messages not acknowledged, broadcasts rejected
  - Messages that end without EOM
  - Unknown opcodes and wrong operand counts
  - Probe link problems (dropped batches, overflow, CRC errors)

By default, only errors are displayed. Use --show-all to display valid messages too.

Messages are validated in real-time, with errors highlighted immediately and
periodic statistics summaries displayed at configurable intervals. The terminal
UI is used when stdout is a terminal.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	addCaptureFlags(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all messages (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	if statsInterval <= 0 {
		return fmt.Errorf("--stats-interval must be positive")
	}

	conn, connInfo, err := OpenConnection(cmd.Context(), cfg.Connection)
	if err != nil {
		return err
	}
	defer conn.Close()

	if useTUI && isatty.IsTerminal(os.Stdout.Fd()) {
		return runTUIMode(cmd.Context(), conn, connInfo)
	}
	return runTextMode(cmd.Context(), conn, connInfo)
}

// messageValidator groups frames into messages and validates them
type messageValidator struct {
	collector *cec.MessageCollector
	onMessage func(*cec.Message, []cec.ValidationError)
}

func newMessageValidator(onMessage func(*cec.Message, []cec.ValidationError)) *messageValidator {
	return &messageValidator{collector: cec.NewMessageCollector(), onMessage: onMessage}
}

func (v *messageValidator) frame(f cec.Frame) {
	if m := v.collector.Add(f); m != nil {
		v.onMessage(m, cec.ValidateMessage(m))
	}
}

func (v *messageValidator) flush() {
	if m := v.collector.Flush(); m != nil {
		v.onMessage(m, cec.ValidateMessage(m))
	}
}

// printValidationErrors prints validation errors for a message
func printValidationErrors(tb cec.Timebase, m *cec.Message, errors []cec.ValidationError) {
	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s\n", tb.TimeString(m.Start), cec.FormatMessage(m, base()))

	for i, err := range errors {
		switch err.Type {
		case cec.AnomalyDecodeError:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
			if bits, ok := err.Details["bits"].(uint8); ok && bits > 0 {
				fmt.Printf("    %d bits received in the abandoned block\n", bits)
			}

		case cec.AnomalyNotAcknowledged, cec.AnomalyBroadcastRejected:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
			if block, ok := err.Details["block"].(int); ok {
				fmt.Printf("    block=%d\n", block)
			}

		case cec.AnomalyOperandLength:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if received, ok := err.Details["operands"].(int); ok {
				if expected, ok := err.Details["expected"].(int); ok {
					fmt.Printf("    Operands: received=%d, expected=%d\n", received, expected)
				}
			}

		default:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
		}
	}

	fmt.Printf("  >>> MESSAGE REJECTED <<<\n\n")
}

// printLinkError prints a probe link error in highlighted format
func printLinkError(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mLINK ERROR:\033[0m %v\n\n", timestamp, err)
}

// runTUIMode runs error detection in TUI mode
func runTUIMode(ctx context.Context, conn Connection, connInfo string) error {
	m := initialModel(connInfo, captureRate, statsInterval, showAll)
	p := tea.NewProgram(m, tea.WithContext(ctx))

	validator := newMessageValidator(func(msg *cec.Message, errs []cec.ValidationError) {
		p.Send(cecMessageMsg{message: msg, validationErrors: errs})
	})
	session := newLiveSession(conn, captureRate, captureChannel, decoderOptions(), liveHandler{
		Sync:  func(skipped int) { p.Send(syncMsg{skippedErrors: skipped}) },
		Frame: validator.frame,
		Packet: func(pkt *probelink.Packet) {
			if pkt.Type() == probelink.MsgCaptureStatus {
				samples, _ := probelink.GetMapUint(pkt.PayloadMap(), 2)
				p.Send(statusMsg{samples: samples})
			}
		},
		LinkError: func(err error) { p.Send(linkErrorMsg{err: err}) },
	})

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		err := session.Run(sessionCtx)
		validator.flush()
		p.Send(sessionDoneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runTextMode runs error detection in text mode
func runTextMode(ctx context.Context, conn Connection, connInfo string) error {
	fmt.Printf("cecstat - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All messages\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	var mu sync.Mutex
	stats := cec.NewStatistics()
	var session *liveSession

	validator := newMessageValidator(func(m *cec.Message, errs []cec.ValidationError) {
		mu.Lock()
		defer mu.Unlock()
		stats.Update(m, errs)

		switch {
		case len(errs) > 0:
			printValidationErrors(session.Timebase(), m, errs)
		case showAll:
			tb := session.Timebase()
			fmt.Printf("[%s] %s\n", tb.TimeString(m.Start), cec.FormatMessage(m, base()))
		}
	})

	session = newLiveSession(conn, captureRate, captureChannel, decoderOptions(), liveHandler{
		Sync: func(skipped int) {
			if skipped > 0 {
				fmt.Printf("[SYNC] Synchronized after skipping %d link errors\n\n", skipped)
			} else {
				fmt.Printf("[SYNC] Synchronized\n\n")
			}
		},
		Frame: validator.frame,
		LinkError: func(err error) {
			mu.Lock()
			defer mu.Unlock()
			printLinkError(err)
		},
	})

	done := make(chan error, 1)
	go func() {
		err := session.Run(ctx)
		validator.flush()
		done <- err
	}()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	printStats := func() {
		mu.Lock()
		defer mu.Unlock()
		stats.CalculateRates()
		fmt.Println()
		fmt.Print(stats.String())
		fmt.Println()
	}

	for {
		select {
		case err := <-done:
			printStats()
			return err
		case <-statsTicker.C:
			printStats()
		}
	}
}
