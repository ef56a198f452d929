// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cecstat/pkg/cec"
)

var messageTestTimeout int

var messageTestCmd = &cobra.Command{
	Use:   "message_test",
	Short: "Test the probe by waiting for a valid CEC message",
	Long: `Start a capture and wait for a valid CEC message until timeout.

This command connects to the probe over serial or WebSocket, starts a
capture and decodes the line until one complete message passes validation.
Link errors before synchronization and invalid messages are counted, not
fatal.

Exit codes:
  0 - Valid message received before timeout
  1 - Timeout reached without a valid message
  2 - Connection error

Useful for checking probe wiring and sample rate against a live bus.`,
	RunE: runMessageTest,
}

func init() {
	rootCmd.AddCommand(messageTestCmd)
	addCaptureFlags(messageTestCmd)
	messageTestCmd.Flags().IntVar(&messageTestTimeout, "timeout", 10, "Timeout in seconds to wait for a message")
}

// messageTestResult is what waitForMessage saw
type messageTestResult struct {
	message *cec.Message
	invalid int
	skipped int
}

// waitForMessage runs a live session until the first valid message or
// until ctx is done
func waitForMessage(ctx context.Context, conn Connection, rate uint64, channel uint8, opts cec.Options) (messageTestResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var res messageTestResult
	collector := cec.NewMessageCollector()
	check := func(m *cec.Message) {
		if m == nil || res.message != nil {
			return
		}
		if len(cec.ValidateMessage(m)) > 0 {
			res.invalid++
			return
		}
		res.message = m
		cancel()
	}

	session := newLiveSession(conn, rate, channel, opts, liveHandler{
		Sync:  func(skipped int) { res.skipped = skipped },
		Frame: func(f cec.Frame) { check(collector.Add(f)) },
	})
	err := session.Run(ctx)
	check(collector.Flush())
	return res, err
}

func runMessageTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cmd.Context(), cfg.Connection)
	if err != nil {
		return &ExitError{Code: ExitConnectionError, Err: err}
	}
	defer conn.Close()

	fmt.Printf("cecstat - Message Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", messageTestTimeout)
	fmt.Printf("Waiting for valid CEC message...\n\n")

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(messageTestTimeout)*time.Second)
	defer cancel()

	start := time.Now()
	res, err := waitForMessage(ctx, conn, captureRate, captureChannel, decoderOptions())
	if err != nil {
		return &ExitError{Code: ExitConnectionError, Err: err}
	}

	if res.skipped > 0 {
		fmt.Printf("(skipped %d link errors before sync)\n", res.skipped)
	}
	if res.message == nil {
		if res.invalid > 0 {
			fmt.Printf("%d invalid messages seen\n", res.invalid)
		}
		if errors.Is(cmd.Context().Err(), context.Canceled) {
			return exitf(ExitFailed, "interrupted before a valid message was received")
		}
		return exitf(ExitFailed, "TIMEOUT: no valid message received within %d seconds", messageTestTimeout)
	}

	m := res.message
	fmt.Printf("SUCCESS: Received valid message after %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("  Message: %s\n", cec.FormatMessage(m, base()))
	fmt.Printf("  Blocks: %d\n", m.Blocks())
	fmt.Printf("  Bytes: % X\n", m.Bytes())
	if res.invalid > 0 {
		fmt.Printf("  Invalid messages before it: %d\n", res.invalid)
	}
	return nil
}
