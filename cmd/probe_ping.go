// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cecstat/pkg/probelink"
)

var (
	probePingTimeout int
	probePingCount   int
)

var probePingCmd = &cobra.Command{
	Use:   "probe_ping",
	Short: "Test the probe link by sending PING_REQUEST",
	Long: `Send PING_REQUEST packets to the probe and wait for PING_RESPONSE.

The probe answers with its uptime. This tests bidirectional communication
over serial or a WebSocket bridge, including HTTP Basic authentication.

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runProbePing,
}

func init() {
	rootCmd.AddCommand(probePingCmd)
	probePingCmd.Flags().IntVar(&probePingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	probePingCmd.Flags().IntVar(&probePingCount, "count", 3, "Number of pings to send")
}

// pingResult is one ping round trip
type pingResult struct {
	uptime uint64 // milliseconds
	rtt    time.Duration
}

// ping sends one PING_REQUEST and waits for the response. Packets of
// other types are ignored.
func ping(ctx context.Context, conn Connection, enc *probelink.Encoder, reader packetReader, timeout time.Duration) (pingResult, error) {
	start := time.Now()
	if err := sendPacket(conn, enc, probelink.NewPingRequest()); err != nil {
		return pingResult{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case p, ok := <-reader.packets:
			if !ok {
				return pingResult{}, fmt.Errorf("%w before response", ErrConnectionClosed)
			}
			if p.Type() != probelink.MsgPingResponse {
				continue
			}
			uptime, _ := probelink.GetMapUint(p.PayloadMap(), 0)
			return pingResult{uptime: uptime, rtt: time.Since(start)}, nil
		case <-timer.C:
			return pingResult{}, fmt.Errorf("no response in %v", timeout)
		case <-ctx.Done():
			return pingResult{}, ctx.Err()
		}
	}
}

func runProbePing(cmd *cobra.Command, args []string) error {
	if probePingCount <= 0 {
		return fmt.Errorf("--count must be positive")
	}

	conn, connInfo, err := OpenConnection(cmd.Context(), cfg.Connection)
	if err != nil {
		return &ExitError{Code: ExitConnectionError, Err: err}
	}
	defer conn.Close()

	fmt.Printf("cecstat - Probe Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", probePingTimeout)
	fmt.Printf("Count: %d pings\n\n", probePingCount)

	ctx := cmd.Context()
	reader := startPacketReader(ctx, conn)
	enc := probelink.NewEncoder()
	timeout := time.Duration(probePingTimeout) * time.Second

	successCount := 0
	for i := 1; i <= probePingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, probePingCount)

		res, err := ping(ctx, conn, enc, reader, timeout)
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			if ctx.Err() != nil {
				break
			}
		} else {
			fmt.Printf("PONG from probe, uptime=%s, rtt=%v\n", probelink.FormatUptime(res.uptime), res.rtt.Round(time.Millisecond))
			successCount++
		}

		if i < probePingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	failCount := probePingCount - successCount
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		probePingCount, successCount, float64(failCount)/float64(probePingCount)*100)

	if failCount > 0 {
		return exitf(ExitFailed, "%d of %d pings failed", failCount, probePingCount)
	}
	return nil
}
