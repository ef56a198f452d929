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

var probeInfoTimeout int

var probeInfoCmd = &cobra.Command{
	Use:   "probe_info",
	Short: "Query the probe for its identity and capabilities",
	Long: `Send INFO_REQUEST and print the PROBE_INFO answer.

Reports the probe serial number, firmware version, maximum sample rate and
number of input channels. Use it to pick --rate and --channel for the live
commands.

Exit codes:
  0 - Probe answered
  1 - No answer before timeout
  2 - Connection error`,
	RunE: runProbeInfo,
}

func init() {
	rootCmd.AddCommand(probeInfoCmd)
	probeInfoCmd.Flags().IntVar(&probeInfoTimeout, "timeout", 5, "Timeout in seconds to wait for the answer")
}

// queryProbeInfo sends INFO_REQUEST and waits for a well-formed PROBE_INFO
func queryProbeInfo(ctx context.Context, conn Connection, timeout time.Duration) (probelink.ProbeInfo, error) {
	reader := startPacketReader(ctx, conn)
	if err := sendPacket(conn, probelink.NewEncoder(), probelink.NewInfoRequest()); err != nil {
		return probelink.ProbeInfo{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case p, ok := <-reader.packets:
			if !ok {
				if err := <-reader.done; err != nil {
					return probelink.ProbeInfo{}, err
				}
				return probelink.ProbeInfo{}, ErrConnectionClosed
			}
			if info, ok := probelink.ParseProbeInfo(p); ok {
				return info, nil
			}
			logger.Debug().Str("type", probelink.FormatMessageType(p.Type())).Msg("ignoring packet")
		case <-timer.C:
			return probelink.ProbeInfo{}, fmt.Errorf("no PROBE_INFO in %v", timeout)
		case <-ctx.Done():
			return probelink.ProbeInfo{}, ctx.Err()
		}
	}
}

func runProbeInfo(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cmd.Context(), cfg.Connection)
	if err != nil {
		return &ExitError{Code: ExitConnectionError, Err: err}
	}
	defer conn.Close()

	fmt.Printf("cecstat - Probe Info\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	info, err := queryProbeInfo(cmd.Context(), conn, time.Duration(probeInfoTimeout)*time.Second)
	if err != nil {
		return exitf(ExitFailed, "probe did not answer: %w", err)
	}

	fmt.Printf("Probe found:\n")
	fmt.Printf("  Serial: %016X\n", info.Serial)
	if info.Firmware != "" {
		fmt.Printf("  Firmware: %s\n", info.Firmware)
	}
	fmt.Printf("  Max sample rate: %s\n", probelink.FormatSampleRate(info.MaxSampleRate))
	fmt.Printf("  Channels: %d\n", info.Channels)
	return nil
}
