// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cecstat/pkg/capture"
)

var (
	inputCSV        bool
	inputSampleRate uint64
	inputChannel    int
)

// addInputFlags registers the offline input flags on a command
func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&inputCSV, "csv", false, "Read a logic analyzer CSV export (default for .csv files)")
	cmd.Flags().Uint64Var(&inputSampleRate, "sample-rate", 0, "Sample rate for CSV input in Hz (default from config)")
	cmd.Flags().IntVar(&inputChannel, "channel", -1, "Channel column for CSV input (default from config)")
}

// loadInput reads a capture file, or a CSV export when --csv is set or the
// file ends in .csv
func loadInput(path string) (*capture.Capture, error) {
	if !inputCSV && !strings.EqualFold(filepath.Ext(path), ".csv") {
		c, err := capture.Load(path)
		if err != nil {
			return nil, err
		}
		logger.Debug().Str("path", path).Str("id", c.ID.String()).Int("transitions", len(c.Transitions)).Msg("capture loaded")
		return c, nil
	}

	rate := cfg.Decoder.CSVSampleRate
	if inputSampleRate > 0 {
		rate = inputSampleRate
	}
	channel := cfg.Decoder.CSVChannel
	if inputChannel >= 0 {
		channel = inputChannel
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open CSV: %w", err)
	}
	defer f.Close()

	c, err := capture.ImportCSV(f, rate, channel)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", path, err)
	}
	logger.Debug().Str("path", path).Uint64("rate", rate).Int("channel", channel).Int("transitions", len(c.Transitions)).Msg("CSV imported")
	return c, nil
}
