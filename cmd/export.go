// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cecstat/internal/framedb"
	"github.com/Thermoquad/cecstat/pkg/capture"
	"github.com/Thermoquad/cecstat/pkg/cec"
)

var (
	exportOutput string
	exportFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export <capture>",
	Short: "Export decoded frames to CSV or SQLite",
	Long: `Decode a capture and export the frames.

Formats:
  csv     Time [s],Frame ID,Type,Data,Data Desc (one row per frame)
  sqlite  captures and frames tables; re-exporting a capture replaces
          its frames

The format follows the output extension (.csv, .db, .sqlite) unless
--format is given. Without --output, CSV goes to stdout.

Examples:
  cecstat export bus.cec -o bus.csv
  cecstat export bus.cec -o frames.db --base dec`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	addInputFlags(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default stdout for CSV)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "Output format: csv or sqlite")
}

// exportFormatFor picks the export format from the flag or the output path
func exportFormatFor(format, output string) (string, error) {
	if format != "" {
		switch f := strings.ToLower(format); f {
		case "csv", "sqlite":
			return f, nil
		default:
			return "", fmt.Errorf("unknown format %q (use csv or sqlite)", format)
		}
	}
	switch strings.ToLower(filepath.Ext(output)) {
	case ".db", ".sqlite", ".sqlite3":
		return "sqlite", nil
	default:
		return "csv", nil
	}
}

// exportSQLite writes the frames of c into the database at path and reads
// back the per-type counts and the stored error frames.
func exportSQLite(ctx context.Context, path string, c *capture.Capture, frames []cec.Frame, base cec.DisplayBase) ([]framedb.TypeCount, []cec.Frame, error) {
	store, err := framedb.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	info := framedb.CaptureInfo{
		ID:            c.ID.String(),
		CreatedAt:     c.CreatedAt,
		Origin:        c.Origin,
		SampleRate:    c.SampleRate,
		TriggerSample: c.TriggerSample,
	}
	if err := store.WriteFrames(ctx, info, frames, base); err != nil {
		return nil, nil, err
	}
	counts, err := store.CountByType(ctx, info.ID)
	if err != nil {
		return nil, nil, err
	}
	errs, err := store.ErrorFrames(ctx, info.ID)
	if err != nil {
		return nil, nil, err
	}
	return counts, errs, nil
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := exportFormatFor(exportFormat, exportOutput)
	if err != nil {
		return err
	}
	if format == "sqlite" && exportOutput == "" {
		return fmt.Errorf("--output is required for sqlite export")
	}

	c, err := loadInput(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	tb := c.Timebase()
	frames, err := cec.Decode(ctx, c.Source(), tb, decoderOptions())
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	if format == "sqlite" {
		counts, errs, err := exportSQLite(ctx, exportOutput, c, frames, base())
		if err != nil {
			return err
		}
		logger.Info().Str("db", exportOutput).Str("capture", c.ID.String()).Int("frames", len(frames)).Msg("frames exported")

		rows := make([][]string, 0, len(counts))
		for _, tc := range counts {
			rows = append(rows, []string{tc.Type, strconv.Itoa(tc.Count)})
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, renderTable([]string{"Type", "Frames"}, rows, []columnAlignment{alignLeft, alignRight}))
		for _, f := range errs {
			fmt.Fprintf(out, "[%s] %s\n", tb.TimeString(f.StartSample), cec.FormatFrame(f, base()))
		}
		return nil
	}

	if exportOutput == "" {
		if err := cec.WriteCSV(ctx, cmd.OutOrStdout(), frames, tb, base()); err != nil {
			return fmt.Errorf("write CSV: %w", err)
		}
		return nil
	}

	f, err := os.Create(exportOutput)
	if err != nil {
		return fmt.Errorf("create %s: %w", exportOutput, err)
	}
	if err := cec.WriteCSV(ctx, f, frames, tb, base()); err != nil {
		f.Close()
		return fmt.Errorf("write CSV: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", exportOutput, err)
	}
	logger.Info().Str("file", exportOutput).Int("frames", len(frames)).Msg("frames exported")
	return nil
}
