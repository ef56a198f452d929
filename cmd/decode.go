// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cecstat/pkg/cec"
	"github.com/Thermoquad/cecstat/pkg/probelink"
)

var (
	decodeMessages bool
	decodeValidate bool
	decodePlain    bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode <capture>",
	Short: "Decode a capture file or CSV export into CEC frames",
	Long: `Decode a recorded CEC line offline.

The input is a cecstat capture file (see record and simulate) or a logic
analyzer CSV export with a "Time [s]" column followed by one column per
channel. Frames are printed as a table with trigger-relative times. With
--messages, frames are grouped into messages; with --validate, every
message is checked and a statistics summary is printed.

Examples:
  cecstat decode bus.cec
  cecstat decode --messages --validate export.csv --sample-rate 2000000`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	addInputFlags(decodeCmd)
	decodeCmd.Flags().BoolVar(&decodeMessages, "messages", false, "Print messages instead of frames")
	decodeCmd.Flags().BoolVar(&decodeValidate, "validate", false, "Validate messages and print statistics")
	decodeCmd.Flags().BoolVar(&decodePlain, "plain", false, "One line per row instead of a table")
}

var (
	frameHeaders  = []string{"#", "Time [s]", "Type", "Data", "Description"}
	frameAligns   = []columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignLeft}
	messageHeader = []string{"#", "Time [s]", "From", "To", "Opcode", "Operands", "Status"}
	messageAligns = []columnAlignment{alignRight, alignRight}
)

// frameRows renders frames as table rows
func frameRows(frames []cec.Frame, tb cec.Timebase, base cec.DisplayBase) [][]string {
	rows := make([][]string, 0, len(frames))
	for i, f := range frames {
		r := cec.ExportRow(i, f, tb, base)
		desc := r.Desc
		if f.Type == cec.FrameStartSeq || f.Type == cec.FrameOperand {
			desc = ""
		}
		rows = append(rows, []string{strconv.Itoa(r.ID), r.Time, r.Type, r.Data, desc})
	}
	return rows
}

// messageStatus summarizes a message for the status column
func messageStatus(m *cec.Message, issues []cec.ValidationError) string {
	var status string
	switch {
	case !m.HasHeader:
		status = "error"
	case !m.Complete:
		status = "incomplete"
	case m.Acknowledged():
		status = "ack"
	default:
		status = "nack"
	}
	if len(issues) > 0 {
		names := make([]string, len(issues))
		for i, e := range issues {
			names[i] = e.Type.String()
		}
		status += " (" + strings.Join(names, ", ") + ")"
	}
	return status
}

// messageRows renders messages as table rows. issues is indexed like msgs
// and may be nil.
func messageRows(msgs []cec.Message, issues [][]cec.ValidationError, tb cec.Timebase, base cec.DisplayBase) [][]string {
	rows := make([][]string, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		var errs []cec.ValidationError
		if issues != nil {
			errs = issues[i]
		}

		from, to, opcode := "", "", ""
		if m.HasHeader {
			from = cec.FormatDevAddress(m.Source())
			to = cec.FormatDevAddress(m.Destination())
		}
		switch {
		case m.HasOpCode:
			opcode = cec.FormatOpCode(m.OpCode)
		case m.IsPing():
			opcode = "Polling Message"
		case len(m.Errors) > 0:
			opcode = "Error: " + cec.FormatErrorReason(m.Errors[0].Reason)
		}

		operands := make([]string, len(m.Operands))
		for j, v := range m.Operands {
			operands[j] = cec.FormatNumber(uint64(v), 8, base)
		}

		rows = append(rows, []string{
			strconv.Itoa(i),
			tb.TimeString(m.Start),
			from,
			to,
			opcode,
			strings.Join(operands, " "),
			messageStatus(m, errs),
		})
	}
	return rows
}

func runDecode(cmd *cobra.Command, args []string) error {
	c, err := loadInput(args[0])
	if err != nil {
		return err
	}

	tb := c.Timebase()
	frames, err := cec.Decode(cmd.Context(), c.Source(), tb, decoderOptions())
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	logger.Debug().Int("frames", len(frames)).Msg("decode finished")

	displayBase := base()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Capture %s (%s, %s, %v)\n\n", c.ID, c.Origin, probelink.FormatSampleRate(c.SampleRate), c.Duration())

	msgs := cec.GroupMessages(frames)
	var issues [][]cec.ValidationError
	stats := cec.NewStatistics()
	if decodeValidate {
		issues = make([][]cec.ValidationError, len(msgs))
		for i := range msgs {
			issues[i] = cec.ValidateMessage(&msgs[i])
			stats.Update(&msgs[i], issues[i])
		}
	}

	switch {
	case decodeMessages && decodePlain:
		for i := range msgs {
			fmt.Fprintf(out, "[%s] %s\n", tb.TimeString(msgs[i].Start), cec.FormatMessage(&msgs[i], displayBase))
		}
	case decodeMessages:
		fmt.Fprintln(out, renderTable(messageHeader, messageRows(msgs, issues, tb, displayBase), messageAligns))
	case decodePlain:
		for _, f := range frames {
			fmt.Fprintf(out, "[%s] %s\n", tb.TimeString(f.StartSample), cec.FormatFrame(f, displayBase))
		}
	default:
		fmt.Fprintln(out, renderTable(frameHeaders, frameRows(frames, tb, displayBase), frameAligns))
	}

	fmt.Fprintf(out, "\n%d frames, %d messages\n", len(frames), len(msgs))
	if decodeValidate {
		for i := range msgs {
			if len(issues[i]) == 0 {
				continue
			}
			fmt.Fprintf(out, "\nMessage %d at %s: %s\n", i, tb.TimeString(msgs[i].Start), cec.FormatMessage(&msgs[i], displayBase))
			for _, e := range issues[i] {
				fmt.Fprintf(out, "  - %s\n", e.Message)
			}
		}
		fmt.Fprintln(out)
		fmt.Fprint(out, statsSummary(stats))
	}
	return nil
}

// statsSummary renders offline statistics without the wall-clock rates
func statsSummary(s *cec.Statistics) string {
	var sb strings.Builder
	rows := [][]string{
		{"Total messages", strconv.FormatUint(s.TotalMessages, 10)},
		{"Valid messages", strconv.FormatUint(s.ValidMessages, 10)},
		{"Pings", strconv.FormatUint(s.Pings, 10)},
		{"Broadcasts", strconv.FormatUint(s.Broadcasts, 10)},
		{"Decode errors", strconv.FormatUint(s.DecodeErrors, 10)},
		{"  Out of tolerance", strconv.FormatUint(s.OutOfTolerance, 10)},
		{"  Truncated", strconv.FormatUint(s.Truncated, 10)},
		{"  Overlong", strconv.FormatUint(s.Overlong, 10)},
		{"Protocol errors", strconv.FormatUint(s.ProtocolErrors, 10)},
		{"  Not acknowledged", strconv.FormatUint(s.NotAcknowledged, 10)},
		{"  Missing EOM", strconv.FormatUint(s.MissingEOM, 10)},
		{"  Unknown opcode", strconv.FormatUint(s.UnknownOpCodes, 10)},
		{"  Operand length", strconv.FormatUint(s.LengthErrors, 10)},
	}
	sb.WriteString(renderTable([]string{"Statistic", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	sb.WriteString("\n")
	return sb.String()
}
