// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/cecstat/internal/framedb"
	"github.com/Thermoquad/cecstat/pkg/capture"
	"github.com/Thermoquad/cecstat/pkg/cec"
	"github.com/Thermoquad/cecstat/pkg/probelink"
)

func encodePackets(t *testing.T, packets ...*probelink.Packet) [][]byte {
	t.Helper()
	enc := probelink.NewEncoder()
	out := make([][]byte, 0, len(packets))
	for _, p := range packets {
		wire, err := enc.Encode(p)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		out = append(out, wire)
	}
	return out
}

// runCLI executes the root command with args and returns its stdout
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "absent.toml")))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		decodeMessages, decodeValidate, decodePlain = false, false, false
		exportOutput, exportFormat = "", ""
		simulateOutput, simulateNack = "", false
		inputCSV, inputSampleRate, inputChannel = false, 0, -1
	})
	err := rootCmd.ExecuteContext(t.Context())
	return out.String(), err
}

// ============================================================
// Exit Code Tests
// ============================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain error", errors.New("boom"), ExitFailed},
		{"timeout", exitf(ExitFailed, "timeout"), ExitFailed},
		{"connection", &ExitError{Code: ExitConnectionError, Err: errors.New("no port")}, ExitConnectionError},
		{"wrapped", fmt.Errorf("outer: %w", &ExitError{Code: ExitConnectionError, Err: errors.New("x")}), ExitConnectionError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

// ============================================================
// Simulate Tests
// ============================================================

func TestSimulateCapture_Acknowledgement(t *testing.T) {
	messages := [][]uint8{{0x40, 0x04}, {0x4F, 0x82, 0x10, 0x00}}

	for _, nack := range []bool{false, true} {
		t.Run(fmt.Sprintf("nack=%v", nack), func(t *testing.T) {
			c := simulateCapture(1_000_000, messages, nack)
			if err := c.Validate(); err != nil {
				t.Fatalf("Simulated capture is invalid: %v", err)
			}

			frames, err := cec.Decode(t.Context(), c.Source(), c.Timebase(), cec.DefaultOptions())
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			msgs := cec.GroupMessages(frames)
			if len(msgs) != 2 {
				t.Fatalf("Expected 2 messages, got %d", len(msgs))
			}
			for i := range msgs {
				if got := msgs[i].Acknowledged(); got == nack {
					t.Errorf("Message %d acknowledged=%v with nack=%v", i, got, nack)
				}
				if !msgs[i].Complete {
					t.Errorf("Message %d should be complete", i)
				}
			}
			if !msgs[1].IsBroadcast() {
				t.Error("Second message should be a broadcast")
			}
		})
	}
}

// ============================================================
// Table Rendering Tests
// ============================================================

func TestFrameRows(t *testing.T) {
	c := simulateCapture(1_000_000, [][]uint8{{0x40, 0x36}}, false)
	frames, err := cec.Decode(t.Context(), c.Source(), c.Timebase(), cec.DefaultOptions())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	rows := frameRows(frames, c.Timebase(), cec.BaseHexadecimal)
	// start, header, EOM, ACK, opcode, EOM, ACK
	if len(rows) != 7 {
		t.Fatalf("Expected 7 rows, got %d", len(rows))
	}
	for i, r := range rows {
		if len(r) != len(frameHeaders) {
			t.Fatalf("Row %d has %d columns", i, len(r))
		}
	}
	if rows[0][2] != cec.FormatFrameType(cec.FrameStartSeq) || rows[0][4] != "" {
		t.Errorf("Unexpected start row %v", rows[0])
	}
	if !strings.Contains(rows[1][4], "SRC=") {
		t.Errorf("Header row should describe addresses, got %q", rows[1][4])
	}
	if rows[4][4] != "Standby" {
		t.Errorf("Opcode row description = %q, want Standby", rows[4][4])
	}
}

func TestMessageRows(t *testing.T) {
	msgs := []cec.Message{
		*standbyMessage(false, false),
		*standbyMessage(true, false),
		{Header: 0x44, HasHeader: true, Acks: []bool{true}, Complete: true},
	}
	issues := make([][]cec.ValidationError, len(msgs))
	for i := range msgs {
		issues[i] = cec.ValidateMessage(&msgs[i])
	}

	rows := messageRows(msgs, issues, cec.Timebase{SampleRate: 1_000_000}, cec.BaseHexadecimal)
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(rows))
	}
	if rows[0][4] != "Standby" || rows[0][6] != "ack" {
		t.Errorf("Unexpected valid row %v", rows[0])
	}
	if !strings.HasPrefix(rows[1][6], "nack (") {
		t.Errorf("Expected nack with issues, got %q", rows[1][6])
	}
	if rows[2][4] != "Polling Message" {
		t.Errorf("Expected polling message, got %q", rows[2][4])
	}

	if out := renderTable(messageHeader, rows, messageAligns); !strings.Contains(out, "Standby") {
		t.Error("Rendered table should contain the opcode")
	}
}

// ============================================================
// Export Tests
// ============================================================

func TestExportFormatFor(t *testing.T) {
	tests := []struct {
		format, output string
		want           string
		wantErr        bool
	}{
		{"", "", "csv", false},
		{"", "frames.csv", "csv", false},
		{"", "frames.db", "sqlite", false},
		{"", "frames.SQLITE", "sqlite", false},
		{"csv", "frames.db", "csv", false},
		{"SQLite", "", "sqlite", false},
		{"json", "", "", true},
	}
	for _, tt := range tests {
		got, err := exportFormatFor(tt.format, tt.output)
		if (err != nil) != tt.wantErr {
			t.Errorf("exportFormatFor(%q, %q) error = %v", tt.format, tt.output, err)
			continue
		}
		if got != tt.want {
			t.Errorf("exportFormatFor(%q, %q) = %q, want %q", tt.format, tt.output, got, tt.want)
		}
	}
}

// ============================================================
// Record Tests
// ============================================================

func TestRecorder(t *testing.T) {
	rec := newRecorder(1_000_000)
	rec.add([]cec.Transition{{Sample: 10, Level: cec.Low}, {Sample: 20, Level: cec.High}})
	// a gap swallowed the falling edge at 30
	rec.add([]cec.Transition{{Sample: 40, Level: cec.High}, {Sample: 50, Level: cec.Low}})

	if rec.dropped != 1 {
		t.Errorf("Expected 1 dropped transition, got %d", rec.dropped)
	}
	if len(rec.capture.Transitions) != 3 {
		t.Fatalf("Expected 3 transitions, got %d", len(rec.capture.Transitions))
	}
	if err := rec.capture.Validate(); err != nil {
		t.Errorf("Recorded capture is invalid: %v", err)
	}
}

func TestRecorder_StartsLow(t *testing.T) {
	rec := newRecorder(1_000_000)
	rec.add([]cec.Transition{{Sample: 5, Level: cec.High}, {Sample: 9, Level: cec.Low}})
	if rec.capture.InitialLevel != cec.Low {
		t.Errorf("Initial level = %v, want Low", rec.capture.InitialLevel)
	}
	if err := rec.capture.Validate(); err != nil {
		t.Errorf("Recorded capture is invalid: %v", err)
	}
}

// ============================================================
// Probe Command Tests
// ============================================================

func TestWaitForMessage(t *testing.T) {
	const rate = 1_000_000
	tb := cec.Timebase{SampleRate: rate}
	e := cec.NewEncoder(tb)
	e.Idle(cec.NominalBitPeriod)
	e.Message([]uint8{0x40, 0x04}, []bool{true, true}) // not acknowledged
	e.Message([]uint8{0x40, 0x36}, nil)

	conn := &scriptedConn{reads: probeStream(t, e.Transitions())}
	res, err := waitForMessage(t.Context(), conn, rate, 0, cec.DefaultOptions())
	if err != nil {
		t.Fatalf("waitForMessage failed: %v", err)
	}
	if res.invalid != 1 {
		t.Errorf("Expected 1 invalid message, got %d", res.invalid)
	}
	if res.message == nil || res.message.OpCode != cec.OpStandby {
		t.Fatalf("Expected the Standby message, got %+v", res.message)
	}
}

func TestWaitForMessage_NoMessage(t *testing.T) {
	res, err := waitForMessage(t.Context(), &scriptedConn{}, 1_000_000, 0, cec.DefaultOptions())
	if err != nil {
		t.Fatalf("waitForMessage failed: %v", err)
	}
	if res.message != nil {
		t.Errorf("Expected no message, got %+v", res.message)
	}
}

func TestQueryProbeInfo(t *testing.T) {
	want := probelink.ProbeInfo{Serial: 0xC0FFEE, Firmware: "1.2.0", MaxSampleRate: 4_000_000, Channels: 2}
	conn := &scriptedConn{reads: encodePackets(t,
		probelink.NewPingResponse(1000),
		probelink.NewProbeInfo(want),
	)}

	got, err := queryProbeInfo(t.Context(), conn, time.Second)
	if err != nil {
		t.Fatalf("queryProbeInfo failed: %v", err)
	}
	if got != want {
		t.Errorf("Got %+v, want %+v", got, want)
	}

	sent := conn.writtenPackets(t)
	if len(sent) != 1 || sent[0].Type() != probelink.MsgInfoRequest {
		t.Errorf("Expected one INFO_REQUEST to be sent, got %d packets", len(sent))
	}
}

func TestQueryProbeInfo_ConnectionClosed(t *testing.T) {
	_, err := queryProbeInfo(t.Context(), &scriptedConn{}, time.Second)
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestPing(t *testing.T) {
	conn := &scriptedConn{reads: encodePackets(t,
		probelink.NewCaptureStatus(false, 0, 0),
		probelink.NewPingResponse(90_061_000),
	)}
	reader := startPacketReader(t.Context(), conn)

	res, err := ping(t.Context(), conn, probelink.NewEncoder(), reader, time.Second)
	if err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if res.uptime != 90_061_000 {
		t.Errorf("Uptime = %d, want 90061000", res.uptime)
	}
	if got := probelink.FormatUptime(res.uptime); got != "1 day, 1 hour, 1 minute, and 1 second" {
		t.Errorf("FormatUptime = %q", got)
	}

	// The reader is exhausted; the next ping sees the connection close
	if _, err := ping(t.Context(), conn, probelink.NewEncoder(), reader, time.Second); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestWatchLink(t *testing.T) {
	tb := cec.Timebase{SampleRate: 1_000_000}
	stream := probeStream(t, cec.EncodeMessages(tb, []uint8{0x40, 0x36}))
	noise := []byte{probelink.StartByte, 0x05, 0x00, probelink.EndByte}
	conn := &scriptedConn{reads: append([][]byte{noise}, stream...)}

	report := watchLink(t.Context(), conn, time.Hour)
	if report.linkErrors != 1 {
		t.Errorf("Expected 1 link error, got %d", report.linkErrors)
	}
	if report.packets != uint64(len(stream)) || report.byType[probelink.MsgTransitions] != uint64(len(stream)) {
		t.Errorf("Expected %d TRANSITIONS packets, got %d (%v)", len(stream), report.packets, report.byType)
	}
	if !errors.Is(report.lost, ErrConnectionClosed) {
		t.Errorf("Expected connection loss, got %v", report.lost)
	}
	if !report.failed() {
		t.Error("Report should fail")
	}
}

// ============================================================
// Offline Command Tests
// ============================================================

func TestDecodeCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.cec")
	c := simulateCapture(1_000_000, [][]uint8{{0x04, 0x04}, {0x0F, 0x36}}, false)
	if err := capture.Save(path, c); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	out, err := runCLI(t, "decode", path, "--messages", "--plain", "--validate")
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	for _, want := range []string{"Image View On", "Standby", "frames, 2 messages", "Total messages"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	}
}

func TestDecodeCommand_CSV(t *testing.T) {
	c := simulateCapture(1_000_000, [][]uint8{{0x40, 0x36}}, false)
	tb := c.Timebase()

	var sb strings.Builder
	sb.WriteString("Time [s],Channel 0\n")
	sb.WriteString(tb.TimeString(0) + ",1\n")
	for _, tr := range c.Transitions {
		level := "0"
		if tr.Level == cec.High {
			level = "1"
		}
		sb.WriteString(tb.TimeString(tr.Sample) + "," + level + "\n")
	}
	path := filepath.Join(t.TempDir(), "export.csv")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	out, err := runCLI(t, "decode", path, "--messages", "--sample-rate", "1000000")
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !strings.Contains(out, "Standby") {
		t.Errorf("Output missing Standby:\n%s", out)
	}
}

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bus.cec")
	c := simulateCapture(1_000_000, [][]uint8{{0x40, 0x36}}, false)
	if err := capture.Save(path, c); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	t.Run("csv", func(t *testing.T) {
		csvPath := filepath.Join(dir, "frames.csv")
		if _, err := runCLI(t, "export", path, "-o", csvPath); err != nil {
			t.Fatalf("export failed: %v", err)
		}
		data, err := os.ReadFile(csvPath)
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if lines[0] != strings.Join(cec.ExportHeader, ",") {
			t.Errorf("Unexpected header %q", lines[0])
		}
		if len(lines) != 8 {
			t.Errorf("Expected header and 7 frames, got %d lines", len(lines))
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		dbPath := filepath.Join(dir, "frames.db")
		out, err := runCLI(t, "export", path, "-o", dbPath)
		if err != nil {
			t.Fatalf("export failed: %v", err)
		}
		if !strings.Contains(strings.ToUpper(out), "FRAMES") {
			t.Errorf("Expected a frame count table, got:\n%s", out)
		}

		store, err := framedb.Open(t.Context(), dbPath)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer store.Close()
		counts, err := store.CountByType(t.Context(), c.ID.String())
		if err != nil {
			t.Fatalf("CountByType failed: %v", err)
		}
		total := 0
		for _, tc := range counts {
			total += tc.Count
		}
		if total != 7 {
			t.Errorf("Expected 7 stored frames, got %d", total)
		}
	})

	t.Run("sqlite lists error frames", func(t *testing.T) {
		cut := capture.New("test", 1_000_000)
		e := cec.NewEncoder(cut.Timebase())
		e.Idle(cec.NominalBitPeriod)
		e.StartSequence()
		for _, b := range []bool{true, false, true} {
			e.Bit(b)
		}
		cut.Transitions = e.Transitions()
		cutPath := filepath.Join(dir, "cut.cec")
		if err := capture.Save(cutPath, cut); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		out, err := runCLI(t, "export", cutPath, "-o", filepath.Join(dir, "cut.db"))
		if err != nil {
			t.Fatalf("export failed: %v", err)
		}
		frames, err := cec.Decode(t.Context(), cut.Source(), cut.Timebase(), cec.DefaultOptions())
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		last := frames[len(frames)-1]
		if last.Reason != cec.ErrorTruncated {
			t.Fatalf("Expected the capture to end truncated, got %+v", last)
		}
		want := fmt.Sprintf("[%s] Error: block truncated", cut.Timebase().TimeString(last.StartSample))
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	})
}

func TestSimulateCommand(t *testing.T) {
	out, err := runCLI(t, "simulate", "40:04", "0f:36")
	if err != nil {
		t.Fatalf("simulate failed: %v", err)
	}
	if !strings.Contains(out, "Playback Device 1 -> TV: Image View On (ack)") {
		t.Errorf("Unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "Standby") {
		t.Errorf("Output missing Standby:\n%s", out)
	}

	if _, err := runCLI(t, "simulate", "zz"); err == nil {
		t.Error("Expected error for invalid hex")
	}
}
