// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cec

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// NotApplicable fills export fields that have no value for a frame
const NotApplicable = "N/A"

// ExportHeader is the column header of the CSV export
var ExportHeader = []string{"Time [s]", "Frame ID", "Type", "Data", "Data Desc"}

// Row is one exported frame
type Row struct {
	Time  string
	ID    int
	Type  string
	Data  string
	Desc  string
	Frame Frame
}

// Fields returns the row as CSV fields
func (r Row) Fields() []string {
	return []string{r.Time, strconv.Itoa(r.ID), r.Type, r.Data, r.Desc}
}

// ExportRow renders frame number id for tabular export
func ExportRow(id int, f Frame, tb Timebase, base DisplayBase) Row {
	row := Row{
		Time:  tb.TimeString(f.StartSample),
		ID:    id,
		Type:  FormatFrameType(f.Type),
		Data:  FormatNumber(uint64(f.Data), 8, base),
		Desc:  NotApplicable,
		Frame: f,
	}

	switch f.Type {
	case FrameStartSeq:
		row.Data = NotApplicable
	case FrameHeader:
		src := FormatNumber(uint64(f.Source()), 4, base)
		dst := FormatNumber(uint64(f.Destination()), 4, base)
		row.Desc = fmt.Sprintf("SRC=%s (%s) DST=%s (%s)",
			src, FormatDevAddress(f.Source()), dst, FormatDevAddress(f.Destination()))
	case FrameOpCode:
		row.Desc = FormatOpCode(OpCode(f.Data))
	case FrameEOM:
		row.Desc = "End of Message = " + bitString(f.Flag())
	case FrameACK:
		row.Desc = "Acknowledgment = " + bitString(f.Flag())
	case FrameError:
		if f.Bits == 0 {
			row.Data = NotApplicable
		}
		row.Desc = FormatErrorReason(f.Reason)
	}
	return row
}

// WriteCSV writes frames as a CSV table. ctx is checked before every row;
// a cancelled export stops early and returns ctx.Err().
func WriteCSV(ctx context.Context, w io.Writer, frames []Frame, tb Timebase, base DisplayBase) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			cw.Flush()
			return err
		}
		if err := cw.Write(ExportRow(i, f, tb, base).Fields()); err != nil {
			return fmt.Errorf("write frame %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
