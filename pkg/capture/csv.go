// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/Thermoquad/cecstat/pkg/cec"
)

// ImportCSV reads a logic analyzer export with a "Time [s]" column followed
// by one column per channel, and keeps the given channel. Rows are level
// changes on any channel; rows that leave the channel unchanged are
// skipped. Time 0 becomes the trigger sample.
func ImportCSV(r io.Reader, sampleRate uint64, channel int) (*Capture, error) {
	if sampleRate == 0 {
		return nil, fmt.Errorf("sample rate must be positive")
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrBadFormat, err)
	}
	if len(header) < 2 || !strings.HasPrefix(strings.ToLower(header[0]), "time") {
		return nil, fmt.Errorf("%w: expected a time column first, got %q", ErrBadFormat, header[0])
	}
	if channel < 0 || channel+1 >= len(header) {
		return nil, fmt.Errorf("channel %d not present (%d channels)", channel, len(header)-1)
	}
	col := channel + 1

	type row struct {
		t     float64
		level cec.Level
	}
	var rows []row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrBadFormat, line, err)
		}
		t, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: invalid time %q", ErrBadFormat, line, rec[0])
		}
		var level cec.Level
		switch strings.TrimSpace(rec[col]) {
		case "0":
			level = cec.Low
		case "1":
			level = cec.High
		default:
			return nil, fmt.Errorf("%w: line %d: invalid level %q", ErrBadFormat, line, rec[col])
		}
		rows = append(rows, row{t: t, level: level})
	}

	c := New("csv", sampleRate)
	if len(rows) == 0 {
		return c, nil
	}

	// Sample 0 is the earlier of the first row and the trigger
	origin := math.Min(rows[0].t, 0)
	toSample := func(t float64) uint64 {
		return uint64(math.Round((t - origin) * float64(sampleRate)))
	}
	c.TriggerSample = toSample(0)
	c.InitialLevel = rows[0].level

	level := rows[0].level
	var last uint64
	for i, rw := range rows[1:] {
		if rw.level == level {
			continue
		}
		s := toSample(rw.t)
		if len(c.Transitions) > 0 && s <= last {
			return nil, fmt.Errorf("%w: row %d at %gs is not after the previous edge at this sample rate", ErrBadFormat, i+2, rw.t)
		}
		c.Transitions = append(c.Transitions, cec.Transition{Sample: s, Level: rw.level})
		level = rw.level
		last = s
	}
	return c, nil
}
