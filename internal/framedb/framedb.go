// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package framedb exports decoded frames to a SQLite database.
package framedb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Thermoquad/cecstat/pkg/cec"
)

const schema = `
CREATE TABLE IF NOT EXISTS captures (
	id             TEXT PRIMARY KEY,
	created_at     INTEGER NOT NULL,
	origin         TEXT NOT NULL,
	sample_rate    INTEGER NOT NULL,
	trigger_sample INTEGER NOT NULL,
	exported_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS frames (
	capture_id   TEXT NOT NULL REFERENCES captures(id) ON DELETE CASCADE,
	frame_id     INTEGER NOT NULL,
	start_sample INTEGER NOT NULL,
	end_sample   INTEGER NOT NULL,
	time_s       REAL NOT NULL,
	type         TEXT NOT NULL,
	data         INTEGER NOT NULL,
	bits         INTEGER NOT NULL,
	reason       TEXT,
	description  TEXT NOT NULL,
	PRIMARY KEY (capture_id, frame_id)
);

CREATE INDEX IF NOT EXISTS idx_frames_type ON frames(capture_id, type);
`

// CaptureInfo describes the capture a frame set was decoded from
type CaptureInfo struct {
	ID            string
	CreatedAt     time.Time
	Origin        string
	SampleRate    uint64
	TriggerSample uint64
}

// Timebase returns the timebase of the capture
func (c CaptureInfo) Timebase() cec.Timebase {
	return cec.Timebase{SampleRate: c.SampleRate, TriggerSample: c.TriggerSample}
}

// Store is a SQLite frame database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WriteFrames replaces the frames stored for a capture in one transaction.
// Frame IDs are the zero-based positions in frames.
func (s *Store) WriteFrames(ctx context.Context, info CaptureInfo, frames []cec.Frame, base cec.DisplayBase) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM captures WHERE id = ?`, info.ID); err != nil {
		return fmt.Errorf("clear capture %s: %w", info.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO captures (id, created_at, origin, sample_rate, trigger_sample, exported_at) VALUES (?, ?, ?, ?, ?, ?)`,
		info.ID, info.CreatedAt.UnixNano(), info.Origin, int64(info.SampleRate), int64(info.TriggerSample), time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("insert capture %s: %w", info.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO frames (capture_id, frame_id, start_sample, end_sample, time_s, type, data, bits, reason, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare frame insert: %w", err)
	}
	defer stmt.Close()

	tb := info.Timebase()
	for i, f := range frames {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		row := cec.ExportRow(i, f, tb, base)
		var reason sql.NullString
		if f.IsError() {
			reason = sql.NullString{String: cec.FormatErrorReason(f.Reason), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			info.ID, i, int64(f.StartSample), int64(f.EndSample), tb.Seconds(f.StartSample),
			row.Type, int(f.Data), int(f.Bits), reason, row.Desc,
		); err != nil {
			return fmt.Errorf("insert frame %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// TypeCount is the number of stored frames of one type
type TypeCount struct {
	Type  string
	Count int
}

// CountByType summarizes the stored frames of a capture
func (s *Store) CountByType(ctx context.Context, captureID string) ([]TypeCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM frames WHERE capture_id = ? GROUP BY type ORDER BY type`, captureID)
	if err != nil {
		return nil, fmt.Errorf("count frames: %w", err)
	}
	defer rows.Close()

	var out []TypeCount
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan frame count: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// ErrorFrames returns the stored error frames of a capture in order
func (s *Store) ErrorFrames(ctx context.Context, captureID string) ([]cec.Frame, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT start_sample, end_sample, data, bits, reason FROM frames
		 WHERE capture_id = ? AND reason IS NOT NULL ORDER BY frame_id`, captureID)
	if err != nil {
		return nil, fmt.Errorf("query error frames: %w", err)
	}
	defer rows.Close()

	var out []cec.Frame
	for rows.Next() {
		var (
			start, end int64
			data, bits int
			reason     string
		)
		if err := rows.Scan(&start, &end, &data, &bits, &reason); err != nil {
			return nil, fmt.Errorf("scan error frame: %w", err)
		}
		out = append(out, cec.Frame{
			Type:        cec.FrameError,
			StartSample: uint64(start),
			EndSample:   uint64(end),
			Data:        uint8(data),
			Bits:        uint8(bits),
			Reason:      parseReason(reason),
		})
	}
	return out, rows.Err()
}

func parseReason(s string) cec.ErrorReason {
	for _, r := range []cec.ErrorReason{cec.ErrorOutOfTolerance, cec.ErrorTruncated, cec.ErrorUnexpectedBlock, cec.ErrorOverlong} {
		if cec.FormatErrorReason(r) == s {
			return r
		}
	}
	return cec.ErrorNone
}
