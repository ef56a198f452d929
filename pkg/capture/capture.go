// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture stores CEC line captures on disk.
//
// A capture file is a CBOR map holding the capture metadata and the
// transitions, delta encoded. Levels are implicit: the line starts at
// InitialLevel and every transition toggles it.
package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/Thermoquad/cecstat/pkg/cec"
)

// FormatVersion is the capture file format written by Save
const FormatVersion = 1

// ErrBadFormat is returned for files that are not valid captures
var ErrBadFormat = errors.New("not a cecstat capture")

// ErrLocked is returned when another process holds the capture file lock
var ErrLocked = errors.New("capture file is locked")

// Capture is a recorded CEC line
type Capture struct {
	ID            uuid.UUID
	CreatedAt     time.Time
	Origin        string // probe, csv, simulate
	SampleRate    uint64
	TriggerSample uint64
	InitialLevel  cec.Level
	Transitions   []cec.Transition
}

// New creates an empty capture with a fresh ID
func New(origin string, sampleRate uint64) *Capture {
	return &Capture{
		ID:           uuid.New(),
		CreatedAt:    time.Now(),
		Origin:       origin,
		SampleRate:   sampleRate,
		InitialLevel: cec.High,
	}
}

// Timebase returns the capture's timebase
func (c *Capture) Timebase() cec.Timebase {
	return cec.Timebase{SampleRate: c.SampleRate, TriggerSample: c.TriggerSample}
}

// Source returns a decoder source over the capture's transitions
func (c *Capture) Source() cec.Source {
	return cec.NewSliceSource(c.Transitions)
}

// Duration returns the time spanned by the transitions
func (c *Capture) Duration() time.Duration {
	if len(c.Transitions) == 0 {
		return 0
	}
	first := c.Transitions[0].Sample
	last := c.Transitions[len(c.Transitions)-1].Sample
	return c.Timebase().Duration(last - first)
}

// Validate checks that transitions increase and alternate from the initial level
func (c *Capture) Validate() error {
	if c.SampleRate == 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	if err := cec.ValidateTransitions(c.Transitions); err != nil {
		return err
	}
	level := c.InitialLevel
	for i, t := range c.Transitions {
		if t.Level == level {
			return fmt.Errorf("transition %d at sample %d does not change the level", i, t.Sample)
		}
		level = t.Level
	}
	return nil
}

// fileFormat is the on-disk layout
type fileFormat struct {
	Version       uint     `cbor:"0,keyasint"`
	ID            string   `cbor:"1,keyasint"`
	CreatedAt     int64    `cbor:"2,keyasint"` // unix nanoseconds
	Origin        string   `cbor:"3,keyasint,omitempty"`
	SampleRate    uint64   `cbor:"4,keyasint"`
	TriggerSample uint64   `cbor:"5,keyasint"`
	InitialLevel  uint8    `cbor:"6,keyasint"`
	First         *uint64  `cbor:"7,keyasint,omitempty"`
	Deltas        []uint64 `cbor:"8,keyasint"`
}

// Marshal encodes the capture to CBOR
func (c *Capture) Marshal() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capture: %w", err)
	}

	f := fileFormat{
		Version:       FormatVersion,
		ID:            c.ID.String(),
		CreatedAt:     c.CreatedAt.UnixNano(),
		Origin:        c.Origin,
		SampleRate:    c.SampleRate,
		TriggerSample: c.TriggerSample,
		InitialLevel:  uint8(c.InitialLevel),
	}
	if len(c.Transitions) > 0 {
		first := c.Transitions[0].Sample
		f.First = &first
		f.Deltas = make([]uint64, 0, len(c.Transitions)-1)
		for i := 1; i < len(c.Transitions); i++ {
			f.Deltas = append(f.Deltas, c.Transitions[i].Sample-c.Transitions[i-1].Sample)
		}
	}
	return cbor.Marshal(f)
}

// Unmarshal decodes a capture from CBOR
func Unmarshal(data []byte) (*Capture, error) {
	var f fileFormat
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if f.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadFormat, f.Version)
	}
	id, err := uuid.Parse(f.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid id: %v", ErrBadFormat, err)
	}
	if f.InitialLevel > 1 {
		return nil, fmt.Errorf("%w: invalid initial level %d", ErrBadFormat, f.InitialLevel)
	}

	c := &Capture{
		ID:            id,
		CreatedAt:     time.Unix(0, f.CreatedAt),
		Origin:        f.Origin,
		SampleRate:    f.SampleRate,
		TriggerSample: f.TriggerSample,
		InitialLevel:  cec.Level(f.InitialLevel),
	}

	if f.First == nil && len(f.Deltas) > 0 {
		return nil, fmt.Errorf("%w: deltas without a first transition", ErrBadFormat)
	}
	if f.First != nil {
		c.Transitions = make([]cec.Transition, 0, len(f.Deltas)+1)
		level := c.InitialLevel ^ 1
		sample := *f.First
		c.Transitions = append(c.Transitions, cec.Transition{Sample: sample, Level: level})
		for _, d := range f.Deltas {
			if d == 0 {
				return nil, fmt.Errorf("%w: zero delta", ErrBadFormat)
			}
			sample += d
			level ^= 1
			c.Transitions = append(c.Transitions, cec.Transition{Sample: sample, Level: level})
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	return c, nil
}

func lockPath(path string) string {
	return path + ".lock"
}

// Save writes the capture to path. The write goes through a temporary file
// in the same directory and is guarded by an advisory lock next to path.
func Save(path string, c *Capture) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}

	lock := flock.New(lockPath(path))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, path)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write capture: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close capture: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename capture: %w", err)
	}
	return nil
}

// Load reads a capture file. It fails with ErrLocked while another process
// is writing the same path.
func Load(path string) (*Capture, error) {
	lock := flock.New(lockPath(path))
	ok, err := lock.TryRLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}
	return Unmarshal(data)
}
