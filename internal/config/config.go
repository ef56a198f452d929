// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the cecstat TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/Thermoquad/cecstat/pkg/cec"
)

// Log contains configuration for log output.
type Log struct {
	Level   string `toml:"level"`
	NoColor bool   `toml:"no_color"`
}

// Connection contains the probe connection defaults.
type Connection struct {
	Port        string `toml:"port"`
	Baud        int    `toml:"baud"`
	URL         string `toml:"url"`
	Username    string `toml:"username"`
	NoSSLVerify bool   `toml:"no_ssl_verify"`
}

// Decoder contains decode and display settings.
type Decoder struct {
	Base          string `toml:"base"`
	MaxBlocks     int    `toml:"max_blocks"`
	CSVSampleRate uint64 `toml:"csv_sample_rate"` // Hz, used by CSV import
	CSVChannel    int    `toml:"csv_channel"`
}

// Band is a tolerance window in microseconds. Both edges are inclusive.
type Band struct {
	Min int64 `toml:"min"`
	Max int64 `toml:"max"`
}

// Timing contains the bit classifier tolerance bands.
type Timing struct {
	StartLow    Band `toml:"start_low"`
	StartPeriod Band `toml:"start_period"`
	OneLow      Band `toml:"one_low"`
	ZeroLow     Band `toml:"zero_low"`
	BitPeriod   Band `toml:"bit_period"`
}

// Config encapsulates all configuration values for cecstat.
type Config struct {
	Log        Log        `toml:"log"`
	Connection Connection `toml:"connection"`
	Decoder    Decoder    `toml:"decoder"`
	Timing     Timing     `toml:"timing"`
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/cecstat/config.toml")
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: Log{
			Level: "info",
		},
		Connection: Connection{
			Baud: 115200,
		},
		Decoder: Decoder{
			Base:          "hex",
			CSVSampleRate: 1_000_000,
		},
		Timing: fromCEC(cec.DefaultTiming()),
	}
}

// Load parses and validates the configuration file at path. An empty path
// falls back to DefaultConfigPath. A missing file yields the defaults.
// The returned bool reports whether a file was read.
func Load(path string) (*Config, bool, error) {
	cfg := Default()

	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, false, err
	}

	if exists {
		file, err := os.Open(resolved)
		if err != nil {
			return nil, false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))

	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return &cfg, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return "", false, err
		}
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %s is a directory", expanded)
	}
	return expanded, true, nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		return fmt.Errorf("log.level must be one of trace, debug, info, warn, error, disabled (got %q)", c.Log.Level)
	}
	if c.Connection.Baud <= 0 {
		return errors.New("connection.baud must be positive")
	}
	if c.Connection.URL != "" && !strings.HasPrefix(c.Connection.URL, "ws://") && !strings.HasPrefix(c.Connection.URL, "wss://") {
		return fmt.Errorf("connection.url must start with ws:// or wss:// (got %q)", c.Connection.URL)
	}
	if _, err := cec.ParseDisplayBase(c.Decoder.Base); err != nil {
		return fmt.Errorf("decoder.base: %w", err)
	}
	if c.Decoder.MaxBlocks < 0 {
		return errors.New("decoder.max_blocks must not be negative")
	}
	if c.Decoder.CSVSampleRate == 0 {
		return errors.New("decoder.csv_sample_rate must be positive")
	}
	if c.Decoder.CSVChannel < 0 {
		return errors.New("decoder.csv_channel must not be negative")
	}
	if err := c.ToTiming().Validate(); err != nil {
		return fmt.Errorf("timing: %w", err)
	}
	return nil
}

// ToTiming converts the [timing] section to classifier bands.
func (c *Config) ToTiming() cec.Timing {
	return cec.Timing{
		StartLow:    c.Timing.StartLow.toCEC(),
		StartPeriod: c.Timing.StartPeriod.toCEC(),
		OneLow:      c.Timing.OneLow.toCEC(),
		ZeroLow:     c.Timing.ZeroLow.toCEC(),
		BitPeriod:   c.Timing.BitPeriod.toCEC(),
	}
}

// Options returns decoder options for the configured timing and block bound.
func (c *Config) Options() cec.Options {
	return cec.Options{
		Timing:    c.ToTiming(),
		MaxBlocks: c.Decoder.MaxBlocks,
	}
}

// DisplayBase returns the configured display base. Load has already
// validated it.
func (c *Config) DisplayBase() cec.DisplayBase {
	base, _ := cec.ParseDisplayBase(c.Decoder.Base)
	return base
}

func (b Band) toCEC() cec.Band {
	return cec.Band{
		Min: time.Duration(b.Min) * time.Microsecond,
		Max: time.Duration(b.Max) * time.Microsecond,
	}
}

func fromCEC(t cec.Timing) Timing {
	band := func(b cec.Band) Band {
		return Band{Min: b.Min.Microseconds(), Max: b.Max.Microseconds()}
	}
	return Timing{
		StartLow:    band(t.StartLow),
		StartPeriod: band(t.StartPeriod),
		OneLow:      band(t.OneLow),
		ZeroLow:     band(t.ZeroLow),
		BitPeriod:   band(t.BitPeriod),
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
