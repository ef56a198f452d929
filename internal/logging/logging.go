// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging configures the zerolog console logger used by cecstat.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment overrides, applied over the configured values
const (
	EnvLogLevel   = "CECSTAT_LOG_LEVEL"
	EnvLogNoColor = "CECSTAT_LOG_NOCOLOR"
)

// Config selects the log level and colour output
type Config struct {
	Level   string
	NoColor bool
}

// New builds a console logger writing to w. Colour is disabled when w is
// not a terminal.
func New(cfg Config, w io.Writer) zerolog.Logger {
	applyEnvOverrides(&cfg)

	level, ok := ParseLevel(cfg.Level)
	if !ok {
		level = zerolog.InfoLevel
	}

	noColor := cfg.NoColor
	if f, isFile := w.(*os.File); !isFile || !isatty.IsTerminal(f.Fd()) {
		noColor = true
	}

	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
	}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// Configure installs a stderr logger as the global zerolog logger
func Configure(cfg Config) zerolog.Logger {
	logger := New(cfg, os.Stderr)
	log.Logger = logger
	return logger
}

// ParseLevel maps a level name to a zerolog level
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info", "":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv(EnvLogLevel); strings.TrimSpace(raw) != "" {
		if _, ok := ParseLevel(raw); ok {
			cfg.Level = raw
		}
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(EnvLogNoColor))); err == nil {
		cfg.NoColor = v
	}
}
