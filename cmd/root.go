// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cecstat/internal/config"
	"github.com/Thermoquad/cecstat/internal/logging"
	"github.com/Thermoquad/cecstat/pkg/cec"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// General flags
	configPath  string
	logLevel    string
	displayBase string
)

var (
	cfg    *config.Config
	logger = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "cecstat",
	Short: "HDMI-CEC Bus Analyzer",
	Long: `cecstat - A CLI tool for decoding and analyzing the HDMI-CEC bus.

Decodes CEC line captures into start sequences, headers, opcodes, operands,
EOM and ACK bits, and reports timing errors, truncated blocks and protocol
anomalies. Captures come from a cecstat logic probe, from capture files, or
from logic analyzer CSV exports.

Probe connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the CECSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Defaults are read from ~/.config/cecstat/config.toml (see --config). Flags
override the file.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default ~/.config/cecstat/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error, disabled)")
	rootCmd.PersistentFlags().StringVar(&displayBase, "base", "", "Display base for frame data (hex, bin, dec, ascii, ascii-hex)")
}

// loadConfig reads the configuration file and applies flag overrides
func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, _, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		loaded.Connection.Port = portName
	}
	if flags.Changed("baud") {
		loaded.Connection.Baud = baudRate
	}
	if flags.Changed("url") {
		loaded.Connection.URL = wsURL
	}
	if flags.Changed("username") {
		loaded.Connection.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		loaded.Connection.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("log-level") {
		loaded.Log.Level = strings.ToLower(strings.TrimSpace(logLevel))
	}
	if flags.Changed("base") {
		loaded.Decoder.Base = displayBase
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	cfg = loaded
	logger = logging.Configure(logging.Config{Level: cfg.Log.Level, NoColor: cfg.Log.NoColor})
	logger.Debug().Str("config", configPath).Msg("configuration loaded")
	return nil
}

// decoderOptions returns the configured decoder options
func decoderOptions() cec.Options {
	if cfg == nil {
		return cec.DefaultOptions()
	}
	return cfg.Options()
}

// base returns the configured display base
func base() cec.DisplayBase {
	if cfg == nil {
		return cec.BaseHexadecimal
	}
	return cfg.DisplayBase()
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
