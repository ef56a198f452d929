// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// cecstat - HDMI-CEC Bus Analyzer
//
// A CLI tool for decoding HDMI-CEC line captures into frames and messages,
// live from a logic probe or offline from capture files.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/cecstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cmd.ExitCode(err))
	}
}
