// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mdbridge/pkg/qibixx"
)

var lineTestTimeout int

var lineTestCmd = &cobra.Command{
	Use:   "line_test",
	Short: "Test connection by waiting for a valid protocol line",
	Long: `Wait for a valid MDB-HAT protocol line on the connection until timeout.

This command connects to a serial port or WebSocket and requests the
firmware version, then waits for any recognizable protocol line (a
version response or a c,/d,/x, status line). Noise is ignored.

Exit codes:
  0 - Valid line received before timeout
  1 - Timeout reached without receiving a valid line
  2 - Connection error

Useful for verifying wiring and port selection before running the bridge.`,
	RunE: runLineTest,
}

func init() {
	rootCmd.AddCommand(lineTestCmd)
	lineTestCmd.Flags().IntVar(&lineTestTimeout, "timeout", 10, "Timeout in seconds to wait for a line")
}

func runLineTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	line, err := NewLineConn(conn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("mdbridge - Line Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", lineTestTimeout)
	fmt.Printf("Waiting for valid protocol line...\n\n")

	// A version probe provokes a response even on an otherwise idle bus.
	_ = line.WriteLine(qibixx.CmdVersion())

	noise := 0
	deadline := time.Now().Add(time.Duration(lineTestTimeout) * time.Second)
	for time.Now().Before(deadline) {
		raw, err := line.ReadLine()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			os.Exit(2)
		}
		if raw == "" {
			continue
		}

		parsed := qibixx.Parse(raw)
		if parsed == nil {
			noise++
			continue
		}

		if noise > 0 {
			fmt.Printf("(skipped %d unrecognized lines before sync)\n", noise)
		}
		fmt.Printf("SUCCESS: Received valid line\n")
		fmt.Printf("  Source: %s\n", parsed.Source)
		fmt.Printf("  Line: %s\n", parsed.Raw)
		os.Exit(0)
	}

	fmt.Fprintf(os.Stderr, "TIMEOUT: No valid line received within %d seconds\n", lineTestTimeout)
	os.Exit(1)
	return nil
}
