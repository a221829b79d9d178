// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mdbridge/pkg/capture"
	"github.com/Thermoquad/mdbridge/pkg/qibixx"
)

var sniffCaptureFile string

var sniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "Sniff the MDB bus and print every line",
	Long: `Enable the MDB-HAT sniffer and print all bus traffic until interrupted.

Each line is prefixed with its source (VMC, NAYAX, SNIFF). With --capture
the raw lines are also written to a timestamped CBOR capture file that the
replay command can play back.

The sniffer is disabled again on exit.`,
	RunE: runSniff,
}

func init() {
	rootCmd.AddCommand(sniffCmd)
	sniffCmd.Flags().StringVar(&sniffCaptureFile, "capture", "", "Write raw traffic to this capture file")
}

func runSniff(cmd *cobra.Command, args []string) error {
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

	var capw *capture.Writer
	if sniffCaptureFile != "" {
		f, err := os.Create(sniffCaptureFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Capture file error: %v\n", err)
			os.Exit(2)
		}
		defer f.Close()
		capw = capture.NewWriter(f)
	}

	fmt.Printf("mdbridge - Bus Sniffer\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	_ = line.WriteLine(qibixx.CmdSniff(true))
	defer func() { _ = line.WriteLine(qibixx.CmdSniff(false)) }()

	for {
		select {
		case <-sig:
			fmt.Println("\nStopping sniffer")
			return nil
		default:
		}

		raw, err := line.ReadLine()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			os.Exit(2)
		}
		if raw == "" {
			continue
		}

		now := time.Now()
		source := "?"
		if parsed := qibixx.Parse(raw); parsed != nil {
			source = parsed.Source.String()
		}
		fmt.Printf("%s [%s] %s\n", now.Format("15:04:05.000"), source, raw)

		if capw != nil {
			if err := capw.Write(now, raw); err != nil {
				fmt.Fprintf(os.Stderr, "Capture write error: %v\n", err)
				capw = nil
			}
		}
	}
}
