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

var busTestCmd = &cobra.Command{
	Use:   "bus_test",
	Short: "Test connection stability and measure the bus traffic mix",
	Long: `Listen on the connection for a fixed duration and tally what arrives.

Every received line is classified by protocol source (VMC, Nayax, sniffer,
version) and counted; unparseable lines count as noise. A healthy MDB-HAT
link shows a steady stream of c,/d, status lines and little noise; a wiring
or baud-rate problem shows mostly noise. Works over serial and WebSocket
and is strictly passive.

Exit codes:
  0 - Test completed normally
  1 - Test failed (connection dropped mid-run)
  2 - Connection error`,
	RunE: runBusTest,
}

var busTestDuration int

func init() {
	rootCmd.AddCommand(busTestCmd)
	busTestCmd.Flags().IntVar(&busTestDuration, "duration", 30, "Test duration in seconds")
}

// busTally accumulates per-source line counts over a listening window.
type busTally struct {
	lines    int
	bytes    int
	noise    int
	bySource map[qibixx.Source]int
}

func newBusTally() *busTally {
	return &busTally{bySource: make(map[qibixx.Source]int)}
}

func (t *busTally) observe(raw string) {
	t.lines++
	t.bytes += len(raw)
	parsed := qibixx.Parse(raw)
	if parsed == nil {
		t.noise++
		return
	}
	t.bySource[parsed.Source]++
}

func (t *busTally) report(w *os.File) {
	fmt.Fprintf(w, "Lines received: %d (%d bytes)\n", t.lines, t.bytes)
	for _, src := range []qibixx.Source{
		qibixx.SourceVMC, qibixx.SourceNayax,
		qibixx.SourceSniffer, qibixx.SourceVersion,
	} {
		if n := t.bySource[src]; n > 0 {
			fmt.Fprintf(w, "  %-8s %d\n", src, n)
		}
	}
	if t.noise > 0 {
		fmt.Fprintf(w, "  %-8s %d\n", "noise", t.noise)
	}
}

func runBusTest(cmd *cobra.Command, args []string) error {
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

	fmt.Printf("mdbridge - Bus Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", busTestDuration)

	lineChan := make(chan string, 100)
	errChan := make(chan error, 1)

	go func() {
		for {
			raw, err := line.ReadLine()
			if err != nil {
				errChan <- err
				return
			}
			if raw != "" {
				lineChan <- raw
			}
		}
	}()

	tally := newBusTally()
	endTime := time.Now().Add(time.Duration(busTestDuration) * time.Second)

	fmt.Printf("Listening...\n\n")

	for time.Now().Before(endTime) {
		select {
		case raw := <-lineChan:
			tally.observe(raw)

		case err := <-errChan:
			fmt.Printf("\n[%s] Connection error: %v\n\n",
				time.Now().Format("15:04:05.000"), err)
			fmt.Printf("--- Test Results ---\n")
			tally.report(os.Stdout)
			fmt.Printf("Result: FAILED (connection dropped)\n")
			os.Exit(1)

		case <-time.After(1 * time.Second):
			remaining := time.Until(endTime).Seconds()
			fmt.Printf("[%s] %d lines so far (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), tally.lines, remaining)
		}
	}

	fmt.Printf("\n--- Test Results ---\n")
	tally.report(os.Stdout)
	fmt.Printf("Result: PASSED (connection stable)\n")

	return nil
}
