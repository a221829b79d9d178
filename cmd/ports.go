// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"github.com/Thermoquad/mdbridge/pkg/qibixx"
)

var portsProbe bool

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports and find the MDB-HAT",
	Long: `List the serial ports on this machine.

With --probe each port is opened briefly and sent a version request; a
port answering with a v, line is an MDB-HAT. Probing writes to every
candidate port, so do not use it while other serial devices are in
sensitive states.

Exit codes:
  0 - At least one port found (with --probe: an MDB-HAT found)
  1 - No ports found (with --probe: no MDB-HAT answered)
  2 - Enumeration error`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
	portsCmd.Flags().BoolVar(&portsProbe, "probe", false, "Probe each port for an MDB-HAT version response")
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Enumeration error: %v\n", err)
		os.Exit(2)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		os.Exit(1)
	}

	found := false
	for _, name := range ports {
		if !portsProbe {
			fmt.Println(name)
			found = true
			continue
		}

		version := probePort(name)
		if version != "" {
			fmt.Printf("%s  MDB-HAT (%s)\n", name, version)
			found = true
		} else {
			fmt.Printf("%s  (no response)\n", name)
		}
	}

	if !found {
		os.Exit(1)
	}
	return nil
}

// probePort opens name briefly and asks for the firmware version.
func probePort(name string) string {
	conn, err := OpenSerialConnection(name, baudRate)
	if err != nil {
		return ""
	}
	defer conn.Close()

	line, err := NewLineConn(conn)
	if err != nil {
		return ""
	}
	_ = line.WriteLine(qibixx.CmdVersion())

	deadline := time.Now().Add(1200 * time.Millisecond)
	for time.Now().Before(deadline) {
		raw, err := line.ReadLine()
		if err != nil {
			return ""
		}
		if strings.HasPrefix(raw, "v,") {
			return raw
		}
	}
	return ""
}
