// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/mdbridge/pkg/qibixx"
)

var monitorShowRaw bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live TUI view of the MDB bus",
	Long: `Watch the bus in a live terminal UI.

The monitor enables the MDB-HAT sniffer and tracks both protocol sides the
same way the bridge does: the VMC's cashless-slave state, the Nayax
reader's session state, and every vend request as it happens. It is
strictly passive and never writes protocol commands while running, so it
is safe to point at a bus a bridge is driving through a WebSocket tap.

Keys: q to quit, up/down or pgup/pgdn to scroll the traffic log.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorShowRaw, "show-raw", false, "Show unclassified lines too")
}

func runMonitor(cmd *cobra.Command, args []string) error {
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

	_ = line.WriteLine(qibixx.CmdSniff(true))
	defer func() { _ = line.WriteLine(qibixx.CmdSniff(false)) }()

	p := tea.NewProgram(newMonitorModel(connInfo, monitorShowRaw))

	// Reader goroutine pumps bus lines into the UI until the program or
	// the connection ends.
	go func() {
		for {
			raw, err := line.ReadLine()
			if err != nil {
				p.Send(busErrorMsg{err: err})
				return
			}
			if raw == "" {
				continue
			}
			p.Send(busLineMsg{raw: raw})
		}
	}()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		os.Exit(2)
	}
	return nil
}
