// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mdbridge/pkg/qibixx"
)

var (
	creditorAuto          bool
	creditorMaxAmount     string
	creditorAllowProducts string
	creditorDuration      int
)

var creditorCmd = &cobra.Command{
	Use:   "creditor",
	Short: "Approve VMC vend requests directly, without a payment reader",
	Long: `Run only the cashless-slave side and decide vend requests locally.

This is a bench tool for exercising a VMC without a Nayax reader attached.
Incoming vend requests are printed; with --auto they are approved unless
they violate --max-amount or --allow-products, in which case they are
cancelled.

Exit codes:
  0 - Finished (duration elapsed or interrupted)
  1 - VMC never activated the cashless slave
  2 - Connection error`,
	RunE: runCreditor,
}

func init() {
	rootCmd.AddCommand(creditorCmd)
	creditorCmd.Flags().BoolVar(&creditorAuto, "auto", false, "Auto-approve vend requests")
	creditorCmd.Flags().StringVar(&creditorMaxAmount, "max-amount", "", "Deny requests above this amount (e.g. 2.00)")
	creditorCmd.Flags().StringVar(&creditorAllowProducts, "allow-products", "", "Comma-separated allowed product ids (e.g. 2,10)")
	creditorCmd.Flags().IntVar(&creditorDuration, "duration", 0, "Seconds to run (0 = forever)")
}

func runCreditor(cmd *cobra.Command, args []string) error {
	var maxAmount qibixx.Amount = -1
	if creditorMaxAmount != "" {
		a, err := qibixx.ParseAmount(creditorMaxAmount)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --max-amount: %v\n", err)
			os.Exit(2)
		}
		maxAmount = a
	}
	var allowed map[string]bool
	if creditorAllowProducts != "" {
		allowed = make(map[string]bool)
		for _, p := range strings.Split(creditorAllowProducts, ",") {
			allowed[strings.TrimSpace(p)] = true
		}
	}

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
	if !line.Polls() {
		fmt.Fprintln(os.Stderr, "Connection error: the creditor requires a serial port; WebSocket reads cannot time out")
		os.Exit(2)
	}

	fmt.Printf("mdbridge - Creditor\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	// Reset to a known state, then present the cashless slave.
	_ = line.WriteLine(qibixx.CmdSniff(false))
	_ = line.WriteLine(qibixx.CmdSlaveDisable())
	time.Sleep(200 * time.Millisecond)
	drainLines(line, 600*time.Millisecond)

	if v := probeVersion(line); v != "" {
		fmt.Printf("Firmware: %s\n", v)
	} else {
		fmt.Printf("Firmware: (no version line)\n")
	}

	_ = line.WriteLine(qibixx.CmdSlaveEnable())
	fmt.Println("Waiting for VMC to activate the cashless slave...")

	// Some firmwares report ENABLED, some go straight to IDLE.
	active := waitForLine(line, 30*time.Second, func(raw string) bool {
		ev, ok := qibixx.ClassifyVmc(raw)
		return ok && (ev.Type == qibixx.VmcEnabled || ev.Type == qibixx.VmcIdle)
	})
	if !active {
		fmt.Fprintln(os.Stderr, "VMC never activated the cashless slave; check wiring and port mode")
		os.Exit(1)
	}
	fmt.Println("Cashless slave active; waiting for vend requests")

	var deadline time.Time
	if creditorDuration > 0 {
		deadline = time.Now().Add(time.Duration(creditorDuration) * time.Second)
	}

	for deadline.IsZero() || time.Now().Before(deadline) {
		raw, err := line.ReadLine()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			os.Exit(2)
		}
		if raw == "" {
			continue
		}
		if debugMode {
			fmt.Println(raw)
		}

		ev, ok := qibixx.ClassifyVmc(raw)
		if !ok {
			continue
		}
		switch ev.Type {
		case qibixx.VmcVendRequest:
			decideVend(line, ev, maxAmount, allowed)
		case qibixx.VmcVendSuccess:
			fmt.Println("VEND SUCCESS")
		}
	}
	return nil
}

func decideVend(line *LineConn, ev qibixx.VmcEvent, maxAmount qibixx.Amount, allowed map[string]bool) {
	reason := ""
	if maxAmount >= 0 && ev.Price > maxAmount {
		reason = fmt.Sprintf("amount %s over max %s", ev.Price, maxAmount)
	}
	if allowed != nil && !allowed[ev.Product] {
		reason = fmt.Sprintf("product %s not allowed", ev.Product)
	}

	if reason != "" || !creditorAuto {
		fmt.Printf("VEND REQ amount=%s product=%s -> DENY", ev.Price, ev.Product)
		if reason != "" {
			fmt.Printf(" (%s)", reason)
		}
		fmt.Println()
		_ = line.WriteLine(qibixx.CmdVendStop())
		return
	}

	fmt.Printf("VEND REQ amount=%s product=%s -> APPROVE\n", ev.Price, ev.Product)
	_ = line.WriteLine(qibixx.CmdApproveVend(ev.Price))
}

// probeVersion asks the MDB-HAT for its firmware version line.
func probeVersion(line *LineConn) string {
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

func drainLines(line *LineConn, d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if _, err := line.ReadLine(); err != nil {
			return
		}
	}
}

func waitForLine(line *LineConn, timeout time.Duration, match func(string) bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		raw, err := line.ReadLine()
		if err != nil {
			return false
		}
		if raw != "" && match(raw) {
			return true
		}
	}
	return false
}
