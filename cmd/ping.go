// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mdbridge/pkg/config"
	"github.com/Thermoquad/mdbridge/pkg/venditt"
)

var pingCount int

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send signed heartbeats to the Venditt API",
	Long: `Post authenticated heartbeat probes to the Venditt backend.

Each probe is signed with the device credentials (hostname and machine id)
exactly like vend event reports, so this verifies the full reporting path:
configuration, credentials, signature acceptance, and connectivity.

With --count 0 the command runs as a heartbeat daemon at the configured
HEARTBEAT_SECONDS interval until interrupted.

Exit codes:
  0 - All probes accepted
  1 - One or more probes failed or were rejected
  2 - Configuration or credential error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of probes to send (0 = run forever)")
}

func runPing(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}
	if cfg.APIBase == "" {
		fmt.Fprintln(os.Stderr, "API_BASE missing in config.env")
		os.Exit(2)
	}

	deviceID, secret, err := venditt.DeviceCredentials()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Credential error: %v\n", err)
		os.Exit(2)
	}
	client := venditt.NewClient(cfg.APIBase, deviceID, secret)

	fmt.Printf("mdbridge - Heartbeat\n")
	fmt.Printf("API: %s\n", cfg.APIBase)
	fmt.Printf("Device: %s\n\n", deviceID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failures := 0
	for i := 1; pingCount == 0 || i <= pingCount; i++ {
		start := time.Now()
		status, err := client.AskForEvent(ctx)
		elapsed := time.Since(start).Round(time.Millisecond)

		switch {
		case err != nil:
			fmt.Printf("Probe %d: FAILED: %v\n", i, err)
			failures++
		case status >= 200 && status < 300:
			fmt.Printf("Probe %d: OK (HTTP %d, %s)\n", i, status, elapsed)
		default:
			fmt.Printf("Probe %d: REJECTED (HTTP %d)\n", i, status)
			failures++
		}

		select {
		case <-ctx.Done():
		case <-time.After(cfg.HeartbeatInterval):
		}
		if ctx.Err() != nil {
			break
		}
	}

	if failures > 0 {
		fmt.Fprintf(os.Stderr, "\n%d probes failed\n", failures)
		os.Exit(1)
	}
	return nil
}
