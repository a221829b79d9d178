// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/mdbridge/pkg/bridge"
	"github.com/Thermoquad/mdbridge/pkg/config"
	"github.com/Thermoquad/mdbridge/pkg/logger"
	"github.com/Thermoquad/mdbridge/pkg/statusapi"
)

var (
	bridgeCompCredit  string
	bridgeCompOneShot bool
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Run the VMC to Nayax payment bridge",
	Long: `Run the cashless payment bridge until interrupted.

The bridge enables the MDB-HAT's cashless slave toward the VMC and drives
the Nayax reader as cashless master. Vend requests from the VMC become
authorization requests to the reader; approvals become vend approvals back
to the VMC. Every resolved vend is journaled locally and reported to the
Venditt API.

Comp mode (--comp-credit) arms the VMC with operator-granted credit and
approves vends without touching the reader. With --comp-oneshot the mode
disables itself after the first successful vend.

Configuration is read from config.env (see --config); PORT and API_BASE
are required there unless --port is given.

Exit codes:
  0 - Clean shutdown on signal
  1 - Startup fault (device never reached its ready state) or runtime failure
  2 - Connection or configuration error`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().StringVar(&bridgeCompCredit, "comp-credit", "", "Arm this credit and approve vends without the reader (e.g. 5.00)")
	bridgeCmd.Flags().BoolVar(&bridgeCompOneShot, "comp-oneshot", false, "Disable comp mode after the first successful vend")
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}
	if portName == "" {
		portName = cfg.Port
	}
	if bridgeCompCredit == "" {
		bridgeCompCredit = cfg.CompCredit
	}

	level := cfg.LogLevel
	if debugMode {
		level = "debug"
	}
	log := logger.New(logger.Options{Level: level, Path: cfg.LogPath})
	defer func() { _ = log.Sync() }()

	bcfg, err := bridgeConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
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
		fmt.Fprintln(os.Stderr, "Connection error: the bridge requires a serial port; WebSocket reads cannot time out")
		os.Exit(2)
	}

	log.Info("bridge starting", zap.String("connection", connInfo))

	sink := newAuditSink(cfg, log)
	defer sink.close()

	b := bridge.New(bcfg, line, sink, log)

	if cfg.StatusAddr != "" {
		srv := statusapi.New(b.StatusSnapshot, sink.store)
		go func() {
			if err := srv.ListenAndServe(cfg.StatusAddr); err != nil {
				log.Warn("status server failed", zap.Error(err))
			}
		}()
		defer func() { _ = srv.Shutdown() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The shutdown sequence must run on every exit path, fault or signal.
	defer b.Cleanup()

	if err := b.Run(ctx); err != nil {
		// Returning instead of exiting lets the deferred cleanup run and
		// the audit sink drain anything still queued.
		cmd.SilenceUsage = true
		if errors.Is(err, bridge.ErrStartup) {
			return fmt.Errorf("startup fault: %w", err)
		}
		return err
	}
	return nil
}

// bridgeConfig resolves the engine configuration from the loaded file and
// the comp-mode flags.
func bridgeConfig(cfg *config.Config) (bridge.Config, error) {
	maxCredit, err := cfg.MaxCreditAmount()
	if err != nil {
		return bridge.Config{}, err
	}

	bcfg := bridge.Config{
		MaxCredit:   maxCredit,
		CompOneShot: bridgeCompOneShot,
		AuthTimeout: cfg.NayaxTimeout,
		VendTimeout: cfg.VendTimeout,
		CreditWait:  cfg.CreditWait,
		CreditTTL:   cfg.CreditTTL,
	}

	if bridgeCompCredit != "" {
		comp := *cfg
		comp.CompCredit = bridgeCompCredit
		amount, enabled, err := comp.CompCreditAmount()
		if err != nil {
			return bridge.Config{}, err
		}
		bcfg.CompCredit = amount
		bcfg.CompEnabled = enabled
	}
	return bcfg, nil
}
