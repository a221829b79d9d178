// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mdbridge/pkg/capture"
	"github.com/Thermoquad/mdbridge/pkg/qibixx"
)

var (
	replaySpeed    float64
	replayClassify bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture-file>",
	Short: "Play back a capture file recorded with sniff",
	Long: `Read a CBOR capture file and print its lines with original timing.

With --speed the inter-line gaps are scaled (2.0 plays twice as fast, 0
prints everything immediately). With --classify each line is annotated
with the protocol event the bridge would derive from it, which is the
quickest way to debug why a recorded session misbehaved.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 0, "Timing scale factor (0 = no delays)")
	replayCmd.Flags().BoolVar(&replayClassify, "classify", false, "Annotate lines with classified events")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Open error: %v\n", err)
		os.Exit(2)
	}
	defer f.Close()

	r := capture.NewReader(f)
	var prev time.Time
	count := 0

	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Decode error after %d records: %v\n", count, err)
			os.Exit(2)
		}

		if replaySpeed > 0 && !prev.IsZero() {
			gap := rec.Timestamp.Sub(prev)
			if gap > 0 {
				time.Sleep(time.Duration(float64(gap) / replaySpeed))
			}
		}
		prev = rec.Timestamp
		count++

		fmt.Printf("%s %s", rec.Timestamp.Format("15:04:05.000"), rec.Raw)
		if replayClassify {
			fmt.Printf("  %s", classifyLabel(rec.Raw))
		}
		fmt.Println()
	}

	fmt.Printf("\n%d records\n", count)
	return nil
}

func classifyLabel(raw string) string {
	if ev, ok := qibixx.ClassifyVmc(raw); ok {
		switch ev.Type {
		case qibixx.VmcEnabled:
			return "-> vmc enabled"
		case qibixx.VmcIdle:
			return "-> vmc idle"
		case qibixx.VmcIdleWithCredit:
			return fmt.Sprintf("-> vmc idle, credit %s", ev.Credit)
		case qibixx.VmcVendRequest:
			return fmt.Sprintf("-> vend request %s for product %s", ev.Price, ev.Product)
		case qibixx.VmcVendSuccess:
			return "-> vend success"
		case qibixx.VmcStartRejected:
			return fmt.Sprintf("-> arm rejected (%d)", ev.ErrCode)
		}
	}
	if ev, ok := qibixx.ClassifyNayax(raw); ok {
		switch ev.Type {
		case qibixx.NayaxOff:
			return "-> nayax off"
		case qibixx.NayaxInit:
			return fmt.Sprintf("-> nayax init stage %d", ev.Stage)
		case qibixx.NayaxIdle:
			return "-> nayax idle"
		case qibixx.NayaxCredit:
			return "-> nayax session open"
		case qibixx.NayaxResult:
			return fmt.Sprintf("-> nayax result %d", ev.Result)
		case qibixx.NayaxErrorLine:
			return fmt.Sprintf("-> nayax error %s", ev.ErrCode)
		}
	}
	return ""
}
