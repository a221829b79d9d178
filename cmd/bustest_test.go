// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"testing"

	"github.com/Thermoquad/mdbridge/pkg/qibixx"
)

func TestBusTallyClassifiesSources(t *testing.T) {
	tally := newBusTally()
	for _, raw := range []string{
		"c,STATUS,ENABLED",
		"c,STATUS,IDLE,10.00",
		"d,STATUS,CREDIT,10.00,card",
		"x,c,START,10.00",
		"v,Qibixx MDB,1.09",
		"\x00\x00garbage",
	} {
		tally.observe(raw)
	}

	if tally.lines != 6 {
		t.Errorf("lines = %d, want 6", tally.lines)
	}
	wantBySource := map[qibixx.Source]int{
		qibixx.SourceVMC:     2,
		qibixx.SourceNayax:   1,
		qibixx.SourceSniffer: 1,
		qibixx.SourceVersion: 1,
	}
	for src, want := range wantBySource {
		if got := tally.bySource[src]; got != want {
			t.Errorf("bySource[%s] = %d, want %d", src, got, want)
		}
	}
	if tally.noise != 1 {
		t.Errorf("noise = %d, want 1", tally.noise)
	}
}
