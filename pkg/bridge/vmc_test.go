// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"testing"

	"github.com/Thermoquad/mdbridge/pkg/qibixx"
)

func TestVmcObserve(t *testing.T) {
	tests := []struct {
		name       string
		start      Vmc
		ev         qibixx.VmcEvent
		wantState  VmcState
		wantCredit qibixx.Amount
	}{
		{
			name:       "idle with credit",
			start:      Vmc{State: SlaveEnabled},
			ev:         qibixx.VmcEvent{Type: qibixx.VmcIdleWithCredit, Credit: 1000},
			wantState:  SlaveIdleWithCredit,
			wantCredit: 1000,
		},
		{
			name:      "idle clears credit",
			start:     Vmc{State: SlaveIdleWithCredit, Credit: 1000},
			ev:        qibixx.VmcEvent{Type: qibixx.VmcIdle},
			wantState: SlaveIdleNoCredit,
		},
		{
			name:      "enabled resets idle session",
			start:     Vmc{State: SlaveIdleWithCredit, Credit: 1000},
			ev:        qibixx.VmcEvent{Type: qibixx.VmcEnabled},
			wantState: SlaveEnabled,
		},
		{
			name:       "enabled ignored mid-vend",
			start:      Vmc{State: SlaveVending, Credit: 1000},
			ev:         qibixx.VmcEvent{Type: qibixx.VmcEnabled},
			wantState:  SlaveVending,
			wantCredit: 1000,
		},
		{
			name:      "vend request",
			start:     Vmc{State: SlaveIdleWithCredit, Credit: 1000},
			ev:        qibixx.VmcEvent{Type: qibixx.VmcVendRequest, Price: 150},
			wantState: SlaveVending,
		},
		{
			name:      "vend success ends session",
			start:     Vmc{State: SlaveVending, Credit: 1000},
			ev:        qibixx.VmcEvent{Type: qibixx.VmcVendSuccess},
			wantState: SlaveEnabled,
		},
		{
			name:       "start rejection leaves state alone",
			start:      Vmc{State: SlaveIdleNoCredit},
			ev:         qibixx.VmcEvent{Type: qibixx.VmcStartRejected, ErrCode: -1},
			wantState:  SlaveIdleNoCredit,
			wantCredit: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.start
			v.Observe(tt.ev)
			if v.State != tt.wantState {
				t.Errorf("state = %v, want %v", v.State, tt.wantState)
			}
			if tt.name != "vend request" && v.Credit != tt.wantCredit {
				t.Errorf("credit = %d, want %d", v.Credit, tt.wantCredit)
			}
		})
	}
}

func TestVmcCanArm(t *testing.T) {
	tests := []struct {
		state VmcState
		want  bool
	}{
		{SlaveUninitialized, false},
		{SlaveEnabled, true},
		{SlaveIdleNoCredit, true},
		{SlaveIdleWithCredit, false},
		{SlaveVending, false},
	}

	for _, tt := range tests {
		v := Vmc{State: tt.state}
		if got := v.CanArm(); got != tt.want {
			t.Errorf("CanArm() in %v = %v, want %v", tt.state, got, tt.want)
		}
	}
}
