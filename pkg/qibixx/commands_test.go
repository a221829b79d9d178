// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package qibixx

import (
	"bytes"
	"testing"
)

func TestCommandBuilders(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		want string
	}{
		{name: "slave enable", cmd: CmdSlaveEnable(), want: "C,1"},
		{name: "slave disable", cmd: CmdSlaveDisable(), want: "C,0"},
		{name: "arm credit", cmd: CmdArmCredit(1000), want: "C,START,10.00"},
		{name: "approve vend", cmd: CmdApproveVend(150), want: "C,VEND,1.50"},
		{name: "vend stop", cmd: CmdVendStop(), want: "C,STOP"},
		{name: "master stop", cmd: CmdMasterStop(), want: "D,STOP"},
		{name: "master off", cmd: CmdMasterOff(), want: "D,0"},
		{name: "master init", cmd: CmdMasterInit(), want: "D,2"},
		{name: "reader enable", cmd: CmdReaderEnable(), want: "D,READER,1"},
		{name: "auth request", cmd: CmdAuthRequest(150, 7), want: "D,REQ,1.50,7"},
		{name: "session end", cmd: CmdSessionEnd(), want: "D,END"},
		{name: "sniff on", cmd: CmdSniff(true), want: "X,1"},
		{name: "sniff off", cmd: CmdSniff(false), want: "X,0"},
		{name: "version", cmd: CmdVersion(), want: "V"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.cmd != tt.want {
				t.Errorf("command = %q, want %q", tt.cmd, tt.want)
			}
		})
	}
}

func TestSerialize(t *testing.T) {
	got := Serialize("C,START,10.00")
	want := []byte("C,START,10.00\r\n")
	if !bytes.Equal(got, want) {
		t.Errorf("Serialize() = %q, want %q", got, want)
	}
}

// Any well-formed command must survive parse and rebuild byte-identically.
func TestSerializeParseRoundTrip(t *testing.T) {
	commands := []string{
		CmdArmCredit(1000),
		CmdApproveVend(25),
		CmdVendStop(),
		CmdAuthRequest(150, 44),
		CmdSessionEnd(),
		CmdSlaveEnable(),
	}

	for _, cmd := range commands {
		t.Run(cmd, func(t *testing.T) {
			line := Parse(cmd)
			if line == nil {
				t.Fatalf("Parse(%q) returned nil", cmd)
			}
			rebuilt := Serialize(line.Command())
			if !bytes.Equal(rebuilt, Serialize(cmd)) {
				t.Errorf("round trip of %q gave %q", cmd, rebuilt)
			}
		})
	}
}

func TestProductCode(t *testing.T) {
	tests := []struct {
		raw  string
		want byte
	}{
		{"7", 7},
		{"255", 255},
		{"256", 0},
		{"300", 44},
		{"0", 0},
		{"-3", 253},
		{"abc", 0},
		{"", 0},
	}

	for _, tt := range tests {
		if got := ProductCode(tt.raw); got != tt.want {
			t.Errorf("ProductCode(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}
