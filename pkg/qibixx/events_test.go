// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package qibixx

import "testing"

func TestClassifyVmc(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    VmcEvent
		matched bool
	}{
		{
			name:    "enabled",
			raw:     "c,STATUS,ENABLED",
			want:    VmcEvent{Type: VmcEnabled},
			matched: true,
		},
		{
			name:    "idle without credit",
			raw:     "c,STATUS,IDLE",
			want:    VmcEvent{Type: VmcIdle},
			matched: true,
		},
		{
			name:    "idle with credit",
			raw:     "c,STATUS,IDLE,10.00",
			want:    VmcEvent{Type: VmcIdleWithCredit, Credit: 1000},
			matched: true,
		},
		{
			name:    "vend request",
			raw:     "c,STATUS,VEND,1.50,7",
			want:    VmcEvent{Type: VmcVendRequest, Price: 150, Product: "7"},
			matched: true,
		},
		{
			name:    "vend request with wide product id",
			raw:     "c,STATUS,VEND,0.25,300",
			want:    VmcEvent{Type: VmcVendRequest, Price: 25, Product: "300"},
			matched: true,
		},
		{
			name:    "vend success",
			raw:     "c,VEND,SUCCESS",
			want:    VmcEvent{Type: VmcVendSuccess},
			matched: true,
		},
		{
			name:    "start rejected",
			raw:     `c,ERR,"START -1"`,
			want:    VmcEvent{Type: VmcStartRejected, ErrCode: -1},
			matched: true,
		},
		{name: "nayax line", raw: "d,STATUS,IDLE", matched: false},
		{name: "unrelated error", raw: `c,ERR,"VEND 3"`, matched: false},
		{name: "noise", raw: "garbage", matched: false},
		{name: "empty", raw: "", matched: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ClassifyVmc(tt.raw)
			if ok != tt.matched {
				t.Fatalf("ClassifyVmc(%q) matched = %v, want %v", tt.raw, ok, tt.matched)
			}
			if ok && got != tt.want {
				t.Errorf("ClassifyVmc(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestClassifyNayax(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    NayaxEvent
		matched bool
	}{
		{name: "off", raw: "d,STATUS,OFF", want: NayaxEvent{Type: NayaxOff}, matched: true},
		{name: "init stage", raw: "d,STATUS,INIT,2", want: NayaxEvent{Type: NayaxInit, Stage: 2}, matched: true},
		{name: "idle", raw: "d,STATUS,IDLE", want: NayaxEvent{Type: NayaxIdle}, matched: true},
		{name: "credit session", raw: "d,STATUS,CREDIT,10.00,card", want: NayaxEvent{Type: NayaxCredit}, matched: true},
		{name: "result approved", raw: "d,STATUS,RESULT,1,0", want: NayaxEvent{Type: NayaxResult, Result: 1}, matched: true},
		{name: "result denied", raw: "d,STATUS,RESULT,-2,0", want: NayaxEvent{Type: NayaxResult, Result: -2}, matched: true},
		{name: "error line", raw: `d,ERR,"-105"`, want: NayaxEvent{Type: NayaxErrorLine, ErrCode: "-105"}, matched: true},
		{name: "vmc line", raw: "c,STATUS,IDLE", matched: false},
		{name: "noise", raw: "x,7F,12", matched: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ClassifyNayax(tt.raw)
			if ok != tt.matched {
				t.Fatalf("ClassifyNayax(%q) matched = %v, want %v", tt.raw, ok, tt.matched)
			}
			if ok && got != tt.want {
				t.Errorf("ClassifyNayax(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		source Source
		isNil  bool
	}{
		{name: "vmc status", raw: "c,STATUS,IDLE", source: SourceVMC},
		{name: "nayax status", raw: "d,STATUS,CREDIT,5.00,card", source: SourceNayax},
		{name: "sniffer", raw: "x,ACK", source: SourceSniffer},
		{name: "version", raw: "v,MDB-HAT,1.2.3", source: SourceVersion},
		{name: "command echo", raw: "C,START,10.00", source: SourceVMC},
		{name: "empty", raw: "", isNil: true},
		{name: "whitespace only", raw: "  \r\n", isNil: true},
		{name: "unknown prefix", raw: "q,STATUS,IDLE", isNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := Parse(tt.raw)
			if (line == nil) != tt.isNil {
				t.Fatalf("Parse(%q) nil = %v, want %v", tt.raw, line == nil, tt.isNil)
			}
			if line != nil && line.Source != tt.source {
				t.Errorf("Parse(%q).Source = %v, want %v", tt.raw, line.Source, tt.source)
			}
		})
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{name: "plain line", input: []byte("c,STATUS,IDLE\r\n"), want: "c,STATUS,IDLE"},
		{name: "invalid utf8 replaced", input: []byte{'c', ',', 0xFF, 0xFE, 'X'}, want: "c,��X"},
		{name: "empty", input: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.input); got != tt.want {
				t.Errorf("Clean(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
