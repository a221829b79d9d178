// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package qibixx

import (
	"regexp"
	"strconv"
)

// Status line patterns, matched in declaration order. The credit-bearing
// IDLE form must be tried before the bare IDLE form.
var (
	vmcEnabledRe    = regexp.MustCompile(`^c,STATUS,ENABLED\b`)
	vmcIdleCreditRe = regexp.MustCompile(`^c,STATUS,IDLE,([^,]+)\s*$`)
	vmcIdleRe       = regexp.MustCompile(`^c,STATUS,IDLE\s*$`)
	vmcVendRe       = regexp.MustCompile(`^c,STATUS,VEND,([^,]+),([^,]+)\s*$`)
	vmcStartErrRe   = regexp.MustCompile(`^c,ERR,"START\s+(-?\d+)"\s*$`)

	nayaxOffRe    = regexp.MustCompile(`^d,STATUS,OFF\b`)
	nayaxInitRe   = regexp.MustCompile(`^d,STATUS,INIT,(\d+)\b`)
	nayaxIdleRe   = regexp.MustCompile(`^d,STATUS,IDLE\b`)
	nayaxCreditRe = regexp.MustCompile(`^d,STATUS,CREDIT,([^,]+),(.+)$`)
	nayaxResultRe = regexp.MustCompile(`^d,STATUS,RESULT,([-\d]+),([^,]+)`)
	nayaxErrRe    = regexp.MustCompile(`^d,ERR,"([-\d]+)"\s*$`)
)

// VmcEventType enumerates the cashless-slave status lines the bridge reacts
// to. The enumeration is closed: anything else on the "c," channel is noise.
type VmcEventType int

const (
	VmcNone VmcEventType = iota
	VmcEnabled
	VmcIdle           // idle, credit cleared
	VmcIdleWithCredit // idle with armed credit
	VmcVendRequest    // VMC asks to vend at Price for Product
	VmcVendSuccess    // mechanical vend completed
	VmcStartRejected  // credit-arm command rejected
)

// VmcEvent is a classified cashless-slave status line.
type VmcEvent struct {
	Type    VmcEventType
	Credit  Amount // VmcIdleWithCredit
	Price   Amount // VmcVendRequest
	Product string // VmcVendRequest, raw VMC product identifier
	ErrCode int    // VmcStartRejected
}

// ClassifyVmc classifies a raw line as a VMC event. The second return is
// false when the line is not a recognized VMC status line.
func ClassifyVmc(raw string) (VmcEvent, bool) {
	if raw == "c,VEND,SUCCESS" {
		return VmcEvent{Type: VmcVendSuccess}, true
	}
	if m := vmcIdleCreditRe.FindStringSubmatch(raw); m != nil {
		credit, err := ParseAmount(m[1])
		if err != nil {
			return VmcEvent{}, false
		}
		return VmcEvent{Type: VmcIdleWithCredit, Credit: credit}, true
	}
	if vmcIdleRe.MatchString(raw) {
		return VmcEvent{Type: VmcIdle}, true
	}
	if vmcEnabledRe.MatchString(raw) {
		return VmcEvent{Type: VmcEnabled}, true
	}
	if m := vmcVendRe.FindStringSubmatch(raw); m != nil {
		price, err := ParseAmount(m[1])
		if err != nil {
			return VmcEvent{}, false
		}
		return VmcEvent{Type: VmcVendRequest, Price: price, Product: m[2]}, true
	}
	if m := vmcStartErrRe.FindStringSubmatch(raw); m != nil {
		code, _ := strconv.Atoi(m[1])
		return VmcEvent{Type: VmcStartRejected, ErrCode: code}, true
	}
	return VmcEvent{}, false
}

// NayaxEventType enumerates the cashless-master status lines.
type NayaxEventType int

const (
	NayaxNone NayaxEventType = iota
	NayaxOff
	NayaxInit      // initialization stage report
	NayaxIdle      // no payment session
	NayaxCredit    // customer presented payment, reader will authorize
	NayaxResult    // terminal response to an authorization request
	NayaxErrorLine // explicit error, also terminal for a pending request
)

// NayaxEvent is a classified cashless-master status line.
type NayaxEvent struct {
	Type    NayaxEventType
	Stage   int    // NayaxInit
	Result  int    // NayaxResult; 1 means approved
	ErrCode string // NayaxErrorLine
}

// ClassifyNayax classifies a raw line as a Nayax event. The second return is
// false when the line is not a recognized Nayax status line.
func ClassifyNayax(raw string) (NayaxEvent, bool) {
	if nayaxIdleRe.MatchString(raw) {
		return NayaxEvent{Type: NayaxIdle}, true
	}
	if nayaxCreditRe.MatchString(raw) {
		return NayaxEvent{Type: NayaxCredit}, true
	}
	if m := nayaxResultRe.FindStringSubmatch(raw); m != nil {
		code, err := strconv.Atoi(m[1])
		if err != nil {
			return NayaxEvent{}, false
		}
		return NayaxEvent{Type: NayaxResult, Result: code}, true
	}
	if m := nayaxErrRe.FindStringSubmatch(raw); m != nil {
		return NayaxEvent{Type: NayaxErrorLine, ErrCode: m[1]}, true
	}
	if m := nayaxInitRe.FindStringSubmatch(raw); m != nil {
		stage, _ := strconv.Atoi(m[1])
		return NayaxEvent{Type: NayaxInit, Stage: stage}, true
	}
	if nayaxOffRe.MatchString(raw) {
		return NayaxEvent{Type: NayaxOff}, true
	}
	return NayaxEvent{}, false
}
