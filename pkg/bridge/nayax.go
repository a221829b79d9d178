// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"time"

	"github.com/Thermoquad/mdbridge/pkg/qibixx"
)

// Master initialization stage deadlines. Not configurable: exceeding any
// of them means the reader is miswired, and retrying cannot fix wiring.
const (
	nayaxOffTimeout  = 10 * time.Second
	nayaxInitTimeout = 10 * time.Second
	nayaxIdleTimeout = 15 * time.Second
)

// NayaxState models the cashless-master lifecycle toward the payment
// reader.
type NayaxState int

const (
	MasterOff NayaxState = iota
	MasterInitializing
	MasterIdleNoSession
	MasterSessionActive
	MasterAwaitingResult
)

// String returns the state name for logs and status snapshots.
func (s NayaxState) String() string {
	switch s {
	case MasterInitializing:
		return "INITIALIZING"
	case MasterIdleNoSession:
		return "IDLE_NO_SESSION"
	case MasterSessionActive:
		return "SESSION_ACTIVE"
	case MasterAwaitingResult:
		return "AWAITING_RESULT"
	default:
		return "OFF"
	}
}

// Nayax tracks the reader-facing state. Session transitions come from
// status lines; request transitions (BeginRequest/EndRequest) are driven
// by the orchestrator so that exactly one REQ is outstanding at a time.
type Nayax struct {
	State NayaxState
	Stage int // last reported INIT stage
}

// Observe applies one classified status line. While a request is
// outstanding the terminal response is handled by the orchestrator, so
// IDLE/CREDIT chatter does not disturb AWAITING_RESULT.
func (n *Nayax) Observe(ev qibixx.NayaxEvent) {
	switch ev.Type {
	case qibixx.NayaxOff:
		n.State = MasterOff
	case qibixx.NayaxInit:
		n.State = MasterInitializing
		n.Stage = ev.Stage
	case qibixx.NayaxIdle:
		if n.State != MasterAwaitingResult {
			n.State = MasterIdleNoSession
		}
	case qibixx.NayaxCredit:
		if n.State != MasterAwaitingResult {
			n.State = MasterSessionActive
		}
	}
}

// SessionReady reports whether a paying customer has presented payment and
// the reader is willing to authorize.
func (n *Nayax) SessionReady() bool {
	return n.State == MasterSessionActive
}

// BeginRequest marks an authorization request as outstanding. Valid only
// from SESSION_ACTIVE; the caller enforces that.
func (n *Nayax) BeginRequest() {
	n.State = MasterAwaitingResult
}

// EndRequest resolves the outstanding request after the terminal response
// and the end-session command.
func (n *Nayax) EndRequest() {
	n.State = MasterIdleNoSession
}

// initMaster brings the reader from power-up to ready: stop and power off,
// wait for OFF; become master, wait for an INIT stage; enable the reader,
// wait for IDLE. Each stage failure is fatal and aborts startup; these
// indicate hardware or wiring faults, not protocol noise.
func (b *Bridge) initMaster() error {
	b.send(qibixx.CmdMasterStop())
	b.send(qibixx.CmdMasterOff())
	if !b.waitForNayax(nayaxOffTimeout, qibixx.NayaxOff) {
		return startupErr("Nayax master never reached d,STATUS,OFF; wiring must be Nayax -> LEFT/VMC")
	}

	b.send(qibixx.CmdMasterInit())
	if !b.waitForNayax(nayaxInitTimeout, qibixx.NayaxInit) {
		return startupErr("Nayax master never reached d,STATUS,INIT")
	}

	b.send(qibixx.CmdReaderEnable())
	if !b.waitForNayax(nayaxIdleTimeout, qibixx.NayaxIdle) {
		return startupErr("Nayax master never reached d,STATUS,IDLE")
	}

	b.nayax.State = MasterIdleNoSession
	b.log.Info("Nayax master ready")
	return nil
}

func (b *Bridge) waitForNayax(timeout time.Duration, want qibixx.NayaxEventType) bool {
	return b.waitFor(timeout, func(raw string) bool {
		ev, ok := qibixx.ClassifyNayax(raw)
		return ok && ev.Type == want
	})
}
