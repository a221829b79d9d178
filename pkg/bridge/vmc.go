// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"time"

	"github.com/Thermoquad/mdbridge/pkg/qibixx"
	"go.uber.org/zap"
)

// VmcState models the cashless-slave lifecycle as seen from the VMC's
// status broadcasts.
type VmcState int

const (
	SlaveUninitialized VmcState = iota
	SlaveEnabled
	SlaveIdleNoCredit
	SlaveIdleWithCredit
	SlaveVending
)

// String returns the state name for logs and status snapshots.
func (s VmcState) String() string {
	switch s {
	case SlaveEnabled:
		return "ENABLED"
	case SlaveIdleNoCredit:
		return "IDLE_NO_CREDIT"
	case SlaveIdleWithCredit:
		return "IDLE_WITH_CREDIT"
	case SlaveVending:
		return "VENDING"
	default:
		return "UNINITIALIZED"
	}
}

// Vmc tracks the vending machine's cashless-peripheral state. Transitions
// are driven only by classified VMC status lines.
type Vmc struct {
	State  VmcState
	Credit qibixx.Amount
}

// Observe applies one classified status line.
func (v *Vmc) Observe(ev qibixx.VmcEvent) {
	switch ev.Type {
	case qibixx.VmcIdleWithCredit:
		v.State = SlaveIdleWithCredit
		v.Credit = ev.Credit
	case qibixx.VmcIdle:
		v.State = SlaveIdleNoCredit
		v.Credit = 0
	case qibixx.VmcEnabled:
		// ENABLED mid-vend is a status echo, not a session reset.
		if v.State != SlaveVending {
			v.State = SlaveEnabled
			v.Credit = 0
		}
	case qibixx.VmcVendRequest:
		v.State = SlaveVending
	case qibixx.VmcVendSuccess:
		v.State = SlaveEnabled
		v.Credit = 0
	case qibixx.VmcStartRejected:
		// Aborts one arming attempt; overall machine state is unchanged.
	}
}

// HasCredit reports whether the VMC currently holds armed credit.
func (v *Vmc) HasCredit() bool {
	return v.State == SlaveIdleWithCredit
}

// CanArm reports whether a credit-arm command may be issued. Arming is
// valid only from ENABLED or IDLE_NO_CREDIT, never mid-vend.
func (v *Vmc) CanArm() bool {
	return v.State == SlaveEnabled || v.State == SlaveIdleNoCredit
}

// initSlave brings the cashless-slave side up: stop sniffing, disable
// slave mode, settle, enable slave mode, then wait for the VMC to address
// us with an ENABLED status. Failure is fatal; it means the VMC is not
// wired to the peripheral port.
func (b *Bridge) initSlave() error {
	b.send(qibixx.CmdSniff(false))
	b.send(qibixx.CmdSlaveDisable())
	b.sleep(200 * time.Millisecond)

	b.send(qibixx.CmdSlaveEnable())
	b.log.Info("cashless slave enable requested")

	ok := b.waitFor(b.cfg.SlaveEnableTimeout, func(raw string) bool {
		ev, matched := qibixx.ClassifyVmc(raw)
		return matched && ev.Type == qibixx.VmcEnabled
	})
	if !ok {
		return startupErr("VMC never enabled cashless slave; wiring must be VMC -> RIGHT/Peripheral")
	}

	b.vmc.State = SlaveEnabled
	b.log.Info("VMC enabled cashless slave")
	return nil
}

// resetVmcSession drops any local notion of armed credit after a cancelled
// or failed vend. The next status broadcast re-synchronizes the tracker.
func (b *Bridge) resetVmcSession() {
	b.vmc.State = SlaveEnabled
	b.vmc.Credit = 0
	b.armedAt = time.Time{}
}

func (b *Bridge) logVmcState() {
	b.log.Debug("vmc state", zap.String("state", b.vmc.State.String()),
		zap.String("credit", b.vmc.Credit.String()))
}
