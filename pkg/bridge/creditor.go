// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"time"

	"github.com/Thermoquad/mdbridge/pkg/qibixx"
	"go.uber.org/zap"
)

// Credit arming parameters. The VMC intermittently rejects C,START while it
// finishes its own housekeeping, so arming is retried with a short backoff
// rather than treated as fatal.
const (
	armAttempts = 12
	armWindow   = 900 * time.Millisecond
	armBackoff  = 400 * time.Millisecond
)

// maybeArm keeps credit armed on the VMC whenever a vend could legitimately
// start: comp mode active, or a Nayax payment session open. Called once per
// loop iteration; a no-op in every other state.
func (b *Bridge) maybeArm() {
	if b.pending != nil || b.vmc.State == SlaveVending {
		return
	}

	// Armed credit decays on the VMC side without notice. Past the TTL the
	// local tracker is reset so the next pass re-arms fresh.
	if b.vmc.HasCredit() && !b.armedAt.IsZero() &&
		b.now().Sub(b.armedAt) > b.cfg.CreditTTL {
		b.log.Info("armed credit stale, re-arming",
			zap.String("credit", b.vmc.Credit.String()))
		b.vmc.State = SlaveIdleNoCredit
		b.vmc.Credit = 0
	}

	if !b.vmc.CanArm() {
		return
	}
	if !b.comp.Active && !b.nayax.SessionReady() {
		return
	}

	amount := b.currentArmAmount()
	if amount <= 0 {
		return
	}
	b.armCredit(amount)
}

// currentArmAmount is the credit ceiling to arm: the comp grant when comp
// mode is active, the configured maximum otherwise.
func (b *Bridge) currentArmAmount() qibixx.Amount {
	if b.comp.Active {
		return b.comp.Credit
	}
	return b.cfg.MaxCredit
}

// armCredit issues C,START and watches for the VMC to report idle with the
// exact armed amount. Each attempt gets a short observation window; an
// explicit START rejection ends the window early and the attempt backs off
// before retrying. Returns true once the credit is confirmed armed.
func (b *Bridge) armCredit(amount qibixx.Amount) bool {
	for attempt := 1; attempt <= armAttempts; attempt++ {
		b.send(qibixx.CmdArmCredit(amount))

		deadline := b.now().Add(armWindow)
		for b.now().Before(deadline) {
			raw, err := b.t.ReadLine()
			if err != nil {
				b.log.Debug("read error", zap.Error(err))
				continue
			}
			if raw == "" {
				continue
			}
			b.linesRead++
			b.trace(raw)
			b.observe(raw)

			if b.vmc.HasCredit() && b.vmc.Credit == amount {
				b.armedAt = b.now()
				b.log.Info("credit armed",
					zap.String("amount", amount.String()),
					zap.Int("attempt", attempt))
				return true
			}
			if ev, ok := qibixx.ClassifyVmc(raw); ok && ev.Type == qibixx.VmcStartRejected {
				b.log.Debug("arm rejected",
					zap.Int("code", ev.ErrCode),
					zap.Int("attempt", attempt))
				break
			}
		}

		if attempt < armAttempts {
			b.sleep(armBackoff)
		}
	}

	b.log.Warn("credit arming failed", zap.String("amount", amount.String()),
		zap.Int("attempts", armAttempts))
	return false
}
