// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"
	"time"

	"github.com/Thermoquad/mdbridge/pkg/qibixx"
	"go.uber.org/zap"
)

// Audit event types.
const (
	EventApproved = "nayax_payment.approved"
	EventDenied   = "nayax_payment.denied"
)

// Denial reasons. Dynamic reasons (reader result codes and error codes) are
// built with reasonNayaxDenied and reasonNayaxErr.
const (
	ReasonPriceExceedsCredit = "price_exceeds_armed_credit"
	ReasonNoCreditSession    = "no_nayax_credit_session"
	ReasonNayaxTimeout       = "nayax_timeout"
	ReasonVendTimeout        = "vend_timeout"
	ReasonSuperseded         = "superseded"
)

func reasonNayaxDenied(result int) string {
	return fmt.Sprintf("nayax_denied_res_%d", result)
}

func reasonNayaxErr(code string) string {
	return fmt.Sprintf("nayax_err_%s", code)
}

// PendingVend is the one in-flight vend attempt. The bridge holds at most
// one; a new request supersedes the old one.
type PendingVend struct {
	Price        qibixx.Amount
	VmcProduct   string // raw product identifier from the VMC
	NayaxProduct byte   // mod-256 code sent to the reader
	CompMode     bool

	CreatedAt    time.Time
	AuthDeadline time.Time // zero until a REQ is outstanding
	VendDeadline time.Time // zero until the vend is approved

	AwaitingAuth bool // REQ sent, terminal response not yet seen
	Requested    bool // a REQ was sent at some point for this vend
}

// handleVendRequest runs when the VMC announces c,STATUS,VEND. It either
// approves the vend (comp mode) or forwards an authorization request to the
// reader, and denies immediately when neither path is viable.
func (b *Bridge) handleVendRequest(ev qibixx.VmcEvent) {
	if b.pending != nil {
		b.resolveSuperseded()
	}

	pv := &PendingVend{
		Price:        ev.Price,
		VmcProduct:   ev.Product,
		NayaxProduct: qibixx.ProductCode(ev.Product),
		CompMode:     b.comp.Active,
		CreatedAt:    b.now(),
	}
	b.pending = pv

	b.log.Info("vend requested",
		zap.String("price", pv.Price.String()),
		zap.String("product", pv.VmcProduct))

	// The VMC must never vend above what was armed. A request over the cap
	// means the machine and the bridge disagree about the session; cancel
	// and resynchronize.
	if ceiling := b.currentArmAmount(); pv.Price > ceiling {
		b.log.Warn("vend price exceeds armed credit",
			zap.String("price", pv.Price.String()),
			zap.String("armed", ceiling.String()))
		b.send(qibixx.CmdVendStop())
		b.emitDenied(pv, ReasonPriceExceedsCredit)
		b.pending = nil
		b.resetVmcSession()
		return
	}

	if pv.CompMode {
		pv.VendDeadline = b.now().Add(b.cfg.VendTimeout)
		b.log.Info("comp vend approved", zap.String("price", pv.Price.String()))
		b.send(qibixx.CmdApproveVend(pv.Price))
		return
	}

	if !b.nayax.SessionReady() && !b.awaitSession() {
		b.log.Warn("vend without Nayax credit session")
		b.send(qibixx.CmdVendStop())
		b.emitDenied(pv, ReasonNoCreditSession)
		b.pending = nil
		b.resetVmcSession()
		return
	}

	pv.AwaitingAuth = true
	pv.Requested = true
	pv.AuthDeadline = b.now().Add(b.cfg.AuthTimeout)
	pv.VendDeadline = b.now().Add(b.cfg.VendTimeout)
	b.nayax.BeginRequest()
	b.send(qibixx.CmdAuthRequest(pv.Price, pv.NayaxProduct))
	b.log.Info("authorization requested",
		zap.String("price", pv.Price.String()),
		zap.Uint8("product", pv.NayaxProduct))
}

// awaitSession gives the reader a short grace period to report an open
// payment session after a vend request arrived. Covers the race where the
// customer taps and presses the button before the CREDIT line is processed.
func (b *Bridge) awaitSession() bool {
	deadline := b.now().Add(b.cfg.CreditWait)
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
		if b.nayax.SessionReady() {
			return true
		}
	}
	return false
}

// handleAuthResult runs on the terminal reader response to an outstanding
// authorization request. Result 1 approves the vend toward the VMC; any
// other result or an explicit error line denies it. Either way the reader
// session ends here.
func (b *Bridge) handleAuthResult(ev qibixx.NayaxEvent) {
	pv := b.pending

	if ev.Type == qibixx.NayaxResult && ev.Result == 1 {
		pv.AwaitingAuth = false
		pv.AuthDeadline = time.Time{}
		b.log.Info("authorization approved", zap.String("price", pv.Price.String()))
		b.send(qibixx.CmdApproveVend(pv.Price))
	} else {
		reason := ReasonNayaxTimeout
		switch ev.Type {
		case qibixx.NayaxResult:
			reason = reasonNayaxDenied(ev.Result)
		case qibixx.NayaxErrorLine:
			reason = reasonNayaxErr(ev.ErrCode)
		}
		b.log.Warn("authorization denied",
			zap.String("price", pv.Price.String()),
			zap.String("reason", reason))
		b.send(qibixx.CmdVendStop())
		b.emitDenied(pv, reason)
		b.pending = nil
		b.resetVmcSession()
	}

	b.send(qibixx.CmdSessionEnd())
	b.nayax.EndRequest()
	b.vmc.Credit = 0
}

// handleVendSuccess runs on c,VEND,SUCCESS: the machine physically
// dispensed. This is the only place an approved audit event is emitted.
func (b *Bridge) handleVendSuccess() {
	pv := b.pending
	if pv == nil {
		b.log.Warn("vend success without pending vend")
		return
	}

	b.log.Info("vend completed",
		zap.String("price", pv.Price.String()),
		zap.String("product", pv.VmcProduct),
		zap.Bool("comp", pv.CompMode))
	b.emit(VendEvent{
		Type:         EventApproved,
		Price:        pv.Price,
		NayaxProduct: nayaxProductOf(pv),
		CompMode:     pv.CompMode,
	})
	b.pending = nil
	b.armedAt = time.Time{}

	if pv.CompMode && b.comp.OneShot {
		b.comp.Active = false
		b.log.Info("one-shot comp mode consumed")
	}
}

// checkWatchdogs expires the pending vend when the reader never answers the
// authorization request or the machine never finishes an approved vend.
// Each pending vend is expired at most once; expiry clears it.
func (b *Bridge) checkWatchdogs() {
	pv := b.pending
	if pv == nil {
		return
	}
	now := b.now()

	if pv.AwaitingAuth && !pv.AuthDeadline.IsZero() && now.After(pv.AuthDeadline) {
		b.log.Warn("authorization timed out", zap.String("price", pv.Price.String()))
		b.expire(pv, ReasonNayaxTimeout)
		return
	}
	if !pv.VendDeadline.IsZero() && now.After(pv.VendDeadline) {
		b.log.Warn("vend timed out", zap.String("price", pv.Price.String()))
		b.expire(pv, ReasonVendTimeout)
	}
}

// expire cancels the pending vend on both sides and records the denial.
func (b *Bridge) expire(pv *PendingVend, reason string) {
	b.send(qibixx.CmdVendStop())
	b.send(qibixx.CmdSessionEnd())
	if pv.AwaitingAuth {
		b.nayax.EndRequest()
	}
	b.emitDenied(pv, reason)
	b.pending = nil
	b.resetVmcSession()
}

// resolveSuperseded closes out the previous pending vend when a new vend
// request arrives before the old one resolved. The old reader session is
// ended; the VMC side is not cancelled because the new request already
// replaced it there.
func (b *Bridge) resolveSuperseded() {
	pv := b.pending
	b.log.Warn("vend superseded by new request",
		zap.String("price", pv.Price.String()),
		zap.String("product", pv.VmcProduct))
	if pv.AwaitingAuth {
		b.send(qibixx.CmdSessionEnd())
		b.nayax.EndRequest()
	}
	b.emitDenied(pv, ReasonSuperseded)
	b.pending = nil
}

func (b *Bridge) emitDenied(pv *PendingVend, reason string) {
	b.emit(VendEvent{
		Type:         EventDenied,
		Price:        pv.Price,
		NayaxProduct: nayaxProductOf(pv),
		Reason:       reason,
		CompMode:     pv.CompMode,
	})
}

// nayaxProductOf reports the reader-facing product code, but only when the
// reader actually saw a request for this vend.
func nayaxProductOf(pv *PendingVend) *byte {
	if !pv.Requested || pv.CompMode {
		return nil
	}
	p := pv.NayaxProduct
	return &p
}

// Snapshot is the read-only view published for the status API and monitor.
type Snapshot struct {
	VmcState   string        `json:"vmc_state"`
	VmcCredit  qibixx.Amount `json:"vmc_credit"`
	NayaxState string        `json:"nayax_state"`

	CompActive bool          `json:"comp_active"`
	CompCredit qibixx.Amount `json:"comp_credit,omitempty"`

	VendPending  bool          `json:"vend_pending"`
	PendingPrice qibixx.Amount `json:"pending_price,omitempty"`

	LinesRead uint64 `json:"lines_read"`
	Approved  uint64 `json:"approved"`
	Denied    uint64 `json:"denied"`
}

// StatusSnapshot returns the latest published snapshot. Safe to call from
// any goroutine.
func (b *Bridge) StatusSnapshot() Snapshot {
	return *b.snapshot.Load()
}

func (b *Bridge) publishSnapshot() {
	s := Snapshot{
		VmcState:   b.vmc.State.String(),
		VmcCredit:  b.vmc.Credit,
		NayaxState: b.nayax.State.String(),
		CompActive: b.comp.Active,
		LinesRead:  b.linesRead,
		Approved:   b.approved,
		Denied:     b.denied,
	}
	if b.comp.Active {
		s.CompCredit = b.comp.Credit
	}
	if b.pending != nil {
		s.VendPending = true
		s.PendingPrice = b.pending.Price
	}
	b.snapshot.Store(&s)
}
