// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge implements the MDB cashless translation engine.
//
// The bridge impersonates a cashless-slave peripheral toward the vending
// machine controller (VMC) and drives the Nayax payment reader as a
// cashless master, translating vend requests on one side into
// authorization requests on the other. Both roles share one MDB-HAT
// serial line, so a single control loop owns the transport: it feeds both
// protocol trackers, runs the vend orchestration, and services watchdog
// deadlines on every iteration.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/mdbridge/pkg/qibixx"
	"go.uber.org/zap"
)

// ErrStartup marks fatal initialization faults: a device that never reaches
// its expected ready status indicates a wiring or role misconfiguration,
// not a transient fault, so the process must not enter the main loop.
var ErrStartup = errors.New("startup fault")

// Transport is the line-level view of the shared serial (or WebSocket)
// connection. ReadLine returns "" when the poll interval elapses without a
// complete line; it must never block indefinitely, so watchdog checks and
// re-arming keep a steady cadence even on a silent bus.
type Transport interface {
	ReadLine() (string, error)
	WriteLine(cmd string) error
}

// VendEvent is the audit record for one resolved vend attempt.
type VendEvent struct {
	Type         string // EventApproved or EventDenied
	Price        qibixx.Amount
	NayaxProduct *byte  // set when the reader was involved
	Reason       string // denial reason, empty for approvals
	CompMode     bool
}

// EventSink receives resolved vend events. Implementations must not block:
// audit delivery is fire-and-forget relative to protocol progress and its
// outcome must never feed back into the state machine.
type EventSink interface {
	LogVendEvent(ev VendEvent)
}

// Config carries the operational parameters the loop consumes.
type Config struct {
	MaxCredit   qibixx.Amount // armed credit ceiling in normal mode
	CompCredit  qibixx.Amount // operator-granted free credit
	CompEnabled bool
	CompOneShot bool // disable comp mode after first successful vend

	AuthTimeout time.Duration // REQ to RESULT/ERR deadline
	VendTimeout time.Duration // approval to c,VEND,SUCCESS deadline
	CreditWait  time.Duration // bounded wait for a Nayax session on vend
	CreditTTL   time.Duration // armed credit older than this is stale

	SlaveEnableTimeout time.Duration // wait for c,STATUS,ENABLED at startup
}

func (c *Config) applyDefaults() {
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 15 * time.Second
	}
	if c.VendTimeout <= 0 {
		c.VendTimeout = 25 * time.Second
	}
	if c.CreditWait <= 0 {
		c.CreditWait = 6 * time.Second
	}
	if c.CreditTTL <= 0 {
		c.CreditTTL = 5 * time.Minute
	}
	if c.SlaveEnableTimeout <= 0 {
		c.SlaveEnableTimeout = 30 * time.Second
	}
}

// CompPolicy is the comp-mode state. Mutated only by the control loop.
type CompPolicy struct {
	Credit  qibixx.Amount
	OneShot bool
	Active  bool
}

// Bridge is the translation engine. All fields are owned by the single
// control loop; the only cross-goroutine surface is the published snapshot.
type Bridge struct {
	cfg    Config
	t      Transport
	log    *zap.Logger
	events EventSink

	// Injected for tests; real clock and sleeper in production.
	now   func() time.Time
	sleep func(time.Duration)

	vmc     Vmc
	nayax   Nayax
	comp    CompPolicy
	pending *PendingVend
	armedAt time.Time

	linesRead uint64
	approved  uint64
	denied    uint64

	snapshot atomic.Pointer[Snapshot]
}

// New creates a bridge over the given transport. A nil sink disables audit
// logging; a nil logger uses zap.NewNop.
func New(cfg Config, t Transport, events EventSink, log *zap.Logger) *Bridge {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bridge{
		cfg:    cfg,
		t:      t,
		log:    log,
		events: events,
		now:    time.Now,
		sleep:  time.Sleep,
		comp: CompPolicy{
			Credit:  cfg.CompCredit,
			OneShot: cfg.CompOneShot,
			Active:  cfg.CompEnabled,
		},
	}
	b.publishSnapshot()
	return b
}

// Run initializes both protocol sides and drives the control loop until the
// context is cancelled. Initialization failures are returned wrapped in
// ErrStartup. The caller owns cleanup: Cleanup must run on every exit path.
func (b *Bridge) Run(ctx context.Context) error {
	// Clean slate: a previous run may have left a session open.
	b.Cleanup()

	if err := b.initSlave(); err != nil {
		return err
	}
	if err := b.initMaster(); err != nil {
		return err
	}

	if b.comp.Active {
		mode := "persistent"
		if b.comp.OneShot {
			mode = "one-shot"
		}
		b.log.Info("comp mode on",
			zap.String("credit", b.comp.Credit.String()),
			zap.String("mode", mode))
	}

	for {
		select {
		case <-ctx.Done():
			b.log.Info("stop requested")
			return nil
		default:
		}

		raw, err := b.t.ReadLine()
		if err != nil {
			b.log.Debug("read error", zap.Error(err))
		}

		if raw != "" {
			b.linesRead++
			b.trace(raw)
			b.dispatch(raw)
		}

		// Deadlines are serviced every iteration so a silent transport
		// still makes forward progress on expiry.
		b.checkWatchdogs()
		b.maybeArm()
		b.publishSnapshot()
	}
}

// Cleanup issues the best-effort shutdown sequence: cancel any vend, end
// any authorization session, stop the master role, and let the line drain.
// Safe to call at any time and on every exit path.
func (b *Bridge) Cleanup() {
	b.send(qibixx.CmdVendStop())
	b.send(qibixx.CmdSessionEnd())
	b.send(qibixx.CmdMasterStop())
	b.sleep(200 * time.Millisecond)
}

// dispatch routes one received line to the owning tracker and, for the
// orchestration-relevant events, into the vend state machine.
func (b *Bridge) dispatch(raw string) {
	line := qibixx.Parse(raw)
	if line == nil {
		return
	}

	switch line.Source {
	case qibixx.SourceNayax:
		ev, ok := qibixx.ClassifyNayax(raw)
		if !ok {
			return
		}
		b.nayax.Observe(ev)
		if (ev.Type == qibixx.NayaxResult || ev.Type == qibixx.NayaxErrorLine) &&
			b.pending != nil && b.pending.AwaitingAuth {
			b.handleAuthResult(ev)
		}

	case qibixx.SourceVMC:
		ev, ok := qibixx.ClassifyVmc(raw)
		if !ok {
			return
		}
		b.vmc.Observe(ev)
		switch ev.Type {
		case qibixx.VmcVendSuccess:
			b.handleVendSuccess()
		case qibixx.VmcVendRequest:
			b.handleVendRequest(ev)
		}
	}
}

// observe updates both protocol trackers from a line consumed inside a
// bounded wait (init, arming, session wait) without triggering
// orchestration. The VMC cannot issue a vend request without armed credit,
// so no vend request can be lost here.
func (b *Bridge) observe(raw string) {
	if ev, ok := qibixx.ClassifyVmc(raw); ok {
		b.vmc.Observe(ev)
		return
	}
	if ev, ok := qibixx.ClassifyNayax(raw); ok {
		b.nayax.Observe(ev)
	}
}

// waitFor reads lines until match succeeds or the timeout elapses, keeping
// both trackers current. Returns false on timeout.
func (b *Bridge) waitFor(timeout time.Duration, match func(raw string) bool) bool {
	deadline := b.now().Add(timeout)
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
		if match(raw) {
			return true
		}
	}
	return false
}

// send writes one command. Write faults are logged and the command is
// abandoned; the transport retries internally and the watchdog cleans up
// any vend stalled by a lost command.
func (b *Bridge) send(cmd string) {
	b.log.Debug("send", zap.String("cmd", cmd))
	if err := b.t.WriteLine(cmd); err != nil {
		b.log.Error("write failed", zap.String("cmd", cmd), zap.Error(err))
	}
}

func (b *Bridge) trace(raw string) {
	b.log.Debug("recv", zap.String("line", raw))
}

func (b *Bridge) emit(ev VendEvent) {
	if ev.Type == EventApproved {
		b.approved++
	} else {
		b.denied++
	}
	if b.events != nil {
		b.events.LogVendEvent(ev)
	}
}

// startupErr builds a fatal initialization error.
func startupErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrStartup, fmt.Sprintf(format, args...))
}
