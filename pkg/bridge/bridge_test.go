// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/mdbridge/pkg/qibixx"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

// scriptTransport feeds a fixed sequence of incoming lines and records every
// written command. Each read advances the fake clock so that bounded waits
// and watchdog deadlines make progress; an empty script entry models a poll
// interval with no traffic. When the script runs out the context is
// cancelled so Run returns.
type scriptTransport struct {
	lines  []string
	step   time.Duration
	clock  *fakeClock
	sent   []string
	cancel context.CancelFunc
}

func (s *scriptTransport) ReadLine() (string, error) {
	s.clock.Advance(s.step)
	if len(s.lines) == 0 {
		if s.cancel != nil {
			s.cancel()
		}
		return "", nil
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptTransport) WriteLine(cmd string) error {
	s.sent = append(s.sent, cmd)
	return nil
}

func (s *scriptTransport) sentSubsequence(want ...string) bool {
	i := 0
	for _, cmd := range s.sent {
		if i < len(want) && cmd == want[i] {
			i++
		}
	}
	return i == len(want)
}

type recordSink struct {
	events []VendEvent
}

func (r *recordSink) LogVendEvent(ev VendEvent) {
	r.events = append(r.events, ev)
}

func newTestBridge(t *testing.T, cfg Config) (*Bridge, *scriptTransport, *recordSink, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	tr := &scriptTransport{step: 50 * time.Millisecond, clock: clock}
	sink := &recordSink{}
	b := New(cfg, tr, sink, nil)
	b.now = clock.Now
	b.sleep = clock.Advance
	return b, tr, sink, clock
}

func TestRunHappyPathVend(t *testing.T) {
	b, tr, sink, _ := newTestBridge(t, Config{MaxCredit: 1000})
	ctx, cancel := context.WithCancel(context.Background())
	tr.cancel = cancel
	tr.lines = []string{
		// startup
		"c,STATUS,ENABLED",
		"d,STATUS,OFF",
		"d,STATUS,INIT,1",
		"d,STATUS,IDLE",
		// customer taps; credit is armed on the next pass
		"d,STATUS,CREDIT,10.00,card",
		"c,STATUS,IDLE,10.00",
		// customer presses the button, reader approves, machine vends
		"c,STATUS,VEND,1.50,7",
		"d,STATUS,RESULT,1,0",
		"c,VEND,SUCCESS",
	}

	if err := b.Run(ctx); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	wantSent := []string{
		"C,1",          // enable slave
		"D,2",          // become master
		"D,READER,1",   // enable reader
		"C,START,10.00", // arm credit on session
		"D,REQ,1.50,7", // forward authorization
		"C,VEND,1.50",  // approve vend
		"D,END",        // end reader session
	}
	if !tr.sentSubsequence(wantSent...) {
		t.Fatalf("sent commands %v missing subsequence %v", tr.sent, wantSent)
	}

	if len(sink.events) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(sink.events), sink.events)
	}
	ev := sink.events[0]
	if ev.Type != EventApproved {
		t.Errorf("event type = %q, want %q", ev.Type, EventApproved)
	}
	if ev.Price != 150 {
		t.Errorf("event price = %d, want 150", ev.Price)
	}
	if ev.NayaxProduct == nil || *ev.NayaxProduct != 7 {
		t.Errorf("event product = %v, want 7", ev.NayaxProduct)
	}
	if ev.CompMode {
		t.Error("event marked comp for a paid vend")
	}
}

func TestVendRequestWithoutSession(t *testing.T) {
	b, tr, sink, _ := newTestBridge(t, Config{MaxCredit: 1000, CreditWait: time.Second})
	b.vmc.State = SlaveIdleWithCredit
	b.vmc.Credit = 1000
	b.nayax.State = MasterIdleNoSession

	b.handleVendRequest(qibixx.VmcEvent{
		Type: qibixx.VmcVendRequest, Price: 150, Product: "7",
	})

	if !tr.sentSubsequence("C,STOP") {
		t.Fatalf("sent %v, want C,STOP", tr.sent)
	}
	for _, cmd := range tr.sent {
		if strings.HasPrefix(cmd, "D,REQ") {
			t.Fatalf("authorization forwarded without a session: %v", tr.sent)
		}
	}
	if len(sink.events) != 1 || sink.events[0].Reason != ReasonNoCreditSession {
		t.Fatalf("events = %+v, want one %s denial", sink.events, ReasonNoCreditSession)
	}
	if sink.events[0].NayaxProduct != nil {
		t.Error("denial without a request carries a reader product code")
	}
	if b.pending != nil {
		t.Error("pending vend survived denial")
	}
}

func TestVendRequestExceedsArmedCredit(t *testing.T) {
	b, tr, sink, _ := newTestBridge(t, Config{MaxCredit: 1000})
	b.vmc.State = SlaveIdleWithCredit
	b.vmc.Credit = 1000
	b.nayax.State = MasterSessionActive

	b.handleVendRequest(qibixx.VmcEvent{
		Type: qibixx.VmcVendRequest, Price: 1500, Product: "3",
	})

	if !tr.sentSubsequence("C,STOP") {
		t.Fatalf("sent %v, want C,STOP", tr.sent)
	}
	for _, cmd := range tr.sent {
		if strings.HasPrefix(cmd, "D,REQ") {
			t.Fatalf("over-cap vend reached the reader: %v", tr.sent)
		}
	}
	if len(sink.events) != 1 || sink.events[0].Reason != ReasonPriceExceedsCredit {
		t.Fatalf("events = %+v, want one %s denial", sink.events, ReasonPriceExceedsCredit)
	}
	if b.vmc.State != SlaveEnabled {
		t.Errorf("vmc state = %v, want reset to ENABLED", b.vmc.State)
	}
}

func TestCompVendOneShot(t *testing.T) {
	b, tr, sink, _ := newTestBridge(t, Config{
		MaxCredit:   1000,
		CompCredit:  25,
		CompEnabled: true,
		CompOneShot: true,
	})
	b.vmc.State = SlaveIdleWithCredit
	b.vmc.Credit = 25

	b.handleVendRequest(qibixx.VmcEvent{
		Type: qibixx.VmcVendRequest, Price: 25, Product: "12",
	})
	if !tr.sentSubsequence("C,VEND,0.25") {
		t.Fatalf("sent %v, want comp approval C,VEND,0.25", tr.sent)
	}
	for _, cmd := range tr.sent {
		if strings.HasPrefix(cmd, "D,") {
			t.Fatalf("comp vend touched the reader: %v", tr.sent)
		}
	}

	b.handleVendSuccess()

	if len(sink.events) != 1 {
		t.Fatalf("got %d events, want 1", len(sink.events))
	}
	ev := sink.events[0]
	if ev.Type != EventApproved || !ev.CompMode {
		t.Errorf("event = %+v, want approved comp vend", ev)
	}
	if ev.NayaxProduct != nil {
		t.Error("comp vend carries a reader product code")
	}
	if b.comp.Active {
		t.Error("one-shot comp mode still active after vend")
	}
}

func TestCompVendOverGrantDenied(t *testing.T) {
	b, tr, sink, _ := newTestBridge(t, Config{
		MaxCredit:   1000,
		CompCredit:  25,
		CompEnabled: true,
	})
	b.vmc.State = SlaveIdleWithCredit
	b.vmc.Credit = 25

	b.handleVendRequest(qibixx.VmcEvent{
		Type: qibixx.VmcVendRequest, Price: 150, Product: "3",
	})

	if !tr.sentSubsequence("C,STOP") {
		t.Fatalf("sent %v, want C,STOP", tr.sent)
	}
	for _, cmd := range tr.sent {
		if strings.HasPrefix(cmd, "D,") {
			t.Fatalf("comp-cap denial touched the reader: %v", tr.sent)
		}
	}
	if len(sink.events) != 1 || sink.events[0].Reason != ReasonPriceExceedsCredit {
		t.Fatalf("events = %+v, want one %s denial", sink.events, ReasonPriceExceedsCredit)
	}
	// The comp grant set the cap, so the denial must be attributed to it.
	if !sink.events[0].CompMode {
		t.Error("comp-cap denial not marked comp")
	}
	if !b.comp.Active {
		t.Error("comp mode deactivated by a denial")
	}
}

func TestAuthResultDenied(t *testing.T) {
	tests := []struct {
		name   string
		ev     qibixx.NayaxEvent
		reason string
	}{
		{
			name:   "negative result",
			ev:     qibixx.NayaxEvent{Type: qibixx.NayaxResult, Result: -2},
			reason: "nayax_denied_res_-2",
		},
		{
			name:   "error line",
			ev:     qibixx.NayaxEvent{Type: qibixx.NayaxErrorLine, ErrCode: "-105"},
			reason: "nayax_err_-105",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, tr, sink, _ := newTestBridge(t, Config{MaxCredit: 1000})
			b.vmc.State = SlaveIdleWithCredit
			b.vmc.Credit = 1000
			b.nayax.State = MasterSessionActive
			b.handleVendRequest(qibixx.VmcEvent{
				Type: qibixx.VmcVendRequest, Price: 150, Product: "7",
			})

			b.handleAuthResult(tt.ev)

			if !tr.sentSubsequence("D,REQ,1.50,7", "C,STOP", "D,END") {
				t.Fatalf("sent %v, want REQ then STOP then END", tr.sent)
			}
			if len(sink.events) != 1 || sink.events[0].Reason != tt.reason {
				t.Fatalf("events = %+v, want one %s denial", sink.events, tt.reason)
			}
			if p := sink.events[0].NayaxProduct; p == nil || *p != 7 {
				t.Errorf("denial product = %v, want 7", p)
			}
			if b.pending != nil {
				t.Error("pending vend survived denial")
			}
			if b.nayax.State != MasterIdleNoSession {
				t.Errorf("nayax state = %v, want IDLE_NO_SESSION", b.nayax.State)
			}
		})
	}
}

func TestAuthTimeoutWatchdog(t *testing.T) {
	b, tr, sink, clock := newTestBridge(t, Config{
		MaxCredit:   1000,
		AuthTimeout: 15 * time.Second,
	})
	b.vmc.State = SlaveIdleWithCredit
	b.vmc.Credit = 1000
	b.nayax.State = MasterSessionActive
	b.handleVendRequest(qibixx.VmcEvent{
		Type: qibixx.VmcVendRequest, Price: 150, Product: "7",
	})

	// Just inside the deadline nothing fires.
	clock.Advance(15 * time.Second)
	b.checkWatchdogs()
	if len(sink.events) != 0 {
		t.Fatalf("watchdog fired before deadline: %+v", sink.events)
	}

	clock.Advance(time.Second)
	b.checkWatchdogs()
	b.checkWatchdogs() // second pass must be a no-op

	if len(sink.events) != 1 || sink.events[0].Reason != ReasonNayaxTimeout {
		t.Fatalf("events = %+v, want one %s denial", sink.events, ReasonNayaxTimeout)
	}
	if !tr.sentSubsequence("C,STOP", "D,END") {
		t.Fatalf("sent %v, want STOP and END", tr.sent)
	}
	if b.pending != nil {
		t.Error("pending vend survived expiry")
	}
}

func TestVendTimeoutAfterApproval(t *testing.T) {
	b, _, sink, clock := newTestBridge(t, Config{
		MaxCredit:   1000,
		VendTimeout: 25 * time.Second,
	})
	b.vmc.State = SlaveIdleWithCredit
	b.vmc.Credit = 1000
	b.nayax.State = MasterSessionActive
	b.handleVendRequest(qibixx.VmcEvent{
		Type: qibixx.VmcVendRequest, Price: 150, Product: "7",
	})
	b.handleAuthResult(qibixx.NayaxEvent{Type: qibixx.NayaxResult, Result: 1})

	clock.Advance(26 * time.Second)
	b.checkWatchdogs()

	// The reader approved but the machine never dispensed, so the audit
	// trail records a denial: money may move only on physical delivery.
	if len(sink.events) != 1 || sink.events[0].Reason != ReasonVendTimeout {
		t.Fatalf("events = %+v, want one %s denial", sink.events, ReasonVendTimeout)
	}
	if sink.events[0].Type != EventDenied {
		t.Errorf("event type = %q, want %q", sink.events[0].Type, EventDenied)
	}
}

func TestSecondVendSupersedesFirst(t *testing.T) {
	b, tr, sink, _ := newTestBridge(t, Config{MaxCredit: 1000})
	b.vmc.State = SlaveIdleWithCredit
	b.vmc.Credit = 1000
	b.nayax.State = MasterSessionActive
	b.handleVendRequest(qibixx.VmcEvent{
		Type: qibixx.VmcVendRequest, Price: 150, Product: "7",
	})

	// Superseding ends the old reader session, so the second vend finds a
	// fresh tap during its session wait.
	tr.lines = []string{"d,STATUS,CREDIT,2.00,card"}
	b.handleVendRequest(qibixx.VmcEvent{
		Type: qibixx.VmcVendRequest, Price: 200, Product: "9",
	})

	if len(sink.events) != 1 || sink.events[0].Reason != ReasonSuperseded {
		t.Fatalf("events = %+v, want one %s denial", sink.events, ReasonSuperseded)
	}
	if sink.events[0].Price != 150 {
		t.Errorf("superseded price = %d, want 150", sink.events[0].Price)
	}
	if b.pending == nil || b.pending.Price != 200 {
		t.Fatalf("pending = %+v, want the new 2.00 vend", b.pending)
	}
	if !tr.sentSubsequence("D,REQ,1.50,7", "D,END", "D,REQ,2.00,9") {
		t.Fatalf("sent %v, want old session ended before new request", tr.sent)
	}
	for _, cmd := range tr.sent {
		if cmd == "C,STOP" {
			t.Fatalf("superseding cancelled the live VMC vend: %v", tr.sent)
		}
	}
}

func TestVendSuccessWithoutPending(t *testing.T) {
	b, _, sink, _ := newTestBridge(t, Config{MaxCredit: 1000})
	b.handleVendSuccess()
	if len(sink.events) != 0 {
		t.Fatalf("unexpected events: %+v", sink.events)
	}
}
