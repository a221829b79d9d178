// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/mdbridge/pkg/bridge"
	"github.com/Thermoquad/mdbridge/pkg/config"
	"github.com/Thermoquad/mdbridge/pkg/journal"
	"github.com/Thermoquad/mdbridge/pkg/venditt"
)

// auditSink fans resolved vend events out to the local journal and the
// Venditt API. Delivery runs on its own goroutine so the control loop never
// blocks on a database write or a slow network; the buffer absorbs bursts
// and overflow is dropped with a warning, never back-pressured.
type auditSink struct {
	events *venditt.EventLogger // nil when the API is unconfigured
	store  *journal.Store       // nil when the journal is disabled
	log    *zap.Logger

	ch   chan bridge.VendEvent
	done chan struct{}
}

func newAuditSink(cfg *config.Config, log *zap.Logger) *auditSink {
	s := &auditSink{
		log:  log,
		ch:   make(chan bridge.VendEvent, 64),
		done: make(chan struct{}),
	}

	if cfg.APIBase != "" {
		deviceID, secret, err := venditt.DeviceCredentials()
		if err != nil {
			log.Warn("audit API disabled", zap.Error(err))
		} else {
			client := venditt.NewClient(cfg.APIBase, deviceID, secret)
			s.events = venditt.NewEventLogger(client, log)
		}
	} else {
		log.Warn("audit API disabled: API_BASE not configured")
	}

	if cfg.JournalPath != "" {
		store, err := journal.Open(cfg.JournalPath)
		if err != nil {
			log.Warn("journal disabled", zap.Error(err))
		} else {
			s.store = store
		}
	}

	go s.deliver()
	return s
}

// LogVendEvent queues one event for delivery. Never blocks.
func (s *auditSink) LogVendEvent(ev bridge.VendEvent) {
	select {
	case s.ch <- ev:
	default:
		s.log.Warn("audit queue full, event dropped", zap.String("type", ev.Type))
	}
}

func (s *auditSink) deliver() {
	defer close(s.done)
	for ev := range s.ch {
		if s.store != nil {
			rec := &journal.VendRecord{
				EventType: ev.Type,
				Price:     ev.Price.String(),
				Reason:    ev.Reason,
				CompMode:  ev.CompMode,
			}
			if ev.NayaxProduct != nil {
				p := int(*ev.NayaxProduct)
				rec.Product = &p
			}
			if err := s.store.Record(rec); err != nil {
				s.log.Warn("journal write failed", zap.Error(err))
			}
		}

		if s.events != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			s.events.LogVendEvent(ctx, ev.Type, ev.Price.String(),
				ev.NayaxProduct, ev.Reason, ev.CompMode)
			cancel()
		}
	}
}

// close drains queued events, then releases the journal.
func (s *auditSink) close() {
	close(s.ch)
	<-s.done
	if s.store != nil {
		_ = s.store.Close()
	}
}
