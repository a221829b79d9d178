// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package venditt

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// API paths under the device base URL.
const (
	pathLogDeviceEvent = "device/logdeviceevent"
	pathAskForEvent    = "device/askforevent"
)

// EventLogger posts vend audit events. Delivery is best-effort: failures
// are logged and dropped, never retried, and must not influence the vend
// flow that produced them.
type EventLogger struct {
	Client *Client
	Log    *zap.Logger
}

// NewEventLogger wraps a client. A nil logger uses zap.NewNop.
func NewEventLogger(c *Client, log *zap.Logger) *EventLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventLogger{Client: c, Log: log}
}

// LogVendEvent posts one resolved vend. Each call carries a fresh random
// idempotency key so the backend can discard duplicate deliveries.
func (l *EventLogger) LogVendEvent(ctx context.Context, eventType, price string,
	nayaxProduct *byte, reason string, compMode bool) {

	data := map[string]any{
		"price":     price,
		"comp_mode": compMode,
	}
	if nayaxProduct != nil {
		data["nayax_prod"] = int(*nayaxProduct)
	}
	if reason != "" {
		data["reason"] = reason
	}

	payload := map[string]any{
		"type":            eventType,
		"idempotency_key": uuid.NewString(),
		"data":            data,
	}

	status, err := l.Client.Post(ctx, pathLogDeviceEvent, payload)
	if err != nil {
		l.Log.Warn("vend event delivery failed",
			zap.String("type", eventType), zap.Error(err))
		return
	}
	l.Log.Info("vend event logged",
		zap.String("type", eventType), zap.Int("status", status))
}

// AskForEvent posts one heartbeat probe and returns the HTTP status. The
// backend uses the probe to hand pending operator commands to the device.
func (c *Client) AskForEvent(ctx context.Context) (int, error) {
	return c.Post(ctx, pathAskForEvent, map[string]any{})
}
