// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

// Package wsclient implements the connecting side of the notification
// channel: transport path negotiation, reconnection with exponential
// backoff, and the client-local notification cache that mirrors the server.
package wsclient

import (
	"math"
	"time"

	"github.com/caldesk/caldesk/internal/config"
)

// Backoff computes reconnection delays. Delay grows geometrically with the
// attempt number and is capped at Max.
type Backoff struct {
	Base   time.Duration
	Growth float64
	Max    time.Duration
}

// NewBackoff builds the policy from configuration.
func NewBackoff(cfg config.ReconnectConfig) Backoff {
	return Backoff{Base: cfg.BaseDelay, Growth: cfg.GrowthFactor, Max: cfg.MaxDelay}
}

// Delay returns the wait before reconnect attempt n (0-based). The first
// retry waits Base; each subsequent retry multiplies by Growth up to Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(b.Base) * math.Pow(b.Growth, float64(attempt))
	if d > float64(b.Max) || math.IsInf(d, 1) {
		return b.Max
	}
	return time.Duration(d)
}
