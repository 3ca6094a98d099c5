// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

// Package metrics provides Prometheus instrumentation for the notification
// pipeline: connection registry population, envelope delivery, dispatcher
// latency, and the optional NATS bridge.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection registry
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "caldesk_ws_connections",
			Help: "Current number of open WebSocket connections",
		},
	)

	WSConnectedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "caldesk_ws_connected_users",
			Help: "Current number of users with at least one open connection",
		},
	)

	WSEnvelopesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caldesk_ws_envelopes_sent_total",
			Help: "Total envelopes delivered to connections",
		},
		[]string{"type"},
	)

	WSEnvelopesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caldesk_ws_envelopes_dropped_total",
			Help: "Total envelopes dropped because a connection's send buffer was full or closed",
		},
		[]string{"type"},
	)

	WSSendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "caldesk_ws_send_failures_total",
			Help: "Total failed socket writes; each one removes the connection from the registry",
		},
	)

	// Dispatcher
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caldesk_notifications_dispatched_total",
			Help: "Total durable notifications created by the dispatcher",
		},
		[]string{"type"},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "caldesk_dispatch_duration_seconds",
			Help:    "Time from domain event to broadcast, persistence included",
			Buckets: prometheus.DefBuckets,
		},
	)

	DispatchPersistErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "caldesk_dispatch_persist_errors_total",
			Help: "Total notification persistence failures (fatal to the triggering operation)",
		},
	)

	// NATS bridge
	NATSPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "caldesk_nats_published_total",
			Help: "Total envelopes published to the cross-process bridge",
		},
	)

	NATSConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "caldesk_nats_consumed_total",
			Help: "Total envelopes consumed from the cross-process bridge",
		},
	)
)

// ObserveDispatch records the latency of one dispatcher round-trip. The
// dispatched counter is incremented by the dispatcher itself.
func ObserveDispatch(start time.Time) {
	DispatchDuration.Observe(time.Since(start).Seconds())
}
