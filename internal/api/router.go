// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caldesk/caldesk/internal/config"
)

// NewRouter builds the full HTTP surface: the REST notification API, the
// websocket endpoints on both negotiated paths, health probes, and metrics.
func NewRouter(cfg *config.Config, h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(RequestLogger)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(CORS(cfg.Server))

	// Websocket endpoints sit outside the rate limiter: one long-lived
	// connection, not request traffic. The client tries the primary path
	// first and falls back after repeated failures.
	r.Get(cfg.WebSocket.PrimaryPath, h.WebSocket)
	r.Get(cfg.WebSocket.FallbackPath, h.WebSocket)

	r.Route("/api/health", func(r chi.Router) {
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Route("/api/notifications", func(r chi.Router) {
		r.Use(RateLimit(cfg.Server))

		r.Get("/", h.Notifications)
		r.Get("/count", h.NotificationCount)
		r.Get("/config", h.ClientConfig)
		r.Post("/mark-all-read", h.MarkAllRead)
		r.Post("/test", h.TestNotification)
		r.Post("/system", h.SystemBroadcast)
		r.Patch("/{id}/read", h.MarkRead)
		r.Patch("/{id}/dismiss", h.Dismiss)
		r.Patch("/{id}/action-taken", h.ActionTaken)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
