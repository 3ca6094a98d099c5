// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package api

import (
	"net/http"

	"github.com/caldesk/caldesk/internal/logging"
)

// HealthLive reports process liveness. It answers as long as the HTTP
// server is serving.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, map[string]string{"status": "alive"})
}

// HealthReady reports readiness: the database must answer and the hub must
// be running before the server should receive traffic.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed: database")
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "database unavailable")
		return
	}
	if h.hub == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "websocket hub unavailable")
		return
	}
	respondSuccess(w, r, map[string]interface{}{
		"status":      "ready",
		"connections": h.hub.ConnectionCount(),
	})
}
