// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/caldesk/caldesk/internal/logging"
	"github.com/caldesk/caldesk/internal/models"
	"github.com/caldesk/caldesk/internal/protocol"
	"github.com/caldesk/caldesk/internal/store"
)

// Notifications returns the caller's active notifications, newest first.
// Dismissed records are excluded.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "user identity required")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	list, err := h.store.ListByUser(r.Context(), uid, limit)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("user_id", uid).Msg("failed to list notifications")
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabaseError, "failed to load notifications")
		return
	}
	respondSuccess(w, r, list)
}

// NotificationCount returns the caller's unread count.
func (h *Handler) NotificationCount(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "user identity required")
		return
	}
	count, err := h.store.UnreadCount(r.Context(), uid)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("user_id", uid).Msg("failed to count unread")
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabaseError, "failed to count notifications")
		return
	}
	respondSuccess(w, r, models.CountResponse{Count: count})
}

// MarkRead marks one notification read and returns the fresh unread count.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.mutateOne(w, r, h.store.MarkRead)
}

// Dismiss hides a notification from future list responses. Dismissing also
// marks it read so the badge and the list stay consistent.
func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	h.mutateOne(w, r, h.store.Dismiss)
}

// ActionTaken records that the user acted on an actionable notification.
func (h *Handler) ActionTaken(w http.ResponseWriter, r *http.Request) {
	h.mutateOne(w, r, h.store.MarkActionTaken)
}

// MarkAllRead marks every unread notification read in one call.
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "user identity required")
		return
	}
	if err := h.store.MarkAllRead(r.Context(), uid); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("user_id", uid).Msg("failed to mark all read")
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabaseError, "failed to update notifications")
		return
	}
	h.respondMutation(w, r, uid)
}

type mutationFunc func(ctx context.Context, userID string, id uuid.UUID) error

func (h *Handler) mutateOne(w http.ResponseWriter, r *http.Request, mutate mutationFunc) {
	uid := userID(r)
	if uid == "" {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "user identity required")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "invalid notification id")
		return
	}

	if err := mutate(r.Context(), uid, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "notification not found")
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).
			Str("user_id", uid).
			Str("notification_id", id.String()).
			Msg("notification mutation failed")
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabaseError, "failed to update notification")
		return
	}
	h.respondMutation(w, r, uid)
}

// respondMutation answers a successful mutation with the authoritative
// unread count and pushes the same count to the user's other tabs.
func (h *Handler) respondMutation(w http.ResponseWriter, r *http.Request, uid string) {
	count, err := h.store.UnreadCount(r.Context(), uid)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("user_id", uid).Msg("failed to count unread after mutation")
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabaseError, "failed to count notifications")
		return
	}
	if h.notifier != nil {
		if err := h.notifier.PushUnreadCount(r.Context(), uid); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Str("user_id", uid).Msg("failed to push unread count")
		}
	}
	respondSuccess(w, r, models.MutationResponse{Success: true, UnreadCount: count})
}

// testNotificationRequest is the optional body of POST /api/notifications/test.
type testNotificationRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// TestNotification creates and pushes a notification to the caller, used to
// verify the end-to-end pipeline from a browser session.
func (h *Handler) TestNotification(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "user identity required")
		return
	}

	req := testNotificationRequest{Title: "Test notification", Message: "The notification pipeline is working."}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "invalid request body")
			return
		}
	}

	n := &models.Notification{
		UserID:   uid,
		Type:     models.TypeSystemNotice,
		Title:    req.Title,
		Message:  req.Message,
		Priority: models.PriorityLow,
	}
	stored, err := h.notifier.Notify(r.Context(), n)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("user_id", uid).Msg("test notification failed")
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to dispatch test notification")
		return
	}
	respondCreated(w, r, stored)
}

// systemBroadcastRequest is the body of POST /api/notifications/system.
type systemBroadcastRequest struct {
	Message string `json:"message"`
}

// SystemBroadcast pushes a system notice to every connected client.
func (h *Handler) SystemBroadcast(w http.ResponseWriter, r *http.Request) {
	var req systemBroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "message is required")
		return
	}
	if err := h.notifier.SystemBroadcast(protocol.SystemNotice{Message: req.Message}); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("system broadcast failed")
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to broadcast")
		return
	}
	respondSuccess(w, r, map[string]bool{"broadcast": true})
}

// clientConfig is served to browsers so transport and reconnect behavior can
// be tuned server-side without a frontend release.
type clientConfig struct {
	PrimaryPath    string  `json:"primaryPath"`
	FallbackPath   string  `json:"fallbackPath"`
	BaseDelayMs    int64   `json:"baseDelayMs"`
	GrowthFactor   float64 `json:"growthFactor"`
	MaxDelayMs     int64   `json:"maxDelayMs"`
	MaxAttempts    int     `json:"maxAttempts"`
	PingIntervalMs int64   `json:"pingIntervalMs"`
}

// ClientConfig returns the websocket transport parameters for this server.
func (h *Handler) ClientConfig(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, clientConfig{
		PrimaryPath:    h.cfg.WebSocket.PrimaryPath,
		FallbackPath:   h.cfg.WebSocket.FallbackPath,
		BaseDelayMs:    h.cfg.Reconnect.BaseDelay.Milliseconds(),
		GrowthFactor:   h.cfg.Reconnect.GrowthFactor,
		MaxDelayMs:     h.cfg.Reconnect.MaxDelay.Milliseconds(),
		MaxAttempts:    h.cfg.Reconnect.MaxAttempts,
		PingIntervalMs: h.cfg.WebSocket.PingPeriod().Milliseconds(),
	})
}
