// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"

	"github.com/caldesk/caldesk/internal/config"
	"github.com/caldesk/caldesk/internal/logging"
	"github.com/caldesk/caldesk/internal/models"
	"github.com/caldesk/caldesk/internal/protocol"
	"github.com/caldesk/caldesk/internal/websocket"
)

// Store is the notification persistence surface the handlers need.
type Store interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID string, id uuid.UUID) error
	MarkAllRead(ctx context.Context, userID string) error
	Dismiss(ctx context.Context, userID string, id uuid.UUID) error
	MarkActionTaken(ctx context.Context, userID string, id uuid.UUID) error
	Ping(ctx context.Context) error
}

// Notifier is the dispatch surface the handlers need.
type Notifier interface {
	Notify(ctx context.Context, n *models.Notification) (*models.Notification, error)
	PushUnreadCount(ctx context.Context, userID string) error
	SystemBroadcast(notice protocol.SystemNotice) error
}

// Handler holds the dependencies shared by all HTTP handlers.
type Handler struct {
	cfg      *config.Config
	store    Store
	notifier Notifier
	hub      *websocket.Hub
}

// NewHandler wires the handler and installs the hub's inbound envelope
// handler so socket requests are answered over the same connection.
func NewHandler(cfg *config.Config, store Store, notifier Notifier, hub *websocket.Hub) *Handler {
	h := &Handler{cfg: cfg, store: store, notifier: notifier, hub: hub}
	if hub != nil {
		hub.SetInboundHandler(h.handleEnvelope)
	}
	return h
}

// userID resolves the acting user from the X-User-ID header or the userId
// query parameter. Authentication proper is terminated upstream; this
// service trusts the gateway-injected identity.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("userId")
}

// WebSocket upgrades the connection and registers it with the hub. Served
// on both the primary and fallback paths; which one the client landed on is
// recorded for observability.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "websocket service unavailable")
		return
	}

	upgrader := gorillaws.Upgrader{
		ReadBufferSize:   h.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:  h.cfg.WebSocket.WriteBufferSize,
		HandshakeTimeout: h.cfg.WebSocket.HandshakeTimeout,
		CheckOrigin:      h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := websocket.NewConn(h.hub, conn, userID(r), r.URL.Path, h.cfg.WebSocket)
	h.hub.Register <- c
	c.Start()
}

// checkOrigin validates the Origin header against the configured CORS
// origins. Browser sockets always carry Origin; an empty header is rejected.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("websocket rejected: missing Origin header")
		return false
	}
	for _, allowed := range h.cfg.Server.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("websocket rejected: origin not allowed")
	return false
}

// handleEnvelope answers client envelopes that arrive over the socket.
// Ping and auth are consumed by the connection itself before this point.
func (h *Handler) handleEnvelope(c *websocket.Conn, uid string, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeGetNotifications:
		if uid == "" {
			return
		}
		var p protocol.GetNotificationsPayload
		if len(env.Data) > 0 {
			if err := env.DecodeData(&p); err != nil {
				logging.Warn().Err(err).Msg("invalid get_notifications payload")
				return
			}
		}
		ctx := context.Background()
		list, err := h.store.ListByUser(ctx, uid, p.Limit)
		if err != nil {
			logging.Error().Err(err).Str("user_id", uid).Msg("failed to list notifications for socket request")
			return
		}
		reply, err := protocol.New(protocol.TypeNotifications, "", protocol.NotificationsPayload{Notifications: list})
		if err != nil {
			logging.Error().Err(err).Msg("failed to encode notifications reply")
			return
		}
		c.Send(reply)
		if count, err := h.store.UnreadCount(ctx, uid); err == nil {
			if env, err := protocol.New(protocol.TypeNotificationCount, "", protocol.CountPayload{Count: count}); err == nil {
				c.Send(env)
			}
		}

	case protocol.TypeJoin:
		var p protocol.JoinPayload
		if err := env.DecodeData(&p); err != nil {
			logging.Warn().Err(err).Msg("invalid join payload")
			return
		}
		if ack, err := protocol.New(protocol.TypeSystem, protocol.ActionInfo, protocol.SystemNotice{
			Message: p.Username + " joined",
		}); err == nil {
			// Every tab of the joining user shows the notice, not just the
			// socket that sent it.
			if uid != "" {
				h.hub.Broadcast(uid, ack)
			} else {
				c.Send(ack)
			}
		}

	case protocol.TypeChat:
		var p protocol.ChatPayload
		if err := env.DecodeData(&p); err != nil {
			logging.Warn().Err(err).Msg("invalid chat payload")
			return
		}
		out := env
		out.SourceUserID = uid
		if uid == "" {
			c.Send(out)
			return
		}
		h.hub.Broadcast(uid, out)

	default:
		logging.Debug().Str("type", string(env.Type)).Msg("unhandled envelope type, ignoring")
	}
}
