// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

// Package websocket implements the server side of the duplex channel: the
// connection registry (Hub) indexing live connections by user, and the
// per-connection read/write pumps (Conn).
//
// The registry is a delivery index, not a source of truth. It holds no
// persistence and no send queue beyond each connection's in-memory buffer;
// state is rebuilt as clients reconnect, and anything missed is recovered
// from the durable notification store.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/caldesk/caldesk/internal/logging"
	"github.com/caldesk/caldesk/internal/metrics"
	"github.com/caldesk/caldesk/internal/protocol"
)

// InboundHandler consumes envelopes a connection received from its client,
// after the hub has handled ping and auth internally. The connection's
// associated user id is passed alongside ("" while unauthenticated).
type InboundHandler func(c *Conn, userID string, env protocol.Envelope)

// Hub maintains the set of active connections and fans envelopes out to
// them. A user may hold zero or many concurrent connections (tabs, devices);
// connections without an authenticated user sit in a pending set and receive
// no user-scoped broadcasts.
type Hub struct {
	mu      sync.RWMutex
	byUser  map[string]map[*Conn]struct{}
	pending map[*Conn]struct{}

	Register   chan *Conn
	Unregister chan *Conn

	done   chan struct{}
	closed bool

	inbound InboundHandler
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		byUser:     make(map[string]map[*Conn]struct{}),
		pending:    make(map[*Conn]struct{}),
		Register:   make(chan *Conn),
		Unregister: make(chan *Conn),
		done:       make(chan struct{}),
	}
}

// Done is closed once the hub has stopped processing lifecycle events.
// Connections select on it so a late unregister cannot block forever.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// SetInboundHandler wires the consumer for client-to-server envelopes.
// Must be called before the first connection is registered.
func (h *Hub) SetInboundHandler(fn InboundHandler) {
	h.inbound = fn
}

// RunWithContext processes connection lifecycle events until the context is
// canceled, then closes every connection and returns ctx.Err(). Designed for
// suture supervision.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			logging.Info().
				Str("component", "websocket-hub").
				Msg("websocket hub stopped")
			return ctx.Err()

		case c := <-h.Register:
			h.add(c)

		case c := <-h.Unregister:
			h.remove(c)
		}
	}
}

// add places a connection into the registry. Connections arriving with a
// user id (from the connect-time query parameter) go straight into the
// user's set; the rest wait in pending until an auth envelope arrives.
func (h *Hub) add(c *Conn) {
	h.mu.Lock()
	if uid := c.UserID(); uid != "" {
		h.userSet(uid)[c] = struct{}{}
	} else {
		h.pending[c] = struct{}{}
	}
	total, users := h.sizeLocked()
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	metrics.WSConnectedUsers.Set(float64(users))
	logging.Info().
		Str("user_id", c.UserID()).
		Str("path", c.Path()).
		Int("total_connections", total).
		Msg("websocket client connected")
}

// remove drops a connection from whichever set holds it. Idempotent; no
// error if the connection is already gone.
func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	removed := h.removeLocked(c)
	total, users := h.sizeLocked()
	h.mu.Unlock()

	if !removed {
		return
	}
	metrics.WSConnections.Set(float64(total))
	metrics.WSConnectedUsers.Set(float64(users))
	logging.Info().
		Str("user_id", c.UserID()).
		Int("total_connections", total).
		Msg("websocket client disconnected")
}

// removeLocked unlinks the connection and closes its send channel exactly
// once. Must be called with mu held.
func (h *Hub) removeLocked(c *Conn) bool {
	if _, ok := h.pending[c]; ok {
		delete(h.pending, c)
		c.closeSend()
		return true
	}
	uid := c.UserID()
	if set, ok := h.byUser[uid]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.byUser, uid)
			}
			c.closeSend()
			return true
		}
	}
	return false
}

// Authenticate associates a pending connection with a user after a valid
// auth envelope. A connection already associated keeps its original user.
func (h *Hub) Authenticate(c *Conn, userID string) {
	if userID == "" {
		return
	}
	h.mu.Lock()
	if _, ok := h.pending[c]; ok {
		delete(h.pending, c)
		c.setUserID(userID)
		h.userSet(userID)[c] = struct{}{}
	}
	_, users := h.sizeLocked()
	h.mu.Unlock()

	metrics.WSConnectedUsers.Set(float64(users))
	logging.Debug().Str("user_id", userID).Msg("websocket connection authenticated")
}

// Broadcast serializes the envelope once and attempts delivery on every
// currently open connection of the user. A failed send removes that
// connection from the registry without aborting delivery to its siblings.
func (h *Hub) Broadcast(userID string, env protocol.Envelope) {
	raw, err := env.Encode()
	if err != nil {
		logging.Error().Err(err).Str("type", string(env.Type)).Msg("failed to encode envelope for broadcast")
		return
	}

	h.mu.Lock()
	targets := sortedConnsLocked(h.byUser[userID])
	h.deliverLocked(targets, raw, env)
	h.mu.Unlock()
}

// BroadcastAll delivers the envelope to every connection regardless of user,
// pending ones included. Used for system-wide notices.
func (h *Hub) BroadcastAll(env protocol.Envelope) {
	raw, err := env.Encode()
	if err != nil {
		logging.Error().Err(err).Str("type", string(env.Type)).Msg("failed to encode envelope for broadcast")
		return
	}

	h.mu.Lock()
	var all []*Conn
	for _, set := range h.byUser {
		for c := range set {
			all = append(all, c)
		}
	}
	for c := range h.pending {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].id < all[j].id })
	h.deliverLocked(all, raw, env)
	h.mu.Unlock()
}

// deliverLocked pushes pre-encoded bytes onto each connection's send buffer.
// A full or closed buffer marks the connection dead and prunes it. Must be
// called with mu held.
func (h *Hub) deliverLocked(targets []*Conn, raw []byte, env protocol.Envelope) {
	for _, c := range targets {
		if c.trySend(raw) {
			metrics.WSEnvelopesSent.WithLabelValues(string(env.Type)).Inc()
			continue
		}
		metrics.WSEnvelopesDropped.WithLabelValues(string(env.Type)).Inc()
		metrics.WSSendFailures.Inc()
		h.removeLocked(c)
		logging.Warn().
			Str("user_id", c.UserID()).
			Str("type", string(env.Type)).
			Msg("send buffer full, pruning dead connection")
	}
}

// closeAll closes every connection during shutdown and marks the hub done.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.closed {
		h.closed = true
		close(h.done)
	}
	for _, set := range h.byUser {
		for c := range set {
			c.closeSend()
		}
	}
	for c := range h.pending {
		c.closeSend()
	}
	h.byUser = make(map[string]map[*Conn]struct{})
	h.pending = make(map[*Conn]struct{})
	metrics.WSConnections.Set(0)
	metrics.WSConnectedUsers.Set(0)
}

// ConnectionCount returns the total number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total, _ := h.sizeLocked()
	return total
}

// UserConnectionCount returns the number of open connections for one user.
func (h *Hub) UserConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

func (h *Hub) userSet(userID string) map[*Conn]struct{} {
	set, ok := h.byUser[userID]
	if !ok {
		set = make(map[*Conn]struct{})
		h.byUser[userID] = set
	}
	return set
}

// sizeLocked reports total connections and distinct connected users.
// Must be called with mu held.
func (h *Hub) sizeLocked() (conns, users int) {
	for _, set := range h.byUser {
		conns += len(set)
	}
	return conns + len(h.pending), len(h.byUser)
}

// sortedConnsLocked snapshots a connection set in id order so delivery order
// is deterministic within a single broadcast.
func sortedConnsLocked(set map[*Conn]struct{}) []*Conn {
	conns := make([]*Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].id < conns[j].id })
	return conns
}
