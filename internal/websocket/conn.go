// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/caldesk/caldesk/internal/config"
	"github.com/caldesk/caldesk/internal/logging"
	"github.com/caldesk/caldesk/internal/protocol"
)

// connIDCounter assigns monotonically increasing connection ids, giving the
// hub a stable sort key for deterministic delivery order.
var connIDCounter atomic.Uint64

// Conn is a single registered duplex connection: the middleman between one
// websocket and the hub. It is owned by the hub for its lifetime and removed
// on close or error; reconnecting is entirely the client's responsibility.
type Conn struct {
	id  uint64
	hub *Hub
	ws  *websocket.Conn

	sendMu     sync.Mutex
	send       chan []byte
	sendClosed bool

	userMu sync.RWMutex
	userID string

	path       string
	lastActive atomic.Int64

	limiter *rate.Limiter
	cfg     config.WebSocketConfig
}

// NewConn wraps an upgraded websocket. userID may be empty when the client
// did not pass the connect-time query parameter; the connection then stays
// pending until an auth envelope arrives. path records which endpoint path
// (primary or fallback) the client dialed, for observability.
func NewConn(hub *Hub, ws *websocket.Conn, userID, path string, cfg config.WebSocketConfig) *Conn {
	c := &Conn{
		id:     connIDCounter.Add(1),
		hub:    hub,
		ws:     ws,
		send:   make(chan []byte, cfg.SendBuffer),
		userID: userID,
		path:   path,
		cfg:    cfg,
	}
	if cfg.InboundRate > 0 {
		burst := cfg.InboundBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.InboundRate), burst)
	}
	c.lastActive.Store(time.Now().UnixMilli())
	return c
}

// UserID returns the user associated with the connection, or "" while
// unauthenticated.
func (c *Conn) UserID() string {
	c.userMu.RLock()
	defer c.userMu.RUnlock()
	return c.userID
}

func (c *Conn) setUserID(userID string) {
	c.userMu.Lock()
	c.userID = userID
	c.userMu.Unlock()
}

// Path returns the endpoint path the client connected on.
func (c *Conn) Path() string {
	return c.path
}

// LastActive returns the time of the last inbound frame.
func (c *Conn) LastActive() time.Time {
	return time.UnixMilli(c.lastActive.Load())
}

// trySend queues pre-encoded bytes without blocking. Returns false when the
// buffer is full or the channel is closed; the hub treats that as death.
func (c *Conn) trySend(raw []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- raw:
		return true
	default:
		return false
	}
}

// Send encodes and queues a single envelope for this connection only.
// Used for direct replies (pong, notification lists) outside fan-out.
func (c *Conn) Send(env protocol.Envelope) bool {
	raw, err := env.Encode()
	if err != nil {
		logging.Error().Err(err).Str("type", string(env.Type)).Msg("failed to encode envelope")
		return false
	}
	return c.trySend(raw)
}

// closeSend closes the send channel exactly once, which terminates the
// write pump.
func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

// Start begins the read and write pumps.
func (c *Conn) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump pumps inbound frames from the websocket into the hub until the
// connection dies, then unregisters itself.
func (c *Conn) readPump() {
	defer func() {
		// After shutdown nothing drains Unregister; the hub already closed
		// every connection in closeAll, so just let go.
		select {
		case c.hub.Unregister <- c:
		case <-c.hub.Done():
		}
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn().Err(err).Str("user_id", c.UserID()).Msg("unexpected websocket close")
			}
			return
		}
		c.lastActive.Store(time.Now().UnixMilli())

		if c.limiter != nil && !c.limiter.Allow() {
			logging.Warn().Str("user_id", c.UserID()).Msg("inbound rate exceeded, dropping message")
			continue
		}

		c.handleInbound(raw)
	}
}

// handleInbound parses one client frame and routes it. Parse failures are
// logged and skipped; they never close the channel.
func (c *Conn) handleInbound(raw []byte) {
	env, err := protocol.Parse(raw)
	if err != nil {
		logging.Warn().Err(err).Int("bytes", len(raw)).Msg("malformed inbound envelope")
		return
	}

	switch env.Type {
	case protocol.TypePing:
		// Echo the client's timestamp so it can compute round-trip latency.
		pong := protocol.Envelope{
			Type:      protocol.TypePong,
			Timestamp: env.Timestamp,
		}
		c.Send(pong)

	case protocol.TypeAuth:
		var auth protocol.AuthPayload
		if err := env.DecodeData(&auth); err != nil {
			logging.Warn().Err(err).Msg("invalid auth payload")
			return
		}
		c.hub.Authenticate(c, auth.UserID)

	default:
		if c.hub.inbound != nil {
			c.hub.inbound(c, c.UserID(), env)
		}
	}
}

// writePump pumps queued bytes to the websocket and keeps the connection
// alive with periodic pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// Hub closed the channel.
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				logging.Warn().Err(err).Str("user_id", c.UserID()).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
