// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package wsclient

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/caldesk/caldesk/internal/config"
	"github.com/caldesk/caldesk/internal/logging"
	"github.com/caldesk/caldesk/internal/protocol"
)

// State is the client connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// ErrMaxAttempts is the terminal error after the configured number of
// consecutive failed dials.
var ErrMaxAttempts = errors.New("wsclient: reconnect attempts exhausted")

// wire is the subset of the websocket connection the client uses. Gorilla's
// *websocket.Conn satisfies it; tests substitute fakes.
type wire interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc establishes one websocket connection to url.
type DialFunc func(ctx context.Context, url string) (wire, error)

// GorillaDialer returns a DialFunc backed by gorilla/websocket, sending the
// given Origin header on the handshake.
func GorillaDialer(origin string, handshakeTimeout time.Duration) DialFunc {
	return func(ctx context.Context, url string) (wire, error) {
		dialer := gorillaws.Dialer{
			HandshakeTimeout:  handshakeTimeout,
			EnableCompression: true,
		}
		header := http.Header{}
		if origin != "" {
			header.Set("Origin", origin)
		}
		conn, resp, err := dialer.DialContext(ctx, url, header)
		if resp != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Client maintains one logical connection to the notification channel,
// redialing with exponential backoff when it drops. Connect and Disconnect
// are idempotent; WakeVisible short-circuits a pending backoff wait, the
// hook a browser wires to its visibility event.
type Client struct {
	userID       string
	neg          *Negotiator
	backoff      Backoff
	maxAttempts  int
	pingInterval time.Duration
	dial         DialFunc
	mux          *protocol.Mux

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	termErr error

	state   atomic.Int32
	wake    chan struct{}
	lastRTT atomic.Int64

	connMu sync.Mutex
	conn   wire
}

// NewClient builds a client for one user. Handlers are registered on the
// returned client before Connect.
func NewClient(userID string, neg *Negotiator, cfg config.ReconnectConfig, pingInterval time.Duration, dial DialFunc) *Client {
	c := &Client{
		userID:       userID,
		neg:          neg,
		backoff:      NewBackoff(cfg),
		maxAttempts:  cfg.MaxAttempts,
		pingInterval: pingInterval,
		dial:         dial,
		mux:          protocol.NewMux(),
		wake:         make(chan struct{}, 1),
	}
	c.mux.Handle(protocol.TypePong, func(env protocol.Envelope) {
		if rtt := protocol.RTT(env.Timestamp, time.Now()); rtt >= 0 {
			c.lastRTT.Store(int64(rtt))
		}
	})
	return c
}

// On registers a handler for an envelope type. The wildcard type receives
// every envelope.
func (c *Client) On(t protocol.Type, fn protocol.HandlerFunc) {
	c.mux.Handle(t, fn)
}

// OnMalformed registers the fallback for server frames that fail to parse.
// The UI renders the raw bytes as text; the channel itself stays up.
func (c *Client) OnMalformed(fn protocol.RawHandlerFunc) {
	c.mux.HandleMalformed(fn)
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// LastRTT returns the most recent ping round trip, or zero before the
// first pong.
func (c *Client) LastRTT() time.Duration {
	return time.Duration(c.lastRTT.Load())
}

// Connect starts the connection loop. Calling it while already running is
// a no-op.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.termErr = nil
	go c.run(runCtx)
}

// Disconnect stops the loop and waits for it to exit. Safe to call at any
// time, any number of times.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
}

// Wait blocks until the loop exits and returns its terminal error:
// ErrMaxAttempts when retries were exhausted, nil on deliberate disconnect.
func (c *Client) Wait() error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.termErr
}

// WakeVisible skips a pending backoff wait so the next attempt happens
// immediately. Harmless when connected or stopped.
func (c *Client) WakeVisible() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) finish(err error) {
	c.mu.Lock()
	c.running = false
	c.termErr = err
	done := c.done
	c.mu.Unlock()

	c.state.Store(int32(StateDisconnected))
	close(done)
}

func (c *Client) run(ctx context.Context) {
	attempt := 0
	for {
		if attempt == 0 {
			c.state.Store(int32(StateConnecting))
		} else {
			c.state.Store(int32(StateReconnecting))
		}

		url := c.neg.URL(c.userID)
		conn, err := c.dial(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				c.finish(nil)
				return
			}
			c.neg.OnDialError()
			attempt++
			logging.Warn().Err(err).
				Str("url", url).
				Int("attempt", attempt).
				Msg("websocket dial failed")
			if c.maxAttempts > 0 && attempt >= c.maxAttempts {
				c.finish(ErrMaxAttempts)
				return
			}

			// The first failure flips the negotiator's path; that one free
			// retry dials the other endpoint immediately. The backoff
			// schedule starts only once both paths have failed.
			if attempt == 1 {
				logging.Debug().Str("path", c.neg.CurrentPath()).Msg("retrying immediately on switched path")
				continue
			}

			select {
			case <-ctx.Done():
				c.finish(nil)
				return
			case <-time.After(c.backoff.Delay(attempt - 2)):
			case <-c.wake:
				logging.Debug().Msg("visibility wake, retrying immediately")
			}
			continue
		}

		c.neg.OnConnected()
		attempt = 0
		// Discard any wake token posted while a connection was live so it
		// cannot skip a real backoff wait after a later drop.
		select {
		case <-c.wake:
		default:
		}
		c.state.Store(int32(StateConnected))
		c.setConn(conn)
		logging.Info().Str("path", c.neg.CurrentPath()).Msg("websocket connected")

		c.serve(ctx, conn)
		c.setConn(nil)
		conn.Close()

		if ctx.Err() != nil {
			c.finish(nil)
			return
		}
		// A wake posted while the connection was live is stale by the time
		// it drops. Clear it so it cannot skip the first backoff wait.
		select {
		case <-c.wake:
		default:
		}
		logging.Info().Msg("websocket connection lost, reconnecting")
	}
}

// serve reads envelopes until the connection breaks or the context ends,
// pinging on the configured interval.
func (c *Client) serve(ctx context.Context, conn wire) {
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go c.pingLoop(pingCtx, conn)
	go func() {
		// Closing the connection is the only way to unblock a pending read.
		<-pingCtx.Done()
		conn.Close()
	}()

	for {
		var deadline time.Time
		if c.pingInterval > 0 {
			// Three missed ping intervals means the link is dead.
			deadline = time.Now().Add(c.pingInterval * 3)
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !gorillaws.IsCloseError(err, gorillaws.CloseNormalClosure, gorillaws.CloseGoingAway) {
				logging.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		c.handleRaw(raw)
	}
}

func (c *Client) handleRaw(raw []byte) {
	// The mux owns parse failures: it hands undecodable bytes to the
	// OnMalformed fallback instead of surfacing an error. Pong latency is
	// tracked by the handler registered in NewClient.
	c.mux.DispatchRaw(raw)
}

func (c *Client) pingLoop(ctx context.Context, conn wire) {
	if c.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping := protocol.Envelope{Type: protocol.TypePing, Timestamp: protocol.NowMillis()}
			raw, err := ping.Encode()
			if err != nil {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				return
			}
			if err := conn.WriteMessage(gorillaws.TextMessage, raw); err != nil {
				return
			}
		}
	}
}

func (c *Client) setConn(conn wire) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

// ErrNotConnected is returned by Send while no connection is live.
var ErrNotConnected = errors.New("wsclient: not connected")

// Send encodes and writes an envelope on the live connection.
func (c *Client) Send(env protocol.Envelope) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return conn.WriteMessage(gorillaws.TextMessage, raw)
}

// RequestNotifications asks the server for the authoritative list over the
// socket. The reply arrives as notifications and notification_count
// envelopes on the registered handlers.
func (c *Client) RequestNotifications(limit int) error {
	env, err := protocol.New(protocol.TypeGetNotifications, "", protocol.GetNotificationsPayload{
		UserID: c.userID,
		Limit:  limit,
	})
	if err != nil {
		return err
	}
	return c.Send(env)
}
