// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package wsclient

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/caldesk/caldesk/internal/config"
	"github.com/caldesk/caldesk/internal/protocol"
)

type fakeWire struct {
	incoming  chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeWire() *fakeWire {
	return &fakeWire{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (w *fakeWire) ReadMessage() (int, []byte, error) {
	select {
	case raw := <-w.incoming:
		return gorillaws.TextMessage, raw, nil
	case <-w.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (w *fakeWire) WriteMessage(_ int, data []byte) error {
	select {
	case <-w.closed:
		return errors.New("use of closed connection")
	default:
	}
	w.mu.Lock()
	w.writes = append(w.writes, append([]byte(nil), data...))
	w.mu.Unlock()
	return nil
}

func (w *fakeWire) SetReadDeadline(time.Time) error  { return nil }
func (w *fakeWire) SetWriteDeadline(time.Time) error { return nil }

func (w *fakeWire) Close() error {
	w.closeOnce.Do(func() { close(w.closed) })
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	failures int // dials to fail before succeeding
	urls     []string
	conns    []*fakeWire
}

func (d *fakeDialer) dial(_ context.Context, url string) (wire, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	w := newFakeWire()
	d.conns = append(d.conns, w)
	return w, nil
}

func (d *fakeDialer) setFailures(n int) {
	d.mu.Lock()
	d.failures = n
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) conn(i int) *fakeWire {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func fastReconnect(maxAttempts int) config.ReconnectConfig {
	return config.ReconnectConfig{
		BaseDelay:    time.Millisecond,
		GrowthFactor: 2.0,
		MaxDelay:     5 * time.Millisecond,
		MaxAttempts:  maxAttempts,
	}
}

func newTestClient(t *testing.T, d *fakeDialer, cfg config.ReconnectConfig) *Client {
	t.Helper()
	neg := newNeg(t, "http://cal.example.com", nil)
	c := NewClient("alice", neg, cfg, 0, d.dial)
	t.Cleanup(c.Disconnect)
	return c
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", desc)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestClientExhaustsAttempts(t *testing.T) {
	d := &fakeDialer{failures: 100}
	c := newTestClient(t, d, fastReconnect(3))

	c.Connect(context.Background())
	if err := c.Wait(); !errors.Is(err, ErrMaxAttempts) {
		t.Fatalf("terminal error %v, want ErrMaxAttempts", err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("state %v after exhaustion, want disconnected", c.State())
	}
	if got := d.dialCount(); got != 3 {
		t.Errorf("dialed %d times, want 3", got)
	}
	// Path fallback: the second attempt must already use the other path.
	if !strings.Contains(d.urls[0], "/api/ws") || !strings.Contains(d.urls[1], "/ws") {
		t.Errorf("attempt urls %v, want primary then fallback", d.urls[:2])
	}
}

func TestClientRetriesFallbackPathImmediately(t *testing.T) {
	d := &fakeDialer{failures: 100}
	cfg := config.ReconnectConfig{
		BaseDelay:    time.Minute, // any backoff wait before the fallback dial stalls the test
		GrowthFactor: 2.0,
		MaxDelay:     time.Hour,
		MaxAttempts:  2,
	}
	c := newTestClient(t, d, cfg)

	start := time.Now()
	c.Connect(context.Background())
	if err := c.Wait(); !errors.Is(err, ErrMaxAttempts) {
		t.Fatalf("terminal error %v, want ErrMaxAttempts", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("fallback dial took %v, want it before any backoff wait", elapsed)
	}
	if got := d.dialCount(); got != 2 {
		t.Fatalf("dialed %d times, want 2", got)
	}
	if !strings.Contains(d.urls[0], "/api/ws") || strings.Contains(d.urls[1], "/api/ws") {
		t.Errorf("attempt urls %v, want primary then fallback", d.urls)
	}
}

func TestClientConnectIsIdempotent(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, d, fastReconnect(3))

	ctx := context.Background()
	c.Connect(ctx)
	c.Connect(ctx)
	c.Connect(ctx)

	waitFor(t, "connection", func() bool { return c.State() == StateConnected })
	time.Sleep(20 * time.Millisecond)
	if got := d.dialCount(); got != 1 {
		t.Errorf("dialed %d times after repeated Connect, want 1", got)
	}
}

func TestClientDisconnectIsIdempotent(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, d, fastReconnect(3))

	c.Connect(context.Background())
	waitFor(t, "connection", func() bool { return c.State() == StateConnected })

	c.Disconnect()
	c.Disconnect()
	if c.State() != StateDisconnected {
		t.Errorf("state %v after disconnect, want disconnected", c.State())
	}
	if err := c.Wait(); err != nil {
		t.Errorf("deliberate disconnect ended with %v, want nil", err)
	}

	// No redial after a deliberate disconnect.
	time.Sleep(20 * time.Millisecond)
	if got := d.dialCount(); got != 1 {
		t.Errorf("dialed %d times, want 1", got)
	}
}

func TestClientDispatchesEnvelopes(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, d, fastReconnect(3))

	var mu sync.Mutex
	var typed, wildcard []protocol.Type
	c.On(protocol.TypeNewNotification, func(env protocol.Envelope) {
		mu.Lock()
		typed = append(typed, env.Type)
		mu.Unlock()
	})
	c.On(protocol.TypeWildcard, func(env protocol.Envelope) {
		mu.Lock()
		wildcard = append(wildcard, env.Type)
		mu.Unlock()
	})

	c.Connect(context.Background())
	waitFor(t, "connection", func() bool { return d.conn(0) != nil })

	env, err := protocol.New(protocol.TypeNewNotification, "", protocol.NewNotificationPayload{UnreadCount: 1})
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := env.Encode()
	d.conn(0).incoming <- raw

	waitFor(t, "dispatch", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(typed) == 1 && len(wildcard) == 1
	})
}

func TestClientRoutesMalformedFrames(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, d, fastReconnect(3))

	var mu sync.Mutex
	var rawFrames [][]byte
	var notifications int
	c.OnMalformed(func(raw []byte, err error) {
		if err == nil {
			t.Error("malformed fallback called with nil error")
		}
		mu.Lock()
		rawFrames = append(rawFrames, raw)
		mu.Unlock()
	})
	c.On(protocol.TypeNewNotification, func(protocol.Envelope) {
		mu.Lock()
		notifications++
		mu.Unlock()
	})

	c.Connect(context.Background())
	waitFor(t, "connection", func() bool { return d.conn(0) != nil })

	d.conn(0).incoming <- []byte(`{"type":`)
	waitFor(t, "malformed fallback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(rawFrames) == 1
	})
	mu.Lock()
	if string(rawFrames[0]) != `{"type":` {
		t.Errorf("fallback got %q, want the raw frame", rawFrames[0])
	}
	mu.Unlock()

	// The connection survives a bad frame; valid envelopes still dispatch.
	env, err := protocol.New(protocol.TypeNewNotification, "", protocol.NewNotificationPayload{UnreadCount: 1})
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := env.Encode()
	d.conn(0).incoming <- raw
	waitFor(t, "dispatch after bad frame", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return notifications == 1
	})
	if c.State() != StateConnected {
		t.Errorf("state %v after bad frame, want connected", c.State())
	}
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, d, fastReconnect(5))

	c.Connect(context.Background())
	waitFor(t, "first connection", func() bool { return d.conn(0) != nil })

	d.conn(0).Close()
	waitFor(t, "redial", func() bool { return d.dialCount() >= 2 && c.State() == StateConnected })
}

func TestWakeVisibleBypassesBackoff(t *testing.T) {
	// Two failures: the free fallback retry burns the second, leaving the
	// client in a one minute backoff wait that only a wake can cut short.
	d := &fakeDialer{failures: 2}
	cfg := config.ReconnectConfig{
		BaseDelay:    time.Minute, // no retry within the test without a wake
		GrowthFactor: 2.0,
		MaxDelay:     time.Hour,
		MaxAttempts:  5,
	}
	c := newTestClient(t, d, cfg)

	c.Connect(context.Background())
	waitFor(t, "both paths to fail", func() bool { return d.dialCount() == 2 })

	c.WakeVisible()
	waitFor(t, "immediate retry", func() bool { return c.State() == StateConnected })
	if got := d.dialCount(); got != 3 {
		t.Errorf("dialed %d times, want 3", got)
	}
}

func TestWakeWhileConnectedDoesNotSkipBackoff(t *testing.T) {
	d := &fakeDialer{}
	cfg := config.ReconnectConfig{
		BaseDelay:    time.Minute,
		GrowthFactor: 2.0,
		MaxDelay:     time.Hour,
		MaxAttempts:  5,
	}
	c := newTestClient(t, d, cfg)

	c.Connect(context.Background())
	waitFor(t, "first connection", func() bool { return c.State() == StateConnected })

	// A visibility wake while the channel is healthy is a no-op; it must
	// not be banked against a future backoff wait.
	c.WakeVisible()
	d.setFailures(100)
	d.conn(0).Close()

	// Redial plus the free fallback retry both fail, then the loop waits.
	waitFor(t, "both redial paths to fail", func() bool { return d.dialCount() == 3 })
	time.Sleep(300 * time.Millisecond)
	if got := d.dialCount(); got != 3 {
		t.Errorf("dialed %d times during backoff wait, want 3", got)
	}
	if c.State() != StateReconnecting {
		t.Errorf("state %v during backoff wait, want reconnecting", c.State())
	}
}

func TestClientSendRequiresConnection(t *testing.T) {
	d := &fakeDialer{}
	c := newTestClient(t, d, fastReconnect(3))

	if err := c.RequestNotifications(10); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("send before connect returned %v, want ErrNotConnected", err)
	}

	c.Connect(context.Background())
	waitFor(t, "connection", func() bool { return c.State() == StateConnected })
	if err := c.RequestNotifications(10); err != nil {
		t.Fatalf("send while connected: %v", err)
	}

	w := d.conn(0)
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.writes) != 1 {
		t.Fatalf("wrote %d frames, want 1", len(w.writes))
	}
	env, err := protocol.Parse(w.writes[0])
	if err != nil {
		t.Fatalf("parse written frame: %v", err)
	}
	if env.Type != protocol.TypeGetNotifications {
		t.Errorf("frame type %q, want get_notifications", env.Type)
	}
}
