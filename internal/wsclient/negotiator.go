// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package wsclient

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/caldesk/caldesk/internal/logging"
)

// Negotiator decides which websocket endpoint to dial. It starts from the
// persisted path when one exists, otherwise the primary, and flips to the
// other path whenever a dial fails. The path that finally connects is
// persisted for the next session.
type Negotiator struct {
	scheme   string // ws or wss, derived from the origin
	host     string
	primary  string
	fallback string
	store    PathStore

	mu      sync.Mutex
	current string
}

// NewNegotiator builds a negotiator for the given HTTP origin
// (e.g. "https://cal.example.com"). A https origin yields wss URLs.
func NewNegotiator(origin, primary, fallback string, store PathStore) (*Negotiator, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin %q: %w", origin, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("origin %q has no host", origin)
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}

	n := &Negotiator{
		scheme:   scheme,
		host:     u.Host,
		primary:  primary,
		fallback: fallback,
		store:    store,
		current:  primary,
	}
	if store != nil {
		if saved := store.Load(); saved == primary || saved == fallback {
			n.current = saved
		}
	}
	return n, nil
}

// URL returns the full endpoint URL for the current path, with the user id
// attached as the connect-time query parameter.
func (n *Negotiator) URL(userID string) string {
	u := url.URL{Scheme: n.scheme, Host: n.host, Path: n.CurrentPath()}
	if userID != "" {
		q := u.Query()
		q.Set("userId", userID)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// CurrentPath returns the path the next dial will use.
func (n *Negotiator) CurrentPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// OnDialError flips to the other path, so the fallback is reached by the
// second attempt at the latest.
func (n *Negotiator) OnDialError() {
	n.mu.Lock()
	defer n.mu.Unlock()
	prev := n.current
	if n.current == n.primary {
		n.current = n.fallback
	} else {
		n.current = n.primary
	}
	logging.Debug().Str("from", prev).Str("to", n.current).Msg("switching websocket path")
}

// OnConnected persists the path that just worked.
func (n *Negotiator) OnConnected() {
	n.mu.Lock()
	path := n.current
	n.mu.Unlock()

	if n.store == nil {
		return
	}
	if err := n.store.Save(path); err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("failed to persist websocket path")
	}
}
