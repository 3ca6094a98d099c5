// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package protocol

import (
	"sync"

	"github.com/caldesk/caldesk/internal/logging"
)

// HandlerFunc consumes an inbound envelope.
type HandlerFunc func(Envelope)

// RawHandlerFunc receives bytes that failed to parse as an envelope, so the
// UI can show them as raw text instead of crashing the channel.
type RawHandlerFunc func(raw []byte, err error)

// Mux dispatches inbound envelopes to registered listeners.
//
// Dispatch order: exact-type listeners first, then listeners registered for
// TypeWildcard, which see every envelope (generic logging, dev consoles).
// Unknown types reach only the wildcard listeners; they are never an error.
type Mux struct {
	mu        sync.RWMutex
	handlers  map[Type][]HandlerFunc
	malformed RawHandlerFunc
}

// NewMux creates an empty dispatcher.
func NewMux() *Mux {
	return &Mux{handlers: make(map[Type][]HandlerFunc)}
}

// Handle registers fn for envelopes of type t. Register TypeWildcard to
// observe every envelope.
func (m *Mux) Handle(t Type, fn HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[t] = append(m.handlers[t], fn)
}

// HandleMalformed registers the fallback for unparseable inbound bytes.
func (m *Mux) HandleMalformed(fn RawHandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.malformed = fn
}

// Dispatch routes a parsed envelope to its listeners.
func (m *Mux) Dispatch(env Envelope) {
	m.mu.RLock()
	exact := m.handlers[env.Type]
	wildcard := m.handlers[TypeWildcard]
	m.mu.RUnlock()

	for _, fn := range exact {
		fn(env)
	}
	for _, fn := range wildcard {
		fn(env)
	}
}

// DispatchRaw parses raw bytes and dispatches the result. Malformed input is
// logged and handed to the malformed handler; it never propagates an error.
func (m *Mux) DispatchRaw(raw []byte) {
	env, err := Parse(raw)
	if err != nil {
		logging.Warn().Err(err).Int("bytes", len(raw)).Msg("unparseable inbound message")
		m.mu.RLock()
		fallback := m.malformed
		m.mu.RUnlock()
		if fallback != nil {
			fallback(raw, err)
		}
		return
	}
	m.Dispatch(env)
}
