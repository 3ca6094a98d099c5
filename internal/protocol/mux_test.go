// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package protocol

import (
	"io"
	"testing"

	"github.com/caldesk/caldesk/internal/logging"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

func TestMuxExactThenWildcard(t *testing.T) {
	m := NewMux()
	var order []string

	m.Handle(TypePong, func(Envelope) { order = append(order, "exact") })
	m.Handle(TypeWildcard, func(Envelope) { order = append(order, "wildcard") })

	env, _ := New(TypePong, "", nil)
	m.Dispatch(env)

	if len(order) != 2 || order[0] != "exact" || order[1] != "wildcard" {
		t.Errorf("dispatch order = %v, want [exact wildcard]", order)
	}
}

func TestMuxUnknownTypeReachesOnlyWildcard(t *testing.T) {
	m := NewMux()
	var wildcardSeen Envelope
	exactCalls := 0

	m.Handle(TypeEvent, func(Envelope) { exactCalls++ })
	m.Handle(TypeWildcard, func(env Envelope) { wildcardSeen = env })

	m.DispatchRaw([]byte(`{"type":"hologram","timestamp":7}`))

	if exactCalls != 0 {
		t.Errorf("exact handler fired for unknown type")
	}
	if wildcardSeen.Type != "hologram" {
		t.Errorf("wildcard handler did not receive unknown type, got %q", wildcardSeen.Type)
	}
}

func TestMuxMalformedFallback(t *testing.T) {
	m := NewMux()
	var gotRaw []byte
	var gotErr error
	dispatched := 0

	m.Handle(TypeWildcard, func(Envelope) { dispatched++ })
	m.HandleMalformed(func(raw []byte, err error) {
		gotRaw = raw
		gotErr = err
	})

	m.DispatchRaw([]byte(`{not json`))

	if dispatched != 0 {
		t.Error("malformed input must not be dispatched as an envelope")
	}
	if string(gotRaw) != `{not json` {
		t.Errorf("raw bytes not handed to fallback: %q", gotRaw)
	}
	if gotErr == nil {
		t.Error("fallback should receive the parse error")
	}
}

func TestMuxMalformedWithoutFallbackDoesNotPanic(t *testing.T) {
	m := NewMux()
	m.DispatchRaw([]byte(`garbage`))
}

func TestMuxMultipleListenersSameType(t *testing.T) {
	m := NewMux()
	calls := 0
	m.Handle(TypeSystem, func(Envelope) { calls++ })
	m.Handle(TypeSystem, func(Envelope) { calls++ })

	env, _ := New(TypeSystem, ActionInfo, SystemNotice{Message: "hi"})
	m.Dispatch(env)

	if calls != 2 {
		t.Errorf("expected both listeners to fire, got %d", calls)
	}
}
