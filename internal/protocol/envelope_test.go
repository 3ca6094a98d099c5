// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package protocol

import (
	"errors"
	"testing"
	"time"
)

func TestNewStampsTimestamp(t *testing.T) {
	before := time.Now().UnixMilli()
	env, err := New(TypeEvent, ActionCreated, EventChange{EventID: "e1", CalendarID: "c1", Title: "Standup"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	after := time.Now().UnixMilli()

	if env.Timestamp < before || env.Timestamp > after {
		t.Errorf("timestamp %d outside construction window [%d, %d]", env.Timestamp, before, after)
	}
	if env.Type != TypeEvent || env.Action != ActionCreated {
		t.Errorf("unexpected type/action: %s/%s", env.Type, env.Action)
	}
}

func TestParseRoundTrip(t *testing.T) {
	env, err := New(TypeAttendee, ActionStatusChange, AttendeeChange{EventID: "e1", Attendee: "bob@example.com", Status: "accepted"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env.SourceUserID = "alice"

	raw, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Type != TypeAttendee || got.Action != ActionStatusChange {
		t.Errorf("type/action lost in round trip: %s/%s", got.Type, got.Action)
	}
	if got.SourceUserID != "alice" {
		t.Errorf("sourceUserId lost: %q", got.SourceUserID)
	}
	if got.Timestamp != env.Timestamp {
		t.Errorf("timestamp changed: %d != %d", got.Timestamp, env.Timestamp)
	}

	var payload AttendeeChange
	if err := got.DecodeData(&payload); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if payload.Status != "accepted" {
		t.Errorf("payload status = %q, want accepted", payload.Status)
	}
}

func TestParseRejectsMissingType(t *testing.T) {
	_, err := Parse([]byte(`{"timestamp": 123}`))
	if !errors.Is(err, ErrMissingType) {
		t.Errorf("expected ErrMissingType, got %v", err)
	}
}

func TestParseToleratesUnknownType(t *testing.T) {
	env, err := Parse([]byte(`{"type":"hologram","timestamp":42,"data":{"x":1}}`))
	if err != nil {
		t.Fatalf("unknown types must parse, got %v", err)
	}
	if env.Type != "hologram" {
		t.Errorf("type = %q", env.Type)
	}
}

func TestParseStampsMissingTimestamp(t *testing.T) {
	env, err := Parse([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if env.Timestamp == 0 {
		t.Error("expected receipt-time stamp for missing timestamp")
	}
}

func TestRTTNonNegative(t *testing.T) {
	env, err := New(TypePing, "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if rtt := RTT(env.Timestamp, time.Now()); rtt < 0 {
		t.Errorf("round-trip latency negative: %v", rtt)
	}
}

func TestDecodePayloadSchema(t *testing.T) {
	cases := []struct {
		name    string
		t       Type
		a       Action
		data    interface{}
		wantErr bool
	}{
		{"event created", TypeEvent, ActionCreated, EventChange{EventID: "e1"}, false},
		{"event deleted", TypeEvent, ActionDeleted, EventChange{EventID: "e1"}, false},
		{"calendar updated", TypeCalendar, ActionUpdated, CalendarChange{CalendarID: "c1"}, false},
		{"attendee status", TypeAttendee, ActionStatusChange, AttendeeChange{Status: "declined"}, false},
		{"resource status", TypeResource, ActionStatusChange, ResourceChange{Status: "confirmed"}, false},
		{"system info", TypeSystem, ActionInfo, SystemNotice{Message: "maintenance at noon"}, false},
		{"auth", TypeAuth, "", AuthPayload{UserID: "u1"}, false},
		{"count", TypeNotificationCount, "", CountPayload{Count: 3}, false},
		{"event with bogus action", TypeEvent, ActionInfo, EventChange{}, true},
		{"attendee without status-change", TypeAttendee, ActionCreated, AttendeeChange{}, true},
		{"unknown type", Type("hologram"), ActionInfo, SystemNotice{}, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			env, err := New(c.t, c.a, c.data)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = DecodePayload(env)
			if (err != nil) != c.wantErr {
				t.Errorf("DecodePayload error = %v, wantErr = %v", err, c.wantErr)
			}
		})
	}
}

func TestDecodePayloadPingHasNoData(t *testing.T) {
	env, err := New(TypePing, "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	payload, err := DecodePayload(env)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload != nil {
		t.Errorf("ping payload should be nil, got %#v", payload)
	}
}
