// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

// Package protocol defines the wire format exchanged over the duplex channel:
// typed, timestamped envelopes with a tagged-union payload keyed by
// (type, action).
//
// Invariants:
//   - Every envelope carries a type and a producer-assigned timestamp
//     (epoch milliseconds, set at construction time so ordering reflects
//     creation, not network delay).
//   - Consumers ignore unknown types instead of failing; unknown
//     (type, action) payload combinations are rejected by DecodePayload so
//     nothing travels through untyped.
//
// Event-change notifications always use Type "event" with an Action of
// created/updated/deleted and an EventChange payload. This is the single
// canonical shape; no legacy "event_changed" variant is emitted.
package protocol

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/caldesk/caldesk/internal/models"
)

// Type identifies the kind of envelope on the wire.
type Type string

// Envelope types. Inbound (client to server): auth, get_notifications, ping,
// join, chat. Outbound (server to client): the rest. TypeWildcard is never
// sent; it registers a listener for every envelope.
const (
	TypeNotification      Type = "notification"
	TypeNewNotification   Type = "new_notification"
	TypeNotifications     Type = "notifications"
	TypeNotificationCount Type = "notification_count"
	TypePing              Type = "ping"
	TypePong              Type = "pong"
	TypeAuth              Type = "auth"
	TypeGetNotifications  Type = "get_notifications"
	TypeEvent             Type = "event"
	TypeCalendar          Type = "calendar"
	TypeSystem            Type = "system"
	TypeResource          Type = "resource"
	TypeAttendee          Type = "attendee"
	TypeEmail             Type = "email"
	TypeJoin              Type = "join"
	TypeChat              Type = "chat"
	TypeWildcard          Type = "*"
)

// Action qualifies what happened; its meaning depends on the envelope type.
type Action string

const (
	ActionCreated      Action = "created"
	ActionUpdated      Action = "updated"
	ActionDeleted      Action = "deleted"
	ActionStatusChange Action = "status-change"
	ActionError        Action = "error"
	ActionInfo         Action = "info"
)

// Envelope is the wire unit exchanged over the duplex channel.
type Envelope struct {
	Type         Type            `json:"type"`
	Action       Action          `json:"action,omitempty"`
	Timestamp    int64           `json:"timestamp"`
	Data         json.RawMessage `json:"data,omitempty"`
	SourceUserID string          `json:"sourceUserId,omitempty"`
}

// ErrMissingType is returned by Parse for envelopes without a type.
var ErrMissingType = fmt.Errorf("envelope missing type")

// NowMillis returns the current time as epoch milliseconds, the envelope
// timestamp resolution.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// New constructs an envelope of the given type and action, marshaling the
// payload and stamping the current time.
func New(t Type, action Action, data interface{}) (Envelope, error) {
	env := Envelope{
		Type:      t,
		Action:    action,
		Timestamp: NowMillis(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Data = raw
	}
	return env, nil
}

// Parse decodes raw bytes into an envelope. It only enforces the structural
// invariant (a type is present); unknown types are passed through for the
// consumer to ignore.
func Parse(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	if env.Timestamp == 0 {
		// Tolerate producers that omit the timestamp rather than reject;
		// stamping on receipt keeps ordering usable downstream.
		env.Timestamp = NowMillis()
	}
	return env, nil
}

// Encode marshals the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeData unmarshals the opaque payload into v.
func (e Envelope) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("envelope %s has no data", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// RTT computes the round-trip latency of a ping/pong exchange given the
// timestamp the ping was created with.
func RTT(pingTimestamp int64, now time.Time) time.Duration {
	return time.Duration(now.UnixMilli()-pingTimestamp) * time.Millisecond
}

// AuthPayload associates a connection with a user.
type AuthPayload struct {
	UserID string `json:"userId"`
}

// GetNotificationsPayload requests the caller's notification list over the
// socket instead of REST. Limit 0 means the server default.
type GetNotificationsPayload struct {
	UserID string `json:"userId"`
	Limit  int    `json:"limit,omitempty"`
}

// JoinPayload and ChatPayload back the dev console's demo channel.
type JoinPayload struct {
	Username string `json:"username"`
}

// ChatPayload carries a demo chat line.
type ChatPayload struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// NewNotificationPayload delivers a freshly persisted record plus the unread
// count so badges update in the same frame.
type NewNotificationPayload struct {
	Notification models.Notification `json:"notification"`
	UnreadCount  int                 `json:"unreadCount"`
}

// NotificationsPayload is the full authoritative list.
type NotificationsPayload struct {
	Notifications []models.Notification `json:"notifications"`
}

// CountPayload carries the unread counter.
type CountPayload struct {
	Count int `json:"count"`
}

// EventChange is the canonical payload for calendar event changes
// (Type "event", Action created/updated/deleted).
type EventChange struct {
	EventID    string `json:"eventId"`
	CalendarID string `json:"calendarId"`
	Title      string `json:"title"`
	Start      string `json:"start,omitempty"` // RFC 3339
	End        string `json:"end,omitempty"`   // RFC 3339
}

// CalendarChange is the payload for calendar-level changes
// (Type "calendar", Action created/updated/deleted).
type CalendarChange struct {
	CalendarID string `json:"calendarId"`
	Name       string `json:"name"`
}

// AttendeeChange is the payload for attendee responses
// (Type "attendee", Action status-change).
type AttendeeChange struct {
	EventID  string `json:"eventId"`
	Attendee string `json:"attendee"`
	Status   string `json:"status"` // accepted, declined, tentative
}

// ResourceChange is the payload for resource booking changes
// (Type "resource", Action status-change).
type ResourceChange struct {
	EventID    string `json:"eventId"`
	ResourceID string `json:"resourceId"`
	Status     string `json:"status"` // requested, confirmed, declined
}

// SystemNotice is the payload for system-wide notices
// (Type "system", Action info/error).
type SystemNotice struct {
	Message string `json:"message"`
}

// EmailNotice reports outbound invitation mail activity
// (Type "email", Action info/error).
type EmailNotice struct {
	EventID   string `json:"eventId"`
	Recipient string `json:"recipient"`
	Status    string `json:"status"`
}

// DecodePayload decodes the envelope's data according to the (type, action)
// tagged union and returns the concrete payload struct. Combinations outside
// the schema return an error so callers can log and drop them rather than
// pass untyped data through.
//
//nolint:gocyclo // exhaustive (type, action) switch is the schema
func DecodePayload(env Envelope) (interface{}, error) {
	switch env.Type {
	case TypeAuth:
		var p AuthPayload
		return p, env.DecodeData(&p)
	case TypeGetNotifications:
		var p GetNotificationsPayload
		return p, env.DecodeData(&p)
	case TypePing, TypePong:
		// Liveness probes carry no payload beyond the envelope timestamp.
		return nil, nil
	case TypeJoin:
		var p JoinPayload
		return p, env.DecodeData(&p)
	case TypeChat:
		var p ChatPayload
		return p, env.DecodeData(&p)
	case TypeNotification, TypeNewNotification:
		var p NewNotificationPayload
		return p, env.DecodeData(&p)
	case TypeNotifications:
		var p NotificationsPayload
		return p, env.DecodeData(&p)
	case TypeNotificationCount:
		var p CountPayload
		return p, env.DecodeData(&p)
	case TypeEvent:
		switch env.Action {
		case ActionCreated, ActionUpdated, ActionDeleted:
			var p EventChange
			return p, env.DecodeData(&p)
		}
	case TypeCalendar:
		switch env.Action {
		case ActionCreated, ActionUpdated, ActionDeleted:
			var p CalendarChange
			return p, env.DecodeData(&p)
		}
	case TypeAttendee:
		if env.Action == ActionStatusChange {
			var p AttendeeChange
			return p, env.DecodeData(&p)
		}
	case TypeResource:
		if env.Action == ActionStatusChange {
			var p ResourceChange
			return p, env.DecodeData(&p)
		}
	case TypeSystem:
		if env.Action == ActionInfo || env.Action == ActionError {
			var p SystemNotice
			return p, env.DecodeData(&p)
		}
	case TypeEmail:
		if env.Action == ActionInfo || env.Action == ActionError {
			var p EmailNotice
			return p, env.DecodeData(&p)
		}
	}
	return nil, fmt.Errorf("unknown payload schema for type %q action %q", env.Type, env.Action)
}
