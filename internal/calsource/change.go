// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package calsource

import (
	"time"

	json "github.com/goccy/go-json"
)

// Topic is the watermill topic calendar changes are published on.
const Topic = "calendar.changes"

// ChangeAction describes what happened to an event between two polls.
type ChangeAction string

const (
	ActionCreated ChangeAction = "created"
	ActionUpdated ChangeAction = "updated"
	ActionDeleted ChangeAction = "deleted"
)

// Change is one observed event mutation. OwnerID and AttendeeIDs drive
// notification fan-out downstream.
type Change struct {
	Action      ChangeAction `json:"action"`
	EventID     string       `json:"eventId"`
	CalendarID  string       `json:"calendarId"`
	Title       string       `json:"title"`
	Start       time.Time    `json:"start,omitempty"`
	End         time.Time    `json:"end,omitempty"`
	OwnerID     string       `json:"ownerId"`
	AttendeeIDs []string     `json:"attendeeIds,omitempty"`
	ObservedAt  time.Time    `json:"observedAt"`
}

// Marshal encodes the change for the message bus.
func (c Change) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalChange decodes a bus payload back into a Change.
func UnmarshalChange(raw []byte) (Change, error) {
	var c Change
	err := json.Unmarshal(raw, &c)
	return c, err
}
