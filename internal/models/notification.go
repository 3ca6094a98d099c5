// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

// Package models defines data structures shared across the Caldesk notification
// pipeline: durable notification records and API response envelopes.
package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType is the durable taxonomy of a persisted notification.
// It is distinct from the wire envelope type: the envelope says how a message
// travels, this says what happened in the calendar domain.
type NotificationType string

const (
	TypeEventInvitation   NotificationType = "event_invitation"
	TypeEventUpdated      NotificationType = "event_updated"
	TypeEventCancelled    NotificationType = "event_cancelled"
	TypeEventReminder     NotificationType = "event_reminder"
	TypeAttendeeResponse  NotificationType = "attendee_response"
	TypeResourceRequested NotificationType = "resource_requested"
	TypeResourceConfirmed NotificationType = "resource_confirmed"
	TypeResourceDeclined  NotificationType = "resource_declined"
	TypeCalendarShared    NotificationType = "calendar_shared"
	TypeSystemNotice      NotificationType = "system_notice"
)

// Priority is the urgency level of a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Notification is the durable notification record. It survives independent of
// any live connection and is the reconciliation source of truth: the push path
// only ever delivers copies of it.
//
// Rows are created by the dispatcher and mutated exclusively through the
// read/dismiss/action-taken operations, scoped to the owning user.
type Notification struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	UserID         string           `json:"userId" db:"user_id"`
	Type           NotificationType `json:"type" db:"type"`
	Title          string           `json:"title" db:"title"`
	Message        string           `json:"message" db:"message"`
	Priority       Priority         `json:"priority" db:"priority"`
	RelatedEventID *string          `json:"relatedEventId,omitempty" db:"related_event_id"`
	RelatedUserID  *string          `json:"relatedUserId,omitempty" db:"related_user_id"`
	IsRead         bool             `json:"isRead" db:"is_read"`
	IsDismissed    bool             `json:"isDismissed" db:"is_dismissed"`
	RequiresAction bool             `json:"requiresAction" db:"requires_action"`
	ActionTaken    bool             `json:"actionTaken" db:"action_taken"`
	CreatedAt      time.Time        `json:"createdAt" db:"created_at"`
	ExpiresAt      *time.Time       `json:"expiresAt,omitempty" db:"expires_at"`
}

// APIResponse is the standardized response wrapper for all HTTP endpoints.
//
// Status is "success" or "error"; Error is populated only on failure.
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data,omitempty"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata contains response metadata for observability.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId,omitempty"`
}

// APIError carries structured error details.
//
// Common codes: VALIDATION_ERROR, NOT_FOUND, DATABASE_ERROR,
// SERVICE_UNAVAILABLE.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// CountResponse is the payload of GET /api/notifications/count.
type CountResponse struct {
	Count int `json:"count"`
}

// MutationResponse is returned by the read/dismiss/action-taken endpoints.
// Clients adopt UnreadCount verbatim instead of recomputing it locally so
// multiple tabs cannot drift.
type MutationResponse struct {
	Success     bool `json:"success"`
	UnreadCount int  `json:"unreadCount"`
}
