// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

// Package dispatch turns domain happenings into durable notifications and
// live websocket envelopes. Persistence comes first: a notification that
// cannot be stored is an error, while having nobody connected to push it to
// is not.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/caldesk/caldesk/internal/calsource"
	"github.com/caldesk/caldesk/internal/logging"
	"github.com/caldesk/caldesk/internal/metrics"
	"github.com/caldesk/caldesk/internal/models"
	"github.com/caldesk/caldesk/internal/protocol"
	"github.com/caldesk/caldesk/internal/websocket"
)

// Store is the slice of the notification store the dispatcher needs.
type Store interface {
	Create(ctx context.Context, n *models.Notification) error
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// Dispatcher persists notifications and pushes them to connected clients.
type Dispatcher struct {
	store Store
	out   websocket.Broadcaster
}

// NewDispatcher wires a store to a broadcast surface. out is the local hub
// in single-process deployments or the NATS bridge when fan-out spans
// multiple instances.
func NewDispatcher(store Store, out websocket.Broadcaster) *Dispatcher {
	return &Dispatcher{store: store, out: out}
}

// Notify persists the notification, then pushes a new_notification envelope
// carrying the stored record and the user's updated unread count. The push
// is best effort; persistence is not.
func (d *Dispatcher) Notify(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	start := time.Now()

	if err := d.store.Create(ctx, n); err != nil {
		metrics.DispatchPersistErrors.Inc()
		return nil, fmt.Errorf("persisting notification for user %s: %w", n.UserID, err)
	}

	unread, err := d.store.UnreadCount(ctx, n.UserID)
	if err != nil {
		logging.Warn().Err(err).Str("user_id", n.UserID).Msg("unread count unavailable, pushing without it")
		unread = -1
	}

	env, err := protocol.New(protocol.TypeNewNotification, "", protocol.NewNotificationPayload{
		Notification: *n,
		UnreadCount:  unread,
	})
	if err != nil {
		return n, fmt.Errorf("encoding notification envelope: %w", err)
	}
	// Stamp the originating user so that user's client can suppress its own toast.
	if n.RelatedUserID != nil {
		env.SourceUserID = *n.RelatedUserID
	}

	d.out.Broadcast(n.UserID, env)
	metrics.NotificationsDispatched.WithLabelValues(string(n.Type)).Inc()
	metrics.ObserveDispatch(start)

	logging.Debug().
		Str("user_id", n.UserID).
		Str("notification_id", n.ID.String()).
		Str("type", string(n.Type)).
		Int("unread", unread).
		Msg("notification dispatched")
	return n, nil
}

// PushUnreadCount sends the user's current unread count, used after REST
// mutations so every open tab converges on the same badge.
func (d *Dispatcher) PushUnreadCount(ctx context.Context, userID string) error {
	unread, err := d.store.UnreadCount(ctx, userID)
	if err != nil {
		return fmt.Errorf("counting unread for user %s: %w", userID, err)
	}
	env, err := protocol.New(protocol.TypeNotificationCount, "", protocol.CountPayload{Count: unread})
	if err != nil {
		return fmt.Errorf("encoding count envelope: %w", err)
	}
	d.out.Broadcast(userID, env)
	return nil
}

// NotifyEventChange pushes a live event envelope to everyone involved in the
// event. These are sync signals for open calendar views and are not stored.
// sourceID names the user whose edit triggered the change; their own client
// matches it against its user id and skips the redundant refresh toast.
func (d *Dispatcher) NotifyEventChange(sourceID string, userIDs []string, action protocol.Action, change protocol.EventChange) error {
	env, err := protocol.New(protocol.TypeEvent, action, change)
	if err != nil {
		return fmt.Errorf("encoding event envelope: %w", err)
	}
	env.SourceUserID = sourceID
	seen := make(map[string]struct{}, len(userIDs))
	for _, uid := range userIDs {
		if uid == "" {
			continue
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		d.out.Broadcast(uid, env)
	}
	return nil
}

// SystemBroadcast pushes a system notice to every connected client.
func (d *Dispatcher) SystemBroadcast(notice protocol.SystemNotice) error {
	env, err := protocol.New(protocol.TypeSystem, protocol.ActionInfo, notice)
	if err != nil {
		return fmt.Errorf("encoding system envelope: %w", err)
	}
	d.out.BroadcastAll(env)
	return nil
}

// notificationForChange maps a calendar change to the durable notification
// an attendee should receive. The event owner is recorded as the related
// user, which also becomes the envelope's sourceUserId on dispatch.
func notificationForChange(userID string, c calsource.Change) *models.Notification {
	n := &models.Notification{
		UserID:         userID,
		Title:          c.Title,
		RelatedEventID: &c.EventID,
		Priority:       models.PriorityMedium,
	}
	if c.OwnerID != "" {
		owner := c.OwnerID
		n.RelatedUserID = &owner
	}
	switch c.Action {
	case calsource.ActionCreated:
		n.Type = models.TypeEventInvitation
		n.Message = fmt.Sprintf("You have been invited to %q", c.Title)
		n.RequiresAction = true
	case calsource.ActionUpdated:
		n.Type = models.TypeEventUpdated
		n.Message = fmt.Sprintf("%q was updated", c.Title)
	case calsource.ActionDeleted:
		n.Type = models.TypeEventCancelled
		n.Message = fmt.Sprintf("%q was cancelled", c.Title)
		n.Priority = models.PriorityHigh
	default:
		n.Type = models.TypeEventUpdated
		n.Message = fmt.Sprintf("%q changed", c.Title)
	}
	return n
}

func protocolAction(a calsource.ChangeAction) protocol.Action {
	switch a {
	case calsource.ActionCreated:
		return protocol.ActionCreated
	case calsource.ActionDeleted:
		return protocol.ActionDeleted
	default:
		return protocol.ActionUpdated
	}
}
