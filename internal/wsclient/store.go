// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package wsclient

import (
	"sync"

	"github.com/google/uuid"

	"github.com/caldesk/caldesk/internal/models"
	"github.com/caldesk/caldesk/internal/protocol"
)

// NotificationStore is the client-local mirror of the user's notifications.
// It merges two feeds: pushed envelopes and REST list responses. The server
// is authoritative for the unread count; the store never recomputes it
// locally when the server supplied one.
type NotificationStore struct {
	mu            sync.Mutex
	notifications []models.Notification
	byID          map[uuid.UUID]int
	unread        int
	listeners     []func()
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{byID: make(map[uuid.UUID]int)}
}

// Subscribe registers fn to run after every mutation, for view refresh.
func (s *NotificationStore) Subscribe(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Bind attaches the store to a client so pushed envelopes apply
// automatically.
func (s *NotificationStore) Bind(c *Client) {
	c.On(protocol.TypeNewNotification, func(env protocol.Envelope) {
		var p protocol.NewNotificationPayload
		if err := env.DecodeData(&p); err != nil {
			return
		}
		s.ApplyPush(p.Notification, p.UnreadCount)
	})
	c.On(protocol.TypeNotifications, func(env protocol.Envelope) {
		var p protocol.NotificationsPayload
		if err := env.DecodeData(&p); err != nil {
			return
		}
		s.ReplaceAll(p.Notifications)
	})
	c.On(protocol.TypeNotificationCount, func(env protocol.Envelope) {
		var p protocol.CountPayload
		if err := env.DecodeData(&p); err != nil {
			return
		}
		s.SetUnread(p.Count)
	})
}

// ApplyPush merges one pushed notification. A record already present (for
// example fetched over REST moments earlier) is updated in place, so two
// delivery paths never yield duplicates. unread < 0 means the server did
// not supply a count and the current one is kept.
func (s *NotificationStore) ApplyPush(n models.Notification, unread int) {
	s.mu.Lock()
	if i, ok := s.byID[n.ID]; ok {
		s.notifications[i] = n
	} else {
		s.notifications = append([]models.Notification{n}, s.notifications...)
		s.reindex()
	}
	if unread >= 0 {
		s.unread = unread
	}
	s.mu.Unlock()
	s.notify()
}

// ReplaceAll adopts the authoritative list from the server.
func (s *NotificationStore) ReplaceAll(list []models.Notification) {
	s.mu.Lock()
	s.notifications = append([]models.Notification(nil), list...)
	s.reindex()
	s.mu.Unlock()
	s.notify()
}

// SetUnread adopts the server's unread count verbatim.
func (s *NotificationStore) SetUnread(count int) {
	if count < 0 {
		return
	}
	s.mu.Lock()
	s.unread = count
	s.mu.Unlock()
	s.notify()
}

// ApplyMutation applies a REST mutation response: the local record flips
// and the server-returned count wins.
func (s *NotificationStore) ApplyMutation(id uuid.UUID, resp models.MutationResponse, dismiss bool) {
	s.mu.Lock()
	if i, ok := s.byID[id]; ok {
		if dismiss {
			s.notifications = append(s.notifications[:i], s.notifications[i+1:]...)
			s.reindex()
		} else {
			s.notifications[i].IsRead = true
		}
	}
	s.unread = resp.UnreadCount
	s.mu.Unlock()
	s.notify()
}

// Notifications returns a copy of the current list, newest first.
func (s *NotificationStore) Notifications() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Notification(nil), s.notifications...)
}

// Unread returns the current unread count.
func (s *NotificationStore) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Reset drops all state, called on logout.
func (s *NotificationStore) Reset() {
	s.mu.Lock()
	s.notifications = nil
	s.byID = make(map[uuid.UUID]int)
	s.unread = 0
	s.mu.Unlock()
	s.notify()
}

func (s *NotificationStore) reindex() {
	s.byID = make(map[uuid.UUID]int, len(s.notifications))
	for i, n := range s.notifications {
		s.byID[n.ID] = i
	}
}

func (s *NotificationStore) notify() {
	s.mu.Lock()
	listeners := append(([]func())(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}
