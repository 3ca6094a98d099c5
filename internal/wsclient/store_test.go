// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package wsclient

import (
	"testing"

	"github.com/google/uuid"

	"github.com/caldesk/caldesk/internal/models"
)

func note(title string) models.Notification {
	return models.Notification{
		ID:     uuid.New(),
		UserID: "alice",
		Type:   models.TypeEventInvitation,
		Title:  title,
	}
}

func TestApplyPushPrependsNewest(t *testing.T) {
	s := NewNotificationStore()
	first := note("first")
	second := note("second")

	s.ApplyPush(first, 1)
	s.ApplyPush(second, 2)

	list := s.Notifications()
	if len(list) != 2 {
		t.Fatalf("len %d, want 2", len(list))
	}
	if list[0].Title != "second" {
		t.Errorf("newest first violated: head is %q", list[0].Title)
	}
	if s.Unread() != 2 {
		t.Errorf("unread %d, want 2", s.Unread())
	}
}

func TestApplyPushDeduplicatesByID(t *testing.T) {
	s := NewNotificationStore()
	n := note("original")
	s.ApplyPush(n, 1)

	updated := n
	updated.Title = "updated"
	s.ApplyPush(updated, 1)

	list := s.Notifications()
	if len(list) != 1 {
		t.Fatalf("len %d, want 1 after duplicate push", len(list))
	}
	if list[0].Title != "updated" {
		t.Errorf("title %q, want updated record", list[0].Title)
	}
}

func TestServerCountWins(t *testing.T) {
	s := NewNotificationStore()
	s.ApplyPush(note("a"), 5)
	if s.Unread() != 5 {
		t.Fatalf("unread %d, want server's 5", s.Unread())
	}

	// Negative means the server did not supply a count; keep the last one.
	s.ApplyPush(note("b"), -1)
	if s.Unread() != 5 {
		t.Errorf("unread %d after countless push, want 5 retained", s.Unread())
	}

	s.SetUnread(0)
	if s.Unread() != 0 {
		t.Errorf("unread %d, want 0", s.Unread())
	}
}

func TestReplaceAllAdoptsServerList(t *testing.T) {
	s := NewNotificationStore()
	s.ApplyPush(note("stale"), 1)

	fresh := []models.Notification{note("x"), note("y")}
	s.ReplaceAll(fresh)

	list := s.Notifications()
	if len(list) != 2 || list[0].Title != "x" {
		t.Errorf("list after replace: %+v", list)
	}

	// A push for a listed record updates in place, no duplicate.
	s.ApplyPush(fresh[1], 3)
	if got := len(s.Notifications()); got != 2 {
		t.Errorf("len %d after push of listed record, want 2", got)
	}
}

func TestApplyMutationDismissRemoves(t *testing.T) {
	s := NewNotificationStore()
	n := note("to dismiss")
	s.ApplyPush(n, 1)

	s.ApplyMutation(n.ID, models.MutationResponse{Success: true, UnreadCount: 0}, true)
	if got := len(s.Notifications()); got != 0 {
		t.Errorf("len %d after dismiss, want 0", got)
	}
	if s.Unread() != 0 {
		t.Errorf("unread %d, want server's 0", s.Unread())
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := NewNotificationStore()
	s.ApplyPush(note("a"), 3)
	s.Reset()

	if len(s.Notifications()) != 0 || s.Unread() != 0 {
		t.Errorf("state after reset: %d notifications, %d unread", len(s.Notifications()), s.Unread())
	}
}

func TestSubscribeFires(t *testing.T) {
	s := NewNotificationStore()
	fired := 0
	s.Subscribe(func() { fired++ })

	s.ApplyPush(note("a"), 1)
	s.SetUnread(0)
	s.Reset()

	if fired != 3 {
		t.Errorf("listener fired %d times, want 3", fired)
	}
}
