// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caldesk/caldesk/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestNotification(userID string) *models.Notification {
	return &models.Notification{
		UserID:   userID,
		Type:     models.TypeEventInvitation,
		Title:    "Invitation: Sprint Planning",
		Message:  "alice invited you to Sprint Planning",
		Priority: models.PriorityMedium,
	}
}

func TestCreateAssignsIDAndTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := newTestNotification("u1")
	require.NoError(t, s.Create(ctx, n))

	assert.NotEqual(t, uuid.Nil, n.ID)
	assert.False(t, n.CreatedAt.IsZero())

	got, err := s.Get(ctx, "u1", n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.Title, got.Title)
	assert.False(t, got.IsRead)
}

func TestListByUserNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := newTestNotification("u1")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.Create(ctx, older))

	newer := newTestNotification("u1")
	newer.Title = "Updated: Sprint Planning"
	require.NoError(t, s.Create(ctx, newer))

	other := newTestNotification("u2")
	require.NoError(t, s.Create(ctx, other))

	list, err := s.ListByUser(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)
}

func TestUnreadCountExcludesReadAndDismissed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newTestNotification("u1")
	b := newTestNotification("u1")
	c := newTestNotification("u1")
	for _, n := range []*models.Notification{a, b, c} {
		require.NoError(t, s.Create(ctx, n))
	}

	count, err := s.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, s.MarkRead(ctx, "u1", a.ID))
	require.NoError(t, s.Dismiss(ctx, "u1", b.ID))

	count, err = s.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMarkAllRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Create(ctx, newTestNotification("u1")))
	}

	require.NoError(t, s.MarkAllRead(ctx, "u1"))

	count, err := s.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMutationsAreUserScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := newTestNotification("u1")
	require.NoError(t, s.Create(ctx, n))

	// Another user cannot read or dismiss someone else's record.
	assert.ErrorIs(t, s.MarkRead(ctx, "u2", n.ID), ErrNotFound)
	assert.ErrorIs(t, s.Dismiss(ctx, "u2", n.ID), ErrNotFound)

	_, err := s.Get(ctx, "u2", n.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkActionTakenRequiresActionable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	plain := newTestNotification("u1")
	require.NoError(t, s.Create(ctx, plain))
	assert.ErrorIs(t, s.MarkActionTaken(ctx, "u1", plain.ID), ErrNotFound)

	actionable := newTestNotification("u1")
	actionable.RequiresAction = true
	require.NoError(t, s.Create(ctx, actionable))
	require.NoError(t, s.MarkActionTaken(ctx, "u1", actionable.ID))

	got, err := s.Get(ctx, "u1", actionable.ID)
	require.NoError(t, err)
	assert.True(t, got.ActionTaken)
	assert.True(t, got.IsRead)
}

func TestDismissedExcludedFromList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := newTestNotification("u1")
	require.NoError(t, s.Create(ctx, n))
	require.NoError(t, s.Dismiss(ctx, "u1", n.ID))

	list, err := s.ListByUser(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeleteExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	expired := newTestNotification("u1")
	expired.ExpiresAt = &past
	require.NoError(t, s.Create(ctx, expired))

	alive := newTestNotification("u1")
	alive.ExpiresAt = &future
	require.NoError(t, s.Create(ctx, alive))

	forever := newTestNotification("u1")
	require.NoError(t, s.Create(ctx, forever))

	deleted, err := s.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	list, err := s.ListByUser(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	s1, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.Create(context.Background(), newTestNotification("u1")))
	require.NoError(t, s1.Close())

	// Reopening must not reapply migrations or lose data.
	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	list, err := s2.ListByUser(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
