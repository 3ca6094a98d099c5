// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caldesk/caldesk/internal/models"
)

// ErrNotFound is returned when a notification does not exist or does not
// belong to the requesting user. Mutations are always user-scoped, so a
// foreign id is indistinguishable from a missing one.
var ErrNotFound = errors.New("notification not found")

// Create persists a notification record. The id and created-at are assigned
// here if the caller left them zero.
func (s *SQLiteStore) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Priority == "" {
		n.Priority = models.PriorityMedium
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, user_id, type, title, message, priority,
			related_event_id, related_user_id,
			is_read, is_dismissed, requires_action, action_taken,
			created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID.String(), n.UserID, n.Type, n.Title, n.Message, n.Priority,
		n.RelatedEventID, n.RelatedUserID,
		n.IsRead, n.IsDismissed, n.RequiresAction, n.ActionTaken,
		n.CreatedAt, n.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("creating notification: %w", err)
	}
	return nil
}

// ListByUser returns the user's notifications, newest first, excluding
// dismissed ones.
func (s *SQLiteStore) ListByUser(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, user_id, type, title, message, priority,
		       related_event_id, related_user_id,
		       is_read, is_dismissed, requires_action, action_taken,
		       created_at, expires_at
		FROM notifications
		WHERE user_id = ? AND is_dismissed = 0
		ORDER BY created_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying notifications for user %s: %w", userID, err)
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		var n models.Notification
		var id string
		if err := rows.Scan(
			&id, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Priority,
			&n.RelatedEventID, &n.RelatedUserID,
			&n.IsRead, &n.IsDismissed, &n.RequiresAction, &n.ActionTaken,
			&n.CreatedAt, &n.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scanning notification row: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parsing notification id %q: %w", id, err)
		}
		n.ID = parsed
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// UnreadCount returns the number of unread, undismissed notifications.
func (s *SQLiteStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = ? AND is_read = 0 AND is_dismissed = 0`, userID)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications for user %s: %w", userID, err)
	}
	return count, nil
}

// MarkRead marks one notification read, scoped to the owning user.
func (s *SQLiteStore) MarkRead(ctx context.Context, userID string, id uuid.UUID) error {
	return s.mutate(ctx, "UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?", id.String(), userID)
}

// MarkAllRead marks every notification of the user read.
func (s *SQLiteStore) MarkAllRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0", userID)
	if err != nil {
		return fmt.Errorf("marking all read for user %s: %w", userID, err)
	}
	return nil
}

// Dismiss hides a notification from listings; it also counts as read.
func (s *SQLiteStore) Dismiss(ctx context.Context, userID string, id uuid.UUID) error {
	return s.mutate(ctx,
		"UPDATE notifications SET is_dismissed = 1, is_read = 1 WHERE id = ? AND user_id = ?",
		id.String(), userID)
}

// MarkActionTaken records that the user acted on an actionable notification.
func (s *SQLiteStore) MarkActionTaken(ctx context.Context, userID string, id uuid.UUID) error {
	return s.mutate(ctx,
		"UPDATE notifications SET action_taken = 1, is_read = 1 WHERE id = ? AND user_id = ? AND requires_action = 1",
		id.String(), userID)
}

// DeleteExpired removes notifications past their expiry. Returns the number
// of rows deleted.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at <= ?", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired notifications: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted notifications: %w", err)
	}
	return deleted, nil
}

// mutate runs a user-scoped UPDATE and converts zero affected rows into
// ErrNotFound.
func (s *SQLiteStore) mutate(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating notification: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Get fetches a single notification scoped to the owning user.
func (s *SQLiteStore) Get(ctx context.Context, userID string, id uuid.UUID) (*models.Notification, error) {
	var n models.Notification
	var rawID string
	err := s.db.QueryRowxContext(ctx, `
		SELECT id, user_id, type, title, message, priority,
		       related_event_id, related_user_id,
		       is_read, is_dismissed, requires_action, action_taken,
		       created_at, expires_at
		FROM notifications
		WHERE id = ? AND user_id = ?`, id.String(), userID).Scan(
		&rawID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Priority,
		&n.RelatedEventID, &n.RelatedUserID,
		&n.IsRead, &n.IsDismissed, &n.RequiresAction, &n.ActionTaken,
		&n.CreatedAt, &n.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching notification %s: %w", id, err)
	}
	n.ID = id
	return &n, nil
}
