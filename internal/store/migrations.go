// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	type             TEXT NOT NULL,
	title            TEXT NOT NULL,
	message          TEXT NOT NULL DEFAULT '',
	priority         TEXT NOT NULL DEFAULT 'medium',
	related_event_id TEXT,
	related_user_id  TEXT,
	is_read          INTEGER NOT NULL DEFAULT 0,
	is_dismissed     INTEGER NOT NULL DEFAULT 0,
	requires_action  INTEGER NOT NULL DEFAULT 0,
	action_taken     INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at       DATETIME
);

CREATE INDEX IF NOT EXISTS idx_notifications_user
	ON notifications (user_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_notifications_unread
	ON notifications (user_id, is_read, is_dismissed);

CREATE INDEX IF NOT EXISTS idx_notifications_expiry
	ON notifications (expires_at)
	WHERE expires_at IS NOT NULL;
`,
	},
}
