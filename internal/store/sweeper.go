// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package store

import (
	"context"
	"time"

	"github.com/caldesk/caldesk/internal/logging"
)

// Sweeper deletes expired notifications on an interval so the table does
// not grow without bound.
type Sweeper struct {
	store    *SQLiteStore
	interval time.Duration
}

func NewSweeper(store *SQLiteStore, interval time.Duration) *Sweeper {
	return &Sweeper{store: store, interval: interval}
}

// RunWithContext sweeps until the context is cancelled.
func (s *Sweeper) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			deleted, err := s.store.DeleteExpired(ctx, time.Now())
			if err != nil {
				logging.Error().Err(err).Msg("notification sweep failed")
				continue
			}
			if deleted > 0 {
				logging.Info().Int64("deleted", deleted).Msg("swept expired notifications")
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *Sweeper) String() string {
	return "notification-sweeper"
}
