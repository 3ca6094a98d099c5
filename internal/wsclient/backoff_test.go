// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package wsclient

import (
	"testing"
	"time"

	"github.com/caldesk/caldesk/internal/config"
)

func TestBackoffMonotoneAndCapped(t *testing.T) {
	b := NewBackoff(config.ReconnectConfig{
		BaseDelay:    time.Second,
		GrowthFactor: 2.0,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  10,
	})

	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		d := b.Delay(attempt)
		if d < prev {
			t.Errorf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		if d > 30*time.Second {
			t.Errorf("delay %v exceeds cap at attempt %d", d, attempt)
		}
		prev = d
	}

	if got := b.Delay(0); got != time.Second {
		t.Errorf("first delay %v, want 1s", got)
	}
	if got := b.Delay(1); got != 2*time.Second {
		t.Errorf("second delay %v, want 2s", got)
	}
	if got := b.Delay(100); got != 30*time.Second {
		t.Errorf("huge attempt delay %v, want cap 30s", got)
	}
}

func TestBackoffNegativeAttempt(t *testing.T) {
	b := Backoff{Base: time.Second, Growth: 2.0, Max: 30 * time.Second}
	if got := b.Delay(-5); got != time.Second {
		t.Errorf("negative attempt delay %v, want base", got)
	}
}
