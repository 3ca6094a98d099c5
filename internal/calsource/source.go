// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package calsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/emersion/go-ical"

	"github.com/caldesk/caldesk/internal/logging"
)

// eventSnapshot is the minimal fingerprint kept between polls to detect
// created, updated, and deleted events.
type eventSnapshot struct {
	change      Change
	fingerprint string
}

// Poller watches a directory of iCalendar files and publishes a Change for
// every event mutation it observes between polls. Each .ics file is treated
// as one calendar collection, named after its base filename.
type Poller struct {
	dir      string
	interval time.Duration
	pub      message.Publisher

	prev   map[string]eventSnapshot
	primed bool
}

// NewPoller creates a poller over dir publishing to pub on Topic.
func NewPoller(dir string, interval time.Duration, pub message.Publisher) *Poller {
	return &Poller{
		dir:      dir,
		interval: interval,
		pub:      pub,
		prev:     make(map[string]eventSnapshot),
	}
}

// RunWithContext polls until the context is cancelled. The first poll only
// seeds the baseline snapshot; changes are published from the second poll on.
func (p *Poller) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if err := p.Poll(ctx); err != nil {
		logging.Warn().Err(err).Str("dir", p.dir).Msg("initial calendar poll failed")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil {
				logging.Warn().Err(err).Str("dir", p.dir).Msg("calendar poll failed")
			}
		}
	}
}

// Poll scans the calendar directory once and publishes any detected changes.
func (p *Poller) Poll(ctx context.Context) error {
	current, err := p.scan()
	if err != nil {
		return err
	}

	if !p.primed {
		p.prev = current
		p.primed = true
		logging.Info().Int("events", len(current)).Str("dir", p.dir).Msg("calendar baseline loaded")
		return nil
	}

	changes := diff(p.prev, current)
	p.prev = current

	for _, c := range changes {
		if err := p.publish(c); err != nil {
			return err
		}
	}
	if len(changes) > 0 {
		logging.Debug().Int("changes", len(changes)).Msg("published calendar changes")
	}
	return ctx.Err()
}

func (p *Poller) publish(c Change) error {
	raw, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("encoding change for %s: %w", c.EventID, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), raw)
	if err := p.pub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publishing change for %s: %w", c.EventID, err)
	}
	return nil
}

// scan reads every .ics file under dir into a snapshot map keyed by
// calendar id and event UID.
func (p *Poller) scan() (map[string]eventSnapshot, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("reading calendar dir: %w", err)
	}

	out := make(map[string]eventSnapshot)
	now := time.Now()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ics") {
			continue
		}
		calendarID := strings.TrimSuffix(entry.Name(), ".ics")
		if err := p.scanFile(filepath.Join(p.dir, entry.Name()), calendarID, now, out); err != nil {
			logging.Warn().Err(err).Str("file", entry.Name()).Msg("skipping unreadable calendar file")
		}
	}
	return out, nil
}

func (p *Poller) scanFile(path, calendarID string, now time.Time, out map[string]eventSnapshot) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := ical.NewDecoder(f)
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decoding icalendar: %w", err)
		}
		for _, ev := range cal.Events() {
			snap, err := snapshotEvent(&ev, calendarID, now)
			if err != nil {
				logging.Warn().Err(err).Str("calendar", calendarID).Msg("skipping malformed event")
				continue
			}
			out[calendarID+"/"+snap.change.EventID] = snap
		}
	}
}

func snapshotEvent(ev *ical.Event, calendarID string, now time.Time) (eventSnapshot, error) {
	uid, err := ev.Props.Text(ical.PropUID)
	if err != nil || uid == "" {
		return eventSnapshot{}, fmt.Errorf("event without UID: %w", err)
	}
	summary, _ := ev.Props.Text(ical.PropSummary)
	start, _ := ev.DateTimeStart(time.UTC)
	end, _ := ev.DateTimeEnd(time.UTC)

	change := Change{
		EventID:     uid,
		CalendarID:  calendarID,
		Title:       summary,
		Start:       start,
		End:         end,
		OwnerID:     calAddressUser(ev.Props.Get(ical.PropOrganizer)),
		AttendeeIDs: attendeeUsers(ev.Props.Values(ical.PropAttendee)),
		ObservedAt:  now,
	}

	seq, _ := ev.Props.Text(ical.PropSequence)
	lastMod, _ := ev.Props.Text(ical.PropLastModified)
	fp := strings.Join([]string{seq, lastMod, summary, start.Format(time.RFC3339), end.Format(time.RFC3339)}, "|")

	return eventSnapshot{change: change, fingerprint: fp}, nil
}

// calAddressUser converts a CAL-ADDRESS value such as mailto:alice@example.com
// into the local user id.
func calAddressUser(prop *ical.Prop) string {
	if prop == nil {
		return ""
	}
	addr := strings.TrimPrefix(strings.ToLower(prop.Value), "mailto:")
	if i := strings.IndexByte(addr, '@'); i > 0 {
		return addr[:i]
	}
	return addr
}

func attendeeUsers(props []ical.Prop) []string {
	if len(props) == 0 {
		return nil
	}
	users := make([]string, 0, len(props))
	for i := range props {
		if u := calAddressUser(&props[i]); u != "" {
			users = append(users, u)
		}
	}
	return users
}

// diff computes the changes between two snapshots.
func diff(prev, current map[string]eventSnapshot) []Change {
	var changes []Change
	for key, cur := range current {
		old, ok := prev[key]
		switch {
		case !ok:
			c := cur.change
			c.Action = ActionCreated
			changes = append(changes, c)
		case old.fingerprint != cur.fingerprint:
			c := cur.change
			c.Action = ActionUpdated
			changes = append(changes, c)
		}
	}
	for key, old := range prev {
		if _, ok := current[key]; !ok {
			c := old.change
			c.Action = ActionDeleted
			changes = append(changes, c)
		}
	}
	return changes
}

// String implements fmt.Stringer for supervisor logging.
func (p *Poller) String() string {
	return "calendar-source"
}
