// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/caldesk/caldesk/internal/calsource"
	"github.com/caldesk/caldesk/internal/logging"
	"github.com/caldesk/caldesk/internal/protocol"
)

// ChangeConsumer subscribes to calendar changes and feeds the dispatcher:
// a durable notification per attendee plus a live event envelope for every
// open calendar view.
type ChangeConsumer struct {
	sub        message.Subscriber
	dispatcher *Dispatcher
}

func NewChangeConsumer(sub message.Subscriber, d *Dispatcher) *ChangeConsumer {
	return &ChangeConsumer{sub: sub, dispatcher: d}
}

// RunWithContext consumes until the context is cancelled.
func (c *ChangeConsumer) RunWithContext(ctx context.Context) error {
	msgs, err := c.sub.Subscribe(ctx, calsource.Topic)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", calsource.Topic, err)
	}
	logging.Info().Str("topic", calsource.Topic).Msg("calendar change consumer running")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return ctx.Err()
			}
			c.handle(ctx, msg)
			msg.Ack()
		}
	}
}

func (c *ChangeConsumer) handle(ctx context.Context, msg *message.Message) {
	change, err := calsource.UnmarshalChange(msg.Payload)
	if err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("malformed calendar change, skipping")
		return
	}

	for _, uid := range change.AttendeeIDs {
		if uid == "" || uid == change.OwnerID {
			continue
		}
		n := notificationForChange(uid, change)
		if _, err := c.dispatcher.Notify(ctx, n); err != nil {
			logging.Error().Err(err).
				Str("user_id", uid).
				Str("event_id", change.EventID).
				Msg("failed to dispatch change notification")
		}
	}

	recipients := append([]string{change.OwnerID}, change.AttendeeIDs...)
	err = c.dispatcher.NotifyEventChange(change.OwnerID, recipients, protocolAction(change.Action), protocol.EventChange{
		EventID:    change.EventID,
		CalendarID: change.CalendarID,
		Title:      change.Title,
		Start:      rfc3339OrEmpty(change.Start),
		End:        rfc3339OrEmpty(change.End),
	})
	if err != nil {
		logging.Error().Err(err).Str("event_id", change.EventID).Msg("failed to push event envelope")
	}
}

func rfc3339OrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// String implements fmt.Stringer for supervisor logging.
func (c *ChangeConsumer) String() string {
	return "change-consumer"
}
