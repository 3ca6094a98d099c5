// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package websocket

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/caldesk/caldesk/internal/config"
	"github.com/caldesk/caldesk/internal/logging"
	"github.com/caldesk/caldesk/internal/metrics"
	"github.com/caldesk/caldesk/internal/protocol"
)

// Broadcaster is the fan-out surface the dispatcher writes to. The hub
// implements it for single-process deployments; the NATS bridge implements
// it to span multiple server instances.
type Broadcaster interface {
	Broadcast(userID string, env protocol.Envelope)
	BroadcastAll(env protocol.Envelope)
}

// NATSBridge relays envelopes through a NATS subject tree so that every
// server instance delivers to its own local connections. Publishing goes to
// caldesk.notify.user.<id> or caldesk.notify.all; the subscription side
// forwards whatever arrives into the local hub.
type NATSBridge struct {
	nc     *nats.Conn
	hub    *Hub
	prefix string
	subs   []*nats.Subscription
}

// NewNATSBridge connects to the configured NATS server. The caller is
// responsible for invoking Run to start consuming.
func NewNATSBridge(cfg config.NATSConfig, hub *Hub) (*NATSBridge, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("caldesk-notify"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", cfg.URL, err)
	}
	return &NATSBridge{
		nc:     nc,
		hub:    hub,
		prefix: strings.TrimSuffix(cfg.SubjectPrefix, "."),
	}, nil
}

// Broadcast publishes an envelope addressed to a single user.
func (b *NATSBridge) Broadcast(userID string, env protocol.Envelope) {
	b.publish(fmt.Sprintf("%s.user.%s", b.prefix, userID), env)
}

// BroadcastAll publishes an envelope addressed to every connected client.
func (b *NATSBridge) BroadcastAll(env protocol.Envelope) {
	b.publish(b.prefix+".all", env)
}

func (b *NATSBridge) publish(subject string, env protocol.Envelope) {
	raw, err := env.Encode()
	if err != nil {
		logging.Error().Err(err).Str("subject", subject).Msg("failed to encode envelope for nats")
		return
	}
	if err := b.nc.Publish(subject, raw); err != nil {
		logging.Error().Err(err).Str("subject", subject).Msg("nats publish failed")
		return
	}
	metrics.NATSPublished.Inc()
}

// RunWithContext subscribes to the bridge subjects and forwards incoming
// envelopes to the local hub until the context is cancelled.
func (b *NATSBridge) RunWithContext(ctx context.Context) error {
	userSub, err := b.nc.Subscribe(b.prefix+".user.*", func(msg *nats.Msg) {
		env, err := protocol.Parse(msg.Data)
		if err != nil {
			logging.Warn().Err(err).Str("subject", msg.Subject).Msg("malformed envelope from nats")
			return
		}
		userID := msg.Subject[strings.LastIndex(msg.Subject, ".")+1:]
		metrics.NATSConsumed.Inc()
		b.hub.Broadcast(userID, env)
	})
	if err != nil {
		return fmt.Errorf("subscribing to user subjects: %w", err)
	}
	b.subs = append(b.subs, userSub)

	allSub, err := b.nc.Subscribe(b.prefix+".all", func(msg *nats.Msg) {
		env, err := protocol.Parse(msg.Data)
		if err != nil {
			logging.Warn().Err(err).Str("subject", msg.Subject).Msg("malformed envelope from nats")
			return
		}
		metrics.NATSConsumed.Inc()
		b.hub.BroadcastAll(env)
	})
	if err != nil {
		return fmt.Errorf("subscribing to broadcast subject: %w", err)
	}
	b.subs = append(b.subs, allSub)

	logging.Info().Str("prefix", b.prefix).Msg("nats bridge running")

	<-ctx.Done()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.nc.Close()
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (b *NATSBridge) String() string {
	return "nats-bridge"
}
