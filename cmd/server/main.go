// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/caldesk/caldesk/internal/api"
	"github.com/caldesk/caldesk/internal/calsource"
	"github.com/caldesk/caldesk/internal/config"
	"github.com/caldesk/caldesk/internal/dispatch"
	"github.com/caldesk/caldesk/internal/logging"
	"github.com/caldesk/caldesk/internal/store"
	"github.com/caldesk/caldesk/internal/supervisor"
	ws "github.com/caldesk/caldesk/internal/websocket"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("primary_path", cfg.WebSocket.PrimaryPath).
		Str("fallback_path", cfg.WebSocket.FallbackPath).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Msg("Starting Caldesk notification server")

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open notification store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing notification store")
		}
	}()
	logging.Info().Msg("Notification store initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := ws.NewHub()

	// With NATS enabled, broadcasts go through the bridge so every server
	// process delivers them to its own connections. Without it, the hub's
	// in-memory registry is the whole fan-out.
	var broadcaster ws.Broadcaster = hub
	var bridge *ws.NATSBridge
	if cfg.NATS.Enabled {
		bridge, err = ws.NewNATSBridge(cfg.NATS, hub)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		broadcaster = bridge
		logging.Info().Str("url", cfg.NATS.URL).Msg("NATS broadcast bridge connected")
	}

	dispatcher := dispatch.NewDispatcher(st, broadcaster)

	bus := gochannel.NewGoChannel(gochannel.Config{}, logging.NewWatermillLogger())
	consumer := dispatch.NewChangeConsumer(bus, dispatcher)

	var poller *calsource.Poller
	if cfg.Calendar.Enabled {
		poller = calsource.NewPoller(cfg.Calendar.Dir, cfg.Calendar.PollInterval, bus)
		logging.Info().
			Str("dir", cfg.Calendar.Dir).
			Dur("interval", cfg.Calendar.PollInterval).
			Msg("Calendar change polling enabled")
	} else {
		logging.Info().Msg("Calendar change polling disabled")
	}

	handler := api.NewHandler(cfg, st, dispatcher, hub)
	router := api.NewRouter(cfg, handler)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)

	tree.AddDataService(supervisor.NewRunnerService(store.NewSweeper(st, cfg.Notifications.SweepInterval), ""))

	tree.AddMessagingService(supervisor.NewRunnerService(hub, "websocket-hub"))
	tree.AddMessagingService(supervisor.NewRunnerService(consumer, ""))
	if poller != nil {
		tree.AddMessagingService(supervisor.NewRunnerService(poller, ""))
	}
	if bridge != nil {
		tree.AddMessagingService(supervisor.NewRunnerService(bridge, ""))
	}

	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	logging.Info().Msg("Server stopped gracefully")
}
