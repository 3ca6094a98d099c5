// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

/*
Package main is the entry point for the Caldesk notification server.

Caldesk delivers real-time calendar notifications to browser and desktop
clients over WebSocket, backed by a durable SQLite notification store and
a REST API for history and read-state mutations.

# Application Architecture

The server implements a layered architecture with Suture v4 process
supervision:

	RootSupervisor ("caldesk")
	├── DataSupervisor ("data-layer")
	│   └── Notification sweeper (expired-record purge)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── WebSocket hub (per-user connection registry)
	│   ├── Calendar poller (iCalendar change detection)
	│   ├── Change consumer (change -> notification fan-out)
	│   └── NATS bridge (optional, cross-process broadcast)
	└── APISupervisor ("api-layer")
	    └── HTTP server (REST API + WebSocket endpoints)

Component initialization order:

 1. Configuration: Koanf v2 with environment variables and config file
 2. SQLite notification store with embedded migrations
 3. WebSocket hub and (optionally) the NATS broadcast bridge
 4. Dispatcher, calendar poller, and change consumer on a Watermill bus
 5. Chi router serving /api/notifications, /api/ws, and /ws
 6. Supervisor tree startup and signal-driven graceful shutdown

# Configuration

Configuration is loaded via Koanf v2 with layered sources (highest
priority wins):

  - Environment variables (CALDESK_ prefix, e.g. CALDESK_SERVER_PORT)
  - Config file (config.yaml, or the path in CALDESK_CONFIG)
  - Built-in defaults

# WebSocket Endpoints

Two equivalent endpoints serve the same notification stream. Clients
prefer the primary path and fall back to the secondary when a dial or
upgrade fails there:

  - /api/ws (primary, survives /api-scoped reverse proxy rules)
  - /ws     (fallback)

# Signal Handling

The server handles graceful shutdown on SIGINT and SIGTERM:

  - Stops accepting new connections
  - Waits for in-flight requests to complete (configurable timeout)
  - Closes WebSocket connections and the notification store
*/
package main
