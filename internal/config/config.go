// Caldesk - CalDAV Calendar Web Client with Real-Time Notifications
// Copyright 2026 Caldesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/caldesk/caldesk

// Package config loads Caldesk configuration via Koanf v2 with layered
// sources (highest priority wins):
//
//  1. Environment variables (CALDESK_SERVER_PORT, CALDESK_WEBSOCKET_..., ...)
//  2. Config file (config.yaml)
//  3. Built-in defaults
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration structure.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Database      DatabaseConfig      `koanf:"database"`
	WebSocket     WebSocketConfig     `koanf:"websocket"`
	Reconnect     ReconnectConfig     `koanf:"reconnect"`
	NATS          NATSConfig          `koanf:"nats"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Calendar      CalendarConfig      `koanf:"calendar"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// DatabaseConfig holds the notification store settings.
type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// WebSocketConfig tunes the duplex channel on the server side.
type WebSocketConfig struct {
	// PrimaryPath and FallbackPath are the two equivalent endpoint paths
	// clients may connect on; the same handler serves both.
	PrimaryPath  string `koanf:"primary_path" validate:"required,startswith=/"`
	FallbackPath string `koanf:"fallback_path" validate:"required,startswith=/"`

	ReadBufferSize   int           `koanf:"read_buffer_size" validate:"min=256"`
	WriteBufferSize  int           `koanf:"write_buffer_size" validate:"min=256"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	WriteWait        time.Duration `koanf:"write_wait"`
	PongWait         time.Duration `koanf:"pong_wait"`
	MaxMessageSize   int64         `koanf:"max_message_size" validate:"min=1024"`
	SendBuffer       int           `koanf:"send_buffer" validate:"min=1"`

	// InboundRate caps client-to-server envelopes per connection per second
	// (token bucket, burst InboundBurst). Zero disables the limiter.
	InboundRate  float64 `koanf:"inbound_rate"`
	InboundBurst int     `koanf:"inbound_burst"`
}

// ReconnectConfig holds the backoff schedule served to clients at
// GET /api/notifications/config and used by the Go client in this module.
type ReconnectConfig struct {
	BaseDelay    time.Duration `koanf:"base_delay"`
	GrowthFactor float64       `koanf:"growth_factor" validate:"min=1"`
	MaxDelay     time.Duration `koanf:"max_delay"`
	MaxAttempts  int           `koanf:"max_attempts" validate:"min=1"`
}

// NATSConfig enables the cross-process broadcast bridge. With a single
// process (the default) the in-memory registry is the whole story and this
// stays disabled.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// NotificationsConfig tunes durable record handling.
type NotificationsConfig struct {
	// SweepInterval is how often expired notifications are purged.
	SweepInterval time.Duration `koanf:"sweep_interval"`
	// DefaultTTL is applied to records without an explicit expiry; zero
	// keeps them forever.
	DefaultTTL time.Duration `koanf:"default_ttl"`
}

// CalendarConfig points the change poller at a directory of iCalendar
// files, one file per calendar collection.
type CalendarConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Dir          string        `koanf:"dir"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

// Default returns a Config with all defaults applied, without consulting
// the config file or environment.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with all defaults applied. These are
// overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8710,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Path: "/data/caldesk.db",
		},
		WebSocket: WebSocketConfig{
			PrimaryPath:      "/api/ws",
			FallbackPath:     "/ws",
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			WriteWait:        10 * time.Second,
			PongWait:         60 * time.Second,
			MaxMessageSize:   64 * 1024,
			SendBuffer:       256,
			InboundRate:      20,
			InboundBurst:     40,
		},
		Reconnect: ReconnectConfig{
			BaseDelay:    time.Second,
			GrowthFactor: 2.0,
			MaxDelay:     30 * time.Second,
			MaxAttempts:  10,
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "caldesk.notify",
		},
		Notifications: NotificationsConfig{
			SweepInterval: time.Hour,
			DefaultTTL:    0,
		},
		Calendar: CalendarConfig{
			Enabled:      true,
			Dir:          "/data/calendars",
			PollInterval: 30 * time.Second,
		},
	}
}

// Validate checks the configuration for consistency beyond struct tags.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if c.WebSocket.PrimaryPath == c.WebSocket.FallbackPath {
		return fmt.Errorf("config validation: websocket primary and fallback paths must differ")
	}
	if c.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("config validation: reconnect base_delay must be positive")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("config validation: reconnect max_delay must be >= base_delay")
	}
	if c.WebSocket.PongWait <= c.WebSocket.WriteWait {
		return fmt.Errorf("config validation: websocket pong_wait must exceed write_wait")
	}
	if c.Calendar.Enabled {
		if c.Calendar.Dir == "" {
			return fmt.Errorf("config validation: calendar dir required when calendar polling is enabled")
		}
		if c.Calendar.PollInterval <= 0 {
			return fmt.Errorf("config validation: calendar poll_interval must be positive")
		}
	}
	return nil
}

// PingPeriod derives the server-side keepalive interval from PongWait,
// leaving headroom for the pong to arrive before the read deadline.
func (c *WebSocketConfig) PingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}
