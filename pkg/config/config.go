// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the agent configuration from YAML
// files and environment variables.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the full agent configuration.
type Config struct {
	// Url is the websocket endpoint of the server's agent port.
	Url string `koanf:"url" json:"url"`

	// Token authenticates the agent; sent as a bearer header on dial.
	Token string `koanf:"token" json:"token,omitempty"`

	// InstanceID distinguishes multiple agents of the same app.
	InstanceID string `koanf:"instance_id" json:"instance_id,omitempty"`

	// PublishInterval is the state replication debounce window.
	PublishInterval time.Duration `koanf:"publish_interval" json:"publish_interval,omitempty"`

	// OutboundQueueBytes bounds the outbound frame queue.
	OutboundQueueBytes int `koanf:"outbound_queue_bytes" json:"outbound_queue_bytes,omitempty"`

	// ReplayBufferSize caps the terminal-event replay buffer.
	ReplayBufferSize int `koanf:"replay_buffer_size" json:"replay_buffer_size,omitempty"`

	// ReplayTTL is how long terminal events stay replayable.
	ReplayTTL time.Duration `koanf:"replay_ttl" json:"replay_ttl,omitempty"`

	// GracePeriod bounds the wait for cancelled assignments on shutdown.
	GracePeriod time.Duration `koanf:"grace_period" json:"grace_period,omitempty"`

	Backoff BackoffConfig `koanf:"backoff" json:"backoff,omitempty"`
	Log     LogConfig     `koanf:"log" json:"log,omitempty"`
	Metrics MetricsConfig `koanf:"metrics" json:"metrics,omitempty"`
}

// BackoffConfig shapes the reconnect schedule.
type BackoffConfig struct {
	Initial time.Duration `koanf:"initial" json:"initial,omitempty"`
	Max     time.Duration `koanf:"max" json:"max,omitempty"`
}

// LogConfig shapes the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level" json:"level,omitempty"`

	// Format is simple or verbose.
	Format string `koanf:"format" json:"format,omitempty"`
}

// MetricsConfig enables the debug/metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled" json:"enabled,omitempty"`
	Addr    string `koanf:"addr" json:"addr,omitempty"`
}

// Defaults returns a config with every optional knob at its default.
func Defaults() map[string]any {
	return map[string]any{
		"instance_id":          "default",
		"publish_interval":     "100ms",
		"outbound_queue_bytes": 8 << 20,
		"replay_buffer_size":   256,
		"replay_ttl":           "5m",
		"grace_period":         "10s",
		"backoff.initial":      "500ms",
		"backoff.max":          "30s",
		"log.level":            "info",
		"log.format":           "simple",
		"metrics.enabled":      false,
		"metrics.addr":         ":9090",
	}
}

// Validate checks cross-field consistency and required values.
func (c *Config) Validate() error {
	if c.Url == "" {
		return fmt.Errorf("config: url is required")
	}
	u, err := url.Parse(c.Url)
	if err != nil {
		return fmt.Errorf("config: url is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("config: url scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.PublishInterval < 0 {
		return fmt.Errorf("config: publish_interval must not be negative")
	}
	if c.OutboundQueueBytes < 0 {
		return fmt.Errorf("config: outbound_queue_bytes must not be negative")
	}
	if c.ReplayBufferSize < 0 {
		return fmt.Errorf("config: replay_buffer_size must not be negative")
	}
	if c.Backoff.Initial > c.Backoff.Max && c.Backoff.Max > 0 {
		return fmt.Errorf("config: backoff.initial exceeds backoff.max")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("config: metrics.addr is required when metrics are enabled")
	}
	return nil
}
