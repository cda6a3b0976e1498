// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SimulationConfig names the downstream simulation server's control-channel
// address and, optionally, the TLS material to dial it with.
type SimulationConfig struct {
	Address string   `yaml:"address"`
	TLS     TLSPaths `yaml:"tls"`
}

// IngressConfig tunes the Ingress Engine's per-connection reader tasks.
type IngressConfig struct {
	MaxFrameSize    string `yaml:"max_frame_size"`
	MaxFrameSizeRaw int64  `yaml:"-"`

	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// ConnectionConfig sizes every stream's outbound queue and optional
// per-stream throttle.
type ConnectionConfig struct {
	HighWaterMark    string `yaml:"high_water_mark"`
	HighWaterMarkRaw int64  `yaml:"-"`

	DisconnectThreshold    string `yaml:"disconnect_threshold"`
	DisconnectThresholdRaw int64  `yaml:"-"`

	// ThrottleBytesPerSec, when non-zero, enables a per-stream token-bucket
	// write limiter. Zero means unthrottled.
	ThrottleBytesPerSec int64 `yaml:"throttle_bytes_per_sec"`
}

// IdleSweepConfig configures the background sweep that disconnects streams
// that have gone quiet for too long.
type IdleSweepConfig struct {
	Interval    time.Duration `yaml:"interval"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// ResourceConfig configures self-resource sampling used to gate admission
// of optional outbound traffic.
type ResourceConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// EgressConfig sizes the Egress Engine's per-tick arena.
type EgressConfig struct {
	ArenaHint    string `yaml:"arena_hint"`
	ArenaHintRaw int64  `yaml:"-"`
}

// ProxyConfig is the root configuration for the proxy binary. Listen and
// Server.Address may be left empty here and supplied on the command line;
// Finalize, not Load, is where their absence becomes an error.
type ProxyConfig struct {
	Listen     string           `yaml:"listen"`
	Server     SimulationConfig `yaml:"server"`
	Ingress    IngressConfig    `yaml:"ingress"`
	Connection ConnectionConfig `yaml:"connection"`
	Egress     EgressConfig     `yaml:"egress"`
	IdleSweep  IdleSweepConfig  `yaml:"idle_sweep"`
	Resource   ResourceConfig   `yaml:"resource"`
	Logging    LoggingInfo      `yaml:"logging"`
}

// DefaultProxyConfig returns a ProxyConfig with every default applied, as
// if loaded from an empty file.
func DefaultProxyConfig() *ProxyConfig {
	c := &ProxyConfig{}
	c.applyDefaults()
	return c
}

// LoadProxyConfig reads and parses the YAML file at path, applying defaults
// to any field the file leaves unset. An empty path returns
// DefaultProxyConfig() unmodified, since the proxy can run from CLI flags
// alone. Call Finalize after merging in any CLI overrides.
func LoadProxyConfig(path string) (*ProxyConfig, error) {
	c := DefaultProxyConfig()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading proxy config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing proxy config: %w", err)
	}
	c.applyDefaults()
	return c, nil
}

func (c *ProxyConfig) applyDefaults() {
	if c.Ingress.MaxFrameSize == "" {
		c.Ingress.MaxFrameSize = "1mb"
	}
	if c.Ingress.DrainTimeout == 0 {
		c.Ingress.DrainTimeout = 5 * time.Second
	}
	if c.Connection.HighWaterMark == "" {
		c.Connection.HighWaterMark = "1mb"
	}
	if c.Connection.DisconnectThreshold == "" {
		c.Connection.DisconnectThreshold = "8mb"
	}
	if c.Egress.ArenaHint == "" {
		c.Egress.ArenaHint = "1mb"
	}
	if c.IdleSweep.Interval == 0 {
		c.IdleSweep.Interval = 30 * time.Second
	}
	if c.IdleSweep.IdleTimeout == 0 {
		c.IdleSweep.IdleTimeout = 5 * time.Minute
	}
	if c.Resource.SampleInterval == 0 {
		c.Resource.SampleInterval = 15 * time.Second
	}
	c.Logging.applyDefaults()
}

// Finalize validates the fully-assembled config (after any CLI overrides
// have been applied to Listen and Server.Address) and parses its
// human-friendly byte sizes into their Raw fields.
func (c *ProxyConfig) Finalize() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Server.Address == "" {
		return fmt.Errorf("simulation server address is required")
	}
	if err := c.Server.TLS.validate("server.tls"); err != nil {
		return err
	}

	maxFrame, err := ParseByteSize(c.Ingress.MaxFrameSize)
	if err != nil {
		return fmt.Errorf("ingress.max_frame_size: %w", err)
	}
	c.Ingress.MaxFrameSizeRaw = maxFrame

	hwm, err := ParseByteSize(c.Connection.HighWaterMark)
	if err != nil {
		return fmt.Errorf("connection.high_water_mark: %w", err)
	}
	c.Connection.HighWaterMarkRaw = hwm

	dt, err := ParseByteSize(c.Connection.DisconnectThreshold)
	if err != nil {
		return fmt.Errorf("connection.disconnect_threshold: %w", err)
	}
	c.Connection.DisconnectThresholdRaw = dt

	if c.Connection.DisconnectThresholdRaw < c.Connection.HighWaterMarkRaw {
		return fmt.Errorf("connection.disconnect_threshold must be >= high_water_mark")
	}
	if c.Connection.ThrottleBytesPerSec < 0 {
		return fmt.Errorf("connection.throttle_bytes_per_sec must not be negative")
	}

	arenaHint, err := ParseByteSize(c.Egress.ArenaHint)
	if err != nil {
		return fmt.Errorf("egress.arena_hint: %w", err)
	}
	c.Egress.ArenaHintRaw = arenaHint

	return nil
}
