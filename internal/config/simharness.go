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

// SimHarnessConfig is the root configuration for the reference simulation
// binary used to exercise a proxy during manual and integration testing.
type SimHarnessConfig struct {
	Listen string   `yaml:"listen"`
	TLS    TLSPaths `yaml:"tls"`

	WorkerCount int `yaml:"worker_count"`

	ArenaHintPerWorker    string `yaml:"arena_hint_per_worker"`
	ArenaHintPerWorkerRaw int64  `yaml:"-"`

	TickInterval time.Duration `yaml:"tick_interval"`

	Logging LoggingInfo `yaml:"logging"`
}

// DefaultSimHarnessConfig returns a SimHarnessConfig with every default
// applied, as if loaded from an empty file.
func DefaultSimHarnessConfig() *SimHarnessConfig {
	c := &SimHarnessConfig{}
	c.applyDefaults()
	return c
}

// LoadSimHarnessConfig reads and parses the YAML file at path, applying
// defaults to any field the file leaves unset. An empty path returns
// DefaultSimHarnessConfig() unmodified.
func LoadSimHarnessConfig(path string) (*SimHarnessConfig, error) {
	c := DefaultSimHarnessConfig()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading simharness config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing simharness config: %w", err)
	}
	c.applyDefaults()
	return c, nil
}

func (c *SimHarnessConfig) applyDefaults() {
	if c.WorkerCount == 0 {
		c.WorkerCount = 4
	}
	if c.ArenaHintPerWorker == "" {
		c.ArenaHintPerWorker = "64kb"
	}
	if c.TickInterval == 0 {
		c.TickInterval = 50 * time.Millisecond
	}
	c.Logging.applyDefaults()
}

// Finalize validates the fully-assembled config (after any CLI overrides
// have been applied to Listen) and parses its human-friendly byte sizes.
func (c *SimHarnessConfig) Finalize() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if err := c.TLS.validate("tls"); err != nil {
		return err
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker_count must be at least 1")
	}

	hint, err := ParseByteSize(c.ArenaHintPerWorker)
	if err != nil {
		return fmt.Errorf("arena_hint_per_worker: %w", err)
	}
	c.ArenaHintPerWorkerRaw = hint

	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive")
	}

	return nil
}
