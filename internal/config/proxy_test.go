// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadProxyConfig_AppliesDefaults(t *testing.T) {
	cfg, err := LoadProxyConfig("")
	if err != nil {
		t.Fatalf("LoadProxyConfig(\"\"): %v", err)
	}
	if cfg.Ingress.MaxFrameSize != "1mb" {
		t.Errorf("Ingress.MaxFrameSize = %q, want 1mb", cfg.Ingress.MaxFrameSize)
	}
	if cfg.Connection.HighWaterMark != "1mb" {
		t.Errorf("Connection.HighWaterMark = %q, want 1mb", cfg.Connection.HighWaterMark)
	}
	if cfg.Egress.ArenaHint != "1mb" {
		t.Errorf("Egress.ArenaHint = %q, want 1mb", cfg.Egress.ArenaHint)
	}
	if cfg.IdleSweep.IdleTimeout != 5*time.Minute {
		t.Errorf("IdleSweep.IdleTimeout = %v, want 5m", cfg.IdleSweep.IdleTimeout)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging defaults = %+v, want info/text", cfg.Logging)
	}
}

func TestLoadProxyConfig_OverridesDefaults(t *testing.T) {
	content := `
listen: ":9000"
server:
  address: "sim.internal:7000"
connection:
  high_water_mark: "2mb"
  disconnect_threshold: "16mb"
  throttle_bytes_per_sec: 524288
egress:
  arena_hint: "4mb"
logging:
  level: debug
  format: json
`
	cfgPath := writeTempConfig(t, content)
	cfg, err := LoadProxyConfig(cfgPath)
	if err != nil {
		t.Fatalf("LoadProxyConfig: %v", err)
	}
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if cfg.Listen != ":9000" {
		t.Errorf("Listen = %q, want :9000", cfg.Listen)
	}
	if cfg.Server.Address != "sim.internal:7000" {
		t.Errorf("Server.Address = %q, want sim.internal:7000", cfg.Server.Address)
	}
	if cfg.Connection.HighWaterMarkRaw != 2<<20 {
		t.Errorf("HighWaterMarkRaw = %d, want %d", cfg.Connection.HighWaterMarkRaw, 2<<20)
	}
	if cfg.Connection.DisconnectThresholdRaw != 16<<20 {
		t.Errorf("DisconnectThresholdRaw = %d, want %d", cfg.Connection.DisconnectThresholdRaw, 16<<20)
	}
	if cfg.Egress.ArenaHintRaw != 4<<20 {
		t.Errorf("ArenaHintRaw = %d, want %d", cfg.Egress.ArenaHintRaw, 4<<20)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
}

func TestFinalize_MissingListenIsError(t *testing.T) {
	cfg := DefaultProxyConfig()
	cfg.Server.Address = "sim.internal:7000"
	if err := cfg.Finalize(); err == nil {
		t.Fatal("expected error for missing listen address")
	}
}

func TestFinalize_MissingServerAddressIsError(t *testing.T) {
	cfg := DefaultProxyConfig()
	cfg.Listen = ":9000"
	if err := cfg.Finalize(); err == nil {
		t.Fatal("expected error for missing server address")
	}
}

func TestFinalize_DisconnectThresholdBelowHighWaterMarkIsError(t *testing.T) {
	cfg := DefaultProxyConfig()
	cfg.Listen = ":9000"
	cfg.Server.Address = "sim.internal:7000"
	cfg.Connection.HighWaterMark = "4mb"
	cfg.Connection.DisconnectThreshold = "1mb"
	if err := cfg.Finalize(); err == nil {
		t.Fatal("expected error when disconnect_threshold < high_water_mark")
	}
}

func TestFinalize_PartialTLSIsError(t *testing.T) {
	cfg := DefaultProxyConfig()
	cfg.Listen = ":9000"
	cfg.Server.Address = "sim.internal:7000"
	cfg.Server.TLS.CACert = "/tmp/ca.pem"
	if err := cfg.Finalize(); err == nil {
		t.Fatal("expected error for partially configured TLS")
	}
}

func TestLoadProxyConfig_FileNotFound(t *testing.T) {
	if _, err := LoadProxyConfig("/nonexistent/proxy.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadProxyConfig_InvalidYAML(t *testing.T) {
	cfgPath := writeTempConfig(t, "listen: [unterminated")
	if _, err := LoadProxyConfig(cfgPath); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}
