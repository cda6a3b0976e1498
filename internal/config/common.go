// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads and validates the YAML configuration files for the
// proxy and simulation-harness binaries, applying defaults the way the
// command-line flags are allowed to override after the fact.
package config

import (
	"fmt"
	"strconv"
	"strings"
)

// LoggingInfo configures a logging.NewLogger call: level, output format,
// and an optional file path (empty means stdout only).
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

func (l *LoggingInfo) applyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
}

// TLSPaths names the certificate material for one side of a mutually
// authenticated TLS connection. A zero value means TLS is disabled.
type TLSPaths struct {
	CACert string `yaml:"ca_cert"`
	Cert   string `yaml:"cert"`
	Key    string `yaml:"key"`
}

// Enabled reports whether enough of TLSPaths was filled in to attempt
// building a tls.Config from it.
func (t TLSPaths) Enabled() bool {
	return t.CACert != "" || t.Cert != "" || t.Key != ""
}

func (t TLSPaths) validate(context string) error {
	if !t.Enabled() {
		return nil
	}
	if t.CACert == "" || t.Cert == "" || t.Key == "" {
		return fmt.Errorf("%s: ca_cert, cert, and key must all be set to enable TLS", context)
	}
	return nil
}

// ParseByteSize parses human-friendly byte-size strings such as "256kb",
// "64mb", "1gb", or a bare integer byte count. Suffixes are matched
// longest-first so "kb" is not mistaken for a stray trailing "b".
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	units := []struct {
		suffix string
		mult   int64
	}{
		{"gb", 1 << 30},
		{"mb", 1 << 20},
		{"kb", 1 << 10},
		{"b", 1},
	}

	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			numPart := strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			if numPart == "" {
				return 0, fmt.Errorf("invalid byte size %q: missing number", s)
			}
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
			}
			return int64(n * float64(u.mult)), nil
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return n, nil
}
