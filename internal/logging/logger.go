// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logging builds the structured slog.Logger shared by the proxy
// and simulation-harness binaries.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// duplicateWindow bounds how long repeats of the same (level, message)
// pair are suppressed once one has fired. When the control channel to the
// simulation server breaks, every connected stream's next control-channel
// write (see internal/proxy's onFrame and onDisconnect) fails with the
// same message -- without suppression that is one line per stream, all in
// the same tick.
const duplicateWindow = time.Second

// NewLogger builds a slog.Logger for the given level, format ("json" or
// "text", default "json") and optional file path. When filePath is
// non-empty, logs are written to both stdout and the file. The returned
// io.Closer must be closed on shutdown; it is a no-op when filePath is
// empty.
//
// The handler collapses bursts of identical (level, message) pairs within
// duplicateWindow down to their first occurrence, so a tick that fails
// the same way for thousands of streams at once produces one log line
// instead of thousands.
func NewLogger(level, format, filePath string) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var w io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(strings.NewReader(""))

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stdout only)\n", filePath, err)
		} else {
			w = io.MultiWriter(os.Stdout, f)
			closer = f
		}
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(newDuplicateSuppressor(handler, duplicateWindow)), closer
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// duplicateSuppressor wraps a slog.Handler and drops repeats of a
// (level, message) pair that arrive within window of the pair's first
// sighting. Attributes are ignored for the purposes of matching: a tick
// failure that logs the same message with a different stream id each
// time is exactly the case this exists to collapse.
type duplicateSuppressor struct {
	next   slog.Handler
	window time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

func newDuplicateSuppressor(next slog.Handler, window time.Duration) *duplicateSuppressor {
	return &duplicateSuppressor{next: next, window: window, seen: make(map[string]time.Time)}
}

func (d *duplicateSuppressor) Enabled(ctx context.Context, level slog.Level) bool {
	return d.next.Enabled(ctx, level)
}

func (d *duplicateSuppressor) Handle(ctx context.Context, r slog.Record) error {
	key := fmt.Sprintf("%d|%s", r.Level, r.Message)
	now := r.Time
	if now.IsZero() {
		now = time.Now()
	}

	d.mu.Lock()
	first, ok := d.seen[key]
	if !ok || now.Sub(first) > d.window {
		d.seen[key] = now
		d.mu.Unlock()
		return d.next.Handle(ctx, r)
	}
	d.mu.Unlock()
	return nil
}

func (d *duplicateSuppressor) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &duplicateSuppressor{next: d.next.WithAttrs(attrs), window: d.window, seen: make(map[string]time.Time)}
}

func (d *duplicateSuppressor) WithGroup(name string) slog.Handler {
	return &duplicateSuppressor{next: d.next.WithGroup(name), window: d.window, seen: make(map[string]time.Time)}
}
