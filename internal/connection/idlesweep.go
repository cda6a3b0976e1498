// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// IdleSweeper periodically scans the Connection Table for streams that
// have exceeded their wall-clock idle timeout and moves them to Closing.
// This runs on a calendar schedule independent of the simulation's tick
// cadence — the tick epoch (Collecting/Sorting/Dispatching/Writing) has no
// concept of wall-clock time, but idle detection needs one.
type IdleSweeper struct {
	cron    *cron.Cron
	logger  *slog.Logger
	table   *Table
	timeout time.Duration

	mu      sync.Mutex
	running bool
}

// NewIdleSweeper builds a sweeper that checks every interval for streams
// idle longer than timeout, expressed as a cron "@every" spec.
func NewIdleSweeper(table *Table, logger *slog.Logger, interval, timeout time.Duration) (*IdleSweeper, error) {
	s := &IdleSweeper{
		logger:  logger,
		table:   table,
		timeout: timeout,
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	spec := fmt.Sprintf("@every %s", interval)
	if _, err := c.AddFunc(spec, s.sweep); err != nil {
		return nil, fmt.Errorf("registering idle sweep job: %w", err)
	}

	s.cron = c
	return s, nil
}

// Start begins the periodic sweep.
func (s *IdleSweeper) Start() {
	s.logger.Info("idle sweeper started", "timeout", s.timeout)
	s.cron.Start()
}

// Stop halts the sweeper, waiting for any in-flight sweep to finish or ctx
// to expire, whichever comes first.
func (s *IdleSweeper) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("idle sweeper stopped")
	case <-ctx.Done():
		s.logger.Warn("idle sweeper stop timed out")
	}
}

func (s *IdleSweeper) sweep() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	closed := 0
	s.table.Range(func(st *State) bool {
		if st.Lifecycle() != Active {
			return true
		}
		if st.IdleSince() > s.timeout {
			st.SetLifecycle(Closing)
			closed++
		}
		return true
	})

	if closed > 0 {
		s.logger.Info("idle sweep moved streams to closing", "count", closed)
	}
}
