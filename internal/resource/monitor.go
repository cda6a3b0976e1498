// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package resource samples the host's system-wide CPU and memory usage so
// the egress engine can throttle admission of optional traffic before the
// process itself becomes the bottleneck, feeding the ResourceExhaustion
// error kind.
package resource

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sample is one collection of self-resource metrics.
type Sample struct {
	CPUPercent    float64
	MemoryPercent float64
}

// defaultInterval is used when NewMonitor is given a non-positive interval.
const defaultInterval = 15 * time.Second

// Monitor collects Sample values periodically in the background. It is not
// a metrics dashboard — nothing here is exported or exposed over a wire
// protocol — it exists only to feed Load() to backpressure decisions.
type Monitor struct {
	logger   *slog.Logger
	interval time.Duration

	close chan struct{}
	wg    sync.WaitGroup

	mu     sync.RWMutex
	sample Sample
}

// NewMonitor builds a Monitor that samples every interval (defaultInterval
// if interval <= 0).
func NewMonitor(logger *slog.Logger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Monitor{
		logger:   logger,
		interval: interval,
		close:    make(chan struct{}),
	}
}

// Start begins periodic sampling in a background goroutine.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop halts sampling and waits for the background goroutine to exit.
func (m *Monitor) Stop() {
	close(m.close)
	m.wg.Wait()
}

// Sample returns the most recently collected metrics.
func (m *Monitor) Sample() Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sample
}

// Load condenses the latest sample into a single [0, 1] pressure figure,
// the larger of CPU and memory utilization. Callers use it to decide
// whether to keep admitting optional packets under §7's ResourceExhaustion
// policy.
func (m *Monitor) Load() float64 {
	s := m.Sample()
	load := s.CPUPercent
	if s.MemoryPercent > load {
		load = s.MemoryPercent
	}
	load /= 100
	if load < 0 {
		return 0
	}
	if load > 1 {
		return 1
	}
	return load
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-m.close:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	var s Sample

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		s.CPUPercent = percentages[0]
	} else if m.logger != nil {
		m.logger.Debug("failed to sample cpu usage", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = v.UsedPercent
	} else if m.logger != nil {
		m.logger.Debug("failed to sample memory usage", "error", err)
	}

	m.mu.Lock()
	m.sample = s
	m.mu.Unlock()
}
