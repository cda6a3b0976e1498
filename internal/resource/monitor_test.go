// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package resource

import "testing"

func TestLoadTakesMaxOfCPUAndMemory(t *testing.T) {
	m := &Monitor{sample: Sample{CPUPercent: 30, MemoryPercent: 70}}
	if got := m.Load(); got != 0.7 {
		t.Errorf("Load() = %v, want 0.7", got)
	}
}

func TestLoadClampsToUnitRange(t *testing.T) {
	m := &Monitor{sample: Sample{CPUPercent: 150}}
	if got := m.Load(); got != 1 {
		t.Errorf("Load() = %v, want 1", got)
	}
}

func TestLoadZeroBeforeAnySample(t *testing.T) {
	m := NewMonitor(nil, 0)
	if got := m.Load(); got != 0 {
		t.Errorf("Load() before Start() = %v, want 0", got)
	}
}

func TestStartStopCollectsAtLeastOnce(t *testing.T) {
	m := NewMonitor(nil, 0)
	m.Start()
	m.Stop()

	s := m.Sample()
	if s.CPUPercent < 0 || s.MemoryPercent < 0 {
		t.Errorf("Sample() = %+v, want non-negative fields", s)
	}
}
