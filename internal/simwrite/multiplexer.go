// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package simwrite

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/nishisan-dev/tickproxy/internal/protocol"
	"github.com/nishisan-dev/tickproxy/internal/spatial"
)

// Multiplexer owns W WorkerBuffers and the tick's current_system_id
// cursor, serializing every worker's encoded frames onto the control
// channel at tick end.
type Multiplexer struct {
	workers  []*WorkerBuffer
	systemID atomic.Uint32
}

// NewMultiplexer builds a Multiplexer with workerCount WorkerBuffers, each
// pre-sized to approximately arenaHintPerWorker bytes.
func NewMultiplexer(workerCount, arenaHintPerWorker int) *Multiplexer {
	workers := make([]*WorkerBuffer, workerCount)
	for i := range workers {
		workers[i] = NewWorkerBuffer(arenaHintPerWorker)
	}
	return &Multiplexer{workers: workers}
}

// WorkerCount reports how many WorkerBuffers this Multiplexer holds.
func (m *Multiplexer) WorkerCount() int {
	return len(m.workers)
}

// AdvanceSystem moves current_system_id forward as the tick advances
// through its ordered list of systems. It is the only synchronization
// point between systems; within one system, workers append concurrently
// without contention.
func (m *Multiplexer) AdvanceSystem(systemID uint16) {
	m.systemID.Store(uint32(systemID))
}

// CurrentSystemID returns the system id workers should tag their next
// appended frame with.
func (m *Multiplexer) CurrentSystemID() uint16 {
	return uint16(m.systemID.Load())
}

// AppendBroadcastGlobal encodes a BroadcastGlobal frame into worker's
// buffer, tagged with the current system id.
func (m *Multiplexer) AppendBroadcastGlobal(worker int, data []byte, optional, excludeSet bool, exclude uint64) error {
	return m.workers[worker].appendBroadcastGlobal(m.CurrentSystemID(), data, optional, excludeSet, exclude)
}

// AppendBroadcastLocal encodes a BroadcastLocal frame into worker's buffer.
func (m *Multiplexer) AppendBroadcastLocal(worker int, data []byte, center spatial.ChunkPosition, radius int32, optional, excludeSet bool, exclude uint64) error {
	return m.workers[worker].appendBroadcastLocal(m.CurrentSystemID(), data, center, radius, optional, excludeSet, exclude)
}

// AppendMulticast encodes a Multicast frame into worker's buffer.
func (m *Multiplexer) AppendMulticast(worker int, data []byte, streams []uint64) error {
	return m.workers[worker].appendMulticast(m.CurrentSystemID(), data, streams)
}

// AppendUnicast encodes a Unicast frame into worker's buffer.
func (m *Multiplexer) AppendUnicast(worker int, data []byte, stream uint64) error {
	return m.workers[worker].appendUnicast(m.CurrentSystemID(), data, stream)
}

// Flush concatenates every worker buffer onto w in index order — any order
// is wire-correct since the proxy re-sorts by Order, but a fixed order
// keeps output deterministic for tests — followed by a Flush marker, then
// resets every worker buffer and the system cursor for the next tick.
func (m *Multiplexer) Flush(w io.Writer) error {
	for i, wb := range m.workers {
		if _, err := w.Write(wb.Bytes()); err != nil {
			return fmt.Errorf("writing worker %d buffer: %w", i, err)
		}
	}
	if err := protocol.WriteFlush(w); err != nil {
		return fmt.Errorf("writing flush marker: %w", err)
	}

	for _, wb := range m.workers {
		wb.Reset()
	}
	m.systemID.Store(0)
	return nil
}
