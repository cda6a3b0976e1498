// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package simwrite implements the simulation-side Server-side Write
// Multiplexer: per-worker arena-backed byte buffers that let many
// simulation worker threads encode PacketRecord frames without contention,
// concatenated onto the control channel at tick end.
package simwrite

import (
	"errors"
	"fmt"
	"io"

	"github.com/nishisan-dev/tickproxy/internal/arena"
	"github.com/nishisan-dev/tickproxy/internal/protocol"
	"github.com/nishisan-dev/tickproxy/internal/spatial"
)

// ErrCounterOverflow is returned when a worker would need a 17th bit to
// represent its local counter for the current system id within one tick.
var ErrCounterOverflow = errors.New("simwrite: local counter overflowed 16 bits for this system id")

// WorkerBuffer is one worker thread's arena-backed output for the current
// tick. It is not safe for concurrent use by more than one goroutine —
// each simulation worker owns exactly one.
type WorkerBuffer struct {
	arena  *arena.Arena
	writer io.Writer

	haveCounter  bool
	lastSystemID uint16
	counter      uint32
}

// NewWorkerBuffer allocates a WorkerBuffer whose arena is pre-sized to
// approximately arenaHint bytes.
func NewWorkerBuffer(arenaHint int) *WorkerBuffer {
	a := arena.New(arenaHint)
	return &WorkerBuffer{arena: a, writer: a.Writer()}
}

// Bytes returns everything appended to this buffer since the last Reset.
func (wb *WorkerBuffer) Bytes() []byte {
	return wb.arena.Bytes()
}

// Reset reclaims the buffer's arena and rearms the per-system counter for
// the next tick.
func (wb *WorkerBuffer) Reset() {
	wb.arena.Reset()
	wb.haveCounter = false
	wb.counter = 0
}

// order computes this worker's next order tag for systemID, resetting the
// local counter whenever the caller crosses into a new system id. It
// returns ErrCounterOverflow instead of silently wrapping past 65 535.
func (wb *WorkerBuffer) order(systemID uint16) (uint32, error) {
	if !wb.haveCounter || wb.lastSystemID != systemID {
		wb.lastSystemID = systemID
		wb.counter = 0
		wb.haveCounter = true
	}
	if wb.counter > 0xFFFF {
		return 0, fmt.Errorf("%w: system %d", ErrCounterOverflow, systemID)
	}
	order := protocol.PackOrder(systemID, uint16(wb.counter))
	wb.counter++
	return order, nil
}

func (wb *WorkerBuffer) appendBroadcastGlobal(systemID uint16, data []byte, optional, excludeSet bool, exclude uint64) error {
	order, err := wb.order(systemID)
	if err != nil {
		return err
	}
	return protocol.WriteBroadcastGlobal(wb.writer, &protocol.BroadcastGlobal{
		Data: data, Optional: optional, ExcludeSet: excludeSet, Exclude: exclude, Order: order,
	})
}

func (wb *WorkerBuffer) appendBroadcastLocal(systemID uint16, data []byte, center spatial.ChunkPosition, radius int32, optional, excludeSet bool, exclude uint64) error {
	order, err := wb.order(systemID)
	if err != nil {
		return err
	}
	return protocol.WriteBroadcastLocal(wb.writer, &protocol.BroadcastLocal{
		Data: data, Center: center, TaxicabRadius: radius,
		Optional: optional, ExcludeSet: excludeSet, Exclude: exclude, Order: order,
	})
}

func (wb *WorkerBuffer) appendMulticast(systemID uint16, data []byte, streams []uint64) error {
	order, err := wb.order(systemID)
	if err != nil {
		return err
	}
	return protocol.WriteMulticast(wb.writer, &protocol.Multicast{Data: data, Streams: streams, Order: order})
}

func (wb *WorkerBuffer) appendUnicast(systemID uint16, data []byte, stream uint64) error {
	order, err := wb.order(systemID)
	if err != nil {
		return err
	}
	return protocol.WriteUnicast(wb.writer, &protocol.Unicast{Data: data, Stream: stream, Order: order})
}
