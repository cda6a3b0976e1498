// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package egress

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/nishisan-dev/tickproxy/internal/arena"
	"github.com/nishisan-dev/tickproxy/internal/connection"
	"github.com/nishisan-dev/tickproxy/internal/faults"
	"github.com/nishisan-dev/tickproxy/internal/spatial"
)

// Phase is the proxy's tick epoch state, advancing
// Collecting → Sorting → Dispatching → Writing → Collecting on every
// control-channel Flush marker.
type Phase int

const (
	Collecting Phase = iota
	Sorting
	Dispatching
	Writing
)

func (p Phase) String() string {
	switch p {
	case Collecting:
		return "collecting"
	case Sorting:
		return "sorting"
	case Dispatching:
		return "dispatching"
	case Writing:
		return "writing"
	default:
		return "unknown"
	}
}

// writeFailureThreshold is how many consecutive Flush failures a stream
// tolerates before TransientClientIO escalates to ClientFatal.
const writeFailureThreshold = 5

// optionalAdmissionThreshold is the self-resource load, as reported by a
// configured load function, above which newly collected optional packets
// are dropped before ever reaching a stream's outbound queue.
const optionalAdmissionThreshold = 0.9

// Engine owns one flush group's arena, record buffer, and the spatial
// index rebuilt from the Connection Table each tick. It is driven by a
// single logical actor; Dispatch may be parallelized internally by
// callers that shard by stream, but no exported method here is safe to
// call concurrently with another exported method on the same Engine.
type Engine struct {
	table  *connection.Table
	logger *slog.Logger
	arena  *arena.Arena

	phase   Phase
	records []PacketRecord
	index   *spatial.Index

	dirty map[uint64]*connection.State

	writeFailures map[uint64]int

	// loadFn, when set, reports self-resource pressure in [0, 1]; Collect
	// consults it to drop optional packets before they reach any queue
	// once the proxy is under enough load to matter for ResourceExhaustion.
	loadFn func() float64

	mu sync.Mutex // guards records/dirty during concurrent Collect from ingress-side appliers
}

// NewEngine builds an Engine over table. arenaHint sizes the first tick's
// arena allocation.
func NewEngine(table *connection.Table, logger *slog.Logger, arenaHint int) *Engine {
	return &Engine{
		table:         table,
		logger:        logger,
		arena:         arena.New(arenaHint),
		phase:         Collecting,
		dirty:         make(map[uint64]*connection.State),
		writeFailures: make(map[uint64]int),
	}
}

// SetLoadFunc installs fn as the engine's self-resource pressure source.
// Pass a *resource.Monitor's Load method; nil disables the admission
// check.
func (e *Engine) SetLoadFunc(fn func() float64) {
	e.loadFn = fn
}

// Phase reports the engine's current tick-epoch state.
func (e *Engine) Phase() Phase {
	return e.phase
}

// ApplyChunkPositions updates connection state positions from an
// UpdatePlayerChunkPositions message. It must be called during Collecting,
// before RebuildSpatialIndex/Sort, since position updates are not ordered
// packets themselves. Unknown stream ids are skipped silently — the
// simulation may reference a stream that already disconnected.
func (e *Engine) ApplyChunkPositions(streams []uint64, positions []spatial.ChunkPosition) {
	for i, stream := range streams {
		if st := e.table.Get(stream); st != nil {
			st.SetChunkPos(positions[i])
		}
	}
}

// ApplySetReceiveBroadcasts latches broadcast delivery for stream. Unknown
// streams are a no-op.
func (e *Engine) ApplySetReceiveBroadcasts(stream uint64) {
	if st := e.table.Get(stream); st != nil {
		st.SetReceiveBroadcasts()
	}
}

// Collect appends a PacketRecord to the current flush group, copying its
// payload into the tick arena. Safe for concurrent use by multiple
// decoder goroutines feeding the same flush group.
func (e *Engine) Collect(payload []byte, addr Addressing, order uint32, optional, excludeSet bool, exclude uint64) {
	if optional && e.loadFn != nil && e.loadFn() >= optionalAdmissionThreshold {
		e.logger.Debug("dropping optional packet under resource pressure", "load", e.loadFn())
		return
	}

	borrowed := e.arena.Alloc(payload)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, PacketRecord{
		Payload:    borrowed,
		Addressing: addr,
		Order:      order,
		Optional:   optional,
		ExcludeSet: excludeSet,
		Exclude:    exclude,
		arrival:    len(e.records),
	})
}

// RebuildSpatialIndex bulk-rebuilds the Spatial Index from every currently
// broadcast-receiving stream's chunk position. Called once per tick,
// after ApplyChunkPositions and before Sort.
func (e *Engine) RebuildSpatialIndex() {
	snapshot := e.table.Snapshot()
	points := make([]spatial.Point, 0, len(snapshot))
	for _, st := range snapshot {
		if st.ReceivesBroadcasts() {
			points = append(points, spatial.Point{Stream: st.Stream, Pos: st.ChunkPos()})
		}
	}
	e.index = spatial.Build(points)
	e.phase = Sorting
}

// Sort stable-sorts the flush group by ascending Order, tie-breaking on
// arrival index. Packing system_id into Order's high bits means records
// from the same simulation system sort together even though worker
// threads produced them out of order.
func (e *Engine) Sort() {
	sort.SliceStable(e.records, func(i, j int) bool {
		if e.records[i].Order != e.records[j].Order {
			return e.records[i].Order < e.records[j].Order
		}
		return e.records[i].arrival < e.records[j].arrival
	})
	e.phase = Dispatching
}

// Dispatch resolves each record's addressing to a target stream set and
// appends its payload to each target's outbound queue. It marks streams
// whose queue has grown for the Writing phase and streams whose queue now
// exceeds the disconnect threshold as Closing.
func (e *Engine) Dispatch() {
	for _, rec := range e.records {
		targets := e.targetsFor(rec)
		for _, stream := range targets {
			st := e.table.Get(stream)
			if st == nil {
				continue
			}
			queued, overloaded := st.Queue.Enqueue(rec.Payload, rec.Optional)
			if queued {
				e.dirty[stream] = st
			}
			if overloaded {
				st.SetLifecycle(connection.Closing)
				e.logger.Warn("stream exceeded disconnect threshold", "stream", stream)
			}
		}
	}
	e.phase = Writing
}

func (e *Engine) targetsFor(rec PacketRecord) []uint64 {
	switch rec.Addressing.Kind {
	case Global:
		var out []uint64
		e.table.Range(func(st *connection.State) bool {
			if st.ReceivesBroadcasts() && !(rec.ExcludeSet && st.Stream == rec.Exclude) {
				out = append(out, st.Stream)
			}
			return true
		})
		return out

	case Local:
		candidates := e.index.Query(rec.Addressing.Center, rec.Addressing.Radius)
		out := candidates[:0]
		for _, s := range candidates {
			if rec.ExcludeSet && s == rec.Exclude {
				continue
			}
			out = append(out, s)
		}
		return out

	case Multicast:
		return rec.Addressing.Streams

	case Unicast:
		if rec.ExcludeSet && rec.Addressing.Stream == rec.Exclude {
			return nil
		}
		return []uint64{rec.Addressing.Stream}

	default:
		return nil
	}
}

// Write flushes every dirty stream's outbound queue with a single
// vectored write attempt each, classifying failures per §7: a write error
// is TransientClientIO up to writeFailureThreshold consecutive failures,
// after which the stream is marked ClientFatal (Closing).
func (e *Engine) Write() map[uint64]error {
	failures := make(map[uint64]error)

	for stream, st := range e.dirty {
		_, err := st.Queue.Flush(st.Writer())
		if err == nil {
			delete(e.writeFailures, stream)
			continue
		}

		e.writeFailures[stream]++
		if e.writeFailures[stream] >= writeFailureThreshold {
			st.SetLifecycle(connection.Closing)
			failures[stream] = faults.Wrap(faults.ErrClientFatal, "repeated write failures", err)
		} else {
			failures[stream] = faults.Wrap(faults.ErrTransientClientIO, "write failed, will retry", err)
		}
	}

	return failures
}

// Reset clears the flush group, poisoning the tick arena so any dangling
// reference reads garbage instead of stale payload bytes, and returns the
// engine to Collecting for the next flush group.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.records = e.records[:0]
	e.mu.Unlock()

	e.dirty = make(map[uint64]*connection.State)
	e.arena.Reset()
	e.phase = Collecting
}

// Records exposes the current flush group for tests; not for use by
// production call sites outside this package.
func (e *Engine) Records() []PacketRecord {
	return e.records
}
