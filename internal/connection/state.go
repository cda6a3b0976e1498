// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package connection holds per-stream state: the lifecycle state machine,
// the outbound send queue, and the sharded table that indexes all
// currently connected streams.
package connection

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/tickproxy/internal/spatial"
)

// Lifecycle is the stream state machine from Pending through Gone.
type Lifecycle int32

const (
	Pending Lifecycle = iota
	Active
	Closing
	Gone
)

func (l Lifecycle) String() string {
	switch l {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Gone:
		return "gone"
	default:
		return "unknown"
	}
}

// State holds everything the proxy tracks for one connected client. The
// mutable fields that change every tick (chunk position, broadcast flag)
// are behind atomics so Dispatch can read them without taking a table-wide
// lock; Conn and Queue are fixed for the life of the stream.
type State struct {
	Stream uint64
	Conn   net.Conn
	Queue  *OutboundQueue

	lifecycle atomic.Int32

	chunkPos atomic.Value // spatial.ChunkPosition

	receivesBroadcasts atomic.Bool

	// NextUnicastOrder is the per-stream cursor used when the proxy itself
	// needs to assign an order to synthetic unicast traffic (none in the
	// current command set, reserved per the data model's ConnectionState
	// definition for forward compatibility with proxy-originated packets).
	NextUnicastOrder atomic.Uint32

	lastActivity atomic.Int64 // unix nanos, updated by Touch on every ingress frame

	writer atomic.Value // io.Writer, set by EnableThrottle; nil means use Conn directly
}

// NewState creates a stream in the Pending lifecycle state.
func NewState(stream uint64, conn net.Conn, highWaterMark, disconnectThreshold int) *State {
	s := &State{
		Stream: stream,
		Conn:   conn,
		Queue:  NewOutboundQueue(highWaterMark, disconnectThreshold),
	}
	s.lifecycle.Store(int32(Pending))
	s.chunkPos.Store(spatial.ChunkPosition{})
	s.lastActivity.Store(time.Now().UnixNano())
	return s
}

// Lifecycle returns the stream's current state.
func (s *State) Lifecycle() Lifecycle {
	return Lifecycle(s.lifecycle.Load())
}

// SetLifecycle transitions the stream to the given state unconditionally.
// Callers are responsible for only issuing transitions the state machine
// in §4.6 allows.
func (s *State) SetLifecycle(l Lifecycle) {
	s.lifecycle.Store(int32(l))
}

// Activate moves a Pending stream to Active, matching the "accept →
// Pending; immediately emit PlayerConnect → Active(false)" transition.
func (s *State) Activate() {
	s.lifecycle.Store(int32(Active))
}

// ReceivesBroadcasts reports whether SetReceiveBroadcasts has latched this
// stream into the broadcast-receiving set.
func (s *State) ReceivesBroadcasts() bool {
	return s.receivesBroadcasts.Load()
}

// SetReceiveBroadcasts latches broadcast delivery to true. It never
// transitions back to false; the protocol has no "unsubscribe" message.
func (s *State) SetReceiveBroadcasts() {
	s.receivesBroadcasts.Store(true)
}

// ChunkPos returns the stream's last known chunk position.
func (s *State) ChunkPos() spatial.ChunkPosition {
	return s.chunkPos.Load().(spatial.ChunkPosition)
}

// SetChunkPos updates the stream's chunk position, applied during
// Collecting before the Spatial Index is rebuilt for Sorting/Dispatching.
func (s *State) SetChunkPos(pos spatial.ChunkPosition) {
	s.chunkPos.Store(pos)
}

// Writer returns the io.Writer outbound flushes should use: Conn directly,
// unless EnableThrottle has installed a rate-limited wrapper around it.
func (s *State) Writer() io.Writer {
	if w, ok := s.writer.Load().(io.Writer); ok {
		return w
	}
	return s.Conn
}

// EnableThrottle installs a token-bucket rate limit in front of Conn so a
// single tick's Flush cannot monopolize this stream's share of outbound
// bandwidth. ctx governs the limiter's WaitN calls; it should be the
// stream's own lifetime context so throttled writes unblock on disconnect.
func (s *State) EnableThrottle(ctx context.Context, bytesPerSec int64) {
	s.writer.Store(NewThrottledWriter(ctx, s.Conn, bytesPerSec, s.Queue.HighWaterMark()))
}

// Touch records activity for idle-timeout accounting.
func (s *State) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// IdleSince returns how long it has been since the last recorded activity.
func (s *State) IdleSince() time.Duration {
	last := s.lastActivity.Load()
	return time.Since(time.Unix(0, last))
}
