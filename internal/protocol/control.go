// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package protocol implements the Control Protocol Codec: the
// length-prefixed, tagged, fixed-endianness wire schema shared between the
// simulation's write multiplexer and the proxy's command decoder and
// egress engine.
package protocol

import (
	"errors"
	"fmt"

	"github.com/nishisan-dev/tickproxy/internal/spatial"
)

// ProtocolVersion is the schema version carried in every frame's header.
// The control channel itself has no handshake (§4.5), but each frame's
// version byte lets either side detect a deployment mismatch at the first
// frame instead of silently misparsing the payload.
const ProtocolVersion byte = 0x01

// Tag identifies a control-channel message's wire type.
type Tag byte

// Server → Proxy tags.
const (
	TagUpdatePlayerChunkPositions Tag = 0x01
	TagSetReceiveBroadcasts       Tag = 0x02
	TagBroadcastGlobal            Tag = 0x03
	TagBroadcastLocal             Tag = 0x04
	TagMulticast                  Tag = 0x05
	TagUnicast                    Tag = 0x06
	TagFlush                      Tag = 0x07
)

// Proxy → Server tags.
const (
	TagPlayerConnect    Tag = 0x81
	TagPlayerDisconnect Tag = 0x82
	TagClientData       Tag = 0x83
)

func (t Tag) String() string {
	switch t {
	case TagUpdatePlayerChunkPositions:
		return "UpdatePlayerChunkPositions"
	case TagSetReceiveBroadcasts:
		return "SetReceiveBroadcasts"
	case TagBroadcastGlobal:
		return "BroadcastGlobal"
	case TagBroadcastLocal:
		return "BroadcastLocal"
	case TagMulticast:
		return "Multicast"
	case TagUnicast:
		return "Unicast"
	case TagFlush:
		return "Flush"
	case TagPlayerConnect:
		return "PlayerConnect"
	case TagPlayerDisconnect:
		return "PlayerDisconnect"
	case TagClientData:
		return "ClientData"
	default:
		return fmt.Sprintf("Tag(0x%02x)", byte(t))
	}
}

// Errors returned while decoding frames. All classify as
// ErrControlChannelProtocol at the caller (internal/faults) except where
// noted.
var (
	ErrInvalidVersion = errors.New("protocol: unsupported protocol version")
	ErrUnknownTag     = errors.New("protocol: unknown message tag")
	ErrTruncatedFrame = errors.New("protocol: truncated frame")
	ErrFrameTooLarge  = errors.New("protocol: frame exceeds maximum size")
	ErrLengthMismatch = errors.New("protocol: parallel array length mismatch")
)

// MaxFrameSize bounds a single frame's payload to guard against a
// corrupted length prefix causing an unbounded allocation.
const MaxFrameSize = 16 << 20 // 16 MiB

// UpdatePlayerChunkPositions carries new chunk positions for a batch of
// streams as two parallel arrays. Streams and Positions must have equal
// length; a mismatch is a protocol error (§9 open question), rejecting
// only the offending message rather than the whole channel.
type UpdatePlayerChunkPositions struct {
	Streams   []uint64
	Positions []spatial.ChunkPosition
}

// SetReceiveBroadcasts latches Stream into the broadcast-receiving set.
type SetReceiveBroadcasts struct {
	Stream uint64
}

// BroadcastGlobal fans Data out to every broadcast-receiving stream except
// Exclude (when ExcludeSet).
type BroadcastGlobal struct {
	Data       []byte
	Optional   bool
	ExcludeSet bool
	Exclude    uint64
	Order      uint32
}

// BroadcastLocal fans Data out to broadcast-receiving streams within
// TaxicabRadius of Center, except Exclude (when ExcludeSet).
type BroadcastLocal struct {
	Data          []byte
	Center        spatial.ChunkPosition
	TaxicabRadius int32
	Optional      bool
	ExcludeSet    bool
	Exclude       uint64
	Order         uint32
}

// Multicast fans Data out to exactly the listed Streams, bypassing the
// receives_broadcasts filter.
type Multicast struct {
	Data    []byte
	Streams []uint64
	Order   uint32
}

// Unicast delivers Data to exactly Stream, regardless of
// receives_broadcasts.
type Unicast struct {
	Data   []byte
	Stream uint64
	Order  uint32
}

// Flush marks a tick epoch boundary: every message received since the
// previous Flush forms one flush group to be sorted and dispatched
// together.
type Flush struct{}

// PlayerConnect is emitted by the proxy when a stream is accepted.
type PlayerConnect struct {
	Stream uint64
}

// PlayerDisconnect is emitted by the proxy exactly once per stream that
// was ever the subject of a PlayerConnect.
type PlayerDisconnect struct {
	Stream uint64
}

// ClientData forwards one ingress frame from a client to the simulation,
// in arrival order per stream; no cross-stream ordering is implied.
type ClientData struct {
	Stream uint64
	Data   []byte
}

// PackOrder combines a system id and a per-system counter into the 32-bit
// order tag used to reconstruct a total order across worker threads
// within one flush group: the high 16 bits are systemID, the low 16 bits
// are counter.
func PackOrder(systemID, counter uint16) uint32 {
	return uint32(systemID)<<16 | uint32(counter)
}

// UnpackOrder splits an order tag back into its system id and counter.
func UnpackOrder(order uint32) (systemID, counter uint16) {
	return uint16(order >> 16), uint16(order)
}
