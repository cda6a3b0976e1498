// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package egress implements the proxy-side tick epoch: Collecting,
// Sorting, Dispatching, and Writing server-produced packets onto client
// outbound queues between two control-channel Flush markers.
package egress

import "github.com/nishisan-dev/tickproxy/internal/spatial"

// AddressingKind selects how a PacketRecord's targets are computed.
type AddressingKind int

const (
	Global AddressingKind = iota
	Local
	Multicast
	Unicast
)

// Addressing describes a PacketRecord's delivery targets. Only the fields
// relevant to Kind are meaningful.
type Addressing struct {
	Kind    AddressingKind
	Center  spatial.ChunkPosition // Local
	Radius  int32                 // Local
	Streams []uint64              // Multicast
	Stream  uint64                // Unicast
}

// PacketRecord is one ephemeral unit of egress work staged during
// Collecting. Payload is a borrow into the tick's arena and must not be
// retained past the Writing phase.
type PacketRecord struct {
	Payload    []byte
	Addressing Addressing
	Order      uint32
	Optional   bool
	ExcludeSet bool
	Exclude    uint64

	// arrival is the index in collection order, used only as a stable
	// tie-breaker for records sharing an Order value.
	arrival int
}
