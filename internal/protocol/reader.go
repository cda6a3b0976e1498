// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nishisan-dev/tickproxy/internal/spatial"
)

// readFrame reads one length-prefixed frame and returns its tag and raw
// payload (version and tag stripped). It validates the version byte and
// the declared length against MaxFrameSize before allocating the payload
// buffer.
func readFrame(r io.Reader) (Tag, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("reading frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length < 2 {
		return 0, nil, fmt.Errorf("%w: length %d smaller than header", ErrTruncatedFrame, length)
	}
	if length > MaxFrameSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	header := make([]byte, 2)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, fmt.Errorf("reading frame header: %w", err)
	}
	if header[0] != ProtocolVersion {
		return 0, nil, fmt.Errorf("%w: got 0x%02x", ErrInvalidVersion, header[0])
	}
	tag := Tag(header[1])

	payload := make([]byte, length-2)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("reading frame payload: %w", err)
	}

	return tag, payload, nil
}

// cursor walks a decoded payload buffer, returning ErrTruncatedFrame
// instead of panicking on short reads — a single malformed frame must be
// rejectable without crashing the decoder goroutine.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) need(n int) error {
	if c.pos+n > len(c.buf) {
		return ErrTruncatedFrame
	}
	return nil
}

func (c *cursor) uint64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(c.buf[c.pos:])
	c.pos += 8
	return v, nil
}

func (c *cursor) uint32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) boolean() (bool, error) {
	if err := c.need(1); err != nil {
		return false, err
	}
	v := c.buf[c.pos] != 0
	c.pos++
	return v, nil
}

func (c *cursor) bytes() ([]byte, error) {
	n, err := c.uint32()
	if err != nil {
		return nil, err
	}
	if err := c.need(int(n)); err != nil {
		return nil, err
	}
	v := c.buf[c.pos : c.pos+int(n)]
	c.pos += int(n)
	return v, nil
}

func (c *cursor) uint64Slice() ([]uint64, error) {
	n, err := c.uint32()
	if err != nil {
		return nil, err
	}
	if err := c.need(int(n) * 8); err != nil {
		return nil, err
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.BigEndian.Uint64(c.buf[c.pos:])
		c.pos += 8
	}
	return out, nil
}

func (c *cursor) chunkPositionSlice() ([]spatial.ChunkPosition, error) {
	n, err := c.uint32()
	if err != nil {
		return nil, err
	}
	if err := c.need(int(n) * 8); err != nil {
		return nil, err
	}
	out := make([]spatial.ChunkPosition, n)
	for i := range out {
		out[i] = spatial.ChunkPosition{
			CX: int32(binary.BigEndian.Uint32(c.buf[c.pos:])),
			CZ: int32(binary.BigEndian.Uint32(c.buf[c.pos+4:])),
		}
		c.pos += 8
	}
	return out, nil
}

// ReadServerMessage reads one frame from the server→proxy direction of the
// control channel and returns the decoded message as one of
// *UpdatePlayerChunkPositions, *SetReceiveBroadcasts, *BroadcastGlobal,
// *BroadcastLocal, *Multicast, *Unicast, or *Flush. Decode errors wrap
// ErrTruncatedFrame/ErrUnknownTag/ErrLengthMismatch; callers classify them
// as ControlChannelProtocol and drop the offending record rather than
// tearing down the channel.
func ReadServerMessage(r io.Reader) (any, error) {
	tag, payload, err := readFrame(r)
	if err != nil {
		return nil, err
	}

	c := &cursor{buf: payload}

	switch tag {
	case TagUpdatePlayerChunkPositions:
		streams, err := c.uint64Slice()
		if err != nil {
			return nil, fmt.Errorf("decoding UpdatePlayerChunkPositions.Streams: %w", err)
		}
		positions, err := c.chunkPositionSlice()
		if err != nil {
			return nil, fmt.Errorf("decoding UpdatePlayerChunkPositions.Positions: %w", err)
		}
		if len(streams) != len(positions) {
			return nil, fmt.Errorf("%w: %d streams vs %d positions", ErrLengthMismatch, len(streams), len(positions))
		}
		return &UpdatePlayerChunkPositions{Streams: streams, Positions: positions}, nil

	case TagSetReceiveBroadcasts:
		stream, err := c.uint64()
		if err != nil {
			return nil, fmt.Errorf("decoding SetReceiveBroadcasts: %w", err)
		}
		return &SetReceiveBroadcasts{Stream: stream}, nil

	case TagBroadcastGlobal:
		data, err := c.bytes()
		if err != nil {
			return nil, fmt.Errorf("decoding BroadcastGlobal.Data: %w", err)
		}
		optional, err := c.boolean()
		if err != nil {
			return nil, fmt.Errorf("decoding BroadcastGlobal.Optional: %w", err)
		}
		excludeSet, err := c.boolean()
		if err != nil {
			return nil, fmt.Errorf("decoding BroadcastGlobal.ExcludeSet: %w", err)
		}
		exclude, err := c.uint64()
		if err != nil {
			return nil, fmt.Errorf("decoding BroadcastGlobal.Exclude: %w", err)
		}
		order, err := c.uint32()
		if err != nil {
			return nil, fmt.Errorf("decoding BroadcastGlobal.Order: %w", err)
		}
		return &BroadcastGlobal{Data: data, Optional: optional, ExcludeSet: excludeSet, Exclude: exclude, Order: order}, nil

	case TagBroadcastLocal:
		data, err := c.bytes()
		if err != nil {
			return nil, fmt.Errorf("decoding BroadcastLocal.Data: %w", err)
		}
		cx, err := c.uint32()
		if err != nil {
			return nil, fmt.Errorf("decoding BroadcastLocal.Center.CX: %w", err)
		}
		cz, err := c.uint32()
		if err != nil {
			return nil, fmt.Errorf("decoding BroadcastLocal.Center.CZ: %w", err)
		}
		radius, err := c.uint32()
		if err != nil {
			return nil, fmt.Errorf("decoding BroadcastLocal.TaxicabRadius: %w", err)
		}
		optional, err := c.boolean()
		if err != nil {
			return nil, fmt.Errorf("decoding BroadcastLocal.Optional: %w", err)
		}
		excludeSet, err := c.boolean()
		if err != nil {
			return nil, fmt.Errorf("decoding BroadcastLocal.ExcludeSet: %w", err)
		}
		exclude, err := c.uint64()
		if err != nil {
			return nil, fmt.Errorf("decoding BroadcastLocal.Exclude: %w", err)
		}
		order, err := c.uint32()
		if err != nil {
			return nil, fmt.Errorf("decoding BroadcastLocal.Order: %w", err)
		}
		return &BroadcastLocal{
			Data:          data,
			Center:        spatial.ChunkPosition{CX: int32(cx), CZ: int32(cz)},
			TaxicabRadius: int32(radius),
			Optional:      optional,
			ExcludeSet:    excludeSet,
			Exclude:       exclude,
			Order:         order,
		}, nil

	case TagMulticast:
		data, err := c.bytes()
		if err != nil {
			return nil, fmt.Errorf("decoding Multicast.Data: %w", err)
		}
		streams, err := c.uint64Slice()
		if err != nil {
			return nil, fmt.Errorf("decoding Multicast.Streams: %w", err)
		}
		order, err := c.uint32()
		if err != nil {
			return nil, fmt.Errorf("decoding Multicast.Order: %w", err)
		}
		return &Multicast{Data: data, Streams: streams, Order: order}, nil

	case TagUnicast:
		data, err := c.bytes()
		if err != nil {
			return nil, fmt.Errorf("decoding Unicast.Data: %w", err)
		}
		stream, err := c.uint64()
		if err != nil {
			return nil, fmt.Errorf("decoding Unicast.Stream: %w", err)
		}
		order, err := c.uint32()
		if err != nil {
			return nil, fmt.Errorf("decoding Unicast.Order: %w", err)
		}
		return &Unicast{Data: data, Stream: stream, Order: order}, nil

	case TagFlush:
		return &Flush{}, nil

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownTag, byte(tag))
	}
}

// ReadProxyMessage reads one frame from the proxy→server direction and
// returns *PlayerConnect, *PlayerDisconnect, or *ClientData.
func ReadProxyMessage(r io.Reader) (any, error) {
	tag, payload, err := readFrame(r)
	if err != nil {
		return nil, err
	}

	c := &cursor{buf: payload}

	switch tag {
	case TagPlayerConnect:
		stream, err := c.uint64()
		if err != nil {
			return nil, fmt.Errorf("decoding PlayerConnect: %w", err)
		}
		return &PlayerConnect{Stream: stream}, nil

	case TagPlayerDisconnect:
		stream, err := c.uint64()
		if err != nil {
			return nil, fmt.Errorf("decoding PlayerDisconnect: %w", err)
		}
		return &PlayerDisconnect{Stream: stream}, nil

	case TagClientData:
		stream, err := c.uint64()
		if err != nil {
			return nil, fmt.Errorf("decoding ClientData.Stream: %w", err)
		}
		data, err := c.bytes()
		if err != nil {
			return nil, fmt.Errorf("decoding ClientData.Data: %w", err)
		}
		return &ClientData{Stream: stream, Data: data}, nil

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownTag, byte(tag))
	}
}
