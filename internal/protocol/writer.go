// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nishisan-dev/tickproxy/internal/spatial"
)

// writeFrame prepends a 4-byte big-endian length (covering the version and
// tag bytes plus payload) and the version/tag header, then writes payload,
// all in a single Write call so a single control-channel message never
// spans more writev-visible chunks than necessary.
func writeFrame(w io.Writer, tag Tag, payload []byte) error {
	frame := make([]byte, 4+1+1+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)+2))
	frame[4] = ProtocolVersion
	frame[5] = byte(tag)
	copy(frame[6:], payload)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing %v frame: %w", tag, err)
	}
	return nil
}

func putUint64Slice(buf *bytes.Buffer, s []uint64) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])

	var v [8]byte
	for _, x := range s {
		binary.BigEndian.PutUint64(v[:], x)
		buf.Write(v[:])
	}
}

func putChunkPositionSlice(buf *bytes.Buffer, s []spatial.ChunkPosition) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])

	var v [8]byte
	for _, p := range s {
		binary.BigEndian.PutUint32(v[0:4], uint32(p.CX))
		binary.BigEndian.PutUint32(v[4:8], uint32(p.CZ))
		buf.Write(v[:])
	}
}

func putBytes(buf *bytes.Buffer, data []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf.Write(lenBuf[:])
	buf.Write(data)
}

func putBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func putUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// WriteUpdatePlayerChunkPositions encodes and writes an
// UpdatePlayerChunkPositions message.
func WriteUpdatePlayerChunkPositions(w io.Writer, msg *UpdatePlayerChunkPositions) error {
	var buf bytes.Buffer
	putUint64Slice(&buf, msg.Streams)
	putChunkPositionSlice(&buf, msg.Positions)
	return writeFrame(w, TagUpdatePlayerChunkPositions, buf.Bytes())
}

// WriteSetReceiveBroadcasts encodes and writes a SetReceiveBroadcasts
// message.
func WriteSetReceiveBroadcasts(w io.Writer, msg *SetReceiveBroadcasts) error {
	var buf bytes.Buffer
	putUint64(&buf, msg.Stream)
	return writeFrame(w, TagSetReceiveBroadcasts, buf.Bytes())
}

// WriteBroadcastGlobal encodes and writes a BroadcastGlobal message.
func WriteBroadcastGlobal(w io.Writer, msg *BroadcastGlobal) error {
	var buf bytes.Buffer
	putBytes(&buf, msg.Data)
	putBool(&buf, msg.Optional)
	putBool(&buf, msg.ExcludeSet)
	putUint64(&buf, msg.Exclude)
	putUint32(&buf, msg.Order)
	return writeFrame(w, TagBroadcastGlobal, buf.Bytes())
}

// WriteBroadcastLocal encodes and writes a BroadcastLocal message.
func WriteBroadcastLocal(w io.Writer, msg *BroadcastLocal) error {
	var buf bytes.Buffer
	putBytes(&buf, msg.Data)
	putUint32(&buf, uint32(msg.Center.CX))
	putUint32(&buf, uint32(msg.Center.CZ))
	putUint32(&buf, uint32(msg.TaxicabRadius))
	putBool(&buf, msg.Optional)
	putBool(&buf, msg.ExcludeSet)
	putUint64(&buf, msg.Exclude)
	putUint32(&buf, msg.Order)
	return writeFrame(w, TagBroadcastLocal, buf.Bytes())
}

// WriteMulticast encodes and writes a Multicast message.
func WriteMulticast(w io.Writer, msg *Multicast) error {
	var buf bytes.Buffer
	putBytes(&buf, msg.Data)
	putUint64Slice(&buf, msg.Streams)
	putUint32(&buf, msg.Order)
	return writeFrame(w, TagMulticast, buf.Bytes())
}

// WriteUnicast encodes and writes a Unicast message.
func WriteUnicast(w io.Writer, msg *Unicast) error {
	var buf bytes.Buffer
	putBytes(&buf, msg.Data)
	putUint64(&buf, msg.Stream)
	putUint32(&buf, msg.Order)
	return writeFrame(w, TagUnicast, buf.Bytes())
}

// WriteFlush writes the tick-boundary marker. It carries no payload.
func WriteFlush(w io.Writer) error {
	return writeFrame(w, TagFlush, nil)
}

// WritePlayerConnect encodes and writes a PlayerConnect message.
func WritePlayerConnect(w io.Writer, msg *PlayerConnect) error {
	var buf bytes.Buffer
	putUint64(&buf, msg.Stream)
	return writeFrame(w, TagPlayerConnect, buf.Bytes())
}

// WritePlayerDisconnect encodes and writes a PlayerDisconnect message.
func WritePlayerDisconnect(w io.Writer, msg *PlayerDisconnect) error {
	var buf bytes.Buffer
	putUint64(&buf, msg.Stream)
	return writeFrame(w, TagPlayerDisconnect, buf.Bytes())
}

// WriteClientData encodes and writes a ClientData message.
func WriteClientData(w io.Writer, msg *ClientData) error {
	var buf bytes.Buffer
	putUint64(&buf, msg.Stream)
	putBytes(&buf, msg.Data)
	return writeFrame(w, TagClientData, buf.Bytes())
}
