// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/nishisan-dev/tickproxy/internal/connection"
	"github.com/nishisan-dev/tickproxy/internal/egress"
	"github.com/nishisan-dev/tickproxy/internal/faults"
	"github.com/nishisan-dev/tickproxy/internal/protocol"
	"github.com/nishisan-dev/tickproxy/internal/spatial"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memConn struct {
	bytes.Buffer
}

func (m *memConn) Close() error                    { return nil }
func (m *memConn) LocalAddr() net.Addr              { return fakeAddr{} }
func (m *memConn) RemoteAddr() net.Addr             { return fakeAddr{} }
func (m *memConn) SetDeadline(time.Time) error      { return nil }
func (m *memConn) SetReadDeadline(time.Time) error  { return nil }
func (m *memConn) SetWriteDeadline(time.Time) error { return nil }

type fakeAddr struct{}

func (fakeAddr) Network() string { return "mem" }
func (fakeAddr) String() string  { return "mem" }

func TestRunAppliesUnicastAndFlush(t *testing.T) {
	table := connection.NewTable()
	conn := &memConn{}
	st := connection.NewState(1, conn, 1<<20, 1<<21)
	st.Activate()
	table.Insert(st)

	engine := egress.NewEngine(table, discardLogger(), 1024)

	var wire bytes.Buffer
	if err := protocol.WriteUnicast(&wire, &protocol.Unicast{Data: []byte("hi"), Stream: 1, Order: 1}); err != nil {
		t.Fatalf("WriteUnicast: %v", err)
	}
	if err := protocol.WriteFlush(&wire); err != nil {
		t.Fatalf("WriteFlush: %v", err)
	}

	d := New(&wire, engine, discardLogger())
	err := d.Run(context.Background())
	if !errors.Is(err, faults.ErrControlChannelFatal) {
		t.Fatalf("Run() error = %v, want ErrControlChannelFatal (EOF)", err)
	}

	if conn.String() != "hi" {
		t.Errorf("client received %q, want %q", conn.String(), "hi")
	}
}

func TestRunAppliesChunkPositionsAndBroadcastGlobal(t *testing.T) {
	table := connection.NewTable()
	conn := &memConn{}
	st := connection.NewState(7, conn, 1<<20, 1<<21)
	st.Activate()
	table.Insert(st)

	engine := egress.NewEngine(table, discardLogger(), 1024)

	var wire bytes.Buffer
	protocol.WriteSetReceiveBroadcasts(&wire, &protocol.SetReceiveBroadcasts{Stream: 7})
	protocol.WriteUpdatePlayerChunkPositions(&wire, &protocol.UpdatePlayerChunkPositions{
		Streams:   []uint64{7},
		Positions: []spatial.ChunkPosition{{CX: 1, CZ: 2}},
	})
	protocol.WriteBroadcastGlobal(&wire, &protocol.BroadcastGlobal{Data: []byte("go"), Order: 1})
	protocol.WriteFlush(&wire)

	d := New(&wire, engine, discardLogger())
	d.Run(context.Background())

	if conn.String() != "go" {
		t.Errorf("client received %q, want %q", conn.String(), "go")
	}
	if st.ChunkPos() != (spatial.ChunkPosition{CX: 1, CZ: 2}) {
		t.Errorf("ChunkPos() = %v, want {1 2}", st.ChunkPos())
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	table := connection.NewTable()
	engine := egress.NewEngine(table, discardLogger(), 1024)

	r, w := io.Pipe()
	defer w.Close()

	d := New(r, engine, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRunEscalatesProtocolErrorBurstToFatal(t *testing.T) {
	table := connection.NewTable()
	engine := egress.NewEngine(table, discardLogger(), 1024)

	var wire bytes.Buffer
	garbage := []byte{0x00, 0x00, 0x00, 0x02, 0x01, 0xFF} // unknown tag, well-formed length
	for i := 0; i <= protocolErrorBurstThreshold; i++ {
		wire.Write(garbage)
	}

	d := New(&wire, engine, discardLogger())
	err := d.Run(context.Background())
	if !errors.Is(err, faults.ErrControlChannelFatal) {
		t.Fatalf("Run() error = %v, want ErrControlChannelFatal", err)
	}
}

func TestRunDropsSingleMalformedFrameWithoutEscalating(t *testing.T) {
	table := connection.NewTable()
	conn := &memConn{}
	st := connection.NewState(1, conn, 1<<20, 1<<21)
	st.Activate()
	table.Insert(st)
	engine := egress.NewEngine(table, discardLogger(), 1024)

	var wire bytes.Buffer
	wire.Write([]byte{0x00, 0x00, 0x00, 0x02, 0x01, 0xFF}) // one bad frame
	protocol.WriteUnicast(&wire, &protocol.Unicast{Data: []byte("ok"), Stream: 1, Order: 1})
	protocol.WriteFlush(&wire)

	d := New(&wire, engine, discardLogger())
	err := d.Run(context.Background())
	if !errors.Is(err, faults.ErrControlChannelFatal) {
		t.Fatalf("Run() error = %v, want ErrControlChannelFatal (EOF after good frames)", err)
	}
	if conn.String() != "ok" {
		t.Errorf("client received %q, want %q", conn.String(), "ok")
	}
}
