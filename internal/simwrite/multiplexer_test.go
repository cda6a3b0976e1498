// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package simwrite

import (
	"bytes"
	"errors"
	"testing"

	"github.com/nishisan-dev/tickproxy/internal/protocol"
)

func TestFlushConcatenatesWorkersThenFlushMarker(t *testing.T) {
	m := NewMultiplexer(2, 64)

	m.AdvanceSystem(0)
	if err := m.AppendUnicast(0, []byte("a"), 1); err != nil {
		t.Fatalf("AppendUnicast: %v", err)
	}
	if err := m.AppendUnicast(1, []byte("b"), 2); err != nil {
		t.Fatalf("AppendUnicast: %v", err)
	}

	var wire bytes.Buffer
	if err := m.Flush(&wire); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	msg1, err := protocol.ReadServerMessage(&wire)
	if err != nil {
		t.Fatalf("reading first message: %v", err)
	}
	u1, ok := msg1.(*protocol.Unicast)
	if !ok || u1.Stream != 1 || string(u1.Data) != "a" {
		t.Errorf("first message = %+v, want Unicast{Stream:1, Data:a}", msg1)
	}

	msg2, err := protocol.ReadServerMessage(&wire)
	if err != nil {
		t.Fatalf("reading second message: %v", err)
	}
	u2, ok := msg2.(*protocol.Unicast)
	if !ok || u2.Stream != 2 || string(u2.Data) != "b" {
		t.Errorf("second message = %+v, want Unicast{Stream:2, Data:b}", msg2)
	}

	msg3, err := protocol.ReadServerMessage(&wire)
	if err != nil {
		t.Fatalf("reading third message: %v", err)
	}
	if _, ok := msg3.(*protocol.Flush); !ok {
		t.Errorf("third message = %T, want *protocol.Flush", msg3)
	}
}

func TestFlushResetsBuffersAndSystemCursor(t *testing.T) {
	m := NewMultiplexer(1, 64)
	m.AdvanceSystem(3)
	m.AppendUnicast(0, []byte("x"), 1)

	var wire bytes.Buffer
	if err := m.Flush(&wire); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := m.CurrentSystemID(); got != 0 {
		t.Errorf("CurrentSystemID() after Flush = %d, want 0", got)
	}
	if len(m.workers[0].Bytes()) != 0 {
		t.Errorf("worker buffer not empty after Flush: %x", m.workers[0].Bytes())
	}
}

func TestOrderPacksCurrentSystemID(t *testing.T) {
	m := NewMultiplexer(1, 64)
	m.AdvanceSystem(7)
	m.AppendUnicast(0, []byte("x"), 1)

	var wire bytes.Buffer
	wire.Write(m.workers[0].Bytes())

	msg, err := protocol.ReadServerMessage(&wire)
	if err != nil {
		t.Fatalf("ReadServerMessage: %v", err)
	}
	u := msg.(*protocol.Unicast)
	system, counter := protocol.UnpackOrder(u.Order)
	if system != 7 || counter != 0 {
		t.Errorf("UnpackOrder(%d) = (%d, %d), want (7, 0)", u.Order, system, counter)
	}
}

func TestCounterResetsOnSystemChange(t *testing.T) {
	wb := NewWorkerBuffer(64)

	o1, err := wb.order(1)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	o2, err := wb.order(1)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	o3, err := wb.order(2)
	if err != nil {
		t.Fatalf("order: %v", err)
	}

	_, c1 := protocol.UnpackOrder(o1)
	_, c2 := protocol.UnpackOrder(o2)
	s3, c3 := protocol.UnpackOrder(o3)

	if c1 != 0 || c2 != 1 {
		t.Errorf("counters within system 1 = (%d, %d), want (0, 1)", c1, c2)
	}
	if s3 != 2 || c3 != 0 {
		t.Errorf("first counter after system change = (system %d, counter %d), want (2, 0)", s3, c3)
	}
}

func TestCounterOverflowIsReported(t *testing.T) {
	wb := NewWorkerBuffer(64)
	wb.haveCounter = true
	wb.lastSystemID = 5
	wb.counter = 0x10000 // already past the 16-bit ceiling

	_, err := wb.order(5)
	if !errors.Is(err, ErrCounterOverflow) {
		t.Fatalf("order() error = %v, want ErrCounterOverflow", err)
	}
}
