// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package connection

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestEnqueueNonOptionalAlwaysQueued(t *testing.T) {
	q := NewOutboundQueue(10, 20)

	queued, overloaded := q.Enqueue(bytes.Repeat([]byte{1}, 50), false)
	if !queued {
		t.Fatal("non-optional payload must always be queued")
	}
	if !overloaded {
		t.Error("expected overloaded once size exceeds disconnect threshold")
	}
}

func TestEnqueueOptionalDroppedAboveHighWaterMark(t *testing.T) {
	q := NewOutboundQueue(10, 100)

	q.Enqueue(bytes.Repeat([]byte{1}, 5), false)

	queued, _ := q.Enqueue([]byte("optional-payload"), true)
	if queued {
		t.Error("expected optional payload above high-water mark to be dropped")
	}
	if q.Drops() != 1 {
		t.Errorf("Drops() = %d, want 1", q.Drops())
	}
}

func TestEnqueueOptionalAcceptedBelowHighWaterMark(t *testing.T) {
	q := NewOutboundQueue(100, 200)

	queued, overloaded := q.Enqueue([]byte("ok"), true)
	if !queued || overloaded {
		t.Errorf("queued=%v overloaded=%v, want true,false", queued, overloaded)
	}
}

func TestFlushWritesAllChunks(t *testing.T) {
	q := NewOutboundQueue(1000, 2000)
	q.Enqueue([]byte("AA"), false)
	q.Enqueue([]byte("BB"), false)

	var buf bytes.Buffer
	n, err := q.Flush(&buf)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 4 {
		t.Errorf("Flush wrote %d bytes, want 4", n)
	}
	if buf.String() != "AABB" {
		t.Errorf("buf = %q, want %q", buf.String(), "AABB")
	}
	if !q.Empty() {
		t.Error("expected queue empty after successful flush")
	}
}

type partialWriter struct {
	allow int
}

func (p *partialWriter) Write(b []byte) (int, error) {
	if len(b) <= p.allow {
		p.allow -= len(b)
		return len(b), nil
	}
	n := p.allow
	p.allow = 0
	return n, errors.New("simulated short write")
}

func TestFlushRetainsUnwrittenBytesOnError(t *testing.T) {
	q := NewOutboundQueue(1000, 2000)
	q.Enqueue([]byte("AAAA"), false)
	q.Enqueue([]byte("BBBB"), false)

	w := &partialWriter{allow: 4}
	n, err := q.Flush(w)
	if err == nil {
		t.Fatal("expected error from partial write")
	}
	if n != 4 {
		t.Errorf("Flush wrote %d bytes, want 4", n)
	}
	if q.Size() != 4 {
		t.Errorf("Size() after partial flush = %d, want 4 (second chunk retained)", q.Size())
	}

	var buf bytes.Buffer
	n2, err2 := q.Flush(&buf)
	if err2 != nil {
		t.Fatalf("retry Flush: %v", err2)
	}
	if n2 != 4 || buf.String() != "BBBB" {
		t.Errorf("retry flush wrote %q (%d bytes), want %q", buf.String(), n2, "BBBB")
	}
}

func TestFlushEmptyQueueIsNoop(t *testing.T) {
	q := NewOutboundQueue(10, 20)
	n, err := q.Flush(io.Discard)
	if n != 0 || err != nil {
		t.Errorf("Flush on empty queue = (%d, %v), want (0, nil)", n, err)
	}
}

func TestEnqueueAfterFailedFlushIsPreserved(t *testing.T) {
	q := NewOutboundQueue(1000, 2000)
	q.Enqueue([]byte("AA"), false)

	w := &partialWriter{allow: 0}
	_, err := q.Flush(w)
	if err == nil {
		t.Fatal("expected error")
	}

	q.Enqueue([]byte("BB"), false)
	if q.Size() != 4 {
		t.Fatalf("Size() = %d, want 4", q.Size())
	}

	var buf bytes.Buffer
	q.Flush(&buf)
	if buf.String() != "AABB" {
		t.Errorf("buf = %q, want %q", buf.String(), "AABB")
	}
}

func TestNewThrottledWriterBypassesWhenDisabled(t *testing.T) {
	var buf bytes.Buffer
	w := NewThrottledWriter(context.Background(), &buf, 0, 1000)
	if _, ok := w.(*ThrottledWriter); ok {
		t.Error("expected bytesPerSec<=0 to bypass throttling entirely")
	}
}

func TestNewThrottledWriterBurstBoundedByHighWaterMark(t *testing.T) {
	var buf bytes.Buffer
	w := NewThrottledWriter(context.Background(), &buf, 1<<30, 4096)
	tw, ok := w.(*ThrottledWriter)
	if !ok {
		t.Fatal("expected a *ThrottledWriter")
	}
	if tw.limiter.Burst() != 4096 {
		t.Errorf("limiter burst = %d, want the high-water mark 4096", tw.limiter.Burst())
	}
}

func TestNewThrottledWriterBurstCappedAtMaxEvenWithLargeHighWaterMark(t *testing.T) {
	var buf bytes.Buffer
	w := NewThrottledWriter(context.Background(), &buf, 1<<30, 64<<20)
	tw, ok := w.(*ThrottledWriter)
	if !ok {
		t.Fatal("expected a *ThrottledWriter")
	}
	if tw.limiter.Burst() != maxThrottleBurst {
		t.Errorf("limiter burst = %d, want capped at %d", tw.limiter.Burst(), maxThrottleBurst)
	}
}

func TestThrottledWriterWritesAllBytes(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w := NewThrottledWriter(ctx, &buf, 1<<20, 1<<16)
	payload := bytes.Repeat([]byte{'x'}, 1000)
	n, err := w.Write(payload)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(payload) {
		t.Errorf("Write returned %d, want %d", n, len(payload))
	}
	if buf.Len() != len(payload) {
		t.Errorf("buf has %d bytes, want %d", buf.Len(), len(payload))
	}
}
