// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package connection

import (
	"context"
	"io"
	"net"
	"sync"

	"golang.org/x/time/rate"
)

// OutboundQueue is a bounded, single-consumer byte-chunk queue backing one
// stream's egress. Unlike a byte-oriented ring buffer, it keeps payloads as
// discrete chunks so Flush can issue a single vectored write per tick.
//
// Two thresholds govern back-pressure: highWaterMark, above which optional
// packets are silently dropped, and disconnectThreshold, above which the
// stream is reported overloaded so the caller can move it to Closing. Both
// are measured against queued-but-unwritten bytes.
type OutboundQueue struct {
	mu                  sync.Mutex
	chunks              [][]byte
	size                int
	highWaterMark       int
	disconnectThreshold int
	drops               uint64
}

// NewOutboundQueue builds a queue with the given thresholds in bytes.
// The relation disconnectThreshold >= highWaterMark is not checked here;
// config.ProxyConfig.Finalize rejects configurations that break it.
func NewOutboundQueue(highWaterMark, disconnectThreshold int) *OutboundQueue {
	return &OutboundQueue{
		highWaterMark:       highWaterMark,
		disconnectThreshold: disconnectThreshold,
	}
}

// Enqueue appends payload to the queue. For optional payloads, if
// enqueuing the payload would take the queue above the high-water mark,
// the payload is dropped and queued reports false. Non-optional payloads are always queued regardless
// of size; overloaded reports true when the queue's size after enqueuing
// exceeds the disconnect threshold, signaling the caller to move the
// stream to Closing once any in-flight drain completes.
func (q *OutboundQueue) Enqueue(payload []byte, optional bool) (queued bool, overloaded bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if optional && q.size+len(payload) > q.highWaterMark {
		q.drops++
		return false, false
	}

	q.chunks = append(q.chunks, payload)
	q.size += len(payload)

	return true, q.size > q.disconnectThreshold
}

// HighWaterMark returns the optional-packet back-pressure threshold this
// queue was built with.
func (q *OutboundQueue) HighWaterMark() int {
	return q.highWaterMark
}

// Size returns the number of bytes currently queued.
func (q *OutboundQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Drops returns the number of optional payloads dropped for back-pressure
// since the queue was created.
func (q *OutboundQueue) Drops() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drops
}

// Empty reports whether the queue currently holds no bytes.
func (q *OutboundQueue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks) == 0
}

// Flush writes all currently queued chunks to w as a single vectored write
// when w supports it (net.Buffers prefers writev on a *net.TCPConn), and
// reports the number of bytes actually written. On a partial write or
// error, unwritten bytes remain queued — including the unwritten remainder
// of a partially written chunk — so a subsequent Flush retries them; this
// is the TransientClientIO retry path described for the tick's Writing
// phase.
func (q *OutboundQueue) Flush(w io.Writer) (int, error) {
	q.mu.Lock()
	if len(q.chunks) == 0 {
		q.mu.Unlock()
		return 0, nil
	}
	snapshotLen := len(q.chunks)
	bufs := make(net.Buffers, snapshotLen)
	copy(bufs, q.chunks)
	q.mu.Unlock()

	before := buffersLen(bufs)
	_, err := bufs.WriteTo(w)
	after := buffersLen(bufs)
	written := before - after

	q.mu.Lock()
	defer q.mu.Unlock()

	leftover := make([][]byte, 0, len(bufs)+len(q.chunks)-snapshotLen)
	leftover = append(leftover, bufs...)
	leftover = append(leftover, q.chunks[snapshotLen:]...)
	// Chunks may be borrowed from the egress tick arena, which is poisoned
	// and reused once the tick ends; keep private copies of whatever stays
	// queued past this Flush.
	for i := range leftover {
		leftover[i] = append([]byte(nil), leftover[i]...)
	}
	q.chunks = leftover
	q.size -= written

	return written, err
}

func buffersLen(b net.Buffers) int {
	n := 0
	for _, c := range b {
		n += len(c)
	}
	return n
}

// maxThrottleBurst bounds a throttled stream's limiter burst even when its
// high-water mark is configured very large, so a single Write reservation
// never exceeds this many bytes regardless of queue sizing.
const maxThrottleBurst = 256 * 1024

// ThrottledWriter wraps an io.Writer with a token-bucket rate limit. One is
// installed in front of a stream's Flush call (see State.EnableThrottle)
// when that stream has a configured per-stream byte-rate cap, so a single
// bulk flush of an entire tick's queued traffic cannot monopolize the link
// on that socket.
type ThrottledWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

// NewThrottledWriter returns a writer limited to bytesPerSec bytes/second.
// If bytesPerSec <= 0, it returns w unchanged (no throttling). The burst
// size is the smallest of bytesPerSec, the stream's own OutboundQueue
// high-water mark (when positive) and maxThrottleBurst, and at least 1:
// a Flush already never hands this writer more than
// roughly one high-water-mark's worth of bytes at a time, so sizing the
// limiter's burst independently of that would either needlessly stall a
// legitimate flush or let the limiter reserve far more than the queue
// itself would ever accumulate.
func NewThrottledWriter(ctx context.Context, w io.Writer, bytesPerSec int64, highWaterMark int) io.Writer {
	if bytesPerSec <= 0 {
		return w
	}

	burst := int(bytesPerSec)
	if highWaterMark > 0 && burst > highWaterMark {
		burst = highWaterMark
	}
	if burst > maxThrottleBurst {
		burst = maxThrottleBurst
	}
	if burst <= 0 {
		burst = 1
	}

	return &ThrottledWriter{
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

// Write splits p into limiter-sized chunks and waits for tokens before
// writing each one, so large per-tick flushes are throttled gradually
// instead of consuming a single enormous burst reservation.
func (tw *ThrottledWriter) Write(p []byte) (int, error) {
	total := 0

	for len(p) > 0 {
		chunk := len(p)
		if chunk > tw.limiter.Burst() {
			chunk = tw.limiter.Burst()
		}

		if err := tw.limiter.WaitN(tw.ctx, chunk); err != nil {
			return total, err
		}

		n, err := tw.w.Write(p[:chunk])
		total += n
		if err != nil {
			return total, err
		}

		p = p[n:]
	}

	return total, nil
}
