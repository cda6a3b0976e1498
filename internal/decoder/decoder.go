// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package decoder implements the Server Command Decoder: it turns the
// control channel's byte stream into calls against an egress.Engine,
// driving the tick epoch forward on every Flush marker.
package decoder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/nishisan-dev/tickproxy/internal/egress"
	"github.com/nishisan-dev/tickproxy/internal/faults"
	"github.com/nishisan-dev/tickproxy/internal/protocol"
)

// protocolErrorBurstThreshold is how many control-channel protocol
// violations within protocolErrorBurstWindow escalate a dropped-record
// situation into a channel-fatal shutdown.
const protocolErrorBurstThreshold = 20

// protocolErrorBurstWindow is the fixed window protocol errors are counted
// over; a window starts at the first error after the previous one expired.
const protocolErrorBurstWindow = 10 * time.Second

// Decoder reads framed messages from a control channel and applies them to
// an egress.Engine.
type Decoder struct {
	r      io.Reader
	engine *egress.Engine
	logger *slog.Logger

	errCount    int
	errWindowAt time.Time
}

// New builds a Decoder reading from r and driving engine.
func New(r io.Reader, engine *egress.Engine, logger *slog.Logger) *Decoder {
	return &Decoder{r: r, engine: engine, logger: logger}
}

// Run reads and applies messages until ctx is cancelled, r returns EOF, or
// the protocol error burst threshold is exceeded. In all of the latter two
// cases it returns a ControlChannelFatal error; callers should treat that
// as grounds for proxy-wide shutdown per §7.
func (d *Decoder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := protocol.ReadServerMessage(d.r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return faults.Wrap(faults.ErrControlChannelFatal, "control channel closed", err)
			}
			if d.burstExceeded() {
				return faults.Wrap(faults.ErrControlChannelFatal, "repeated control channel protocol violations", err)
			}
			d.logger.Warn("dropping malformed control frame",
				"error", faults.Wrap(faults.ErrControlChannelProtocol, "decode control message", err))
			continue
		}

		d.apply(msg)
	}
}

// burstExceeded records one protocol error and reports whether the count
// within the current window has crossed protocolErrorBurstThreshold.
func (d *Decoder) burstExceeded() bool {
	now := time.Now()
	if now.Sub(d.errWindowAt) > protocolErrorBurstWindow {
		d.errWindowAt = now
		d.errCount = 0
	}
	d.errCount++
	return d.errCount > protocolErrorBurstThreshold
}

func (d *Decoder) apply(msg any) {
	switch m := msg.(type) {
	case *protocol.UpdatePlayerChunkPositions:
		d.engine.ApplyChunkPositions(m.Streams, m.Positions)

	case *protocol.SetReceiveBroadcasts:
		d.engine.ApplySetReceiveBroadcasts(m.Stream)

	case *protocol.BroadcastGlobal:
		d.engine.Collect(m.Data, egress.Addressing{Kind: egress.Global}, m.Order, m.Optional, m.ExcludeSet, m.Exclude)

	case *protocol.BroadcastLocal:
		addr := egress.Addressing{Kind: egress.Local, Center: m.Center, Radius: m.TaxicabRadius}
		d.engine.Collect(m.Data, addr, m.Order, m.Optional, m.ExcludeSet, m.Exclude)

	case *protocol.Multicast:
		d.engine.Collect(m.Data, egress.Addressing{Kind: egress.Multicast, Streams: m.Streams}, m.Order, false, false, 0)

	case *protocol.Unicast:
		d.engine.Collect(m.Data, egress.Addressing{Kind: egress.Unicast, Stream: m.Stream}, m.Order, false, false, 0)

	case *protocol.Flush:
		d.runTick()

	default:
		d.logger.Warn("unhandled control message type", "type", msg)
	}
}

// runTick advances the engine through its tick epoch and logs any write
// failures the Writing phase reports.
func (d *Decoder) runTick() {
	d.engine.RebuildSpatialIndex()
	d.engine.Sort()
	d.engine.Dispatch()

	for stream, err := range d.engine.Write() {
		if errors.Is(err, faults.ErrClientFatal) {
			d.logger.Warn("stream write failed, closing", "stream", stream, "error", err)
		} else {
			d.logger.Debug("stream write failed, will retry", "stream", stream, "error", err)
		}
	}

	d.engine.Reset()
}
