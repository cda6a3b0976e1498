// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ingress implements the Ingress Engine: one reader task per
// accepted client connection, forwarding decoded frames upstream in
// arrival order with no per-tick buffering. Client packets are
// time-sensitive; ordering and batching are the Egress Engine's concern,
// not this one's.
package ingress

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/tickproxy/internal/connection"
	"github.com/nishisan-dev/tickproxy/internal/faults"
)

// Config holds the parameters needed to construct an Engine.
type Config struct {
	MaxFrameSize        int
	HighWaterMark       int
	DisconnectThreshold int
	DrainTimeout        time.Duration
	Logger              *slog.Logger
	OnConnect           func(stream uint64)
	OnDisconnect        func(stream uint64)
	OnFrame             func(stream uint64, data []byte)
}

// Engine accepts client connections, assigns each a stream id, and reads
// opaque length-prefixed frames off it until the socket closes.
type Engine struct {
	table  *connection.Table
	logger *slog.Logger
	cfg    Config

	nextStream atomic.Uint64
}

// NewEngine builds an Engine backed by table. cfg.Logger defaults to
// slog.Default() when nil.
func NewEngine(table *connection.Table, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		table:  table,
		logger: logger,
		cfg:    cfg,
	}
}

// Serve runs the accept loop until ctx is cancelled, then returns nil.
// Accept errors are logged and retried; after more than five consecutive
// errors, each retry first sleeps 100ms per consecutive error, capped at 5
// seconds.
func (e *Engine) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				consecutiveErrors++
				e.logger.Error("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
				if consecutiveErrors > 5 {
					delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
					if delay > 5*time.Second {
						delay = 5 * time.Second
					}
					time.Sleep(delay)
				}
				continue
			}
		}

		consecutiveErrors = 0
		go e.handleConnection(ctx, conn)
	}
}

// handleConnection owns one client socket for its entire lifetime: stream
// assignment, frame reading, and the disconnect/drain sequence.
func (e *Engine) handleConnection(ctx context.Context, conn net.Conn) {
	stream := e.nextStream.Add(1)
	st := connection.NewState(stream, conn, e.cfg.HighWaterMark, e.cfg.DisconnectThreshold)
	st.Activate()
	e.table.Insert(st)
	e.logger.Debug("stream connected", "stream", stream, "remote", conn.RemoteAddr())

	if e.cfg.OnConnect != nil {
		e.cfg.OnConnect(stream)
	}

	closeOnCancel := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-closeOnCancel:
		}
	}()

	e.readLoop(st, conn)
	close(closeOnCancel)

	// Emit the disconnect before draining: the simulation should learn the
	// stream is gone even while outbound bytes already queued for it are
	// still being flushed by the egress engine.
	if e.cfg.OnDisconnect != nil {
		e.cfg.OnDisconnect(stream)
	}

	st.SetLifecycle(connection.Closing)
	e.drain(st)
	e.table.Remove(stream)
	conn.Close()
}

func (e *Engine) readLoop(st *connection.State, conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		frame, err := ReadFrame(r, e.cfg.MaxFrameSize)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				wrapped := faults.Wrap(faults.ErrClientFatal, "reading client frame", err)
				e.logger.Debug("stream read ended", "stream", st.Stream, "error", wrapped)
			}
			return
		}
		st.Touch()
		if e.cfg.OnFrame != nil {
			e.cfg.OnFrame(st.Stream, frame)
		}
	}
}

// drain waits for st's outbound queue to empty, up to cfg.DrainTimeout, so
// bytes already dispatched to this stream before it closed still have a
// chance to reach the client's kernel buffer.
func (e *Engine) drain(st *connection.State) {
	if e.cfg.DrainTimeout <= 0 {
		return
	}
	deadline := time.Now().Add(e.cfg.DrainTimeout)
	for !st.Queue.Empty() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}
