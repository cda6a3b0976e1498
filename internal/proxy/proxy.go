// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package proxy wires the Ingress Engine, Egress Engine, Server Command
// Decoder, Connection Table, idle sweeper, and self-resource monitor into
// the running proxy process, and owns the control channel connection to
// the simulation server.
package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/tickproxy/internal/connection"
	"github.com/nishisan-dev/tickproxy/internal/decoder"
	"github.com/nishisan-dev/tickproxy/internal/egress"
	"github.com/nishisan-dev/tickproxy/internal/ingress"
	"github.com/nishisan-dev/tickproxy/internal/protocol"
	"github.com/nishisan-dev/tickproxy/internal/resource"
)

// Config collects everything Proxy needs to run, already resolved from
// config.ProxyConfig plus any CLI overrides.
type Config struct {
	Listen         string
	SimulationAddr string
	SimulationTLS  *tls.Config // nil disables TLS to the simulation server

	MaxFrameSize int
	DrainTimeout time.Duration

	EgressArenaHint int

	HighWaterMark       int
	DisconnectThreshold int
	ThrottleBytesPerSec int64

	IdleSweepInterval time.Duration
	IdleTimeout       time.Duration

	ResourceSampleInterval time.Duration

	Logger *slog.Logger
}

// Proxy is one running instance of the ingress/egress pipeline. It holds a
// single control-channel session for its whole run: once the connection to
// the simulation server is established, losing it tears down every client
// stream and ends RunWithListener with an error; it is not redialed.
type Proxy struct {
	cfg    Config
	table  *connection.Table
	egress *egress.Engine
	ingr   *ingress.Engine
	sweep  *connection.IdleSweeper
	mon    *resource.Monitor

	writer atomic.Pointer[controlWriter]
}

// New builds a Proxy. It does not dial or listen until Run is called.
func New(cfg Config) (*Proxy, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	arenaHint := cfg.EgressArenaHint
	if arenaHint <= 0 {
		arenaHint = 1 << 20
	}

	table := connection.NewTable()
	egressEngine := egress.NewEngine(table, cfg.Logger, arenaHint)

	sweep, err := connection.NewIdleSweeper(table, cfg.Logger, cfg.IdleSweepInterval, cfg.IdleTimeout)
	if err != nil {
		return nil, fmt.Errorf("building idle sweeper: %w", err)
	}

	mon := resource.NewMonitor(cfg.Logger, cfg.ResourceSampleInterval)
	egressEngine.SetLoadFunc(mon.Load)

	p := &Proxy{
		cfg:    cfg,
		table:  table,
		egress: egressEngine,
		sweep:  sweep,
		mon:    mon,
	}

	p.ingr = ingress.NewEngine(table, ingress.Config{
		MaxFrameSize:        cfg.MaxFrameSize,
		HighWaterMark:       cfg.HighWaterMark,
		DisconnectThreshold: cfg.DisconnectThreshold,
		DrainTimeout:        cfg.DrainTimeout,
		Logger:              cfg.Logger,
		OnConnect:           p.onConnect,
		OnDisconnect:        p.onDisconnect,
		OnFrame:             p.onFrame,
	})

	return p, nil
}

func (p *Proxy) onConnect(stream uint64) {
	if w := p.writer.Load(); w != nil {
		if err := w.PlayerConnect(stream); err != nil {
			p.cfg.Logger.Warn("writing PlayerConnect", "stream", stream, "error", err)
		}
	}
	if p.cfg.ThrottleBytesPerSec > 0 {
		if st := p.table.Get(stream); st != nil {
			st.EnableThrottle(context.Background(), p.cfg.ThrottleBytesPerSec)
		}
	}
}

func (p *Proxy) onDisconnect(stream uint64) {
	if w := p.writer.Load(); w != nil {
		if err := w.PlayerDisconnect(stream); err != nil {
			p.cfg.Logger.Warn("writing PlayerDisconnect", "stream", stream, "error", err)
		}
	}
}

func (p *Proxy) onFrame(stream uint64, data []byte) {
	if w := p.writer.Load(); w != nil {
		if err := w.ClientData(stream, data); err != nil {
			p.cfg.Logger.Warn("writing ClientData", "stream", stream, "error", err)
		}
	}
}

// Run dials the simulation server (retrying with backoff until the first
// connection succeeds), accepts client connections on cfg.Listen, and
// blocks until ctx is canceled or the established control channel fails.
func (p *Proxy) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", p.cfg.Listen, err)
	}
	defer ln.Close()

	p.cfg.Logger.Info("proxy listening", "address", p.cfg.Listen)
	return p.RunWithListener(ctx, ln)
}

// RunWithListener is Run with an already-open listener, for tests.
//
// The control channel is dialed once, retrying only while the connection
// has not yet been established (the simulation server may still be
// starting up). Once established, a control-channel failure is fatal per
// §7: every client stream is torn down and the error is returned for the
// caller to translate into a non-zero exit code. Canceling ctx is the only
// path to a clean (nil-error) shutdown.
func (p *Proxy) RunWithListener(ctx context.Context, ln net.Listener) error {
	p.mon.Start()
	defer p.mon.Stop()

	p.sweep.Start()
	defer p.sweep.Stop(context.Background())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- p.ingr.Serve(runCtx, ln)
	}()

	conn := p.dialSimulation(ctx)
	if conn == nil {
		// ctx was canceled while waiting to dial.
		cancel()
		return <-serveErr
	}

	// The decoder checks ctx only between messages; closing the connection
	// on cancellation unblocks its pending read.
	go func() {
		<-runCtx.Done()
		conn.Close()
	}()

	cw := &controlWriter{conn: conn}
	p.writer.Store(cw)

	dec := decoder.New(conn, p.egress, p.cfg.Logger)
	decErr := dec.Run(runCtx)

	p.writer.CompareAndSwap(cw, nil)
	conn.Close()
	cancel()
	<-serveErr

	select {
	case <-ctx.Done():
		return nil
	default:
	}

	return decErr
}

// dialSimulation connects to the simulation server, retrying with the same
// capped linear backoff as the client accept loop. Returns nil if ctx is
// canceled before a connection succeeds.
func (p *Proxy) dialSimulation(ctx context.Context) net.Conn {
	consecutiveErrors := 0
	for {
		var conn net.Conn
		var err error
		if p.cfg.SimulationTLS != nil {
			dialer := &tls.Dialer{Config: p.cfg.SimulationTLS}
			conn, err = dialer.DialContext(ctx, "tcp", p.cfg.SimulationAddr)
		} else {
			var d net.Dialer
			conn, err = d.DialContext(ctx, "tcp", p.cfg.SimulationAddr)
		}
		if err == nil {
			return conn
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		consecutiveErrors++
		p.cfg.Logger.Error("dialing simulation server", "error", err, "consecutive_errors", consecutiveErrors)
		delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
		if delay > 5*time.Second {
			delay = 5 * time.Second
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// controlWriter serializes the proxy's outbound control-channel messages;
// every ingress reader goroutine writes PlayerConnect/PlayerDisconnect/
// ClientData through the same controlWriter instance for one session.
type controlWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (c *controlWriter) PlayerConnect(stream uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.WritePlayerConnect(c.conn, &protocol.PlayerConnect{Stream: stream})
}

func (c *controlWriter) PlayerDisconnect(stream uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.WritePlayerDisconnect(c.conn, &protocol.PlayerDisconnect{Stream: stream})
}

func (c *controlWriter) ClientData(stream uint64, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.WriteClientData(c.conn, &protocol.ClientData{Stream: stream, Data: data})
}
