// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command simharness is a reference simulation server: it accepts the
// proxy's control-channel connection, tracks which streams are currently
// connected, and emits a Unicast "tick" payload to every known stream on
// every tick interval, exercising the Server-side Write Multiplexer and
// the Control Protocol Codec end to end.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nishisan-dev/tickproxy/internal/config"
	"github.com/nishisan-dev/tickproxy/internal/logging"
	"github.com/nishisan-dev/tickproxy/internal/pki"
	"github.com/nishisan-dev/tickproxy/internal/protocol"
	"github.com/nishisan-dev/tickproxy/internal/simwrite"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to simharness config file (optional)")
	listenAddr := flag.String("listen", "", "override listen address")
	flag.Parse()

	cfg, err := config.LoadSimHarnessConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		return 1
	}
	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Finalize(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	ln, err := listen(cfg)
	if err != nil {
		logger.Error("listening", "error", err)
		return 1
	}
	defer ln.Close()

	logger.Info("simharness listening", "address", cfg.Listen, "workers", cfg.WorkerCount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return 0
			default:
				logger.Error("accepting connection", "error", err)
				continue
			}
		}
		handleSession(ctx, conn, cfg, logger)
	}
}

func listen(cfg *config.SimHarnessConfig) (net.Listener, error) {
	if !cfg.TLS.Enabled() {
		return net.Listen("tcp", cfg.Listen)
	}
	tlsCfg, err := pki.NewListenerTLSConfig(cfg.TLS.CACert, cfg.TLS.Cert, cfg.TLS.Key)
	if err != nil {
		return nil, fmt.Errorf("configuring TLS: %w", err)
	}
	return tls.Listen("tcp", cfg.Listen, tlsCfg)
}

// handleSession owns one control-channel connection: a reader goroutine
// tracks PlayerConnect/PlayerDisconnect/ClientData from the proxy, and the
// tick loop fans a Unicast out to every known stream through the write
// multiplexer on every TickInterval.
func handleSession(ctx context.Context, conn net.Conn, cfg *config.SimHarnessConfig, logger *slog.Logger) {
	defer conn.Close()
	logger.Info("proxy connected", "remote", conn.RemoteAddr())

	var mu sync.Mutex
	streams := make(map[uint64]struct{})

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			msg, err := protocol.ReadProxyMessage(conn)
			if err != nil {
				logger.Info("control channel closed", "error", err)
				return
			}
			switch m := msg.(type) {
			case *protocol.PlayerConnect:
				mu.Lock()
				streams[m.Stream] = struct{}{}
				mu.Unlock()
			case *protocol.PlayerDisconnect:
				mu.Lock()
				delete(streams, m.Stream)
				mu.Unlock()
			case *protocol.ClientData:
				logger.Debug("received client data", "stream", m.Stream, "bytes", len(m.Data))
			}
		}
	}()

	mux := simwrite.NewMultiplexer(cfg.WorkerCount, int(cfg.ArenaHintPerWorkerRaw))

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	var systemID uint16
	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			return
		case <-ticker.C:
			mux.AdvanceSystem(systemID)
			systemID++

			mu.Lock()
			for stream := range streams {
				if err := mux.AppendUnicast(0, []byte("tick"), stream); err != nil {
					logger.Warn("appending tick payload", "stream", stream, "error", err)
				}
			}
			mu.Unlock()

			if err := mux.Flush(conn); err != nil {
				logger.Warn("flushing tick to control channel", "error", err)
				return
			}
		}
	}
}
