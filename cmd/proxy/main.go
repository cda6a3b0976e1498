// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nishisan-dev/tickproxy/internal/config"
	"github.com/nishisan-dev/tickproxy/internal/faults"
	"github.com/nishisan-dev/tickproxy/internal/logging"
	"github.com/nishisan-dev/tickproxy/internal/pki"
	"github.com/nishisan-dev/tickproxy/internal/proxy"
)

// Exit codes per the proxy binary's CLI contract.
const (
	exitClean        = 0
	exitConfigError  = 1
	exitControlFatal = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to proxy config file (optional)")
	serverAddr := flag.String("server", "", "simulation server address, overrides the config file")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: tickproxy <listen-addr> --server <simulation-addr> [--config path]")
		return exitConfigError
	}
	listenAddr := flag.Arg(0)

	cfg, err := config.LoadProxyConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		return exitConfigError
	}

	cfg.Listen = listenAddr
	if *serverAddr != "" {
		cfg.Server.Address = *serverAddr
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	if err := cfg.Finalize(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return exitConfigError
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	var simTLS *tls.Config
	if cfg.Server.TLS.Enabled() {
		simTLS, err = pki.NewDialerTLSConfig(cfg.Server.TLS.CACert, cfg.Server.TLS.Cert, cfg.Server.TLS.Key)
		if err != nil {
			logger.Error("configuring simulation TLS", "error", err)
			return exitConfigError
		}
	}

	p, err := proxy.New(proxy.Config{
		Listen:                 cfg.Listen,
		SimulationAddr:         cfg.Server.Address,
		SimulationTLS:          simTLS,
		MaxFrameSize:           int(cfg.Ingress.MaxFrameSizeRaw),
		DrainTimeout:           cfg.Ingress.DrainTimeout,
		EgressArenaHint:        int(cfg.Egress.ArenaHintRaw),
		HighWaterMark:          int(cfg.Connection.HighWaterMarkRaw),
		DisconnectThreshold:    int(cfg.Connection.DisconnectThresholdRaw),
		ThrottleBytesPerSec:    cfg.Connection.ThrottleBytesPerSec,
		IdleSweepInterval:      cfg.IdleSweep.Interval,
		IdleTimeout:            cfg.IdleSweep.IdleTimeout,
		ResourceSampleInterval: cfg.Resource.SampleInterval,
		Logger:                 logger,
	})
	if err != nil {
		logger.Error("building proxy", "error", err)
		return exitConfigError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := p.Run(ctx); err != nil {
		logger.Error("proxy exited with error", "error", err, "kind", faults.Classify(err))
		return exitControlFatal
	}

	logger.Info("proxy shutdown complete")
	return exitClean
}
