// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pki configures optional mutual TLS (mTLS) for the control
// channel between the proxy and the simulation server.
package pki

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"
)

// certReloadInterval bounds how often a cached leaf certificate is
// re-read from disk. The control channel this package secures is dialed
// once and held open for the life of the process (see internal/proxy);
// unlike a one-shot client, a proxy that runs for weeks needs to notice
// an operator rotating certificate files on disk without a restart.
const certReloadInterval = time.Minute

// reloadingCert serves the most recently loaded certificate/key pair for
// a TLS handshake, re-reading the files from disk no more often than
// certReloadInterval.
type reloadingCert struct {
	certPath, keyPath string

	mu       sync.Mutex
	loadedAt time.Time
	current  *tls.Certificate
}

func newReloadingCert(certPath, keyPath string) (*reloadingCert, error) {
	r := &reloadingCert{certPath: certPath, keyPath: keyPath}
	if _, err := r.get(); err != nil {
		return nil, err
	}
	return r, nil
}

// get returns the current certificate, reloading from disk if the cache
// has expired. A reload failure falls back to the last-known-good
// certificate instead of failing an in-progress handshake, since a
// certificate rotation briefly leaves the cert and key files in an
// inconsistent state (new cert, old key, or vice versa) between writes.
func (r *reloadingCert) get() (*tls.Certificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil && time.Since(r.loadedAt) < certReloadInterval {
		return r.current, nil
	}

	cert, err := tls.LoadX509KeyPair(r.certPath, r.keyPath)
	if err != nil {
		if r.current != nil {
			return r.current, nil
		}
		return nil, err
	}

	r.current = &cert
	r.loadedAt = time.Now()
	return r.current, nil
}

// NewDialerTLSConfig builds a TLS 1.3 config for the proxy's outbound
// connection to the simulation server, with mutual authentication. The
// dialer's certificate is reloaded from disk periodically rather than
// pinned for the life of the process, so a rotated certificate is used
// by the next TLS handshake without restarting the process.
func NewDialerTLSConfig(caCertPath, certPath, keyPath string) (*tls.Config, error) {
	rc, err := newReloadingCert(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading dialer certificate: %w", err)
	}

	caPool, err := loadCACertPool(caCertPath)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		RootCAs:    caPool,
		GetClientCertificate: func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
			return rc.get()
		},
	}, nil
}

// NewListenerTLSConfig builds a TLS 1.3 config for the simulation-harness
// listener, requiring and verifying the proxy's client certificate. Like
// NewDialerTLSConfig, the listener's own certificate is reloaded
// periodically instead of pinned at startup.
func NewListenerTLSConfig(caCertPath, certPath, keyPath string) (*tls.Config, error) {
	rc, err := newReloadingCert(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading listener certificate: %w", err)
	}

	caPool, err := loadCACertPool(caCertPath)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		ClientCAs:  caPool,
		ClientAuth: tls.RequireAndVerifyClientCert,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return rc.get()
		},
	}, nil
}

func loadCACertPool(caCertPath string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate from %s", caCertPath)
	}

	return pool, nil
}
