// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package faults classifies the error kinds the proxy distinguishes between
// at runtime: which ones are retried, which close a single stream, and
// which bring the whole process down.
package faults

import (
	"errors"
	"fmt"
)

// Sentinel errors identifying the five error kinds. Call sites wrap these
// with fmt.Errorf("...: %w", ErrX) and callers classify with errors.Is or
// the Classify helper below.
var (
	// ErrTransientClientIO marks a retryable per-stream write failure
	// (short write, EAGAIN-like condition). Retried within the tick's
	// Writing phase; escalated to ErrClientFatal past a retry threshold.
	ErrTransientClientIO = errors.New("transient client i/o error")

	// ErrClientFatal marks an unrecoverable per-stream condition: socket
	// closed or reset, outbound queue overflow, idle/write timeout. The
	// stream moves to Closing and a PlayerDisconnect follows drain.
	ErrClientFatal = errors.New("client connection fatal error")

	// ErrControlChannelProtocol marks a malformed control-channel frame,
	// an unknown command tag, a parallel-array length mismatch, or a
	// Unicast/Multicast referencing an unknown stream. The offending
	// record is logged and dropped; clients are not disconnected for
	// this alone.
	ErrControlChannelProtocol = errors.New("control channel protocol error")

	// ErrControlChannelFatal marks a dead control-channel transport or a
	// burst of protocol violations above threshold. The proxy shuts down
	// all streams and exits non-zero.
	ErrControlChannelFatal = errors.New("control channel fatal error")

	// ErrResourceExhaustion marks backpressure beyond hard limits on
	// non-optional traffic. Affected streams become ClientFatal; the
	// proxy process itself does not terminate.
	ErrResourceExhaustion = errors.New("resource exhaustion")
)

// Kind identifies which of the five error classes an error belongs to.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransientClientIO
	KindClientFatal
	KindControlChannelProtocol
	KindControlChannelFatal
	KindResourceExhaustion
)

func (k Kind) String() string {
	switch k {
	case KindTransientClientIO:
		return "transient_client_io"
	case KindClientFatal:
		return "client_fatal"
	case KindControlChannelProtocol:
		return "control_channel_protocol"
	case KindControlChannelFatal:
		return "control_channel_fatal"
	case KindResourceExhaustion:
		return "resource_exhaustion"
	default:
		return "unknown"
	}
}

// Classify returns the Kind of err, unwrapping as errors.Is would. Errors
// not wrapping one of the package sentinels classify as KindUnknown.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrTransientClientIO):
		return KindTransientClientIO
	case errors.Is(err, ErrClientFatal):
		return KindClientFatal
	case errors.Is(err, ErrControlChannelProtocol):
		return KindControlChannelProtocol
	case errors.Is(err, ErrControlChannelFatal):
		return KindControlChannelFatal
	case errors.Is(err, ErrResourceExhaustion):
		return KindResourceExhaustion
	default:
		return KindUnknown
	}
}

// Wrap annotates err with the given sentinel kind and a message, preserving
// errors.Is/As chains to both.
func Wrap(sentinel error, msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", msg, sentinel)
	}
	return fmt.Errorf("%s: %w: %w", msg, sentinel, err)
}
