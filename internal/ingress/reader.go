// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ingress

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrFrameTooLarge is returned when a client frame's length prefix exceeds
// the configured maximum, most likely indicating a corrupt or malicious
// stream rather than a legitimate oversized packet.
var ErrFrameTooLarge = errors.New("ingress: frame exceeds maximum size")

// ReadFrame reads one length-prefixed frame from r. The frame's content is
// opaque to the core — framing is the only structure imposed here, with the
// client protocol's own format carried verbatim in the returned bytes.
func ReadFrame(r io.Reader, maxFrameSize int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if maxFrameSize > 0 && int(n) > maxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
