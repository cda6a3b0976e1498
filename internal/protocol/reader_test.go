// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestReadServerMessageTruncated(t *testing.T) {
	var buf bytes.Buffer
	WriteUnicast(&buf, &Unicast{Data: []byte("hello"), Stream: 1, Order: 1})

	truncated := buf.Bytes()[:buf.Len()-3]
	_, err := ReadServerMessage(bytes.NewReader(truncated))
	if err == nil {
		t.Fatal("expected error decoding truncated frame")
	}
}

func TestReadServerMessageInvalidVersion(t *testing.T) {
	raw := []byte{0, 0, 0, 2, 0x99, byte(TagFlush)}
	_, err := ReadServerMessage(bytes.NewReader(raw))
	if !errors.Is(err, ErrInvalidVersion) {
		t.Fatalf("expected ErrInvalidVersion, got %v", err)
	}
}

func TestReadServerMessageUnknownTag(t *testing.T) {
	raw := []byte{0, 0, 0, 2, ProtocolVersion, 0x7F}
	_, err := ReadServerMessage(bytes.NewReader(raw))
	if !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
}

func TestReadServerMessageFrameTooLarge(t *testing.T) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], MaxFrameSize+1)
	_, err := ReadServerMessage(bytes.NewReader(lenBuf[:]))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadServerMessageEmptyStreamIsEOF(t *testing.T) {
	_, err := ReadServerMessage(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF on empty stream, got %v", err)
	}
}

func TestReadServerMessageLengthBelowHeader(t *testing.T) {
	raw := []byte{0, 0, 0, 1}
	_, err := ReadServerMessage(bytes.NewReader(raw))
	if !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("expected ErrTruncatedFrame, got %v", err)
	}
}
