// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arena

import (
	"bytes"
	"sync"
	"testing"
)

func TestAllocReturnsCopy(t *testing.T) {
	a := New(16)
	src := []byte("hello")
	got := a.Alloc(src)

	if !bytes.Equal(got, src) {
		t.Fatalf("got %q, want %q", got, src)
	}

	src[0] = 'X'
	if got[0] == 'X' {
		t.Error("Alloc must copy, not alias the source slice")
	}
}

func TestAllocGrowsBuffer(t *testing.T) {
	a := New(4)
	for i := 0; i < 100; i++ {
		a.Alloc([]byte("payload-chunk"))
	}
	if a.Used() != 100*len("payload-chunk") {
		t.Errorf("Used() = %d, want %d", a.Used(), 100*len("payload-chunk"))
	}
}

func TestResetPoisonsMemory(t *testing.T) {
	a := New(16)
	got := a.Alloc([]byte("AABB"))

	a.Reset()

	if !IsPoisoned(got) {
		t.Errorf("expected poisoned bytes after Reset, got %x", got)
	}
	if a.Used() != 0 {
		t.Errorf("Used() after Reset = %d, want 0", a.Used())
	}
}

func TestAllocAfterResetReusesSpace(t *testing.T) {
	a := New(16)
	a.Alloc([]byte("first"))
	a.Reset()

	got := a.Alloc([]byte("second"))
	if !bytes.Equal(got, []byte("second")) {
		t.Errorf("got %q, want %q", got, "second")
	}
}

func TestIsPoisonedRejectsRealData(t *testing.T) {
	if IsPoisoned([]byte("AABB")) {
		t.Error("real payload bytes must not read as poisoned")
	}
	if IsPoisoned(nil) {
		t.Error("empty slice should not be considered poisoned")
	}
}

func TestBytesReflectsAllocationOrder(t *testing.T) {
	a := New(4)
	a.Alloc([]byte("AB"))
	a.Alloc([]byte("CD"))

	if got := a.Bytes(); !bytes.Equal(got, []byte("ABCD")) {
		t.Errorf("Bytes() = %q, want %q", got, "ABCD")
	}
}

func TestWriterAppendsSequentialWrites(t *testing.T) {
	a := New(4)
	w := a.Writer()

	w.Write([]byte("foo"))
	w.Write([]byte("bar"))

	if got := a.Bytes(); !bytes.Equal(got, []byte("foobar")) {
		t.Errorf("Bytes() after Writer() writes = %q, want %q", got, "foobar")
	}
}

func TestConcurrentAlloc(t *testing.T) {
	a := New(16)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Alloc([]byte("x"))
		}()
	}
	wg.Wait()

	if a.Used() != 50 {
		t.Errorf("Used() = %d, want 50", a.Used())
	}
}
