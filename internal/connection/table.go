// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package connection

import (
	"hash/maphash"
	"sync"
)

// shardCount is the number of partitions in the Connection Table. Reads
// dominate during Dispatch (one lookup per addressing target), so the
// table is sharded by stream id to keep per-shard lock hold times short
// and let independent shards be read concurrently. A power of two keeps
// the mask cheap.
const shardCount = 64

type shard struct {
	mu      sync.RWMutex
	streams map[uint64]*State
}

// Table is a sharded, concurrent map from stream id to State. Accept
// inserts, socket teardown removes; Dispatch and the idle sweeper read it
// far more often than either mutates it.
type Table struct {
	shards [shardCount]*shard
	seed   maphash.Seed
}

// NewTable builds an empty Connection Table.
func NewTable() *Table {
	t := &Table{seed: maphash.MakeSeed()}
	for i := range t.shards {
		t.shards[i] = &shard{streams: make(map[uint64]*State)}
	}
	return t
}

func (t *Table) shardFor(stream uint64) *shard {
	var h maphash.Hash
	h.SetSeed(t.seed)
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(stream >> (8 * i))
	}
	h.Write(buf[:])
	return t.shards[h.Sum64()%shardCount]
}

// Insert adds or replaces the State for its Stream id.
func (t *Table) Insert(s *State) {
	sh := t.shardFor(s.Stream)
	sh.mu.Lock()
	sh.streams[s.Stream] = s
	sh.mu.Unlock()
}

// Get returns the State for stream, or nil if it isn't present.
func (t *Table) Get(stream uint64) *State {
	sh := t.shardFor(stream)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.streams[stream]
}

// Remove deletes stream from the table. It is a no-op if absent.
func (t *Table) Remove(stream uint64) {
	sh := t.shardFor(stream)
	sh.mu.Lock()
	delete(sh.streams, stream)
	sh.mu.Unlock()
}

// Len returns the total number of tracked streams across all shards.
func (t *Table) Len() int {
	n := 0
	for _, sh := range t.shards {
		sh.mu.RLock()
		n += len(sh.streams)
		sh.mu.RUnlock()
	}
	return n
}

// Snapshot returns a copy of every tracked State, so callers (tests, the
// egress engine's spatial index rebuild) can iterate without holding any
// shard lock for the duration of the scan.
func (t *Table) Snapshot() []*State {
	out := make([]*State, 0, t.Len())
	for _, sh := range t.shards {
		sh.mu.RLock()
		for _, s := range sh.streams {
			out = append(out, s)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Range calls fn for every tracked State, stopping early if fn returns
// false. fn must not call back into the Table from within the callback.
func (t *Table) Range(fn func(*State) bool) {
	for _, sh := range t.shards {
		sh.mu.RLock()
		for _, s := range sh.streams {
			if !fn(s) {
				sh.mu.RUnlock()
				return
			}
		}
		sh.mu.RUnlock()
	}
}
