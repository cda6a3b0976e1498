// Copyright (c) 2026 tickproxy authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spatial implements a bulk-built bounding-volume hierarchy over
// 2-D chunk coordinates, rebuilt once per tick, answering taxicab-distance
// range queries in support of regional ("Local") packet fanout.
package spatial

import "sort"

// ChunkPosition is a 16-block-square cell coordinate on the simulation's
// 2-D plane. It is opaque to the proxy beyond taxicab-distance arithmetic.
type ChunkPosition struct {
	CX, CZ int32
}

// taxicabDistance returns the L1 distance between two positions.
func taxicabDistance(a, b ChunkPosition) int64 {
	dx := int64(a.CX) - int64(b.CX)
	dz := int64(a.CZ) - int64(b.CZ)
	if dx < 0 {
		dx = -dx
	}
	if dz < 0 {
		dz = -dz
	}
	return dx + dz
}

// Point associates a stream id with its current chunk position, the unit
// the index is bulk-rebuilt from each tick.
type Point struct {
	Stream uint64
	Pos    ChunkPosition
}

type box struct {
	minX, minZ, maxX, maxZ int32
}

func (b box) expand(r int32) box {
	return box{b.minX - r, b.minZ - r, b.maxX + r, b.maxZ + r}
}

func (b box) contains(p ChunkPosition) bool {
	return p.CX >= b.minX && p.CX <= b.maxX && p.CZ >= b.minZ && p.CZ <= b.maxZ
}

func unionBox(a, b box) box {
	return box{
		minX: min32(a.minX, b.minX),
		minZ: min32(a.minZ, b.minZ),
		maxX: max32(a.maxX, b.maxX),
		maxZ: max32(a.maxZ, b.maxZ),
	}
}

func boxOf(points []Point) box {
	b := box{points[0].Pos.CX, points[0].Pos.CZ, points[0].Pos.CX, points[0].Pos.CZ}
	for _, p := range points[1:] {
		b.minX = min32(b.minX, p.Pos.CX)
		b.minZ = min32(b.minZ, p.Pos.CZ)
		b.maxX = max32(b.maxX, p.Pos.CX)
		b.maxZ = max32(b.maxZ, p.Pos.CZ)
	}
	return b
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

// leafCapacity bounds how many points a leaf node may hold before the
// builder splits it further. The spec leaves the exact value to the
// implementer within an 8-32 range; 16 balances tree depth against the
// per-leaf linear scan cost at typical regional query radii.
const leafCapacity = 16

// node is either an internal node (children set, points nil) or a leaf
// (points set, left and right -1). Nodes are stored in a flat slice owned
// by the Index; left/right are indices into that slice, with -1 meaning
// "no child".
type node struct {
	bounds      box
	left, right int
	points      []Point
}

func (n *node) isLeaf() bool {
	return n.points != nil
}

// Index is a read-only-after-build BVH over a snapshot of points. A single
// Index must not be queried concurrently with Build; once Build returns,
// Query is safe to call from multiple goroutines, matching the Egress
// Engine's single-writer/many-reader usage within a tick.
type Index struct {
	nodes []node
	root  int
}

// Build constructs a fresh Index from points. It does not mutate points'
// backing array in place from the caller's perspective beyond sorting a
// private copy, so callers may reuse their slice immediately after Build
// returns.
func Build(points []Point) *Index {
	idx := &Index{}
	if len(points) == 0 {
		idx.root = -1
		return idx
	}

	owned := make([]Point, len(points))
	copy(owned, points)

	// Rough capacity estimate: a balanced binary tree over n points has at
	// most 2n-1 nodes.
	idx.nodes = make([]node, 0, 2*len(owned))
	idx.root = idx.build(owned)
	return idx
}

// build recursively median-splits along the longer axis of the current
// bounding box, bottom-up, and returns the index of the node it appended.
func (idx *Index) build(points []Point) int {
	b := boxOf(points)

	if len(points) <= leafCapacity {
		idx.nodes = append(idx.nodes, node{bounds: b, left: -1, right: -1, points: points})
		return len(idx.nodes) - 1
	}

	width := int64(b.maxX) - int64(b.minX)
	depth := int64(b.maxZ) - int64(b.minZ)
	if width >= depth {
		sort.Slice(points, func(i, j int) bool { return points[i].Pos.CX < points[j].Pos.CX })
	} else {
		sort.Slice(points, func(i, j int) bool { return points[i].Pos.CZ < points[j].Pos.CZ })
	}

	mid := len(points) / 2
	leftIdx := idx.build(points[:mid])
	rightIdx := idx.build(points[mid:])

	merged := unionBox(idx.nodes[leftIdx].bounds, idx.nodes[rightIdx].bounds)
	idx.nodes = append(idx.nodes, node{bounds: merged, left: leftIdx, right: rightIdx})
	return len(idx.nodes) - 1
}

// Query returns every stream whose position is within taxicab distance r
// (inclusive) of center. The returned slice has no guaranteed order.
func (idx *Index) Query(center ChunkPosition, r int32) []uint64 {
	var out []uint64
	if idx.root == -1 {
		return out
	}
	idx.query(idx.root, center, r, &out)
	return out
}

func (idx *Index) query(n int, center ChunkPosition, r int32, out *[]uint64) {
	nd := &idx.nodes[n]
	if !nd.bounds.expand(r).contains(center) {
		return
	}

	if nd.isLeaf() {
		for _, p := range nd.points {
			if taxicabDistance(p.Pos, center) <= int64(r) {
				*out = append(*out, p.Stream)
			}
		}
		return
	}

	idx.query(nd.left, center, r, out)
	idx.query(nd.right, center, r, out)
}

// Len reports how many points the index was built from.
func (idx *Index) Len() int {
	n := 0
	for _, nd := range idx.nodes {
		if nd.isLeaf() {
			n += len(nd.points)
		}
	}
	return n
}
