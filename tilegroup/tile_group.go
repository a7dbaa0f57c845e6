// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package tilegroup implements tile groups: fixed-capacity horizontal slices
// of a table whose columns are vertically partitioned into column segments.
//
// Every table column maps to exactly one (segment, segment column) pair, as
// determined by the group's Layout. A tuple occupies the same slot in every
// segment of the group. The group's Header carries the MVCC metadata of each
// slot and allocates fresh slots.
package tilegroup

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tilestore/colseg"
	"github.com/cockroachdb/tilestore/internal/base"
	"github.com/cockroachdb/tilestore/internal/value"
	"golang.org/x/sync/errgroup"
)

// columnLoc addresses a table column within the group's segments.
type columnLoc struct {
	segment int
	column  int
}

// TileGroup is a fixed number of tuple slots of one table.
type TileGroup struct {
	id     base.OID
	table  base.OID
	header *Header
	layout Layout
	cols   []colseg.Column
	colMap []columnLoc
	// numSegments is fixed by the layout.
	numSegments int

	// transformMu serializes compression passes with operations that mutate
	// segments in place (varlen frees).
	transformMu sync.Mutex

	mu struct {
		// The read lock is held while accessing a segment; the write lock is
		// held to swap in transformed segments or release them.
		sync.RWMutex
		segments []*colseg.Segment
		released bool
	}
}

// New creates a tile group with the provided id and slot capacity holding
// columns of table partitioned according to layout.
func New(id, table base.OID, cols []colseg.Column, layout Layout, slots int) (*TileGroup, error) {
	if len(cols) == 0 {
		return nil, errors.New("tilegroup: table has no columns")
	}
	if slots <= 0 {
		return nil, errors.Newf("tilegroup: invalid slot count %d", slots)
	}
	parts, err := layout.Partition(len(cols))
	if err != nil {
		return nil, err
	}
	g := &TileGroup{
		id:     id,
		table:  table,
		header: NewHeader(slots),
		layout: layout,
		cols:   cols,
		colMap: make([]columnLoc, len(cols)),

		numSegments: len(parts),
	}
	g.mu.segments = make([]*colseg.Segment, len(parts))
	for i, part := range parts {
		segCols := make([]colseg.Column, len(part))
		for j, c := range part {
			segCols[j] = cols[c]
			g.colMap[c] = columnLoc{segment: i, column: j}
		}
		g.mu.segments[i] = colseg.NewSegment(colseg.NewSchema(segCols...), slots, id)
	}
	return g, nil
}

// ID returns the id of the group.
func (g *TileGroup) ID() base.OID { return g.id }

// TableID returns the id of the table the group belongs to.
func (g *TileGroup) TableID() base.OID { return g.table }

// Header returns the group's MVCC header.
func (g *TileGroup) Header() *Header { return g.header }

// Layout returns the group's column layout.
func (g *TileGroup) Layout() Layout { return g.layout }

// NumSlots returns the slot capacity of the group.
func (g *TileGroup) NumSlots() int { return g.header.NumSlots() }

// NumColumns returns the number of table columns.
func (g *TileGroup) NumColumns() int { return len(g.cols) }

// Columns returns the table columns.
func (g *TileGroup) Columns() []colseg.Column { return g.cols }

// NumSegments returns the number of segments.
func (g *TileGroup) NumSegments() int { return g.numSegments }

// Segment returns the i'th segment. The returned segment may be replaced by a
// compression pass; callers must not retain it.
func (g *TileGroup) Segment(i int) *colseg.Segment {
	g.mu.RLock()
	defer g.mu.RUnlock()
	g.checkLiveLocked()
	return g.mu.segments[i]
}

// LocateSegmentAndColumn returns the segment holding table column col and
// the column's index within that segment.
func (g *TileGroup) LocateSegmentAndColumn(col int) (segment, column int) {
	if col < 0 || col >= len(g.colMap) {
		panic(errors.AssertionFailedf("column %d out of range [0, %d)", col, len(g.colMap)))
	}
	loc := g.colMap[col]
	return loc.segment, loc.column
}

func (g *TileGroup) checkLiveLocked() {
	if g.mu.released {
		panic(errors.AssertionFailedf("tile group %d used after release", g.id))
	}
}

// InsertTuple claims a fresh slot and writes tuple into it. It returns false
// if the group is full, immutable or released.
func (g *TileGroup) InsertTuple(tuple []value.Value) (int, bool) {
	if g.header.IsImmutable() {
		return 0, false
	}
	slot, ok := g.header.NextEmptySlot()
	if !ok || !g.writeTuple(slot, tuple) {
		return 0, false
	}
	return slot, true
}

// InsertTupleAt writes tuple into slot, which must have been handed out
// before, typically a slot recycled by garbage collection. It returns false
// if the group is immutable or has been released.
func (g *TileGroup) InsertTupleAt(slot int, tuple []value.Value) bool {
	if g.header.IsImmutable() {
		return false
	}
	if slot >= g.header.CurrentNextSlot() {
		panic(errors.AssertionFailedf("slot %d of tile group %d was never allocated", slot, g.id))
	}
	return g.writeTuple(slot, tuple)
}

// writeTuple returns false if the group was released by a concurrent drop or
// made immutable by a concurrent compression. Immutability is set under
// g.mu's write lock, so a write that passes the check here completes before
// any compression pass reads the segments.
func (g *TileGroup) writeTuple(slot int, tuple []value.Value) bool {
	if len(tuple) != len(g.cols) {
		panic(errors.AssertionFailedf("tuple has %d values, table has %d columns", len(tuple), len(g.cols)))
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.mu.released || g.header.IsImmutable() {
		return false
	}
	for c, v := range tuple {
		loc := g.colMap[c]
		g.mu.segments[loc.segment].SetValue(slot, loc.column, v)
	}
	return true
}

// GetValue returns the value of table column col in slot.
func (g *TileGroup) GetValue(slot, col int) value.Value {
	segIdx, segCol := g.LocateSegmentAndColumn(col)
	g.mu.RLock()
	defer g.mu.RUnlock()
	g.checkLiveLocked()
	return g.mu.segments[segIdx].GetValue(slot, segCol)
}

// CopyTuple returns the values of every table column in slot.
func (g *TileGroup) CopyTuple(slot int) []value.Value {
	g.mu.RLock()
	defer g.mu.RUnlock()
	g.checkLiveLocked()
	tuple := make([]value.Value, len(g.cols))
	for c := range tuple {
		loc := g.colMap[c]
		tuple[c] = g.mu.segments[loc.segment].GetValue(slot, loc.column)
	}
	return tuple
}

// FreeTuple frees the out-of-line payloads of slot in every segment. It is
// called by garbage collection before the slot is recycled, and returns false
// if the group has been released in the meantime.
func (g *TileGroup) FreeTuple(slot int) bool {
	g.transformMu.Lock()
	defer g.transformMu.Unlock()
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.mu.released {
		return false
	}
	for _, s := range g.mu.segments {
		s.FreeVarlen(slot)
	}
	return true
}

// Released returns true once Release has been called.
func (g *TileGroup) Released() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mu.released
}

// Size returns the memory footprint of the group's segments.
func (g *TileGroup) Size() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var n int64
	for _, s := range g.mu.segments {
		n += s.Size()
	}
	return n
}

// IsCompressed returns true if any segment carries compression state.
func (g *TileGroup) IsCompressed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, s := range g.mu.segments {
		if s.IsCompressed() {
			return true
		}
	}
	return false
}

// SegmentStats pairs the outcome of a compression pass with the segment it
// ran over. Err is nil if the segment was replaced.
type SegmentStats struct {
	Segment int
	colseg.CompressStats
	Err error
}

// Compress marks the group immutable and compresses its segments
// concurrently. Segments that benefit are swapped in once every pass has
// finished; the others are kept. The per-segment outcomes are returned,
// with colseg.ErrNoBenefit and colseg.ErrAlreadyCompressed reported through
// SegmentStats.Err. A returned error means no segment was replaced.
func (g *TileGroup) Compress(ctx context.Context) ([]SegmentStats, error) {
	return g.transform(ctx, colseg.Compress)
}

// DictEncode is like Compress but only dictionary-encodes variable-length
// columns.
func (g *TileGroup) DictEncode(ctx context.Context) ([]SegmentStats, error) {
	return g.transform(ctx, colseg.DictEncode)
}

func (g *TileGroup) transform(
	ctx context.Context, fn func(*colseg.Segment) (*colseg.Segment, colseg.CompressStats, error),
) ([]SegmentStats, error) {
	g.transformMu.Lock()
	defer g.transformMu.Unlock()

	segs := func() []*colseg.Segment {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.checkLiveLocked()
		g.header.SetImmutable()
		return append([]*colseg.Segment(nil), g.mu.segments...)
	}()

	stats := make([]SegmentStats, len(segs))
	outs := make([]*colseg.Segment, len(segs))
	eg, ctx := errgroup.WithContext(ctx)
	for i, s := range segs {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, st, err := fn(s)
			stats[i] = SegmentStats{Segment: i, CompressStats: st, Err: err}
			outs[i] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		for _, out := range outs {
			if out != nil {
				out.Release()
			}
		}
		return nil, err
	}
	g.swap(outs)
	return stats, nil
}

// DictDecode replaces every segment holding dictionary-encoded columns with
// a decoded copy. It returns the number of replaced segments. The group
// remains immutable.
func (g *TileGroup) DictDecode() int {
	g.transformMu.Lock()
	defer g.transformMu.Unlock()

	g.mu.RLock()
	g.checkLiveLocked()
	segs := append([]*colseg.Segment(nil), g.mu.segments...)
	g.mu.RUnlock()

	outs := make([]*colseg.Segment, len(segs))
	n := 0
	for i, s := range segs {
		out, err := colseg.DictDecode(s)
		if err != nil {
			continue
		}
		outs[i] = out
		n++
	}
	g.swap(outs)
	return n
}

// swap installs the non-nil entries of outs and releases the segments they
// replace.
func (g *TileGroup) swap(outs []*colseg.Segment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, out := range outs {
		if out == nil {
			continue
		}
		g.mu.segments[i].Release()
		g.mu.segments[i] = out
	}
}

// Release frees the group's segments. The group must not be used afterwards.
func (g *TileGroup) Release() {
	g.transformMu.Lock()
	defer g.transformMu.Unlock()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mu.released {
		return
	}
	g.mu.released = true
	for _, s := range g.mu.segments {
		s.Release()
	}
	g.mu.segments = nil
}

// WriteDebug writes a description of the group's header and segments.
func (g *TileGroup) WriteDebug(w io.Writer) {
	fmt.Fprintf(w, "tile group %d (table %d, layout %s)\n", g.id, g.table, g.layout)
	g.header.WriteDebug(w)
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, s := range g.mu.segments {
		s.WriteDebug(w)
	}
}
