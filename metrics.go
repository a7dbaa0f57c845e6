// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tilestore

import (
	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/tilestore/internal/manual"
	"github.com/cockroachdb/tilestore/recycler"
	"github.com/cockroachdb/tilestore/tilegroup"
)

// CountAndSize tracks the count and total size of a set of tile groups.
type CountAndSize struct {
	// Count is the number of tile groups.
	Count uint64
	// Bytes is the memory footprint of their segments.
	Bytes uint64
}

// Inc adds one tile group of the given size.
func (cs *CountAndSize) Inc(size int64) {
	cs.Count++
	cs.Bytes += uint64(size)
}

// String implements fmt.Stringer.
func (cs CountAndSize) String() string {
	return redact.StringWithoutMarkers(cs)
}

// SafeFormat implements redact.SafeFormatter.
func (cs CountAndSize) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s (%s)", crhumanize.Count(cs.Count, crhumanize.Compact),
		crhumanize.Bytes(cs.Bytes, crhumanize.Compact, crhumanize.OmitI))
}

// TableMetrics holds the insert-path counters of one table.
type TableMetrics struct {
	// RecycledInserts is the number of inserts that reused a reclaimed slot.
	RecycledInserts int64
	// DiscardedSlots is the number of recycled slots thrown away because their
	// tile group was dropped or immutable.
	DiscardedSlots int64
	// TileGroupsAdded is the number of tile groups created by the table.
	TileGroupsAdded int64
	// CompressedGroups is the number of successful CompressTileGroup calls.
	CompressedGroups int64
	// Recycler holds the counters of the table's free-slot list.
	Recycler recycler.Metrics
}

// Metrics returns a snapshot of the table's counters.
func (t *DataTable) Metrics() TableMetrics {
	return TableMetrics{
		RecycledInserts:  t.recycledInserts.Load(),
		DiscardedSlots:   t.discardedSlots.Load(),
		TileGroupsAdded:  t.tileGroupsAdded.Load(),
		CompressedGroups: t.compressedGroups.Load(),
		Recycler:         t.free.Metrics(),
	}
}

// Metrics holds metrics for the tables and tile groups a Collector knows
// about.
type Metrics struct {
	// TileGroups covers every live tile group; Compressed covers those with
	// compression or dictionary state.
	TileGroups CountAndSize
	Compressed CountAndSize
	// Immutable is the number of live tile groups that accept no inserts.
	Immutable int
	// ActiveTuples is the number of slots owned by a transaction, i.e. holding
	// a version that has not been reclaimed.
	ActiveTuples int

	// Tables holds per-table counters keyed by table id.
	Tables map[uint32]TableMetrics
	// FreeSlots is the number of reclaimed slots waiting in free-slot lists.
	FreeSlots int

	GC GCMetrics

	// Memory holds the byte accounting of segment buffers, variable-length
	// payloads and dictionaries.
	Memory manual.Metrics
}

// Metrics returns the current metrics of the collector's tile groups and
// registered tables.
func (c *Collector) Metrics() *Metrics {
	m := &Metrics{
		Tables: make(map[uint32]TableMetrics),
		GC:     c.gcMetrics(),
		Memory: manual.GetMetrics(),
	}
	c.groups.All(func(g *tilegroup.TileGroup) bool {
		size := g.Size()
		m.TileGroups.Inc(size)
		if g.IsCompressed() {
			m.Compressed.Inc(size)
		}
		if g.Header().IsImmutable() {
			m.Immutable++
		}
		m.ActiveTuples += g.Header().ActiveTupleCount()
		return true
	})
	for _, t := range c.tables() {
		m.Tables[uint32(t.ID())] = t.Metrics()
		m.FreeSlots += t.free.Len()
	}
	return m
}

// String pretty-prints the metrics.
func (m *Metrics) String() string {
	return redact.StringWithoutMarkers(m)
}

// SafeFormat implements redact.SafeFormatter.
func (m *Metrics) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("tile groups: %s\n", m.TileGroups)
	w.Printf("compressed:  %s\n", m.Compressed)
	w.Printf("immutable:   %d\n", redact.Safe(m.Immutable))
	w.Printf("tuples:      %s active\n", crhumanize.Count(uint64(m.ActiveTuples), crhumanize.Compact))
	w.Printf("free slots:  %s\n", crhumanize.Count(uint64(m.FreeSlots), crhumanize.Compact))
	w.Printf("gc:          %s\n", m.GC)
	for p := manual.Purpose(1); p < manual.NumPurposes; p++ {
		w.Printf("memory %-10s %s in use\n", redact.SafeString(p.String()),
			crhumanize.Bytes(m.Memory[p].InUseBytes, crhumanize.Compact, crhumanize.OmitI))
	}
}
