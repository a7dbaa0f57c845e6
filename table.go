// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tilestore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tilestore/colseg"
	"github.com/cockroachdb/tilestore/internal/base"
	"github.com/cockroachdb/tilestore/internal/value"
	"github.com/cockroachdb/tilestore/recycler"
	"github.com/cockroachdb/tilestore/tilegroup"
)

// ItemPointer is the location of a tuple slot.
type ItemPointer = base.ItemPointer

// DataTable is a table stored as a growing sequence of tile groups. Inserts
// reuse slots reclaimed by garbage collection before claiming fresh ones.
type DataTable struct {
	id     base.OID
	cols   []colseg.Column
	opts   *Options
	groups *tilegroup.Manager
	free   *recycler.Recycler

	// Counters of the insert path.
	recycledInserts  atomic.Int64
	discardedSlots   atomic.Int64
	tileGroupsAdded  atomic.Int64
	compressedGroups atomic.Int64

	mu struct {
		sync.Mutex
		// active is the tile group receiving fresh-slot inserts.
		active *tilegroup.TileGroup
		// owned lists the ids of the table's live tile groups in creation
		// order.
		owned  []base.OID
		closed bool
	}
}

// NewDataTable creates an empty table with the provided columns. Its tile
// groups are registered with groups, which may be shared between tables.
func NewDataTable(
	id base.OID, cols []colseg.Column, groups *tilegroup.Manager, opts *Options,
) (*DataTable, error) {
	opts = opts.Clone().EnsureDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if _, err := opts.Layout.Partition(len(cols)); err != nil {
		return nil, errors.Wrapf(err, "table %d", id)
	}
	t := &DataTable{
		id:     id,
		cols:   cols,
		opts:   opts,
		groups: groups,
		free:   recycler.New(),
	}
	return t, nil
}

// ID returns the id of the table.
func (t *DataTable) ID() base.OID { return t.id }

// Columns returns the table's columns.
func (t *DataTable) Columns() []colseg.Column { return t.cols }

// Recycler returns the table's free-slot list.
func (t *DataTable) Recycler() *recycler.Recycler { return t.free }

// TileGroups returns the ids of the table's live tile groups in creation
// order.
func (t *DataTable) TileGroups() []base.OID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]base.OID(nil), t.mu.owned...)
}

// Insert stores tuple and returns its location. A slot recycled by garbage
// collection is preferred; recycled slots whose tile group has been dropped
// or made immutable are discarded. Otherwise the tuple goes into a fresh slot
// of the active tile group, and a new tile group is created once the active
// one is full.
func (t *DataTable) Insert(tuple []value.Value) (ItemPointer, error) {
	if len(tuple) != len(t.cols) {
		return ItemPointer{}, errors.Newf("tuple has %d values, table %d has %d columns",
			len(tuple), t.id, len(t.cols))
	}
	for {
		loc, ok := t.ReturnFreeSlot()
		if !ok {
			break
		}
		g, err := t.groups.Get(loc.Group)
		if err != nil {
			t.discardedSlots.Add(1)
			t.opts.Logger.Infof("table %d: discarding recycled slot %s: %v", t.id, loc, err)
			continue
		}
		if g.InsertTupleAt(int(loc.Offset), tuple) {
			t.recycledInserts.Add(1)
			stamp(g, int(loc.Offset))
			return loc, nil
		}
		t.discardedSlots.Add(1)
	}

	for {
		g, err := t.activeGroup()
		if err != nil {
			return ItemPointer{}, err
		}
		if slot, ok := g.InsertTuple(tuple); ok {
			stamp(g, slot)
			return ItemPointer{Group: g.ID(), Offset: uint32(slot)}, nil
		}
		t.rotate(g)
	}
}

// stamp marks the version in slot as loaded outside of a transaction and
// visible from the first commit id on.
func stamp(g *tilegroup.TileGroup, slot int) {
	h := g.Header()
	h.SetTxnID(slot, base.InitialTxnID)
	h.SetBeginCommitID(slot, base.StartCommitID)
	h.SetEndCommitID(slot, base.MaxCommitID)
}

// Delete ends the version at loc as of commit id end. The slot becomes
// garbage once no active transaction can read at end or earlier; the caller
// hands it to the Collector with RecycleOldTupleSlot.
func (t *DataTable) Delete(loc ItemPointer, end base.CommitID) error {
	g, err := t.group(loc.Group)
	if err != nil {
		return err
	}
	slot := int(loc.Offset)
	if slot >= g.Header().CurrentNextSlot() {
		return errors.Newf("slot %s was never allocated", loc)
	}
	if cur := g.Header().EndCommitID(slot); cur != base.MaxCommitID {
		return errors.Newf("version at %s already ended at %d", loc, cur)
	}
	g.Header().SetEndCommitID(slot, end)
	return nil
}

// recycle pushes loc onto the table's free-slot list. It returns false if the
// table has been closed.
func (t *DataTable) recycle(loc ItemPointer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mu.closed {
		return false
	}
	t.free.Push(loc)
	return true
}

// ReturnFreeSlot pops a recycled slot location without blocking. It returns
// false if none is available or the free-slot list is contended.
func (t *DataTable) ReturnFreeSlot() (ItemPointer, bool) {
	return t.free.TryPop()
}

// activeGroup returns the tile group receiving fresh inserts, creating the
// table's first group if needed.
func (t *DataTable) activeGroup() (*tilegroup.TileGroup, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mu.closed {
		return nil, errors.Newf("table %d is closed", t.id)
	}
	if t.mu.active == nil {
		if err := t.addTileGroupLocked(); err != nil {
			return nil, err
		}
	}
	return t.mu.active, nil
}

// rotate replaces full, the previously active group, with a new tile group
// unless another inserter already did so.
func (t *DataTable) rotate(full *tilegroup.TileGroup) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mu.active != full || t.mu.closed {
		return
	}
	t.mu.active = nil
	if err := t.addTileGroupLocked(); err != nil {
		t.opts.Logger.Errorf("table %d: %v", t.id, err)
	}
}

func (t *DataTable) addTileGroupLocked() error {
	id := t.groups.NextOID()
	g, err := tilegroup.New(id, t.id, t.cols, t.opts.Layout, t.opts.TuplesPerTileGroup)
	if err != nil {
		return err
	}
	t.groups.Add(g)
	t.mu.active = g
	t.mu.owned = append(t.mu.owned, id)
	t.tileGroupsAdded.Add(1)
	t.opts.Logger.Infof("table %d: added tile group %d with %d slots", t.id, id, t.opts.TuplesPerTileGroup)
	return nil
}

// Get returns the value of column col of the tuple at loc.
func (t *DataTable) Get(loc ItemPointer, col int) (value.Value, error) {
	g, err := t.group(loc.Group)
	if err != nil {
		return value.Value{}, err
	}
	return g.GetValue(int(loc.Offset), col), nil
}

// GetTuple returns every value of the tuple at loc.
func (t *DataTable) GetTuple(loc ItemPointer) ([]value.Value, error) {
	g, err := t.group(loc.Group)
	if err != nil {
		return nil, err
	}
	return g.CopyTuple(int(loc.Offset)), nil
}

// TileGroup returns the table's tile group with the provided id.
func (t *DataTable) TileGroup(id base.OID) (*tilegroup.TileGroup, error) {
	return t.group(id)
}

func (t *DataTable) group(id base.OID) (*tilegroup.TileGroup, error) {
	g, err := t.groups.Get(id)
	if err != nil {
		return nil, err
	}
	if g.TableID() != t.id {
		return nil, base.MarkTileGroupNotFound(
			errors.Newf("tile group %d belongs to table %d, not %d", id, g.TableID(), t.id))
	}
	return g, nil
}

// CompressTileGroup marks tile group id immutable and compresses its
// segments. The group stops receiving inserts; if it was the active group a
// new one takes its place on the next insert.
func (t *DataTable) CompressTileGroup(ctx context.Context, id base.OID) ([]tilegroup.SegmentStats, error) {
	g, err := t.group(id)
	if err != nil {
		return nil, err
	}
	start := crtime.NowMono()
	stats, err := g.Compress(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "compressing tile group %d", id)
	}
	if h := t.opts.CompressionLatency; h != nil {
		h.Observe(start.Elapsed().Seconds())
	}
	t.compressedGroups.Add(1)
	t.mu.Lock()
	if t.mu.active == g {
		t.mu.active = nil
	}
	t.mu.Unlock()
	for _, s := range stats {
		if s.Err == nil {
			t.opts.Logger.Infof("table %d: tile group %d segment %d: %s", t.id, id, s.Segment, &s.CompressStats)
		}
	}
	return stats, nil
}

// DropTileGroup removes tile group id from the table and releases it. Its
// slots still waiting in the recycler are invalidated first so that no
// insert lands in the dropped group.
func (t *DataTable) DropTileGroup(id base.OID) error {
	if _, err := t.group(id); err != nil {
		return err
	}
	t.mu.Lock()
	for i, o := range t.mu.owned {
		if o == id {
			t.mu.owned = append(t.mu.owned[:i], t.mu.owned[i+1:]...)
			break
		}
	}
	if t.mu.active != nil && t.mu.active.ID() == id {
		t.mu.active = nil
	}
	t.mu.Unlock()

	removed := t.free.RemoveAllWithTileGroup(id)
	t.groups.Drop(id)
	t.opts.Logger.Infof("table %d: dropped tile group %d, %d recycled slots invalidated", t.id, id, removed)
	return nil
}

// Size returns the memory footprint of the table's tile groups.
func (t *DataTable) Size() int64 {
	var n int64
	for _, id := range t.TileGroups() {
		if g, err := t.groups.Get(id); err == nil {
			n += g.Size()
		}
	}
	return n
}

// Close drops every tile group of the table and drains its recycler.
func (t *DataTable) Close() error {
	t.mu.Lock()
	if t.mu.closed {
		t.mu.Unlock()
		return errors.Newf("table %d already closed", t.id)
	}
	t.mu.closed = true
	owned := t.mu.owned
	t.mu.owned = nil
	t.mu.active = nil
	t.mu.Unlock()

	t.free.Close()
	for _, id := range owned {
		t.groups.Drop(id)
	}
	return nil
}
