// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tilegroup

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tilestore/colseg"
	"github.com/cockroachdb/tilestore/internal/base"
	"github.com/cockroachdb/tilestore/internal/value"
	"github.com/stretchr/testify/require"
)

var testColumns = []colseg.Column{
	{Name: "id", Type: value.TypeBigInt},
	{Name: "name", Type: value.TypeVarchar},
	{Name: "score", Type: value.TypeInteger},
	{Name: "price", Type: value.TypeDecimal},
}

func testTuple(i int) []value.Value {
	return []value.Value{
		value.BigInt(int64(1000 + i)),
		value.Varchar(fmt.Sprintf("name-%d", i%3)),
		value.Integer(int32(i * 10)),
		value.Decimal(float64(i) / 4),
	}
}

func newTestGroup(t *testing.T, layout Layout, slots int) *TileGroup {
	g, err := New(1, 100, testColumns, layout, slots)
	require.NoError(t, err)
	return g
}

func TestTileGroupLayouts(t *testing.T) {
	for _, layout := range []Layout{
		RowLayout(),
		ColumnLayout(),
		HybridLayout([]int{0, 2}, []int{1, 3}),
	} {
		t.Run(layout.String(), func(t *testing.T) {
			g := newTestGroup(t, layout, 8)
			defer g.Release()
			parts, err := layout.Partition(len(testColumns))
			require.NoError(t, err)
			require.Equal(t, len(parts), g.NumSegments())

			// Every column maps to exactly one (segment, column) pair.
			seen := make(map[[2]int]bool)
			for c := range testColumns {
				s, col := g.LocateSegmentAndColumn(c)
				require.False(t, seen[[2]int{s, col}])
				seen[[2]int{s, col}] = true
				require.Equal(t, testColumns[c], g.Segment(s).Schema().Column(col))
			}

			for i := 0; i < 8; i++ {
				slot, ok := g.InsertTuple(testTuple(i))
				require.True(t, ok)
				require.Equal(t, i, slot)
			}
			_, ok := g.InsertTuple(testTuple(8))
			require.False(t, ok)

			for i := 0; i < 8; i++ {
				require.Equal(t, testTuple(i), g.CopyTuple(i))
				require.Equal(t, testTuple(i)[2], g.GetValue(i, 2))
			}
		})
	}
}

func TestTileGroupInvalid(t *testing.T) {
	_, err := New(1, 1, nil, RowLayout(), 4)
	require.Error(t, err)
	_, err = New(1, 1, testColumns, RowLayout(), 0)
	require.Error(t, err)
	_, err = New(1, 1, testColumns, HybridLayout([]int{0}), 4)
	require.Error(t, err)

	g := newTestGroup(t, RowLayout(), 2)
	defer g.Release()
	require.Panics(t, func() { g.InsertTuple(testTuple(0)[:2]) })
	require.Panics(t, func() { g.LocateSegmentAndColumn(4) })
	require.Panics(t, func() { g.InsertTupleAt(1, testTuple(1)) })
}

func TestTileGroupRecycledSlot(t *testing.T) {
	g := newTestGroup(t, ColumnLayout(), 4)
	defer g.Release()
	slot, ok := g.InsertTuple(testTuple(0))
	require.True(t, ok)
	poolSize := g.Segment(1).Pool().Size()
	require.NotZero(t, poolSize)

	require.True(t, g.FreeTuple(slot))
	require.Zero(t, g.Segment(1).Pool().Size())
	require.True(t, g.GetValue(slot, 1).IsNull())

	require.True(t, g.InsertTupleAt(slot, testTuple(5)))
	require.Equal(t, testTuple(5), g.CopyTuple(slot))
}

func TestTileGroupCompress(t *testing.T) {
	for _, layout := range []Layout{RowLayout(), ColumnLayout()} {
		t.Run(layout.String(), func(t *testing.T) {
			const slots = 64
			g := newTestGroup(t, layout, slots)
			defer g.Release()
			for i := 0; i < slots; i++ {
				_, ok := g.InsertTuple(testTuple(i))
				require.True(t, ok)
			}
			before := g.Size()

			stats, err := g.Compress(context.Background())
			require.NoError(t, err)
			require.Len(t, stats, g.NumSegments())
			require.True(t, g.Header().IsImmutable())
			require.True(t, g.IsCompressed())
			require.Less(t, g.Size(), before)
			for i := 0; i < slots; i++ {
				require.Equal(t, testTuple(i), g.CopyTuple(i))
			}

			// Immutable groups refuse inserts of both kinds.
			_, ok := g.InsertTuple(testTuple(0))
			require.False(t, ok)
			require.False(t, g.InsertTupleAt(0, testTuple(0)))

			// A second pass reports every segment as already compressed or
			// not worth compressing and changes nothing.
			stats, err = g.Compress(context.Background())
			require.NoError(t, err)
			for _, s := range stats {
				require.True(t, errors.Is(s.Err, colseg.ErrAlreadyCompressed) ||
					errors.Is(s.Err, colseg.ErrNoBenefit), "%v", s.Err)
			}

			// Freeing a slot of a compressed group leaves the dictionary
			// alone.
			require.True(t, g.FreeTuple(3))
			require.Equal(t, testTuple(3)[1], g.GetValue(3, 1))

			require.Equal(t, 1, g.DictDecode())
			require.Equal(t, 0, g.DictDecode())
			for i := 0; i < slots; i++ {
				require.Equal(t, testTuple(i), g.CopyTuple(i))
			}
		})
	}
}

func TestTileGroupCompressCanceled(t *testing.T) {
	g := newTestGroup(t, ColumnLayout(), 8)
	defer g.Release()
	for i := 0; i < 8; i++ {
		g.InsertTuple(testTuple(i))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Compress(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, g.IsCompressed())
	for i := 0; i < 8; i++ {
		require.Equal(t, testTuple(i), g.CopyTuple(i))
	}
}

func TestTileGroupConcurrentReadsDuringCompress(t *testing.T) {
	const slots = 256
	g := newTestGroup(t, HybridLayout([]int{0, 1}, []int{2, 3}), slots)
	defer g.Release()
	for i := 0; i < slots; i++ {
		g.InsertTuple(testTuple(i))
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for i := r; ctx.Err() == nil; i = (i + 1) % slots {
				if got := g.GetValue(i, 1); !got.Equal(testTuple(i)[1]) {
					panic(fmt.Sprintf("slot %d: %s", i, got))
				}
			}
		}(r)
	}
	_, err := g.Compress(context.Background())
	require.NoError(t, err)
	cancel()
	wg.Wait()
}

func TestTileGroupInsertAfterImmutable(t *testing.T) {
	g := newTestGroup(t, RowLayout(), 4)
	defer g.Release()
	slot, ok := g.InsertTuple(testTuple(0))
	require.True(t, ok)

	// A writer that observed the group as mutable re-checks under the lock.
	g.header.SetImmutable()
	require.False(t, g.writeTuple(1, testTuple(1)))
	require.False(t, g.InsertTupleAt(slot, testTuple(2)))
	require.Equal(t, testTuple(0), g.CopyTuple(slot))
}

func TestTileGroupConcurrentInsertsDuringCompress(t *testing.T) {
	const slots = 1024
	for iter := 0; iter < 20; iter++ {
		g := newTestGroup(t, ColumnLayout(), slots)

		var mu sync.Mutex
		acked := make(map[int]int)
		started := make(chan struct{})
		var once sync.Once
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := w; ; i += 4 {
					slot, ok := g.InsertTuple(testTuple(i))
					if !ok {
						return
					}
					mu.Lock()
					acked[slot] = i
					mu.Unlock()
					once.Do(func() { close(started) })
				}
			}(w)
		}
		<-started
		_, err := g.Compress(context.Background())
		require.NoError(t, err)
		wg.Wait()

		// Every acknowledged insert survives the segment swap.
		require.NotEmpty(t, acked)
		for slot, i := range acked {
			require.Equal(t, testTuple(i), g.CopyTuple(slot), "slot %d", slot)
		}
		g.Release()
	}
}

func TestTileGroupRelease(t *testing.T) {
	g := newTestGroup(t, RowLayout(), 2)
	g.InsertTuple(testTuple(0))
	g.Release()
	g.Release()
	require.True(t, g.Released())
	require.False(t, g.FreeTuple(0))
	_, ok := g.InsertTuple(testTuple(1))
	require.False(t, ok)
	require.False(t, g.InsertTupleAt(0, testTuple(1)))
	require.Panics(t, func() { g.GetValue(0, 0) })
	require.Equal(t, base.OID(1), g.ID())
}
