// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colseg

import (
	"bytes"
	"sync"
	"testing"

	"github.com/cockroachdb/tilestore/internal/base"
	"github.com/cockroachdb/tilestore/internal/invariants"
	"github.com/cockroachdb/tilestore/internal/manual"
	"github.com/cockroachdb/tilestore/internal/value"
	"github.com/kr/pretty"
	"github.com/stretchr/testify/require"
)

func testSchema() *Schema {
	return NewSchema(
		Column{Name: "id", Type: value.TypeInteger},
		Column{Name: "name", Type: value.TypeVarchar},
		Column{Name: "ok", Type: value.TypeBoolean},
		Column{Name: "ts", Type: value.TypeTimestamp},
		Column{Name: "price", Type: value.TypeDecimal},
		Column{Name: "blob", Type: value.TypeVarbinary},
	)
}

func TestSchemaLayout(t *testing.T) {
	s := testSchema()
	require.Equal(t, 6, s.NumColumns())
	require.Equal(t, 4+8+1+8+8+8, s.Stride())
	require.Equal(t, []int{0, 4, 12, 13, 21, 29},
		[]int{s.Offset(0), s.Offset(1), s.Offset(2), s.Offset(3), s.Offset(4), s.Offset(5)})
	require.False(t, s.IsInlined())
	require.Equal(t, "id:integer name:varchar ok:boolean ts:timestamp price:decimal blob:varbinary", s.String())

	inl := NewSchema(Column{Name: "a", Type: value.TypeSmallInt})
	require.True(t, inl.IsInlined())
	require.Panics(t, func() { NewSchema(Column{Name: "bad"}) })
}

func TestSegmentGetSet(t *testing.T) {
	seg := NewSegment(testSchema(), 4, 7)
	defer seg.Release()
	require.Equal(t, 4*seg.Schema().Stride(), len(seg.buf))
	require.Equal(t, 0, seg.Rows())

	rows := [][]value.Value{
		{value.Integer(1), value.Varchar("alice"), value.Boolean(true), value.Timestamp(1e15), value.Decimal(9.5), value.Varbinary([]byte{1, 2})},
		{value.Integer(-2), value.Null(value.TypeVarchar), value.Boolean(false), value.Null(value.TypeTimestamp), value.Null(value.TypeDecimal), value.Varbinary(nil)},
		{value.Null(value.TypeInteger), value.Varchar(""), value.Null(value.TypeBoolean), value.Timestamp(-1), value.Decimal(-0.25), value.Null(value.TypeVarbinary)},
	}
	for slot, r := range rows {
		for col, v := range r {
			seg.SetValue(slot, col, v)
		}
	}
	require.Equal(t, 3, seg.Rows())
	for slot, r := range rows {
		for col, v := range r {
			if got := seg.GetValue(slot, col); !got.Equal(v) {
				t.Fatalf("(%d, %d): %s", slot, col, pretty.Diff(v, got))
			}
		}
	}
	require.Equal(t, base.OID(7), seg.GroupID())
	require.Equal(t, int64(len("alice")+2), seg.Pool().Size())
}

func TestSegmentFastPath(t *testing.T) {
	s := testSchema()
	seg := NewSegment(s, 2, 1)
	defer seg.Release()

	off := s.Offset(1)
	seg.SetValueFast(1, off, value.TypeVarchar, value.Varchar("fast"))
	require.Equal(t, value.Varchar("fast"), seg.GetValueFast(1, off, value.TypeVarchar))
	require.Equal(t, value.Varchar("fast"), seg.GetValue(1, 1))
	require.Equal(t, 2, seg.Rows())

	// Narrower integer kinds are widened into the column type.
	seg.SetValueFast(0, s.Offset(0), value.TypeInteger, value.SmallInt(12))
	require.Equal(t, value.Integer(12), seg.GetValue(0, 0))
}

func TestSegmentPreconditions(t *testing.T) {
	seg := NewSegment(testSchema(), 2, 1)
	defer seg.Release()

	require.Panics(t, func() { seg.GetValue(2, 0) })
	require.Panics(t, func() { seg.GetValue(-1, 0) })
	require.Panics(t, func() { seg.GetValue(0, 6) })
	require.Panics(t, func() { seg.SetValue(2, 0, value.Integer(1)) })
	require.Panics(t, func() { seg.SetValue(0, 0, value.BigInt(1<<40)) })
	require.Panics(t, func() { seg.SetValue(0, 1, value.Integer(1)) })
	require.Panics(t, func() { NewSegment(testSchema(), 0, 1) })
}

func TestSegmentUseAfterRelease(t *testing.T) {
	seg := NewSegment(testSchema(), 2, 1)
	seg.SetValue(0, 0, value.Integer(5))
	off := seg.Schema().Offset(0)
	seg.Release()

	require.Panics(t, func() { seg.GetValue(0, 0) })
	require.Panics(t, func() { seg.SetValue(0, 0, value.Integer(1)) })
	require.Panics(t, func() { seg.GetValueFast(0, off, value.TypeInteger) })
	if invariants.Enabled {
		require.PanicsWithValue(t, "closed", func() { seg.GetValue(0, 0) })
		require.PanicsWithValue(t, "closed", func() { seg.FreeVarlen(0) })
		require.PanicsWithValue(t, "double close", seg.Release)
	}
}

func TestSegmentFreeVarlen(t *testing.T) {
	seg := NewSegment(testSchema(), 2, 1)
	defer seg.Release()
	seg.SetValue(0, 1, value.Varchar("hello"))
	seg.SetValue(0, 5, value.Varbinary([]byte("world")))
	seg.SetValue(1, 1, value.Varchar("other"))
	require.Equal(t, 3, seg.Pool().Len())

	seg.FreeVarlen(0)
	require.Equal(t, 1, seg.Pool().Len())
	require.True(t, seg.GetValue(0, 1).IsNull())
	require.True(t, seg.GetValue(0, 5).IsNull())
	require.Equal(t, value.Varchar("other"), seg.GetValue(1, 1))

	// Freeing twice is harmless: the headers were cleared.
	seg.FreeVarlen(0)
	require.Equal(t, 1, seg.Pool().Len())

	// The freed handle is reused.
	seg.SetValue(0, 1, value.Varchar("again"))
	require.Equal(t, 2, seg.Pool().Len())
	require.Equal(t, value.Varchar("again"), seg.GetValue(0, 1))
}

func TestSegmentConcurrentWriters(t *testing.T) {
	const slots = 256
	seg := NewSegment(testSchema(), slots, 1)
	defer seg.Release()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for slot := w; slot < slots; slot += 4 {
				seg.SetValue(slot, 0, value.Integer(int32(slot)))
				seg.SetValue(slot, 1, value.Varchar("v"))
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, slots, seg.Rows())
	for slot := 0; slot < slots; slot++ {
		require.Equal(t, value.Integer(int32(slot)), seg.GetValue(slot, 0))
	}
}

func TestSegmentAccounting(t *testing.T) {
	before := manual.GetMetrics()
	seg := NewSegment(testSchema(), 8, 1)
	seg.SetValue(0, 1, value.Varchar("0123456789"))
	mid := manual.GetMetrics()
	require.Equal(t, uint64(8*seg.Schema().Stride()),
		mid[manual.SegmentData].TotalBytes-before[manual.SegmentData].TotalBytes)
	require.Equal(t, uint64(10),
		mid[manual.VarlenData].TotalBytes-before[manual.VarlenData].TotalBytes)
	seg.Release()
	after := manual.GetMetrics()
	require.Equal(t, before[manual.SegmentData].InUseBytes, after[manual.SegmentData].InUseBytes)
	require.Equal(t, before[manual.VarlenData].InUseBytes, after[manual.VarlenData].InUseBytes)
}

func TestSegmentWriteDebug(t *testing.T) {
	seg := NewSegment(NewSchema(
		Column{Name: "a", Type: value.TypeSmallInt},
		Column{Name: "b", Type: value.TypeVarchar},
	), 3, 9)
	defer seg.Release()
	seg.SetValue(1, 0, value.SmallInt(4))
	var buf bytes.Buffer
	seg.WriteDebug(&buf)
	require.Equal(t, `segment: group=9 slots=3 rows=2 stride=10
  0: a smallint
  1: b varchar
`, buf.String())
}
