// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package colseg implements column segments: dense, fixed-stride byte storage
// for a subset of a table's columns across every slot of a tile group.
//
// A segment stores tuple i at bytes [i*stride, (i+1)*stride) of its buffer.
// Fixed-length values are stored little-endian in place; variable-length
// values store an inline header holding the payload length and a handle into
// the segment's VarlenPool.
//
// Once a segment is filled it may be transformed by two schemes:
//
//   - Compress narrows fixed-width numeric columns to the smallest integer
//     type able to hold each value's delta from the column's median, and
//     dictionary-encodes variable-length columns.
//   - DictEncode dictionary-encodes variable-length columns only; DictDecode
//     reverses it.
//
// Each transform returns a new segment and leaves its input untouched. Reads
// through GetValue decode transparently; writes into a transformed column are
// precondition violations.
package colseg

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tilestore/internal/base"
	"github.com/cockroachdb/tilestore/internal/invariants"
	"github.com/cockroachdb/tilestore/internal/manual"
	"github.com/cockroachdb/tilestore/internal/value"
)

// Segment is the storage for a subset of columns across a fixed number of
// tuple slots.
type Segment struct {
	group  base.OID
	schema *Schema
	slots  int
	buf    []byte
	pool   *VarlenPool
	// rows is one past the highest slot that has been written.
	rows atomic.Int64

	// compression holds the narrowing metadata of numeric columns, keyed by
	// column index. dicts holds the dictionaries of dictionary-encoded
	// columns. Both are immutable once the segment is published.
	compression map[int]CompressionInfo
	dicts       map[int]*Dictionary

	released invariants.CloseChecker
}

// NewSegment allocates a zeroed segment with room for slots tuples of the
// provided schema. The segment records the id of the tile group that owns it.
func NewSegment(schema *Schema, slots int, group base.OID) *Segment {
	if slots <= 0 {
		panic(errors.AssertionFailedf("segment must have at least one slot, got %d", slots))
	}
	return &Segment{
		group:  group,
		schema: schema,
		slots:  slots,
		buf:    manual.New(manual.SegmentData, schema.Stride()*slots),
		pool:   NewVarlenPool(),
	}
}

// Schema returns the stored layout of the segment. For transformed columns
// the stored type is the narrow (or dictionary code) type; see LogicalType.
func (s *Segment) Schema() *Schema { return s.schema }

// GroupID returns the id of the tile group owning the segment.
func (s *Segment) GroupID() base.OID { return s.group }

// NumSlots returns the number of tuple slots.
func (s *Segment) NumSlots() int { return s.slots }

// Rows returns one past the highest slot written so far.
func (s *Segment) Rows() int { return int(s.rows.Load()) }

// Pool returns the segment's variable-length pool.
func (s *Segment) Pool() *VarlenPool { return s.pool }

// LogicalType returns the type that GetValue returns for column col.
func (s *Segment) LogicalType(col int) value.TypeID {
	if info, ok := s.compression[col]; ok {
		return info.Original
	}
	if d, ok := s.dicts[col]; ok {
		return d.Type()
	}
	return s.schema.Type(col)
}

// CompressionInfo returns the narrowing metadata of column col, if any.
func (s *Segment) CompressionInfo(col int) (CompressionInfo, bool) {
	info, ok := s.compression[col]
	return info, ok
}

// Dictionary returns the dictionary of column col, if any.
func (s *Segment) Dictionary(col int) (*Dictionary, bool) {
	d, ok := s.dicts[col]
	return d, ok
}

// IsCompressed returns true if any column of the segment has been narrowed
// or dictionary-encoded.
func (s *Segment) IsCompressed() bool {
	return len(s.compression) > 0 || len(s.dicts) > 0
}

// Size returns the memory footprint of the segment: tuple storage,
// variable-length payloads and dictionaries.
func (s *Segment) Size() int64 {
	n := int64(len(s.buf)) + s.pool.Size()
	for _, d := range s.dicts {
		n += d.Size()
	}
	return n
}

func (s *Segment) checkSlot(slot int) {
	s.released.AssertNotClosed()
	if slot < 0 || slot >= s.slots {
		panic(errors.AssertionFailedf("slot %d out of range [0, %d)", slot, s.slots))
	}
}

func (s *Segment) checkColumn(col int) {
	if col < 0 || col >= s.schema.NumColumns() {
		panic(errors.AssertionFailedf("column %d out of range [0, %d)", col, s.schema.NumColumns()))
	}
}

func (s *Segment) field(slot, offset, length int) []byte {
	start := slot*s.schema.Stride() + offset
	return s.buf[start : start+length : start+length]
}

// GetValue returns the value stored at (slot, col), decoding through the
// column's compression scheme if one was applied.
func (s *Segment) GetValue(slot, col int) value.Value {
	s.checkSlot(slot)
	s.checkColumn(col)
	c := &s.schema.cols[col]
	if info, ok := s.compression[col]; ok {
		return info.decode(value.RawInt(s.field(slot, c.offset, c.length)))
	}
	if d, ok := s.dicts[col]; ok {
		return d.Lookup(readCode(s.field(slot, c.offset, c.length)))
	}
	return s.GetValueFast(slot, c.offset, c.Type)
}

// GetValueFast returns the value of type typ stored at the provided byte
// offset of slot. It skips the schema lookup and does not decode transformed
// columns; callers cache offsets from Schema.Offset.
func (s *Segment) GetValueFast(slot, offset int, typ value.TypeID) value.Value {
	s.released.AssertNotClosed()
	invariants.CheckBounds(slot, s.slots)
	if typ.IsVarlen() {
		length, h := readVarlenHeader(s.field(slot, offset, value.VarlenHeaderSize))
		if h == 0 {
			return value.Null(typ)
		}
		b := s.pool.Get(h)
		if invariants.Enabled && uint32(len(b)) != length {
			panic(errors.AssertionFailedf("varlen header length %d, pool length %d", length, len(b)))
		}
		if typ == value.TypeVarchar {
			return value.Varchar(string(b))
		}
		return value.Varbinary(b)
	}
	return value.DeserializeInline(typ, s.field(slot, offset, typ.FixedLength()))
}

// SetValue stores v at (slot, col). The value must be representable by the
// column type. Variable-length payloads are allocated from the segment's
// pool; any payload previously stored in the slot is not freed.
//
// Setting a column that has been narrowed or dictionary-encoded is a
// precondition violation.
func (s *Segment) SetValue(slot, col int, v value.Value) {
	s.checkSlot(slot)
	s.checkColumn(col)
	if _, ok := s.compression[col]; ok {
		panic(errors.AssertionFailedf("column %d of segment is compressed and read-only", col))
	}
	if _, ok := s.dicts[col]; ok {
		panic(errors.AssertionFailedf("column %d of segment is dictionary-encoded and read-only", col))
	}
	c := &s.schema.cols[col]
	s.setValue(slot, c.offset, c.Type, v)
}

// SetValueFast stores v at the provided byte offset of slot. It skips the
// schema lookup, so it refuses to write into any segment that carries
// compression state.
func (s *Segment) SetValueFast(slot, offset int, typ value.TypeID, v value.Value) {
	if s.IsCompressed() {
		panic(errors.AssertionFailedf("fast write into compressed segment"))
	}
	s.released.AssertNotClosed()
	invariants.CheckBounds(slot, s.slots)
	s.setValue(slot, offset, typ, v)
}

func (s *Segment) setValue(slot, offset int, typ value.TypeID, v value.Value) {
	cv, ok := v.CastAs(typ)
	if !ok {
		panic(errors.AssertionFailedf("%s value %s does not fit %s column", v.Type(), v, typ))
	}
	if typ.IsVarlen() {
		hdr := s.field(slot, offset, value.VarlenHeaderSize)
		if cv.IsNull() {
			writeVarlenHeader(hdr, 0, 0)
		} else {
			b := cv.Bytes()
			writeVarlenHeader(hdr, uint32(len(b)), s.pool.Allocate(b))
		}
	} else {
		cv.SerializeInline(s.field(slot, offset, typ.FixedLength()))
	}
	s.noteRow(slot)
}

func (s *Segment) noteRow(slot int) {
	for {
		cur := s.rows.Load()
		if int64(slot) < cur || s.rows.CompareAndSwap(cur, int64(slot)+1) {
			return
		}
	}
}

// FreeVarlen frees the out-of-line payloads of every variable-length column
// of slot and clears their headers. Dictionary-encoded columns own no
// per-slot payload and are skipped. It is called by garbage collection before
// the slot is handed out for reuse.
func (s *Segment) FreeVarlen(slot int) {
	s.checkSlot(slot)
	if s.schema.IsInlined() {
		return
	}
	for i := range s.schema.cols {
		c := &s.schema.cols[i]
		if !c.Type.IsVarlen() {
			continue
		}
		hdr := s.field(slot, c.offset, value.VarlenHeaderSize)
		_, h := readVarlenHeader(hdr)
		s.pool.Free(h)
		writeVarlenHeader(hdr, 0, 0)
	}
}

// Release frees the segment's buffer, pool and dictionaries. The segment
// must not be used afterwards.
func (s *Segment) Release() {
	s.released.Close()
	manual.Free(manual.SegmentData, s.buf)
	s.buf = nil
	s.pool.release()
	for _, d := range s.dicts {
		d.release()
	}
}

// WriteDebug writes a human-readable description of the segment's layout and
// compression state.
func (s *Segment) WriteDebug(w io.Writer) {
	fmt.Fprintf(w, "segment: group=%d slots=%d rows=%d stride=%d\n",
		s.group, s.slots, s.Rows(), s.schema.Stride())
	for i := range s.schema.cols {
		c := &s.schema.cols[i]
		fmt.Fprintf(w, "  %d: %s %s", i, c.Name, c.Type)
		if info, ok := s.compression[i]; ok {
			fmt.Fprintf(w, " (%s)", info)
		}
		if d, ok := s.dicts[i]; ok {
			fmt.Fprintf(w, " (dict %s, %d entries)", d.Type(), d.Len())
		}
		fmt.Fprintln(w)
	}
}

func readVarlenHeader(b []byte) (length, handle uint32) {
	return binary.LittleEndian.Uint32(b), binary.LittleEndian.Uint32(b[4:])
}

func writeVarlenHeader(b []byte, length, handle uint32) {
	binary.LittleEndian.PutUint32(b, length)
	binary.LittleEndian.PutUint32(b[4:], handle)
}
