// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colseg

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/tilestore/internal/value"
	"golang.org/x/exp/constraints"
)

// ErrNoBenefit is returned by Compress and DictEncode when no column of the
// segment could be narrowed or encoded. The input segment is unchanged and
// remains the one to use.
var ErrNoBenefit = errors.New("colseg: compression yields no benefit")

// ErrAlreadyCompressed is returned when a segment that already carries
// compression or dictionary state is passed to Compress or DictEncode.
var ErrAlreadyCompressed = errors.New("colseg: segment is already compressed")

// ErrNotEncoded is returned by DictDecode for a segment without
// dictionary-encoded columns.
var ErrNotEncoded = errors.New("colseg: segment has no dictionary-encoded columns")

// maxDecimalExponent bounds the power of ten searched when rescaling decimals
// to integers.
const maxDecimalExponent = 15

// maxExactFloat is 2^53: integers of smaller magnitude survive a round trip
// through float64.
const maxExactFloat = 1 << 53

// CompressionInfo describes how a narrowed column is stored. A stored value d
// of type Narrow decodes to Base+d of type Original; for decimal columns the
// sum is additionally divided by Scale.
type CompressionInfo struct {
	Original value.TypeID
	Narrow   value.TypeID
	Base     int64
	// Scale is 10^k for decimal columns and 0 otherwise.
	Scale float64
}

func (c CompressionInfo) decode(raw int64) value.Value {
	if value.FromRawInt(c.Narrow, raw).IsNull() {
		return value.Null(c.Original)
	}
	v := c.Base + raw
	if c.Original == value.TypeDecimal {
		return value.Decimal(float64(v) / c.Scale)
	}
	return value.FromRawInt(c.Original, v)
}

// String implements fmt.Stringer.
func (c CompressionInfo) String() string {
	return redact.StringWithoutMarkers(c)
}

// SafeFormat implements redact.SafeFormatter.
func (c CompressionInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s->%s base=%d", redact.SafeString(c.Original.String()),
		redact.SafeString(c.Narrow.String()), redact.Safe(c.Base))
	if c.Scale != 0 {
		w.Printf(" scale=%s", redact.SafeString(fmt.Sprint(c.Scale)))
	}
}

// Scheme identifies the transformation applied to a column.
type Scheme uint8

const (
	// SchemeNone leaves the column as is.
	SchemeNone Scheme = iota
	// SchemeDelta stores each value as a narrow delta from a base.
	SchemeDelta
	// SchemeDictionary stores each value as a code into a dictionary.
	SchemeDictionary
)

// String implements fmt.Stringer.
func (s Scheme) String() string {
	switch s {
	case SchemeNone:
		return "none"
	case SchemeDelta:
		return "delta"
	case SchemeDictionary:
		return "dict"
	default:
		return fmt.Sprintf("Scheme(%d)", uint8(s))
	}
}

// ColumnOutcome records the decision made for one column of a segment.
type ColumnOutcome struct {
	Column int
	Name   string
	Scheme Scheme
	// From and To are the column's stored type before and after the pass.
	From, To value.TypeID
	// Info is set for SchemeDelta.
	Info CompressionInfo
	// Distinct is the dictionary size for SchemeDictionary.
	Distinct int
}

// CompressStats summarizes a compression or dictionary pass.
type CompressStats struct {
	Columns     []ColumnOutcome
	Rows        int
	BytesBefore int64
	BytesAfter  int64
	Duration    time.Duration
}

// Transformed returns the number of columns whose storage changed.
func (s *CompressStats) Transformed() int {
	n := 0
	for i := range s.Columns {
		if s.Columns[i].Scheme != SchemeNone {
			n++
		}
	}
	return n
}

// String implements fmt.Stringer.
func (s *CompressStats) String() string {
	return redact.StringWithoutMarkers(s)
}

// SafeFormat implements redact.SafeFormatter.
func (s *CompressStats) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%d rows, %d/%d columns transformed, %d -> %d bytes",
		redact.Safe(s.Rows), redact.Safe(s.Transformed()), redact.Safe(len(s.Columns)),
		redact.Safe(s.BytesBefore), redact.Safe(s.BytesAfter))
}

// Compress returns a copy of s in which every fixed-width numeric column is
// narrowed to the smallest integer type that holds all of its deltas from the
// column median, and every variable-length column with repeated values is
// dictionary-encoded. Columns that cannot benefit are copied unchanged.
//
// s must be filled and must not receive further writes. s itself is never
// modified; the caller is responsible for swapping in the result and
// releasing s. If no column benefits, Compress returns ErrNoBenefit.
func Compress(s *Segment) (*Segment, CompressStats, error) {
	return transform(s, true)
}

// DictEncode is like Compress but only dictionary-encodes variable-length
// columns.
func DictEncode(s *Segment) (*Segment, CompressStats, error) {
	return transform(s, false)
}

// columnPlan is the decision made for one column before the new segment is
// built.
type columnPlan struct {
	outcome ColumnOutcome
	// narrow holds the per-row deltas of a SchemeDelta column.
	narrow []int64
	// codes and dict are set for SchemeDictionary.
	codes []uint32
	dict  *Dictionary
}

func transform(s *Segment, narrow bool) (*Segment, CompressStats, error) {
	start := crtime.NowMono()
	if s.IsCompressed() {
		return nil, CompressStats{}, ErrAlreadyCompressed
	}
	rows := s.Rows()
	stats := CompressStats{Rows: rows, BytesBefore: s.Size()}
	if rows == 0 {
		stats.BytesAfter = stats.BytesBefore
		return nil, stats, ErrNoBenefit
	}
	plans := make([]columnPlan, s.schema.NumColumns())
	types := make(map[int]value.TypeID)
	for col := range plans {
		typ := s.schema.Type(col)
		p := &plans[col]
		p.outcome = ColumnOutcome{Column: col, Name: s.schema.Column(col).Name, From: typ, To: typ}
		switch {
		case typ.IsVarlen():
			if d, codes, ok := buildDictionary(s, col, rows); ok {
				p.dict, p.codes = d, codes
				p.outcome.Scheme = SchemeDictionary
				p.outcome.To = value.IntegerTypeForWidth(d.CodeWidth())
				p.outcome.Distinct = d.Len()
			}
		case narrow && isNarrowable(typ):
			if info, deltas, ok := planNarrow(s, col, rows); ok {
				p.narrow = deltas
				p.outcome.Scheme = SchemeDelta
				p.outcome.To = info.Narrow
				p.outcome.Info = info
			}
		}
		if p.outcome.Scheme != SchemeNone {
			types[col] = p.outcome.To
		}
		stats.Columns = append(stats.Columns, p.outcome)
	}
	if len(types) == 0 {
		stats.BytesAfter = stats.BytesBefore
		stats.Duration = start.Elapsed()
		return nil, stats, ErrNoBenefit
	}

	// Every decision is final; build the new segment.
	out := NewSegment(s.schema.withTypes(types), s.slots, s.group)
	out.compression = make(map[int]CompressionInfo)
	out.dicts = make(map[int]*Dictionary)
	for col := range plans {
		p := &plans[col]
		switch p.outcome.Scheme {
		case SchemeDelta:
			out.compression[col] = p.outcome.Info
			off, n := out.schema.Offset(col), out.schema.Length(col)
			for row, d := range p.narrow {
				value.PutRawInt(out.field(row, off, n), d)
			}
		case SchemeDictionary:
			out.dicts[col] = p.dict
			off, n := out.schema.Offset(col), out.schema.Length(col)
			for row, c := range p.codes {
				writeCode(out.field(row, off, n), c)
			}
		default:
			copyColumn(out, s, col, rows)
		}
	}
	out.rows.Store(int64(rows))
	stats.BytesAfter = out.Size()
	stats.Duration = start.Elapsed()
	return out, stats, nil
}

// DictDecode returns a copy of s in which every dictionary-encoded column is
// materialized back into its original variable-length type. Other columns,
// including their compression metadata, are copied verbatim. s is not
// modified.
func DictDecode(s *Segment) (*Segment, error) {
	if len(s.dicts) == 0 {
		return nil, ErrNotEncoded
	}
	types := make(map[int]value.TypeID, len(s.dicts))
	for col, d := range s.dicts {
		types[col] = d.Type()
	}
	rows := s.Rows()
	out := NewSegment(s.schema.withTypes(types), s.slots, s.group)
	if len(s.compression) > 0 {
		out.compression = make(map[int]CompressionInfo, len(s.compression))
		for col, info := range s.compression {
			out.compression[col] = info
		}
	}
	for col := 0; col < s.schema.NumColumns(); col++ {
		d, ok := s.dicts[col]
		if !ok {
			copyColumn(out, s, col, rows)
			continue
		}
		srcOff, srcLen := s.schema.Offset(col), s.schema.Length(col)
		dstOff := out.schema.Offset(col)
		for row := 0; row < rows; row++ {
			v := d.Lookup(readCode(s.field(row, srcOff, srcLen)))
			out.setValue(row, dstOff, d.Type(), v)
		}
	}
	out.rows.Store(int64(rows))
	return out, nil
}

// copyColumn copies rows [0, rows) of column col from src to dst, which must
// store the column with the same type. Variable-length payloads are
// reallocated from dst's pool.
func copyColumn(dst, src *Segment, col, rows int) {
	typ := src.schema.Type(col)
	srcOff, dstOff := src.schema.Offset(col), dst.schema.Offset(col)
	n := src.schema.Length(col)
	if !typ.IsVarlen() {
		for row := 0; row < rows; row++ {
			copy(dst.field(row, dstOff, n), src.field(row, srcOff, n))
		}
		return
	}
	for row := 0; row < rows; row++ {
		_, h := readVarlenHeader(src.field(row, srcOff, n))
		if h == 0 {
			continue
		}
		b := src.pool.Get(h)
		writeVarlenHeader(dst.field(row, dstOff, n), uint32(len(b)), dst.pool.Allocate(b))
	}
}

func isNarrowable(t value.TypeID) bool {
	switch t {
	case value.TypeSmallInt, value.TypeInteger, value.TypeBigInt,
		value.TypeTimestamp, value.TypeDecimal:
		return true
	}
	return false
}

// planNarrow decides whether column col can be stored narrower than its own
// width. It returns the per-row deltas in the chosen narrow type; NULL rows
// hold the narrow type's NULL encoding.
func planNarrow(s *Segment, col, rows int) (CompressionInfo, []int64, bool) {
	typ := s.schema.Type(col)
	off := s.schema.Offset(col)
	nulls := make([]bool, rows)
	ints := make([]int64, rows)
	var floats []float64
	if typ == value.TypeDecimal {
		floats = make([]float64, 0, rows)
	}
	for row := 0; row < rows; row++ {
		v := s.GetValueFast(row, off, typ)
		switch {
		case v.IsNull():
			nulls[row] = true
		case typ == value.TypeDecimal:
			floats = append(floats, v.Float64())
		default:
			ints[row] = v.Int64()
		}
	}

	info := CompressionInfo{Original: typ}
	if typ == value.TypeDecimal {
		scale, ok := decimalScale(floats)
		if !ok {
			return CompressionInfo{}, nil, false
		}
		info.Scale = scale
		i := 0
		for row := 0; row < rows; row++ {
			if !nulls[row] {
				ints[row] = int64(floats[i] * scale)
				i++
			}
		}
	}

	present := make([]int64, 0, rows)
	for row := 0; row < rows; row++ {
		if !nulls[row] {
			present = append(present, ints[row])
		}
	}
	var ok bool
	info.Narrow, info.Base, ok = chooseNarrowType(present, typ.FixedLength())
	if !ok {
		return CompressionInfo{}, nil, false
	}
	nullRaw := value.Null(info.Narrow)
	buf := make([]byte, info.Narrow.FixedLength())
	nullRaw.SerializeInline(buf)
	nullDelta := value.RawInt(buf)
	for row := 0; row < rows; row++ {
		if nulls[row] {
			ints[row] = nullDelta
		} else {
			ints[row] -= info.Base
		}
	}
	return info, ints, true
}

// chooseNarrowType picks the median of vals as base and returns the
// narrowest integer type strictly smaller than ownWidth that holds every
// delta from the base. Deltas are monotonic in the values, so only the two
// extremes are checked.
func chooseNarrowType(vals []int64, ownWidth int) (value.TypeID, int64, bool) {
	var base, lo, hi int64
	if len(vals) > 0 {
		sorted := slices.Clone(vals)
		slices.Sort(sorted)
		base = sorted[len(sorted)/2]
		var ok1, ok2 bool
		lo, ok1 = checkedSub(sorted[0], base)
		hi, ok2 = checkedSub(sorted[len(sorted)-1], base)
		if !ok1 || !ok2 {
			return value.TypeInvalid, 0, false
		}
	}
	for w := 1; w < ownWidth; w *= 2 {
		t := value.IntegerTypeForWidth(w)
		if _, ok := value.BigInt(lo).CastAs(t); !ok {
			continue
		}
		if _, ok := value.BigInt(hi).CastAs(t); !ok {
			continue
		}
		return t, base, true
	}
	return value.TypeInvalid, 0, false
}

// decimalScale returns the smallest power of ten that turns every value into
// an exactly representable integer.
func decimalScale(vals []float64) (float64, bool) {
	scale := 1.0
	for k := 0; k <= maxDecimalExponent; k++ {
		if allScaleExactly(vals, scale) {
			return scale, true
		}
		scale *= 10
	}
	return 0, false
}

func allScaleExactly(vals []float64, scale float64) bool {
	for _, v := range vals {
		s := v * scale
		if math.IsNaN(s) || math.Trunc(s) != s || math.Abs(s) >= maxExactFloat || s/scale != v {
			return false
		}
	}
	return true
}

// checkedSub returns a-b and whether the subtraction did not overflow.
func checkedSub[T constraints.Signed](a, b T) (T, bool) {
	d := a - b
	if (b > 0 && d > a) || (b < 0 && d < a) {
		return d, false
	}
	return d, true
}
