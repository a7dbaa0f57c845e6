// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package value implements the tagged values stored in tile segments.
//
// A Value is a closed sum over the kinds enumerated by TypeID. Narrowing
// conversions (CastAs) never fail loudly: they report whether the value fits
// the target type so that callers may search for the narrowest type that
// represents a set of values.
package value

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Value is a single typed value. The zero Value is invalid.
type Value struct {
	typ  TypeID
	null bool
	// i holds booleans (0 or 1) and every integer kind.
	i int64
	// f holds decimals.
	f float64
	// b holds variable-length kinds.
	b []byte
}

// Null returns the NULL value of type t.
func Null(t TypeID) Value { return Value{typ: t, null: true} }

// Boolean returns a boolean value.
func Boolean(v bool) Value {
	if v {
		return Value{typ: TypeBoolean, i: 1}
	}
	return Value{typ: TypeBoolean}
}

// TinyInt returns an 8-bit integer value.
func TinyInt(v int8) Value { return Value{typ: TypeTinyInt, i: int64(v)} }

// SmallInt returns a 16-bit integer value.
func SmallInt(v int16) Value { return Value{typ: TypeSmallInt, i: int64(v)} }

// Integer returns a 32-bit integer value.
func Integer(v int32) Value { return Value{typ: TypeInteger, i: int64(v)} }

// BigInt returns a 64-bit integer value.
func BigInt(v int64) Value { return Value{typ: TypeBigInt, i: v} }

// Timestamp returns a timestamp value in microseconds since the epoch.
func Timestamp(micros int64) Value { return Value{typ: TypeTimestamp, i: micros} }

// Decimal returns a decimal value.
func Decimal(v float64) Value { return Value{typ: TypeDecimal, f: v} }

// Varchar returns a character string value.
func Varchar(s string) Value { return Value{typ: TypeVarchar, b: []byte(s)} }

// Varbinary returns a byte string value. The slice is retained.
func Varbinary(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{typ: TypeVarbinary, b: b}
}

// Type returns the type of the value.
func (v Value) Type() TypeID { return v.typ }

// IsNull returns true if the value is NULL.
func (v Value) IsNull() bool { return v.null }

// Bool returns the value of a boolean.
func (v Value) Bool() bool {
	v.mustBe(TypeBoolean)
	return v.i != 0
}

// Int64 returns the value of any integer kind.
func (v Value) Int64() int64 {
	if !v.typ.IsInteger() {
		panic(errors.AssertionFailedf("Int64 called on %s value", v.typ))
	}
	return v.i
}

// Float64 returns the value of a decimal.
func (v Value) Float64() float64 {
	v.mustBe(TypeDecimal)
	return v.f
}

// Bytes returns the payload of a variable-length value. The returned slice
// must not be modified.
func (v Value) Bytes() []byte {
	if !v.typ.IsVarlen() {
		panic(errors.AssertionFailedf("Bytes called on %s value", v.typ))
	}
	return v.b
}

func (v Value) mustBe(t TypeID) {
	if v.typ != t {
		panic(errors.AssertionFailedf("expected %s value, found %s", t, v.typ))
	}
}

// Equal returns true if both values have the same type and payload. Two
// NULLs of the same type are equal.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ || v.null != o.null {
		return false
	}
	if v.null {
		return true
	}
	switch {
	case v.typ == TypeDecimal:
		return v.f == o.f
	case v.typ.IsVarlen():
		return bytes.Equal(v.b, o.b)
	default:
		return v.i == o.i
	}
}

// String implements fmt.Stringer.
func (v Value) String() string {
	if v.null {
		return "NULL"
	}
	switch v.typ {
	case TypeBoolean:
		return strconv.FormatBool(v.i != 0)
	case TypeDecimal:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeVarchar:
		return string(v.b)
	case TypeVarbinary:
		return fmt.Sprintf("%x", v.b)
	case TypeInvalid:
		return "invalid"
	default:
		return strconv.FormatInt(v.i, 10)
	}
}

// CastAs converts v to type t. The second result is false when v cannot be
// represented by t, e.g. because an integer is outside t's range or a decimal
// has a fractional part. A failed cast is an ordinary outcome.
func (v Value) CastAs(t TypeID) (Value, bool) {
	if v.typ == t {
		return v, true
	}
	if v.null {
		if compatible(v.typ, t) {
			return Null(t), true
		}
		return Value{}, false
	}
	switch {
	case v.typ.IsInteger() && t.IsInteger():
		lo, hi := integerBounds(t)
		if v.i < lo || v.i > hi {
			return Value{}, false
		}
		return Value{typ: t, i: v.i}, true
	case v.typ.IsInteger() && t == TypeDecimal:
		return Decimal(float64(v.i)), true
	case v.typ == TypeDecimal && t.IsInteger():
		if math.IsNaN(v.f) || math.Trunc(v.f) != v.f {
			return Value{}, false
		}
		// The bounds of 64-bit types are not exactly representable, so the
		// comparisons are made against the first excluded neighbor.
		lo, hi := integerBounds(t)
		if v.f <= float64(lo)-1 || v.f >= float64(hi)+1 {
			return Value{}, false
		}
		return Value{typ: t, i: int64(v.f)}, true
	case v.typ == TypeBoolean && t.IsInteger():
		return Value{typ: t, i: v.i}, true
	case v.typ.IsVarlen() && t.IsVarlen():
		return Value{typ: t, b: v.b}, true
	}
	return Value{}, false
}

func compatible(from, to TypeID) bool {
	switch {
	case from.IsVarlen():
		return to.IsVarlen()
	case from == TypeBoolean, from.IsNumeric():
		return to.IsNumeric() || to == TypeBoolean
	}
	return false
}

// SerializeInline writes a fixed-length value into buf, which must be
// exactly v.Type().FixedLength() bytes. NULLs are written using the type's
// reserved sentinel. Variable-length values cannot be serialized inline.
func (v Value) SerializeInline(buf []byte) {
	t := v.typ
	if t.IsVarlen() {
		panic(errors.AssertionFailedf("%s value has no inline encoding", t))
	}
	if len(buf) != t.FixedLength() {
		panic(errors.AssertionFailedf("buffer of %d bytes for %s value", len(buf), t))
	}
	if t == TypeDecimal {
		f := v.f
		if v.null {
			f = nullDecimal
		}
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
		return
	}
	i := v.i
	if v.null {
		i = integerNull(t)
	}
	PutRawInt(buf, i)
}

// DeserializeInline reconstructs a fixed-length value of type t from buf.
func DeserializeInline(t TypeID, buf []byte) Value {
	if t.IsVarlen() {
		panic(errors.AssertionFailedf("%s value has no inline encoding", t))
	}
	if t == TypeDecimal {
		f := math.Float64frombits(binary.LittleEndian.Uint64(buf))
		if f == nullDecimal {
			return Null(t)
		}
		return Decimal(f)
	}
	return FromRawInt(t, RawInt(buf))
}

// FromRawInt builds a value of boolean or integer type t from its raw
// in-memory integer representation, mapping the NULL sentinel to NULL.
func FromRawInt(t TypeID, raw int64) Value {
	if raw == integerNull(t) {
		return Null(t)
	}
	if t == TypeBoolean {
		return Boolean(raw != 0)
	}
	return Value{typ: t, i: raw}
}

// RawInt reads a little-endian signed integer whose width is len(buf).
func RawInt(buf []byte) int64 {
	switch len(buf) {
	case 1:
		return int64(int8(buf[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(buf)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(buf)))
	case 8:
		return int64(binary.LittleEndian.Uint64(buf))
	default:
		panic(errors.AssertionFailedf("unsupported integer width %d", len(buf)))
	}
}

// PutRawInt writes i as a little-endian signed integer of width len(buf),
// truncating higher-order bits.
func PutRawInt(buf []byte, i int64) {
	switch len(buf) {
	case 1:
		buf[0] = byte(i)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(i))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(i))
	case 8:
		binary.LittleEndian.PutUint64(buf, uint64(i))
	default:
		panic(errors.AssertionFailedf("unsupported integer width %d", len(buf)))
	}
}
