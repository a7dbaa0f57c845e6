// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package value

import (
	"math"
	"strings"

	"github.com/cockroachdb/errors"
)

// TypeID describes the logical type of a column or a value.
type TypeID uint8

const (
	// TypeInvalid represents an unset or invalid type.
	TypeInvalid TypeID = 0
	// TypeBoolean is stored as a single byte.
	TypeBoolean TypeID = 1
	// TypeTinyInt is a signed 8-bit integer.
	TypeTinyInt TypeID = 2
	// TypeSmallInt is a signed 16-bit integer.
	TypeSmallInt TypeID = 3
	// TypeInteger is a signed 32-bit integer.
	TypeInteger TypeID = 4
	// TypeBigInt is a signed 64-bit integer.
	TypeBigInt TypeID = 5
	// TypeTimestamp is a signed 64-bit count of microseconds since the epoch.
	TypeTimestamp TypeID = 6
	// TypeDecimal is an IEEE-754 double.
	TypeDecimal TypeID = 7
	// TypeVarchar is a variable-length character string.
	TypeVarchar TypeID = 8
	// TypeVarbinary is a variable-length byte string.
	TypeVarbinary TypeID = 9

	typeCount TypeID = 10
)

// VarlenHeaderSize is the number of inline bytes a variable-length value
// occupies in a tuple: a 4-byte length followed by a 4-byte pool handle.
const VarlenHeaderSize = 8

var typeInfo = [typeCount]struct {
	name   string
	size   int
	varlen bool
}{
	TypeInvalid:   {name: "invalid"},
	TypeBoolean:   {name: "boolean", size: 1},
	TypeTinyInt:   {name: "tinyint", size: 1},
	TypeSmallInt:  {name: "smallint", size: 2},
	TypeInteger:   {name: "integer", size: 4},
	TypeBigInt:    {name: "bigint", size: 8},
	TypeTimestamp: {name: "timestamp", size: 8},
	TypeDecimal:   {name: "decimal", size: 8},
	TypeVarchar:   {name: "varchar", size: VarlenHeaderSize, varlen: true},
	TypeVarbinary: {name: "varbinary", size: VarlenHeaderSize, varlen: true},
}

// String returns the SQL-ish name of the type.
func (t TypeID) String() string {
	if t >= typeCount {
		return "unknown"
	}
	return typeInfo[t].name
}

// FixedLength returns the number of bytes a value of the type occupies
// inline in a tuple.
func (t TypeID) FixedLength() int {
	if t == TypeInvalid || t >= typeCount {
		panic(errors.AssertionFailedf("no inline length for type %d", errors.Safe(t)))
	}
	return typeInfo[t].size
}

// IsVarlen returns true for types whose payload lives outside the tuple.
func (t TypeID) IsVarlen() bool {
	return t < typeCount && typeInfo[t].varlen
}

// IsInteger returns true for the signed integer types, including timestamps.
func (t TypeID) IsInteger() bool {
	switch t {
	case TypeTinyInt, TypeSmallInt, TypeInteger, TypeBigInt, TypeTimestamp:
		return true
	}
	return false
}

// IsNumeric returns true for integer and decimal types.
func (t TypeID) IsNumeric() bool {
	return t.IsInteger() || t == TypeDecimal
}

// IntegerTypeForWidth returns the signed integer type that is width bytes
// wide.
func IntegerTypeForWidth(width int) TypeID {
	switch width {
	case 1:
		return TypeTinyInt
	case 2:
		return TypeSmallInt
	case 4:
		return TypeInteger
	case 8:
		return TypeBigInt
	default:
		panic(errors.AssertionFailedf("no integer type of width %d", width))
	}
}

// ParseType parses the output of TypeID.String.
func ParseType(s string) (TypeID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t := TypeBoolean; t < typeCount; t++ {
		if typeInfo[t].name == s {
			return t, nil
		}
	}
	return TypeInvalid, errors.Newf("unknown type %q", s)
}

// The smallest representable value of each integer type is reserved as the
// type's NULL encoding, so non-NULL values range over [min+1, max].
const (
	nullTinyInt  = math.MinInt8
	nullSmallInt = math.MinInt16
	nullInteger  = math.MinInt32
	nullBigInt   = math.MinInt64
	nullDecimal  = -math.MaxFloat64
)

// integerBounds returns the inclusive range of non-NULL values of t.
func integerBounds(t TypeID) (lo, hi int64) {
	switch t {
	case TypeTinyInt:
		return nullTinyInt + 1, math.MaxInt8
	case TypeSmallInt:
		return nullSmallInt + 1, math.MaxInt16
	case TypeInteger:
		return nullInteger + 1, math.MaxInt32
	case TypeBigInt, TypeTimestamp:
		return nullBigInt + 1, math.MaxInt64
	default:
		panic(errors.AssertionFailedf("%s is not an integer type", t))
	}
}

// integerNull returns the raw sentinel that encodes NULL for integer type t.
func integerNull(t TypeID) int64 {
	switch t {
	case TypeBoolean, TypeTinyInt:
		return nullTinyInt
	case TypeSmallInt:
		return nullSmallInt
	case TypeInteger:
		return nullInteger
	case TypeBigInt, TypeTimestamp:
		return nullBigInt
	default:
		panic(errors.AssertionFailedf("%s has no integer NULL encoding", t))
	}
}
