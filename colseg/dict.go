// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colseg

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/swiss"
	"github.com/cockroachdb/tilestore/internal/manual"
	"github.com/cockroachdb/tilestore/internal/value"
)

// Dictionary maps the codes stored in a dictionary-encoded column back to the
// column's values. Codes are assigned densely from 0 in order of first
// occurrence. A Dictionary is immutable.
type Dictionary struct {
	typ    value.TypeID
	values []value.Value
	width  int
	size   int64
}

// Type returns the type of the dictionary's values.
func (d *Dictionary) Type() value.TypeID { return d.typ }

// Len returns the number of distinct values.
func (d *Dictionary) Len() int { return len(d.values) }

// CodeWidth returns the width in bytes of the stored codes.
func (d *Dictionary) CodeWidth() int { return d.width }

// Size returns the memory footprint of the dictionary's values.
func (d *Dictionary) Size() int64 { return d.size }

// Lookup returns the value of code.
func (d *Dictionary) Lookup(code uint32) value.Value {
	if int(code) >= len(d.values) {
		panic(errors.AssertionFailedf("dictionary code %d out of range [0, %d)", code, len(d.values)))
	}
	return d.values[code]
}

func (d *Dictionary) release() {
	manual.Account(manual.DictionaryData, -int(d.size))
	d.size = 0
}

// codeWidth returns the number of bytes needed to store codes of a dictionary
// with n entries.
func codeWidth(n int) int {
	switch {
	case n <= math.MaxUint8+1:
		return 1
	case n <= math.MaxUint16+1:
		return 2
	default:
		return 4
	}
}

func hashString(k *string, seed uintptr) uintptr {
	return uintptr(xxhash.Sum64String(*k) ^ uint64(seed))
}

var dictMapOptions = []swiss.Option[string, uint32]{
	swiss.WithHash[string, uint32](hashString),
}

// buildDictionary scans rows [0, rows) of the variable-length column col and
// assigns a code to every distinct value. NULL is a distinct value with its
// own code. It returns false if every row holds a distinct value, in which
// case the column is better left unencoded.
func buildDictionary(s *Segment, col, rows int) (*Dictionary, []uint32, bool) {
	typ := s.schema.Type(col)
	off := s.schema.Offset(col)

	var m swiss.Map[string, uint32]
	m.Init(16, dictMapOptions...)
	defer m.Close()

	d := &Dictionary{typ: typ}
	codes := make([]uint32, rows)
	nullCode := int64(-1)
	for row := 0; row < rows; row++ {
		v := s.GetValueFast(row, off, typ)
		if v.IsNull() {
			if nullCode < 0 {
				nullCode = int64(len(d.values))
				d.values = append(d.values, value.Null(typ))
			}
			codes[row] = uint32(nullCode)
			continue
		}
		key := string(v.Bytes())
		code, ok := m.Get(key)
		if !ok {
			code = uint32(len(d.values))
			m.Put(key, code)
			// The segment's pool owns v's bytes; the dictionary keeps its
			// own copy.
			if typ == value.TypeVarchar {
				d.values = append(d.values, value.Varchar(key))
			} else {
				d.values = append(d.values, value.Varbinary([]byte(key)))
			}
			d.size += int64(len(key))
		}
		codes[row] = code
	}
	if len(d.values) == rows {
		return nil, nil, false
	}
	d.width = codeWidth(len(d.values))
	manual.Account(manual.DictionaryData, int(d.size))
	return d, codes, true
}

func readCode(b []byte) uint32 {
	switch len(b) {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(b))
	case 4:
		return binary.LittleEndian.Uint32(b)
	default:
		panic(errors.AssertionFailedf("unsupported dictionary code width %d", len(b)))
	}
}

func writeCode(b []byte, code uint32) {
	switch len(b) {
	case 1:
		b[0] = byte(code)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(code))
	case 4:
		binary.LittleEndian.PutUint32(b, code)
	default:
		panic(errors.AssertionFailedf("unsupported dictionary code width %d", len(b)))
	}
}
