// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colseg

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tilestore/internal/value"
)

// Column describes one column of a segment.
type Column struct {
	Name string
	Type value.TypeID
}

// String returns a human-readable description of the column.
func (c Column) String() string {
	return fmt.Sprintf("%s:%s", c.Name, c.Type)
}

type schemaColumn struct {
	Column
	offset int
	length int
}

// Schema describes the fixed-stride tuple layout of a segment. Columns are
// laid out back to back in declaration order; variable-length columns occupy
// value.VarlenHeaderSize inline bytes. A Schema is immutable.
type Schema struct {
	cols    []schemaColumn
	stride  int
	inlined bool
}

// NewSchema returns the layout of the provided columns.
func NewSchema(cols ...Column) *Schema {
	s := &Schema{cols: make([]schemaColumn, len(cols)), inlined: true}
	for i, c := range cols {
		if c.Type == value.TypeInvalid {
			panic(errors.AssertionFailedf("column %q has no type", c.Name))
		}
		n := c.Type.FixedLength()
		s.cols[i] = schemaColumn{Column: c, offset: s.stride, length: n}
		s.stride += n
		if c.Type.IsVarlen() {
			s.inlined = false
		}
	}
	return s
}

// NumColumns returns the number of columns.
func (s *Schema) NumColumns() int { return len(s.cols) }

// Column returns the i'th column.
func (s *Schema) Column(i int) Column { return s.cols[i].Column }

// Columns returns a copy of the column list.
func (s *Schema) Columns() []Column {
	cols := make([]Column, len(s.cols))
	for i := range s.cols {
		cols[i] = s.cols[i].Column
	}
	return cols
}

// Type returns the stored type of the i'th column.
func (s *Schema) Type(i int) value.TypeID { return s.cols[i].Type }

// Offset returns the byte offset of the i'th column within a tuple.
func (s *Schema) Offset(i int) int { return s.cols[i].offset }

// Length returns the inline length of the i'th column.
func (s *Schema) Length(i int) int { return s.cols[i].length }

// Stride returns the size of a tuple in bytes.
func (s *Schema) Stride() int { return s.stride }

// IsInlined returns true if no column stores its payload out of line.
func (s *Schema) IsInlined() bool { return s.inlined }

// withTypes returns a schema with the same column names where the types of
// the columns present in types are replaced.
func (s *Schema) withTypes(types map[int]value.TypeID) *Schema {
	cols := s.Columns()
	for i, t := range types {
		cols[i].Type = t
	}
	return NewSchema(cols...)
}

// String returns the space-separated column descriptions.
func (s *Schema) String() string {
	var buf bytes.Buffer
	for i := range s.cols {
		if i > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(s.cols[i].Column.String())
	}
	return buf.String()
}
