// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tilegroup

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// LayoutKind enumerates the ways a table's columns are partitioned into the
// segments of a tile group.
type LayoutKind uint8

const (
	// LayoutRow stores every column in a single segment.
	LayoutRow LayoutKind = iota
	// LayoutColumn stores every column in its own segment.
	LayoutColumn
	// LayoutHybrid stores explicitly listed groups of columns together.
	LayoutHybrid
)

// Layout describes how the columns of a table map to segments.
type Layout struct {
	Kind LayoutKind
	// Groups lists the table columns of each segment for LayoutHybrid.
	Groups [][]int
}

// RowLayout returns the row-store layout.
func RowLayout() Layout { return Layout{Kind: LayoutRow} }

// ColumnLayout returns the column-store layout.
func ColumnLayout() Layout { return Layout{Kind: LayoutColumn} }

// HybridLayout returns a layout storing each group of columns in its own
// segment.
func HybridLayout(groups ...[]int) Layout {
	return Layout{Kind: LayoutHybrid, Groups: groups}
}

// Partition returns the table columns of each segment for a table with n
// columns. Every column appears in exactly one segment.
func (l Layout) Partition(n int) ([][]int, error) {
	switch l.Kind {
	case LayoutRow:
		cols := make([]int, n)
		for i := range cols {
			cols[i] = i
		}
		return [][]int{cols}, nil
	case LayoutColumn:
		parts := make([][]int, n)
		for i := range parts {
			parts[i] = []int{i}
		}
		return parts, nil
	case LayoutHybrid:
		seen := make([]bool, n)
		for _, g := range l.Groups {
			if len(g) == 0 {
				return nil, errors.Newf("layout %s has an empty segment", l)
			}
			for _, c := range g {
				if c < 0 || c >= n {
					return nil, errors.Newf("layout %s references column %d of a %d-column table", l, c, n)
				}
				if seen[c] {
					return nil, errors.Newf("layout %s maps column %d twice", l, c)
				}
				seen[c] = true
			}
		}
		for c, ok := range seen {
			if !ok {
				return nil, errors.Newf("layout %s does not map column %d", l, c)
			}
		}
		return l.Groups, nil
	default:
		return nil, errors.Newf("unknown layout kind %d", l.Kind)
	}
}

// String returns the layout in the form accepted by ParseLayout: "row",
// "column" or "hybrid:0,1|2".
func (l Layout) String() string {
	switch l.Kind {
	case LayoutRow:
		return "row"
	case LayoutColumn:
		return "column"
	case LayoutHybrid:
		var b strings.Builder
		b.WriteString("hybrid:")
		for i, g := range l.Groups {
			if i > 0 {
				b.WriteByte('|')
			}
			for j, c := range g {
				if j > 0 {
					b.WriteByte(',')
				}
				b.WriteString(strconv.Itoa(c))
			}
		}
		return b.String()
	default:
		return fmt.Sprintf("LayoutKind(%d)", l.Kind)
	}
}

// ParseLayout parses the output of Layout.String.
func ParseLayout(s string) (Layout, error) {
	switch s = strings.TrimSpace(s); s {
	case "row":
		return RowLayout(), nil
	case "column":
		return ColumnLayout(), nil
	}
	segs, ok := strings.CutPrefix(s, "hybrid:")
	if !ok {
		return Layout{}, errors.Newf("unknown layout %q", s)
	}
	var groups [][]int
	for _, part := range strings.Split(segs, "|") {
		var g []int
		for _, f := range strings.Split(part, ",") {
			c, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				return Layout{}, errors.Wrapf(err, "parsing layout %q", s)
			}
			g = append(g, c)
		}
		groups = append(groups, g)
	}
	return HybridLayout(groups...), nil
}
