// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colseg

import (
	"bytes"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tilestore/internal/value"
	"github.com/stretchr/testify/require"
)

func TestCompressDataDriven(t *testing.T) {
	var seg *Segment
	defer func() {
		if seg != nil {
			seg.Release()
		}
	}()
	replace := func(s *Segment) {
		seg.Release()
		seg = s
	}
	printOutcomes := func(buf *bytes.Buffer, stats CompressStats, err error) {
		for _, c := range stats.Columns {
			switch c.Scheme {
			case SchemeDelta:
				fmt.Fprintf(buf, "%s: delta %s\n", c.Name, c.Info)
			case SchemeDictionary:
				fmt.Fprintf(buf, "%s: dict %s->%s distinct=%d\n", c.Name, c.From, c.To, c.Distinct)
			default:
				fmt.Fprintf(buf, "%s: none %s\n", c.Name, c.From)
			}
		}
		if err != nil {
			fmt.Fprintf(buf, "error: %v\n", err)
		}
	}

	datadriven.RunTest(t, "testdata/compress", func(t *testing.T, td *datadriven.TestData) string {
		var buf bytes.Buffer
		switch td.Cmd {
		case "init":
			if seg != nil {
				seg.Release()
			}
			var cols []string
			var slots int
			td.ScanArgs(t, "cols", &cols)
			td.ScanArgs(t, "slots", &slots)
			seg = NewSegment(parseSchema(t, cols), slots, 1)
			loadRows(t, seg, td.Input)
			return fmt.Sprintf("rows=%d stride=%d\n", seg.Rows(), seg.Schema().Stride())

		case "compress", "dict-encode":
			fn := Compress
			if td.Cmd == "dict-encode" {
				fn = DictEncode
			}
			out, stats, err := fn(seg)
			printOutcomes(&buf, stats, err)
			if err == nil {
				require.Equal(t, stats.Rows, out.Rows())
				replace(out)
			}
			return buf.String()

		case "dict-decode":
			out, err := DictDecode(seg)
			if err != nil {
				return fmt.Sprintf("error: %v\n", err)
			}
			replace(out)
			return "ok\n"

		case "dict":
			var col int
			td.ScanArgs(t, "col", &col)
			d, ok := seg.Dictionary(col)
			if !ok {
				return "not encoded\n"
			}
			for i := 0; i < d.Len(); i++ {
				fmt.Fprintf(&buf, "%d: %s\n", i, d.Lookup(uint32(i)))
			}
			buf.WriteString("codes:")
			for row := 0; row < seg.Rows(); row++ {
				fmt.Fprintf(&buf, " %d", readCode(seg.field(row, seg.Schema().Offset(col), d.CodeWidth())))
			}
			buf.WriteString("\n")
			return buf.String()

		case "read":
			printRows(&buf, seg)
			return buf.String()

		case "debug":
			seg.WriteDebug(&buf)
			return buf.String()

		default:
			return fmt.Sprintf("unknown command: %s", td.Cmd)
		}
	})
}

func TestCompressWidthSelection(t *testing.T) {
	for _, tc := range []struct {
		typ    value.TypeID
		vals   []int64
		narrow value.TypeID
		base   int64
	}{
		{value.TypeBigInt, []int64{1000000, -1000000, 0}, value.TypeInteger, 0},
		{value.TypeBigInt, []int64{5, 6, 7, 8}, value.TypeTinyInt, 7},
		{value.TypeBigInt, []int64{1 << 40, 1<<40 + 30000}, value.TypeSmallInt, 1<<40 + 30000},
		{value.TypeInteger, []int64{-5, 1000}, value.TypeSmallInt, 1000},
		{value.TypeTimestamp, []int64{1 << 50, 1<<50 + 1<<20}, value.TypeInteger, 1<<50 + 1<<20},
		// The own width is never chosen.
		{value.TypeInteger, []int64{math.MaxInt32, math.MinInt32 + 1}, value.TypeInvalid, 0},
		{value.TypeSmallInt, []int64{-1000, 1000}, value.TypeInvalid, 0},
		// The delta overflows int64.
		{value.TypeBigInt, []int64{math.MaxInt64, math.MinInt64 + 1, math.MinInt64 + 1}, value.TypeInvalid, 0},
	} {
		t.Run("", func(t *testing.T) {
			seg := NewSegment(NewSchema(Column{Name: "a", Type: tc.typ}), len(tc.vals), 1)
			defer seg.Release()
			for i, v := range tc.vals {
				seg.SetValue(i, 0, value.FromRawInt(tc.typ, v))
			}
			out, stats, err := Compress(seg)
			if tc.narrow == value.TypeInvalid {
				require.True(t, errors.Is(err, ErrNoBenefit))
				require.Nil(t, out)
				require.Equal(t, SchemeNone, stats.Columns[0].Scheme)
				return
			}
			require.NoError(t, err)
			defer out.Release()
			info, ok := out.CompressionInfo(0)
			require.True(t, ok)
			require.Equal(t, tc.narrow, info.Narrow)
			require.Equal(t, tc.base, info.Base)
			require.Equal(t, tc.narrow, out.Schema().Type(0))
			require.Equal(t, tc.typ, out.LogicalType(0))
			for i, v := range tc.vals {
				require.Equal(t, value.FromRawInt(tc.typ, v), out.GetValue(i, 0))
			}
			// The input segment is untouched.
			for i, v := range tc.vals {
				require.Equal(t, value.FromRawInt(tc.typ, v), seg.GetValue(i, 0))
			}
			require.False(t, seg.IsCompressed())
		})
	}
}

func TestCompressDecimalScale(t *testing.T) {
	for _, tc := range []struct {
		vals  []float64
		scale float64
		ok    bool
	}{
		{[]float64{1, 2, 3}, 1, true},
		{[]float64{0.5, 1.5}, 10, true},
		{[]float64{0.125, 0.25}, 1000, true},
		{[]float64{1e-16}, 0, false},
		{[]float64{math.Pi}, 0, false},
		{[]float64{1 << 60}, 0, false},
	} {
		scale, ok := decimalScale(tc.vals)
		require.Equal(t, tc.ok, ok, "%v", tc.vals)
		if ok {
			require.Equal(t, tc.scale, scale, "%v", tc.vals)
		}
	}
}

func TestCompressWriteIntoCompressedColumn(t *testing.T) {
	seg := NewSegment(NewSchema(
		Column{Name: "a", Type: value.TypeBigInt},
		Column{Name: "v", Type: value.TypeVarchar},
	), 4, 1)
	defer seg.Release()
	for i := 0; i < 4; i++ {
		seg.SetValue(i, 0, value.BigInt(int64(i)))
		seg.SetValue(i, 1, value.Varchar("same"))
	}
	out, _, err := Compress(seg)
	require.NoError(t, err)
	defer out.Release()

	require.Panics(t, func() { out.SetValue(0, 0, value.BigInt(1)) })
	require.Panics(t, func() { out.SetValue(0, 1, value.Varchar("x")) })
	require.Panics(t, func() { out.SetValueFast(0, 0, value.TypeTinyInt, value.TinyInt(1)) })
	_, _, err = DictEncode(out)
	require.True(t, errors.Is(err, ErrAlreadyCompressed))
}

func TestCompressRandomized(t *testing.T) {
	seed := rand.Uint64()
	t.Logf("seed: %d", seed)
	rng := rand.New(rand.NewPCG(seed, seed))

	schema := NewSchema(
		Column{Name: "s", Type: value.TypeSmallInt},
		Column{Name: "i", Type: value.TypeInteger},
		Column{Name: "b", Type: value.TypeBigInt},
		Column{Name: "d", Type: value.TypeDecimal},
		Column{Name: "v", Type: value.TypeVarchar},
	)
	const slots = 500
	for iter := 0; iter < 20; iter++ {
		seg := NewSegment(schema, slots, 1)
		rows := 1 + rng.IntN(slots)
		spread := int64(1) << rng.IntN(40)
		center := rng.Int64N(1<<50) - 1<<49
		expected := make([][]value.Value, rows)
		for row := 0; row < rows; row++ {
			vals := []value.Value{
				value.SmallInt(int16(rng.IntN(200) - 100)),
				value.Integer(int32(rng.Int64N(spread%(1<<30)+1) - spread%(1<<30)/2)),
				value.BigInt(center + rng.Int64N(spread)),
				value.Decimal(float64(rng.IntN(10000)) / 100),
				value.Varchar(fmt.Sprint(rng.IntN(10))),
			}
			if rng.IntN(10) == 0 {
				c := rng.IntN(len(vals))
				vals[c] = value.Null(vals[c].Type())
			}
			for col, v := range vals {
				seg.SetValue(row, col, v)
			}
			expected[row] = vals
		}

		out, _, err := Compress(seg)
		if errors.Is(err, ErrNoBenefit) {
			seg.Release()
			continue
		}
		require.NoError(t, err)
		require.Equal(t, rows, out.Rows())
		for row := 0; row < rows; row++ {
			for col := range expected[row] {
				require.Equal(t, expected[row][col], out.GetValue(row, col), "row %d col %d", row, col)
			}
		}
		require.LessOrEqual(t, out.Schema().Stride(), seg.Schema().Stride())

		decoded, err := DictDecode(out)
		if err == nil {
			for row := 0; row < rows; row++ {
				for col := range expected[row] {
					require.Equal(t, expected[row][col], decoded.GetValue(row, col))
				}
			}
			decoded.Release()
		} else {
			require.True(t, errors.Is(err, ErrNotEncoded))
		}
		out.Release()
		seg.Release()
	}
}

func parseSchema(t testing.TB, defs []string) *Schema {
	var cols []Column
	for _, def := range defs {
		name, typ, ok := strings.Cut(strings.TrimSpace(def), ":")
		require.True(t, ok, "malformed column %q", def)
		tid, err := value.ParseType(typ)
		require.NoError(t, err)
		cols = append(cols, Column{Name: name, Type: tid})
	}
	return NewSchema(cols...)
}

// loadRows parses lines of the form "<slot>: <v0>, <v1>, ..." into s.
func loadRows(t testing.TB, s *Segment, input string) {
	for _, line := range strings.Split(input, "\n") {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		var slot int
		slotStr, rest, ok := strings.Cut(line, ":")
		require.True(t, ok, "malformed row %q", line)
		_, err := fmt.Sscanf(slotStr, "%d", &slot)
		require.NoError(t, err)
		fields := strings.Split(rest, ",")
		require.Equal(t, s.Schema().NumColumns(), len(fields), "row %q", line)
		for col, f := range fields {
			s.SetValue(slot, col, parseValue(t, s.Schema().Type(col), strings.TrimSpace(f)))
		}
	}
}

func parseValue(t testing.TB, typ value.TypeID, s string) value.Value {
	if s == "NULL" {
		return value.Null(typ)
	}
	switch typ {
	case value.TypeDecimal:
		var f float64
		_, err := fmt.Sscanf(s, "%g", &f)
		require.NoError(t, err)
		return value.Decimal(f)
	case value.TypeVarchar:
		return value.Varchar(s)
	case value.TypeVarbinary:
		var b []byte
		_, err := fmt.Sscanf(s, "%x", &b)
		require.NoError(t, err)
		return value.Varbinary(b)
	case value.TypeBoolean:
		return value.Boolean(s == "true")
	default:
		var i int64
		_, err := fmt.Sscanf(s, "%d", &i)
		require.NoError(t, err)
		return value.FromRawInt(typ, i)
	}
}

func printRows(buf *bytes.Buffer, s *Segment) {
	for row := 0; row < s.Rows(); row++ {
		fmt.Fprintf(buf, "%d:", row)
		for col := 0; col < s.Schema().NumColumns(); col++ {
			fmt.Fprintf(buf, " %s", s.GetValue(row, col))
		}
		buf.WriteString("\n")
	}
}
