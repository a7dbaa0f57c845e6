// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tilestore"
	"github.com/cockroachdb/tilestore/colseg"
	"github.com/cockroachdb/tilestore/internal/base"
	"github.com/cockroachdb/tilestore/internal/value"
	"github.com/cockroachdb/tilestore/tilegroup"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var compressConfig struct {
	rows     int
	distinct int
	spread   int64
	seed     uint64
	dictOnly bool
}

var compressCmd = &cobra.Command{
	Use:   "compress",
	Short: "load synthetic rows and report per-column compression outcomes",
	Long: `
Loads a table with an id, a timestamp, an amount, a price and a city column,
compresses every tile group and prints the scheme chosen for each column of
each segment along with the memory footprint before and after.
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions()
		if err != nil {
			return err
		}
		return runCompress(context.Background(), cmd.OutOrStdout(), opts)
	},
}

var benchColumns = []colseg.Column{
	{Name: "id", Type: value.TypeBigInt},
	{Name: "ts", Type: value.TypeTimestamp},
	{Name: "amount", Type: value.TypeInteger},
	{Name: "price", Type: value.TypeDecimal},
	{Name: "city", Type: value.TypeVarchar},
}

// loadOptions parses --options over the defaults and installs a logger.
func loadOptions() (*tilestore.Options, error) {
	opts := &tilestore.Options{}
	if optionsText != "" {
		if err := opts.Parse(optionsText); err != nil {
			return nil, err
		}
	}
	opts.Logger = base.NoopLogger{}
	if verbose {
		opts.Logger = tilestore.DefaultLogger
	}
	opts.EnsureDefaults()
	return opts, opts.Validate()
}

func benchTuple(rng *rand.Rand, i int) []value.Value {
	c := compressConfig
	city := value.Null(value.TypeVarchar)
	if c.distinct > 0 {
		city = value.Varchar(fmt.Sprintf("city-%03d", rng.IntN(c.distinct)))
	}
	return []value.Value{
		value.BigInt(int64(i)),
		value.Timestamp(1_700_000_000_000_000 + int64(i)*1000),
		value.Integer(int32(rng.Int64N(max(c.spread, 1)))),
		value.Decimal(float64(rng.Int64N(100000)) / 100),
		city,
	}
}

func runCompress(ctx context.Context, w io.Writer, opts *tilestore.Options) error {
	c := compressConfig
	if c.rows <= 0 {
		return errors.Newf("--rows must be positive")
	}
	groups := tilegroup.NewManager()
	defer groups.Close()
	tbl, err := tilestore.NewDataTable(1, benchColumns, groups, opts)
	if err != nil {
		return err
	}
	defer func() { _ = tbl.Close() }()

	rng := rand.New(rand.NewPCG(c.seed, c.seed))
	for i := 0; i < c.rows; i++ {
		if _, err := tbl.Insert(benchTuple(rng, i)); err != nil {
			return err
		}
	}
	before := tbl.Size()

	t := tablewriter.NewWriter(w)
	t.SetHeader([]string{"Group", "Segment", "Column", "Scheme", "From", "To", "Detail"})
	for _, id := range tbl.TileGroups() {
		var stats []tilegroup.SegmentStats
		if c.dictOnly {
			g, err := tbl.TileGroup(id)
			if err != nil {
				return err
			}
			stats, err = g.DictEncode(ctx)
			if err != nil {
				return err
			}
		} else if stats, err = tbl.CompressTileGroup(ctx, id); err != nil {
			return err
		}
		for _, s := range stats {
			if s.Err != nil && !errors.Is(s.Err, colseg.ErrNoBenefit) {
				return s.Err
			}
			for _, col := range s.Columns {
				t.Append([]string{
					fmt.Sprint(id),
					fmt.Sprint(s.Segment),
					col.Name,
					col.Scheme.String(),
					col.From.String(),
					col.To.String(),
					outcomeDetail(col),
				})
			}
		}
	}
	t.Render()

	after := tbl.Size()
	fmt.Fprintf(w, "rows: %s  tile groups: %d  layout: %s\n",
		crhumanize.Count(uint64(c.rows), crhumanize.Compact), len(tbl.TileGroups()), opts.Layout)
	fmt.Fprintf(w, "size: %s -> %s\n",
		crhumanize.Bytes(before, crhumanize.Compact, crhumanize.OmitI),
		crhumanize.Bytes(after, crhumanize.Compact, crhumanize.OmitI))
	return nil
}

func outcomeDetail(col colseg.ColumnOutcome) string {
	switch col.Scheme {
	case colseg.SchemeDelta:
		return col.Info.String()
	case colseg.SchemeDictionary:
		return fmt.Sprintf("%d distinct", col.Distinct)
	default:
		return ""
	}
}
