// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tilestore"
	"github.com/cockroachdb/tilestore/internal/base"
	"github.com/cockroachdb/tilestore/tilegroup"
	"github.com/spf13/cobra"
)

const (
	minLatency = 100 * time.Nanosecond
	maxLatency = 10 * time.Second
)

var recycleCmd = &cobra.Command{
	Use:   "recycle",
	Short: "run an insert/delete workload through the garbage collector",
	Long: `
Runs concurrent workers that insert a tuple, delete it and hand the version to
the garbage collector, so that later inserts reuse reclaimed slots. Reports the
insert latency distribution and how often recycled slots were used.
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions()
		if err != nil {
			return err
		}
		return runRecycle(cmd.OutOrStdout(), opts)
	},
}

// benchOracle is a transaction oracle without long-running transactions:
// every version that ended before the latest commit id is invisible.
type benchOracle struct {
	next atomic.Uint64
}

func (o *benchOracle) OldestActiveCommitID() base.CommitID {
	return base.CommitID(o.next.Load())
}

func (o *benchOracle) NextCommitID() base.CommitID {
	return base.CommitID(o.next.Add(1))
}

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(minLatency.Nanoseconds(), maxLatency.Nanoseconds(), 1)
}

func runRecycle(w io.Writer, opts *tilestore.Options) error {
	if concurrency <= 0 {
		return errors.Newf("--concurrency must be positive")
	}
	groups := tilegroup.NewManager()
	defer groups.Close()
	tbl, err := tilestore.NewDataTable(1, benchColumns, groups, opts)
	if err != nil {
		return err
	}
	defer func() { _ = tbl.Close() }()
	oracle := &benchOracle{}
	oracle.next.Store(uint64(base.StartCommitID))
	gc, err := tilestore.NewCollector(groups, oracle, opts)
	if err != nil {
		return err
	}
	gc.RegisterTable(tbl)
	gc.Start()

	var mu sync.Mutex
	hist := newHistogram()
	var ops atomic.Int64
	deadline := time.Now().Add(duration)
	var wg sync.WaitGroup
	errs := make(chan error, concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(worker uint64) {
			defer wg.Done()
			local := newHistogram()
			rng := rand.New(rand.NewPCG(worker, worker))
			for n := 0; time.Now().Before(deadline); n++ {
				start := crtime.NowMono()
				loc, err := tbl.Insert(benchTuple(rng, n))
				elapsed := min(max(start.Elapsed(), minLatency), maxLatency)
				if err != nil {
					errs <- err
					return
				}
				_ = local.RecordValue(elapsed.Nanoseconds())
				end := oracle.NextCommitID()
				if err := tbl.Delete(loc, end); err != nil {
					errs <- err
					return
				}
				gc.RecycleOldTupleSlot(tbl.ID(), loc, end)
				ops.Add(1)
			}
			mu.Lock()
			hist.Merge(local)
			mu.Unlock()
		}(uint64(i))
	}
	wg.Wait()
	gc.Stop()
	close(errs)
	if err := <-errs; err != nil {
		return err
	}

	m := tbl.Metrics()
	total := ops.Load()
	fmt.Fprintf(w, "ops: %s (%.0f/sec)\n",
		crhumanize.Count(total, crhumanize.Compact), float64(total)/duration.Seconds())
	fmt.Fprintf(w, "insert latency: p50 %s  p99 %s  p99.9 %s  max %s\n",
		time.Duration(hist.ValueAtQuantile(50)), time.Duration(hist.ValueAtQuantile(99)),
		time.Duration(hist.ValueAtQuantile(99.9)), time.Duration(hist.Max()))
	fmt.Fprintf(w, "recycled inserts: %s  discarded slots: %d  tile groups: %d\n",
		crhumanize.Percent(m.RecycledInserts, total), m.DiscardedSlots, m.TileGroupsAdded)
	fmt.Fprintf(w, "recycler: %s\n", m.Recycler)
	fmt.Fprint(w, gc.Metrics())
	return nil
}
