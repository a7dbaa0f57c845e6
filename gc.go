// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tilestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/swiss"
	"github.com/cockroachdb/tilestore/internal/base"
	"github.com/cockroachdb/tilestore/tilegroup"
	"github.com/cockroachdb/tokenbucket"
)

// TxnOracle is the part of the transaction manager the garbage collector
// depends on.
type TxnOracle interface {
	// OldestActiveCommitID returns the smallest commit id any active
	// transaction may read at. Versions that ended before it are invisible to
	// every transaction.
	OldestActiveCommitID() base.CommitID
	// NextCommitID hands out a fresh commit id, larger than any handed out
	// before.
	NextCommitID() base.CommitID
}

// garbage is a tuple version queued for collection. Until the version is
// unlinked, ts is the commit id at which it ended. Afterwards ts is the commit
// id at which it was unlinked: once every transaction active at that point has
// finished, no reader can still hold a reference to the slot.
type garbage struct {
	table base.OID
	loc   ItemPointer
	ts    base.CommitID
}

// GCMetrics holds the collector's counters.
type GCMetrics struct {
	// Queued is the number of versions handed to RecycleOldTupleSlot.
	Queued int64
	// Unlinked is the number of versions moved to the reclaim list.
	Unlinked int64
	// Reclaimed is the number of slots whose payloads were freed and whose
	// headers were reset.
	Reclaimed int64
	// Recycled is the number of reclaimed slots pushed onto a free-slot list.
	// Slots of immutable tile groups are reclaimed but not recycled.
	Recycled int64
	// Skipped is the number of queued versions abandoned because their table
	// or tile group had been dropped, or because the version was still visible.
	Skipped int64
	// PendingUnlink and PendingReclaim are the current lengths of the two
	// queues.
	PendingUnlink  int
	PendingReclaim int
}

// String implements fmt.Stringer.
func (m GCMetrics) String() string {
	return redact.StringWithoutMarkers(m)
}

// SafeFormat implements redact.SafeFormatter.
func (m GCMetrics) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("queued=%d unlinked=%d reclaimed=%d recycled=%d skipped=%d pending=%d/%d",
		redact.Safe(m.Queued), redact.Safe(m.Unlinked), redact.Safe(m.Reclaimed),
		redact.Safe(m.Recycled), redact.Safe(m.Skipped),
		redact.Safe(m.PendingUnlink), redact.Safe(m.PendingReclaim))
}

// Collector reclaims the slots of tuple versions no transaction can observe
// any more and hands them to the free-slot list of their table.
//
// Collection happens in two stages. Unlink moves versions that ended before
// the oldest active transaction onto a reclaim list, stamping each with a
// fresh commit id. Reclaim frees the payloads of entries whose stamp precedes
// the oldest active transaction, resets their header slots and pushes them to
// the table's recycler.
type Collector struct {
	opts   *Options
	oracle TxnOracle
	groups *tilegroup.Manager

	// reclaimMu serializes Reclaim calls and protects limiter.
	reclaimMu sync.Mutex
	limiter   *tokenbucket.TokenBucket

	mu struct {
		sync.Mutex
		tables swiss.Map[base.OID, *DataTable]
		// unlink holds versions waiting to become invisible, in queueing
		// order.
		unlink []garbage
		// reclaim holds unlinked versions sorted by their unlink stamp.
		reclaim []garbage
		metrics GCMetrics
		// cancel and done are set while the background loop runs.
		cancel context.CancelFunc
		done   chan struct{}
	}
}

// NewCollector returns a collector for the tile groups of groups. Tables must
// be registered before their versions are queued.
func NewCollector(groups *tilegroup.Manager, oracle TxnOracle, opts *Options) (*Collector, error) {
	opts = opts.Clone().EnsureDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	c := &Collector{
		opts:   opts,
		oracle: oracle,
		groups: groups,
	}
	if r := opts.GCReclaimRate; r > 0 {
		c.limiter = &tokenbucket.TokenBucket{}
		c.limiter.Init(tokenbucket.TokensPerSecond(r), tokenbucket.Tokens(max(r, 1)))
	}
	c.mu.tables.Init(8)
	return c, nil
}

// RegisterTable makes the free-slot list of t the destination of its
// reclaimed slots.
func (c *Collector) RegisterTable(t *DataTable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.mu.tables.Get(t.ID()); ok {
		panic(errors.AssertionFailedf("table %d registered twice", t.ID()))
	}
	c.mu.tables.Put(t.ID(), t)
}

// DeregisterTable stops recycling slots into table id. Versions of the table
// still queued are skipped when they come up.
func (c *Collector) DeregisterTable(id base.OID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.tables.Delete(id)
}

// RecycleOldTupleSlot queues the version at loc of table, which ended at
// commit id end, for collection.
func (c *Collector) RecycleOldTupleSlot(table base.OID, loc ItemPointer, end base.CommitID) {
	if !loc.IsValid() {
		panic(errors.AssertionFailedf("recycling invalid location %s", loc))
	}
	if end == base.MaxCommitID {
		panic(errors.AssertionFailedf("recycling live version at %s", loc))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.unlink = append(c.mu.unlink, garbage{table: table, loc: loc, ts: end})
	c.mu.metrics.Queued++
}

// ReturnFreeSlot pops a reclaimed slot of table without blocking. It returns
// false if the table is unknown, has no free slot, or its free-slot list is
// contended.
func (c *Collector) ReturnFreeSlot(table base.OID) (ItemPointer, bool) {
	c.mu.Lock()
	t, ok := c.mu.tables.Get(table)
	c.mu.Unlock()
	if !ok {
		return base.InvalidItemPointer, false
	}
	return t.ReturnFreeSlot()
}

// Unlink examines up to Options.GCMaxAttempts queued versions. Those that
// ended before horizon move to the reclaim list; the others are queued
// again. It returns the number of versions unlinked.
func (c *Collector) Unlink(horizon base.CommitID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := min(len(c.mu.unlink), c.opts.GCMaxAttempts)
	var requeue []garbage
	unlinked := 0
	for _, g := range c.mu.unlink[:n] {
		if g.ts >= horizon {
			requeue = append(requeue, g)
			continue
		}
		g.ts = c.oracle.NextCommitID()
		c.mu.reclaim = append(c.mu.reclaim, g)
		unlinked++
	}
	c.mu.unlink = append(c.mu.unlink[n:], requeue...)
	c.mu.metrics.Unlinked += int64(unlinked)
	return unlinked
}

// Reclaim processes the unlinked versions stamped before horizon: it frees
// their out-of-line payloads, resets their header slots and recycles them.
// Entries whose table or tile group is gone are logged and skipped. When
// Options.GCReclaimRate is set, Reclaim paces itself and returns early with
// the context's error if ctx is canceled; unprocessed entries stay queued.
func (c *Collector) Reclaim(ctx context.Context, horizon base.CommitID) (int, error) {
	return c.reclaim(ctx, horizon, c.limiter)
}

func (c *Collector) reclaim(
	ctx context.Context, horizon base.CommitID, limiter *tokenbucket.TokenBucket,
) (int, error) {
	c.reclaimMu.Lock()
	defer c.reclaimMu.Unlock()

	c.mu.Lock()
	i := sort.Search(len(c.mu.reclaim), func(i int) bool {
		return c.mu.reclaim[i].ts >= horizon
	})
	batch := append([]garbage(nil), c.mu.reclaim[:i]...)
	c.mu.reclaim = c.mu.reclaim[i:]
	c.mu.Unlock()

	reclaimed := 0
	for j, g := range batch {
		if limiter != nil {
			if err := limiter.WaitCtx(ctx, 1); err != nil {
				c.mu.Lock()
				c.mu.reclaim = append(batch[j:len(batch):len(batch)], c.mu.reclaim...)
				c.mu.Unlock()
				return reclaimed, err
			}
		}
		if c.reclaimOne(g, horizon) {
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (c *Collector) reclaimOne(g garbage, horizon base.CommitID) bool {
	c.mu.Lock()
	t, ok := c.mu.tables.Get(g.table)
	c.mu.Unlock()
	if !ok {
		c.skipped(g, errors.Newf("table %d not registered", g.table))
		return false
	}
	tg, err := c.groups.Get(g.loc.Group)
	if err != nil {
		c.skipped(g, err)
		return false
	}
	slot := int(g.loc.Offset)
	h := tg.Header()
	if !h.Reclaimable(slot, horizon) {
		c.skipped(g, errors.Newf("version still visible (end %d, horizon %d)", h.EndCommitID(slot), horizon))
		return false
	}
	if !tg.FreeTuple(slot) {
		c.skipped(g, base.MarkTileGroupNotFound(errors.Newf("tile group %d released", g.loc.Group)))
		return false
	}
	h.ResetSlot(slot)
	recycled := false
	if !h.IsImmutable() {
		recycled = t.recycle(g.loc)
	}

	c.mu.Lock()
	c.mu.metrics.Reclaimed++
	if recycled {
		c.mu.metrics.Recycled++
	}
	c.mu.Unlock()
	return true
}

func (c *Collector) skipped(g garbage, err error) {
	c.opts.Logger.Infof("gc: skipping %s of table %d: %v", g.loc, g.table, err)
	c.mu.Lock()
	c.mu.metrics.Skipped++
	c.mu.Unlock()
}

// Start launches the background loop that runs a reclaim and an unlink pass
// every Options.GCInterval, using the oracle's oldest active commit id as the
// horizon.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mu.cancel != nil {
		panic(errors.AssertionFailedf("collector already started"))
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.cancel = cancel
	c.mu.done = make(chan struct{})
	if c.opts.private.disableBackgroundGC {
		close(c.mu.done)
		return
	}
	go c.run(ctx, c.mu.done)
}

func (c *Collector) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.opts.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.runCycle(ctx)
	}
}

// runCycle runs one reclaim pass followed by one unlink pass.
func (c *Collector) runCycle(ctx context.Context) {
	start := crtime.NowMono()
	horizon := c.oracle.OldestActiveCommitID()
	reclaimed, err := c.Reclaim(ctx, horizon)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.opts.Logger.Errorf("gc: reclaim: %v", err)
	}
	unlinked := c.Unlink(horizon)
	if h := c.opts.GCCycleLatency; h != nil {
		h.Observe(start.Elapsed().Seconds())
	}
	if reclaimed > 0 || unlinked > 0 {
		c.opts.Logger.Infof("gc: horizon %d: reclaimed %d, unlinked %d", horizon, reclaimed, unlinked)
	}
}

// Stop terminates the background loop and then collects every queued
// version regardless of visibility. It must only be called once no
// transaction can read the queued versions.
func (c *Collector) Stop() {
	c.mu.Lock()
	cancel, done := c.mu.cancel, c.mu.done
	c.mu.cancel, c.mu.done = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	c.ClearGarbage()
}

// ClearGarbage unlinks and reclaims every queued version regardless of
// visibility and without pacing.
func (c *Collector) ClearGarbage() {
	for {
		c.mu.Lock()
		pending := len(c.mu.unlink)
		c.mu.Unlock()
		if pending == 0 {
			break
		}
		c.Unlink(base.MaxCommitID)
	}
	// Unpaced reclaim with a context that is never canceled cannot fail.
	_, _ = c.reclaim(context.Background(), base.MaxCommitID, nil /* limiter */)
}

// gcMetrics returns a snapshot of the collector's counters.
func (c *Collector) gcMetrics() GCMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.mu.metrics
	m.PendingUnlink = len(c.mu.unlink)
	m.PendingReclaim = len(c.mu.reclaim)
	return m
}

// tables returns the registered tables ordered by id.
func (c *Collector) tables() []*DataTable {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := make([]*DataTable, 0, c.mu.tables.Len())
	c.mu.tables.All(func(_ base.OID, t *DataTable) bool {
		res = append(res, t)
		return true
	})
	sort.Slice(res, func(i, j int) bool { return res[i].ID() < res[j].ID() })
	return res
}
