// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package recycler implements the free-slot list that garbage collection
// fills with reclaimed tuple slots and the insert path drains.
package recycler

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/tilestore/internal/base"
	"github.com/cockroachdb/tilestore/internal/invariants"
)

// nilIndex terminates node chains.
const nilIndex int32 = -1

// node is an entry of the free-slot list. Nodes live in an arena and are
// addressed by their index, which stays stable while the node is linked.
type node struct {
	loc  base.ItemPointer
	next int32
}

// Recycler is a LIFO list of reusable tuple slot locations. Push and
// RemoveAllWithTileGroup block; TryPop never does and gives up on
// contention, so LIFO order only holds in the absence of contention.
//
// A location must be pushed at most once between being pushed and being
// popped or removed. Invariants builds check this.
type Recycler struct {
	// contended counts TryPop calls that found the lock held. It lives outside
	// mu since the failing caller never acquires it.
	contended atomic.Int64

	mu struct {
		sync.Mutex
		// nodes is the arena. head is the most recently pushed node; free
		// chains the unused arena entries.
		nodes  []node
		head   int32
		free   int32
		len    int
		closed bool
		// linked tracks the locations in the list in invariants builds.
		linked map[base.ItemPointer]struct{}

		metrics Metrics
	}
}

// Metrics holds the recycler's cumulative counters.
type Metrics struct {
	// Pushes is the number of locations pushed.
	Pushes int64
	// Pops is the number of successful TryPop calls.
	Pops int64
	// EmptyPops is the number of TryPop calls that found the list empty.
	EmptyPops int64
	// ContendedPops is the number of TryPop calls that gave up because the
	// list was locked.
	ContendedPops int64
	// Removed is the number of locations unlinked by RemoveAllWithTileGroup
	// and Close.
	Removed int64
}

// String implements fmt.Stringer.
func (m Metrics) String() string {
	return redact.StringWithoutMarkers(m)
}

// SafeFormat implements redact.SafeFormatter.
func (m Metrics) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("pushes=%d pops=%d empty=%d contended=%d removed=%d",
		redact.Safe(m.Pushes), redact.Safe(m.Pops), redact.Safe(m.EmptyPops),
		redact.Safe(m.ContendedPops), redact.Safe(m.Removed))
}

// New returns an empty recycler.
func New() *Recycler {
	r := &Recycler{}
	r.mu.head = nilIndex
	r.mu.free = nilIndex
	if invariants.Enabled {
		r.mu.linked = make(map[base.ItemPointer]struct{})
	}
	return r
}

// Push adds loc to the top of the list, blocking until the list can be
// locked.
func (r *Recycler) Push(loc base.ItemPointer) {
	if !loc.IsValid() {
		panic(errors.AssertionFailedf("pushing invalid location %s", loc))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mu.closed {
		panic(errors.AssertionFailedf("push of %s into closed recycler", loc))
	}
	if invariants.Enabled {
		if _, ok := r.mu.linked[loc]; ok {
			panic(errors.AssertionFailedf("location %s pushed twice", loc))
		}
		r.mu.linked[loc] = struct{}{}
	}
	idx := r.allocNodeLocked()
	r.mu.nodes[idx] = node{loc: loc, next: r.mu.head}
	r.mu.head = idx
	r.mu.len++
	r.mu.metrics.Pushes++
}

// TryPop removes and returns the most recently pushed location. It returns
// false without waiting if the list is empty or another goroutine holds the
// lock.
func (r *Recycler) TryPop() (base.ItemPointer, bool) {
	if !r.mu.TryLock() {
		r.contended.Add(1)
		return base.InvalidItemPointer, false
	}
	defer r.mu.Unlock()
	if r.mu.head == nilIndex {
		r.mu.metrics.EmptyPops++
		return base.InvalidItemPointer, false
	}
	idx := r.mu.head
	loc := r.mu.nodes[idx].loc
	r.mu.head = r.mu.nodes[idx].next
	r.unlinkedLocked(idx)
	r.mu.metrics.Pops++
	return loc, true
}

// RemoveAllWithTileGroup unlinks every location belonging to group and
// returns how many were removed. It is called when a tile group is dropped
// so that none of its slots is handed out again.
func (r *Recycler) RemoveAllWithTileGroup(group base.OID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	prev := nilIndex
	for idx := r.mu.head; idx != nilIndex; {
		n := &r.mu.nodes[idx]
		next := n.next
		if n.loc.Group != group {
			prev = idx
			idx = next
			continue
		}
		if prev == nilIndex {
			r.mu.head = next
		} else {
			r.mu.nodes[prev].next = next
		}
		r.unlinkedLocked(idx)
		removed++
		idx = next
	}
	r.mu.metrics.Removed += int64(removed)
	return removed
}

// Len returns the number of locations in the list.
func (r *Recycler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mu.len
}

// Metrics returns a snapshot of the recycler's counters.
func (r *Recycler) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.mu.metrics
	m.ContendedPops = r.contended.Load()
	return m
}

// Close drains the list. Pushing into a closed recycler is a precondition
// violation; TryPop on a closed recycler returns false.
func (r *Recycler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mu.metrics.Removed += int64(r.mu.len)
	r.mu.closed = true
	r.mu.nodes = nil
	r.mu.head = nilIndex
	r.mu.free = nilIndex
	r.mu.len = 0
	if invariants.Enabled {
		clear(r.mu.linked)
	}
}

func (r *Recycler) allocNodeLocked() int32 {
	if idx := r.mu.free; idx != nilIndex {
		r.mu.free = r.mu.nodes[idx].next
		return idx
	}
	r.mu.nodes = append(r.mu.nodes, node{})
	return int32(len(r.mu.nodes) - 1)
}

// unlinkedLocked returns the node at idx, which the caller has already
// unlinked from the list, to the free chain.
func (r *Recycler) unlinkedLocked(idx int32) {
	if invariants.Enabled {
		delete(r.mu.linked, r.mu.nodes[idx].loc)
	}
	r.mu.nodes[idx] = node{next: r.mu.free}
	r.mu.free = idx
	r.mu.len--
}
