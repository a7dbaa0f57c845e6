// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tilegroup

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tilestore/internal/base"
)

// slotHeader is the MVCC metadata of one tuple slot.
type slotHeader struct {
	txn   atomic.Uint64
	begin atomic.Uint64
	end   atomic.Uint64
}

// Header holds the per-slot MVCC metadata of a tile group along with the
// group's slot allocator and immutability flag. The transaction manager owns
// the meaning of the metadata; the storage core only consults it to decide
// whether a slot may be reclaimed.
//
// A fresh slot is owned by no transaction and has begin and end commit ids
// equal to base.MaxCommitID.
type Header struct {
	slots []slotHeader
	// next is the next never-used slot. It may run past len(slots) when
	// concurrent allocators race on a full group.
	next      atomic.Int64
	immutable atomic.Bool
}

// NewHeader returns the header of a group with n slots.
func NewHeader(n int) *Header {
	h := &Header{slots: make([]slotHeader, n)}
	for i := range h.slots {
		h.ResetSlot(i)
	}
	return h
}

// NumSlots returns the number of slots of the group.
func (h *Header) NumSlots() int { return len(h.slots) }

// NextEmptySlot claims the next never-used slot. It returns false once every
// slot has been handed out.
func (h *Header) NextEmptySlot() (int, bool) {
	if h.next.Load() >= int64(len(h.slots)) {
		return 0, false
	}
	slot := h.next.Add(1) - 1
	if slot >= int64(len(h.slots)) {
		return 0, false
	}
	return int(slot), true
}

// CurrentNextSlot returns the number of slots handed out so far.
func (h *Header) CurrentNextSlot() int {
	return int(min(h.next.Load(), int64(len(h.slots))))
}

// ActiveTupleCount returns the number of slots currently owned by a
// transaction.
func (h *Header) ActiveTupleCount() int {
	n := 0
	for i := range h.slots {
		if base.TxnID(h.slots[i].txn.Load()) != base.InvalidTxnID {
			n++
		}
	}
	return n
}

func (h *Header) slot(i int) *slotHeader {
	if i < 0 || i >= len(h.slots) {
		panic(errors.AssertionFailedf("slot %d out of range [0, %d)", i, len(h.slots)))
	}
	return &h.slots[i]
}

// TxnID returns the transaction owning slot.
func (h *Header) TxnID(slot int) base.TxnID {
	return base.TxnID(h.slot(slot).txn.Load())
}

// SetTxnID sets the transaction owning slot.
func (h *Header) SetTxnID(slot int, txn base.TxnID) {
	h.slot(slot).txn.Store(uint64(txn))
}

// BeginCommitID returns the commit id from which the slot's version is
// visible.
func (h *Header) BeginCommitID(slot int) base.CommitID {
	return base.CommitID(h.slot(slot).begin.Load())
}

// SetBeginCommitID sets the begin commit id of slot.
func (h *Header) SetBeginCommitID(slot int, cid base.CommitID) {
	h.slot(slot).begin.Store(uint64(cid))
}

// EndCommitID returns the commit id at which the slot's version stopped being
// visible, or base.MaxCommitID if it is still live.
func (h *Header) EndCommitID(slot int) base.CommitID {
	return base.CommitID(h.slot(slot).end.Load())
}

// SetEndCommitID sets the end commit id of slot.
func (h *Header) SetEndCommitID(slot int, cid base.CommitID) {
	h.slot(slot).end.Store(uint64(cid))
}

// Reclaimable returns true if no transaction can observe the version in slot:
// its end commit id precedes horizon, the oldest commit id any active
// transaction may read at.
func (h *Header) Reclaimable(slot int, horizon base.CommitID) bool {
	s := h.slot(slot)
	end := base.CommitID(s.end.Load())
	return end != base.MaxCommitID && end < horizon
}

// ResetSlot returns slot's metadata to that of a fresh slot.
func (h *Header) ResetSlot(slot int) {
	s := h.slot(slot)
	s.txn.Store(uint64(base.InvalidTxnID))
	s.begin.Store(uint64(base.MaxCommitID))
	s.end.Store(uint64(base.MaxCommitID))
}

// SetImmutable marks the group immutable. It returns false if the group was
// already immutable. Immutability is never revoked: an immutable group
// accepts no further inserts, neither into fresh nor recycled slots.
func (h *Header) SetImmutable() bool {
	return h.immutable.CompareAndSwap(false, true)
}

// IsImmutable returns true once SetImmutable has been called.
func (h *Header) IsImmutable() bool {
	return h.immutable.Load()
}

// WriteDebug writes the metadata of the slots handed out so far.
func (h *Header) WriteDebug(w io.Writer) {
	fmt.Fprintf(w, "slots=%d next=%d immutable=%t\n", len(h.slots), h.CurrentNextSlot(), h.IsImmutable())
	for i := 0; i < h.CurrentNextSlot(); i++ {
		fmt.Fprintf(w, "  %d: txn=%s begin=%s end=%s\n", i,
			fmtID(uint64(h.TxnID(i)), 0), fmtID(uint64(h.BeginCommitID(i)), uint64(base.MaxCommitID)),
			fmtID(uint64(h.EndCommitID(i)), uint64(base.MaxCommitID)))
	}
}

func fmtID(id, unset uint64) string {
	if id == unset {
		return "-"
	}
	return fmt.Sprint(id)
}
