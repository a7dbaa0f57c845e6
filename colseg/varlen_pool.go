// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colseg

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tilestore/internal/manual"
)

// VarlenPool holds the out-of-line payloads of a segment's variable-length
// columns. Allocations are addressed by non-zero uint32 handles; handle 0 is
// reserved to encode NULL. A pool is shared by every slot of its segment and
// is safe for concurrent use.
type VarlenPool struct {
	mu struct {
		sync.Mutex
		// entries[h-1] holds the payload of handle h. Freed entries are nil
		// and their handles are kept in free for reuse.
		entries [][]byte
		free    []uint32
		bytes   int64
		live    int
	}
}

// NewVarlenPool returns an empty pool.
func NewVarlenPool() *VarlenPool {
	return &VarlenPool{}
}

// Allocate copies b into the pool and returns its handle.
func (p *VarlenPool) Allocate(b []byte) uint32 {
	data := make([]byte, len(b))
	copy(data, b)
	manual.Account(manual.VarlenData, len(data))

	p.mu.Lock()
	defer p.mu.Unlock()
	p.mu.bytes += int64(len(data))
	p.mu.live++
	if n := len(p.mu.free); n > 0 {
		h := p.mu.free[n-1]
		p.mu.free = p.mu.free[:n-1]
		p.mu.entries[h-1] = data
		return h
	}
	p.mu.entries = append(p.mu.entries, data)
	return uint32(len(p.mu.entries))
}

// Get returns the payload of handle h. The returned slice must not be
// modified and is only valid until h is freed.
func (p *VarlenPool) Get(h uint32) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entryLocked(h)
}

func (p *VarlenPool) entryLocked(h uint32) []byte {
	if h == 0 || int(h) > len(p.mu.entries) || p.mu.entries[h-1] == nil {
		panic(errors.AssertionFailedf("invalid varlen handle %d", h))
	}
	return p.mu.entries[h-1]
}

// Free releases the allocation addressed by h. Freeing handle 0 is a no-op.
func (p *VarlenPool) Free(h uint32) {
	if h == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	data := p.entryLocked(h)
	manual.Account(manual.VarlenData, -len(data))
	p.mu.bytes -= int64(len(data))
	p.mu.live--
	p.mu.entries[h-1] = nil
	p.mu.free = append(p.mu.free, h)
}

// Size returns the number of payload bytes currently allocated.
func (p *VarlenPool) Size() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mu.bytes
}

// Len returns the number of live allocations.
func (p *VarlenPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mu.live
}

// release frees every allocation in the pool.
func (p *VarlenPool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	manual.Account(manual.VarlenData, -int(p.mu.bytes))
	p.mu.entries = nil
	p.mu.free = nil
	p.mu.bytes = 0
	p.mu.live = 0
}
