// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tilegroup

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/swiss"
	"github.com/cockroachdb/tilestore/internal/base"
)

// Manager resolves tile group ids to live tile groups. Segments and recycled
// slot locations refer to their group by id only; the manager is the single
// owner of the groups themselves.
type Manager struct {
	lastOID atomic.Uint32

	mu struct {
		sync.RWMutex
		groups swiss.Map[base.OID, *TileGroup]
		closed bool
	}
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	m := &Manager{}
	m.mu.groups.Init(16)
	return m
}

// NextOID returns a fresh tile group id. Ids are never reused.
func (m *Manager) NextOID() base.OID {
	return base.OID(m.lastOID.Add(1))
}

// Add registers g. Registering an id twice is a precondition violation.
func (m *Manager) Add(g *TileGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mu.closed {
		panic(errors.AssertionFailedf("tile group %d added to closed manager", g.ID()))
	}
	if _, ok := m.mu.groups.Get(g.ID()); ok {
		panic(errors.AssertionFailedf("tile group %d registered twice", g.ID()))
	}
	m.mu.groups.Put(g.ID(), g)
}

// Get returns the group with the provided id. The error is marked
// base.ErrTileGroupNotFound if no such group is registered or the manager
// has been closed.
func (m *Manager) Get(id base.OID) (*TileGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mu.closed {
		return nil, base.MarkTileGroupNotFound(errors.Newf("tile group %d not found: manager closed", id))
	}
	if g, ok := m.mu.groups.Get(id); ok {
		return g, nil
	}
	return nil, base.MarkTileGroupNotFound(errors.Newf("tile group %d not found", id))
}

// Drop unregisters and releases the group with the provided id. It returns
// false if the group was not registered. Close has already released every
// group, so Drop on a closed manager is a no-op.
func (m *Manager) Drop(id base.OID) bool {
	m.mu.Lock()
	if m.mu.closed {
		m.mu.Unlock()
		return false
	}
	g, ok := m.mu.groups.Get(id)
	if ok {
		m.mu.groups.Delete(id)
	}
	m.mu.Unlock()
	if ok {
		g.Release()
	}
	return ok
}

// Len returns the number of registered groups.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mu.closed {
		return 0
	}
	return m.mu.groups.Len()
}

// All calls fn for every registered group until fn returns false. fn must
// not call back into the manager.
func (m *Manager) All(fn func(*TileGroup) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mu.closed {
		return
	}
	m.mu.groups.All(func(_ base.OID, g *TileGroup) bool {
		return fn(g)
	})
}

// Close releases every registered group.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mu.closed {
		return
	}
	m.mu.closed = true
	m.mu.groups.All(func(_ base.OID, g *TileGroup) bool {
		g.Release()
		return true
	})
	m.mu.groups.Close()
}
