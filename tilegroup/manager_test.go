// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tilegroup

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tilestore/internal/base"
	"github.com/stretchr/testify/require"
)

func TestManager(t *testing.T) {
	m := NewManager()
	defer m.Close()

	var ids []base.OID
	for i := 0; i < 3; i++ {
		id := m.NextOID()
		g, err := New(id, 7, testColumns, RowLayout(), 4)
		require.NoError(t, err)
		m.Add(g)
		ids = append(ids, id)
	}
	require.Equal(t, []base.OID{1, 2, 3}, ids)
	require.Equal(t, 3, m.Len())

	g, err := m.Get(2)
	require.NoError(t, err)
	require.Equal(t, base.OID(2), g.ID())
	require.Panics(t, func() { m.Add(g) })

	require.True(t, m.Drop(2))
	require.False(t, m.Drop(2))
	require.True(t, g.Released())
	_, err = m.Get(2)
	require.True(t, errors.Is(err, base.ErrTileGroupNotFound))

	var seen []base.OID
	m.All(func(g *TileGroup) bool {
		seen = append(seen, g.ID())
		return true
	})
	require.ElementsMatch(t, []base.OID{1, 3}, seen)

	// Ids are not reused after a drop.
	require.Equal(t, base.OID(4), m.NextOID())
}

func TestManagerClose(t *testing.T) {
	m := NewManager()
	g, err := New(m.NextOID(), 7, testColumns, ColumnLayout(), 4)
	require.NoError(t, err)
	m.Add(g)
	m.Close()
	m.Close()
	require.True(t, g.Released())

	// A closed manager behaves as if it were empty.
	_, err = m.Get(g.ID())
	require.True(t, errors.Is(err, base.ErrTileGroupNotFound))
	require.ErrorContains(t, err, "manager closed")
	require.False(t, m.Drop(g.ID()))
	require.Equal(t, 0, m.Len())
	m.All(func(*TileGroup) bool {
		t.Fatal("closed manager yielded a tile group")
		return false
	})
	require.Panics(t, func() { m.Add(g) })
}
