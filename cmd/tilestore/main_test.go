// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/crlib/testutils/leaktest"
	"github.com/stretchr/testify/require"
)

func TestCompressCommand(t *testing.T) {
	defer func(old string) { optionsText = old }(optionsText)
	optionsText = "[Options]\n tuples_per_tile_group=100\n layout=hybrid:0,1,2|3,4\n"
	compressConfig.rows = 250
	compressConfig.distinct = 4
	compressConfig.spread = 100
	compressConfig.seed = 7
	compressConfig.dictOnly = false

	opts, err := loadOptions()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, runCompress(context.Background(), &buf, opts))
	out := buf.String()

	// Three tile groups, two segments each, five columns per group.
	require.Equal(t, 3*5, strings.Count(out, "| delta ")+strings.Count(out, "| dict ")+strings.Count(out, "| none "), out)
	require.Contains(t, out, "bigint")
	require.Contains(t, out, "4 distinct")
	require.Contains(t, out, "tile groups: 3  layout: hybrid:0,1,2|3,4")
}

func TestCompressCommandDictOnly(t *testing.T) {
	defer func(old string) { optionsText = old }(optionsText)
	optionsText = ""
	compressConfig.rows = 50
	compressConfig.distinct = 2
	compressConfig.spread = 10
	compressConfig.seed = 1
	compressConfig.dictOnly = true
	defer func() { compressConfig.dictOnly = false }()

	opts, err := loadOptions()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, runCompress(context.Background(), &buf, opts))
	out := buf.String()
	require.Contains(t, out, "2 distinct")
	require.NotContains(t, out, "| delta ")
}

func TestLoadOptionsErrors(t *testing.T) {
	defer func(old string) { optionsText = old }(optionsText)
	optionsText = "[Options]\n gc_reclaim_rate=-3\n"
	_, err := loadOptions()
	require.ErrorContains(t, err, "GCReclaimRate")

	optionsText = "[Options]\n bogus=1\n"
	_, err = loadOptions()
	require.ErrorContains(t, err, "unknown option")
}

func TestRecycleCommand(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer func(old string, c int, d time.Duration) {
		optionsText, concurrency, duration = old, c, d
	}(optionsText, concurrency, duration)
	optionsText = "[Options]\n gc_interval=1ms\n tuples_per_tile_group=64\n"
	concurrency = 2
	duration = 50 * time.Millisecond
	compressConfig.distinct = 3

	opts, err := loadOptions()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, runRecycle(&buf, opts))
	out := buf.String()
	require.Contains(t, out, "insert latency: p50")
	require.Contains(t, out, "recycler: pushes=")
	require.Contains(t, out, "gc:          queued=")
}
