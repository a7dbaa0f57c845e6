// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package manual tracks explicitly allocated and freed byte buffers, grouped
// by purpose. Buffers are ordinary Go allocations; the package exists so that
// segment buffers, variable-length payloads and dictionaries have a single
// point of accounting that is independent of the garbage collector.
package manual

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// Purpose identifies the use-case for an allocation.
type Purpose uint8

const (
	_ Purpose = iota

	SegmentData
	VarlenData
	DictionaryData

	NumPurposes
)

var purposeName = [NumPurposes]string{
	SegmentData:    "segment",
	VarlenData:     "varlen",
	DictionaryData: "dictionary",
}

// String implements fmt.Stringer.
func (p Purpose) String() string {
	if p == 0 || p >= NumPurposes {
		return "unknown"
	}
	return purposeName[p]
}

// Metrics contains memory statistics by purpose.
type Metrics [NumPurposes]struct {
	// InUseBytes is the total number of bytes currently allocated. This is just
	// the sum of the lengths of the allocations and does not include any overhead
	// or fragmentation.
	InUseBytes uint64

	// TotalBytes is the total cumulative number of bytes allocated since the
	// process started.
	TotalBytes uint64
}

var counters [NumPurposes]struct {
	TotalAllocated atomic.Uint64
	TotalFreed     atomic.Uint64
	// Pad to separate counters into cache lines. We assume 64 byte cache line
	// size.
	_ [6]uint64
}

// GetMetrics returns manual memory usage statistics.
func GetMetrics() Metrics {
	var res Metrics
	for i := range res {
		res[i].TotalBytes = counters[i].TotalAllocated.Load()
		res[i].InUseBytes = res[i].TotalBytes - counters[i].TotalFreed.Load()
	}
	return res
}

// New allocates a zeroed slice of size n on behalf of purpose.
func New(purpose Purpose, n int) []byte {
	if n < 0 {
		panic(errors.AssertionFailedf("negative allocation size %d", n))
	}
	if n == 0 {
		return nil
	}
	counters[purpose].TotalAllocated.Add(uint64(n))
	return make([]byte, n)
}

// Free releases a slice previously returned by New for the same purpose. The
// caller must not use b afterwards.
func Free(purpose Purpose, b []byte) {
	if len(b) == 0 {
		return
	}
	counters[purpose].TotalFreed.Add(uint64(len(b)))
}

// Account records n bytes allocated by other means (for example a slice
// grown by append) against purpose. A negative n records a free.
func Account(purpose Purpose, n int) {
	switch {
	case n > 0:
		counters[purpose].TotalAllocated.Add(uint64(n))
	case n < 0:
		counters[purpose].TotalFreed.Add(uint64(-n))
	}
}
