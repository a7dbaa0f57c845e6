// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tilestore

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tilestore/internal/base"
	"github.com/cockroachdb/tilestore/tilegroup"
	"github.com/prometheus/client_golang/prometheus"
)

// Logger defines an interface for writing log messages.
type Logger = base.Logger

// DefaultLogger logs to the Go stdlib logs.
var DefaultLogger = base.DefaultLogger

const (
	defaultTuplesPerTileGroup = 1000
	defaultGCInterval         = 100 * time.Millisecond
	defaultGCMaxAttempts      = 1000

	// maxTuplesPerTileGroup keeps slot offsets within an ItemPointer.
	maxTuplesPerTileGroup = 1 << 24
)

// Options holds the optional parameters for tables and the garbage
// collector.
type Options struct {
	// TuplesPerTileGroup is the slot capacity of every tile group. The
	// default value is 1000.
	TuplesPerTileGroup int

	// Layout determines how a table's columns are partitioned into the
	// segments of a tile group. The zero value is the row layout.
	Layout tilegroup.Layout

	// GCInterval is the period of the garbage collector's background loop.
	// The default value is 100ms.
	GCInterval time.Duration

	// GCReclaimRate limits the number of tuple slots reclaimed per second.
	// Zero disables pacing.
	GCReclaimRate float64

	// GCMaxAttempts bounds the number of queued garbage entries examined by a
	// single unlink pass. The default value is 1000.
	GCMaxAttempts int

	// Logger used to write log messages. The default logger uses the Go
	// standard library log package.
	Logger Logger

	// CompressionLatency, if set, records the duration of each tile group
	// compression pass in seconds.
	CompressionLatency prometheus.Histogram

	// GCCycleLatency, if set, records the duration of each background garbage
	// collection cycle in seconds.
	GCCycleLatency prometheus.Histogram

	// private options are only used by internal tests.
	private struct {
		// disableBackgroundGC prevents Collector.Start from launching its
		// goroutine so tests can drive Unlink and Reclaim by hand.
		disableBackgroundGC bool
	}
}

// EnsureDefaults ensures that the default values for all options are set if a
// valid value was not already specified. Returns the new options.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.TuplesPerTileGroup <= 0 {
		o.TuplesPerTileGroup = defaultTuplesPerTileGroup
	}
	if o.GCInterval <= 0 {
		o.GCInterval = defaultGCInterval
	}
	if o.GCMaxAttempts <= 0 {
		o.GCMaxAttempts = defaultGCMaxAttempts
	}
	if o.Logger == nil {
		o.Logger = DefaultLogger
	}
	return o
}

// Clone creates a shallow-copy of the supplied options.
func (o *Options) Clone() *Options {
	n := &Options{}
	if o != nil {
		*n = *o
	}
	return n
}

// String returns the options in the INI-like format accepted by Parse.
func (o *Options) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "[Options]\n")
	fmt.Fprintf(&buf, "  gc_interval=%s\n", o.GCInterval)
	fmt.Fprintf(&buf, "  gc_max_attempts=%d\n", o.GCMaxAttempts)
	fmt.Fprintf(&buf, "  gc_reclaim_rate=%s\n", strconv.FormatFloat(o.GCReclaimRate, 'g', -1, 64))
	fmt.Fprintf(&buf, "  layout=%s\n", o.Layout)
	fmt.Fprintf(&buf, "  tuples_per_tile_group=%d\n", o.TuplesPerTileGroup)
	return buf.String()
}

type parseOptionsFuncs struct {
	visitNewSection func(section string) error
	visitKeyValue   func(section, key, value string) error
}

// parseOptions takes options serialized by Options.String() and parses them
// into keys and values, skipping blank lines and comments.
func parseOptions(s string, fns parseOptionsFuncs) error {
	var section string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if len(line) == 0 || line[0] == ';' || line[0] == '#' {
			continue
		}
		n := len(line)
		if line[0] == '[' && line[n-1] == ']' {
			section = line[1 : n-1]
			if fns.visitNewSection != nil {
				if err := fns.visitNewSection(section); err != nil {
					return err
				}
			}
			continue
		}

		pos := strings.Index(line, "=")
		if pos < 0 {
			const maxLen = 50
			if len(line) > maxLen {
				line = line[:maxLen-3] + "..."
			}
			return errors.Errorf("tilestore: invalid key=value syntax: %q", errors.Safe(line))
		}
		key := strings.TrimSpace(line[:pos])
		value := strings.TrimSpace(line[pos+1:])
		if fns.visitKeyValue != nil {
			if err := fns.visitKeyValue(section, key, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Parse parses the options from the specified string. Options that are not
// present keep their current value.
func (o *Options) Parse(s string) error {
	visitKeyValue := func(section, key, value string) error {
		if section != "Options" {
			return errors.Errorf("tilestore: unknown section: %q", errors.Safe(section))
		}
		var err error
		switch key {
		case "gc_interval":
			o.GCInterval, err = time.ParseDuration(value)
		case "gc_max_attempts":
			o.GCMaxAttempts, err = strconv.Atoi(value)
		case "gc_reclaim_rate":
			o.GCReclaimRate, err = strconv.ParseFloat(value, 64)
		case "layout":
			o.Layout, err = tilegroup.ParseLayout(value)
		case "tuples_per_tile_group":
			o.TuplesPerTileGroup, err = strconv.Atoi(value)
		default:
			return errors.Errorf("tilestore: unknown option: %s.%s",
				errors.Safe(section), errors.Safe(key))
		}
		return errors.Wrapf(err, "tilestore: parsing %s", errors.Safe(key))
	}
	return parseOptions(s, parseOptionsFuncs{visitKeyValue: visitKeyValue})
}

// Validate verifies that the options are mutually consistent. Every problem
// found is reported.
func (o *Options) Validate() error {
	// Note that we can presume Options.EnsureDefaults has been called, so there
	// is no need to check for zero values.

	var buf strings.Builder
	if o.TuplesPerTileGroup < 1 || o.TuplesPerTileGroup > maxTuplesPerTileGroup {
		fmt.Fprintf(&buf, "TuplesPerTileGroup (%d) must be in [1, %d]\n",
			o.TuplesPerTileGroup, maxTuplesPerTileGroup)
	}
	if o.Layout.Kind == tilegroup.LayoutHybrid && len(o.Layout.Groups) == 0 {
		fmt.Fprintf(&buf, "Layout %s has no segments\n", o.Layout)
	}
	if o.GCInterval <= 0 {
		fmt.Fprintf(&buf, "GCInterval (%s) must be > 0\n", o.GCInterval)
	}
	if o.GCReclaimRate < 0 {
		fmt.Fprintf(&buf, "GCReclaimRate (%g) must be >= 0\n", o.GCReclaimRate)
	}
	if o.GCMaxAttempts < 1 {
		fmt.Fprintf(&buf, "GCMaxAttempts (%d) must be >= 1\n", o.GCMaxAttempts)
	}

	if buf.Len() == 0 {
		return nil
	}
	return errors.New(buf.String())
}
