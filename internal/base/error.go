// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "github.com/cockroachdb/errors"

// ErrTileGroupNotFound is returned when a tile group id does not resolve to a
// live tile group, typically because the group was dropped.
var ErrTileGroupNotFound = errors.New("tilestore: tile group not found")

// ErrTileGroupFull is returned when a tile group has no free slot left or has
// been marked immutable.
var ErrTileGroupFull = errors.New("tilestore: tile group full")

// MarkTileGroupNotFound marks err as ErrTileGroupNotFound while retaining its
// message.
func MarkTileGroupNotFound(err error) error {
	return errors.Mark(err, ErrTileGroupNotFound)
}

// AssertionFailedf panics with an assertion failure. It is used for
// precondition violations that indicate a logic error in the caller.
func AssertionFailedf(format string, args ...interface{}) {
	panic(errors.AssertionFailedf(format, args...))
}
