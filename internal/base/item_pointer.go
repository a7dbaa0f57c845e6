// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "github.com/cockroachdb/redact"

// ItemPointer is the physical location of a tuple slot: the tile group that
// owns the slot and the slot's offset within the group.
type ItemPointer struct {
	Group  OID
	Offset uint32
}

// InvalidItemPointer does not address any slot.
var InvalidItemPointer = ItemPointer{}

// IsValid returns true if the pointer addresses a tile group.
func (p ItemPointer) IsValid() bool {
	return p.Group != InvalidOID
}

// String implements fmt.Stringer.
func (p ItemPointer) String() string {
	return redact.StringWithoutMarkers(p)
}

// SafeFormat implements redact.SafeFormatter.
func (p ItemPointer) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("(%d, %d)", redact.SafeUint(p.Group), redact.SafeUint(p.Offset))
}
