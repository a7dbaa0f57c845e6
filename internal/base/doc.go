// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package base defines fundamental types used across tilestore: object,
// transaction and commit ids, tuple slot locations, error markers and the
// Logger interface.
//
// # Ids
//
// Tables and tile groups are both named by an [OID]. Tile group ids are
// handed out by a single allocator per process and are never reused, so a
// stale [ItemPointer] to a dropped group can be detected by looking the id up
// rather than by comparing generations.
//
// Commit ids order versions. A version is visible from its begin commit id up
// to, but excluding, its end commit id. [MaxCommitID] as an end id marks a
// version that has not been superseded.
package base
