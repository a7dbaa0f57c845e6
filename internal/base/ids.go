// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "math"

// OID identifies a table or a tile group.
type OID uint32

// InvalidOID is the zero OID; no live object carries it.
const InvalidOID OID = 0

// TxnID identifies a transaction.
type TxnID uint64

const (
	// InvalidTxnID marks a slot that is not owned by any transaction.
	InvalidTxnID TxnID = 0
	// InitialTxnID owns tuples loaded outside of a transaction.
	InitialTxnID TxnID = 1
)

// CommitID is a commit timestamp.
type CommitID uint64

const (
	// StartCommitID is the smallest commit id handed out to a transaction.
	StartCommitID CommitID = 1
	// MaxCommitID is used for versions that are not yet committed (as a begin
	// id) or have not been superseded (as an end id).
	MaxCommitID CommitID = math.MaxUint64
)
