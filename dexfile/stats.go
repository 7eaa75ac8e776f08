// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dexfile

// Stats reports counts and sizing information from one Merge call, for
// callers that want visibility into what happened beyond the output
// DexFile itself (spec_full.md §4's supplemented-features list).
type Stats struct {
	NumStrings, NumTypes, NumProtos, NumFields, NumMethods int
	NumClassDefs                                           int

	PessimisticBytes uint64
	ExactBytes       uint64
	WastedBytes      uint64
	Compacted        bool
}
